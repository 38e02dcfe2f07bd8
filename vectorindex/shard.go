package vectorindex

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/feedpulse/distance"
	"github.com/hupe1980/feedpulse/model"
)

// ShardCap bounds the events held per shard (newest-first).
const ShardCap = 500

// KeyPrefix is the substrate prefix under which shard entities live.
const KeyPrefix = "shards/"

// ShardID derives the deterministic shard identifier for a feed's region and
// type and an event's calendar day.
func ShardID(region string, feedType model.FeedType, day string) string {
	slug := func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "-")
	}
	return fmt.Sprintf("%s-%s-%s", slug(region), slug(string(feedType)), day)
}

// shardState is the persisted form of one shard.
type shardState struct {
	ID     string        `json:"id"`
	Events []model.Event `json:"events"`
}

// insert prepends ev, restores newest-first order, and truncates to cap.
// Inserting an event id already present is a no-op.
func (s *shardState) insert(ev model.Event, cap int) {
	for _, existing := range s.Events {
		if existing.ID == ev.ID {
			return
		}
	}

	s.Events = append([]model.Event{ev}, s.Events...)
	sort.SliceStable(s.Events, func(i, j int) bool {
		return s.Events[i].Timestamp.After(s.Events[j].Timestamp)
	})
	if len(s.Events) > cap {
		s.Events = s.Events[:cap]
	}
}

// search scans every stored embedding, keeps hits at or above threshold, and
// returns them in descending score order truncated to limit.
func (s *shardState) search(sim distance.Func, query []float32, limit int, threshold float32) []model.SearchResult {
	var results []model.SearchResult
	for _, ev := range s.Events {
		if len(ev.Embedding) != len(query) {
			continue
		}
		score := sim(query, ev.Embedding)
		if score >= threshold {
			results = append(results, model.SearchResult{Event: ev, Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Event.ID < results[j].Event.ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
