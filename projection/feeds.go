package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/feedpulse/codec"
	"github.com/hupe1980/feedpulse/kvstore"
	"github.com/hupe1980/feedpulse/model"
)

const (
	// FeedKeyPrefix is the substrate prefix for per-feed projection state.
	FeedKeyPrefix = "feeds/"

	// HistoryCap bounds the rolling event history kept per feed.
	HistoryCap = 100

	// rateWindow is the trailing window used for the ingestion rate.
	rateWindow = time.Hour

	// degradedAfter and offlineAfter derive the reported feed status from
	// the age of the last applied event.
	degradedAfter = 10 * time.Minute
	offlineAfter  = time.Hour
)

// ErrUnknownFeed is returned when an event references a feed that was never
// registered. Replay treats it as an apply failure and skips the event.
var ErrUnknownFeed = errors.New("projection: unknown feed")

// Feeds is the per-feed projection. Each feed is a single key holding its
// registry record plus the rolling history and counters derived from replay.
type Feeds struct {
	store kvstore.MutableStore
	codec codec.Codec
}

// NewFeeds creates the per-feed projection over the given substrate.
func NewFeeds(store kvstore.MutableStore, c codec.Codec) *Feeds {
	if c == nil {
		c = codec.Default
	}

	return &Feeds{store: store, codec: c}
}

func feedKey(id string) string { return FeedKeyPrefix + id }

// Register creates or updates a feed's registry record. Derived state
// (history, counters) is preserved across re-registration.
func (f *Feeds) Register(ctx context.Context, feed model.Feed) error {
	if feed.ID == "" {
		return errors.New("projection: feed id must not be empty")
	}

	if !feed.Type.Valid() {
		return fmt.Errorf("projection: invalid feed type %q", feed.Type)
	}

	return f.store.Mutate(ctx, feedKey(feed.ID), func(cur []byte) ([]byte, error) {
		state := model.FeedState{Feed: feed}

		if cur != nil {
			var prev model.FeedState
			if err := f.codec.Unmarshal(cur, &prev); err != nil {
				return nil, fmt.Errorf("decode feed state: %w", err)
			}

			state.History = prev.History
			state.IngestionRate = prev.IngestionRate
			state.TotalEvents = prev.TotalEvents
			state.Status = prev.Status
			state.LastUpdate = prev.LastUpdate
		}

		if state.Status == "" {
			state.Status = model.StatusOffline
		}

		return f.codec.Marshal(state)
	})
}

// Apply folds one replayed event into its feed's state and returns the
// updated feed record for downstream routing. Events referencing an
// unregistered feed fail with ErrUnknownFeed.
func (f *Feeds) Apply(ctx context.Context, ev model.Event) (model.Feed, error) {
	var applied model.Feed

	err := f.store.Mutate(ctx, feedKey(ev.FeedID), func(cur []byte) ([]byte, error) {
		if cur == nil {
			return nil, ErrUnknownFeed
		}

		var state model.FeedState
		if err := f.codec.Unmarshal(cur, &state); err != nil {
			return nil, fmt.Errorf("decode feed state: %w", err)
		}

		item := model.HistoryItem{
			EventID:   ev.ID,
			Payload:   ev.Payload,
			Timestamp: ev.Timestamp,
		}

		state.History = append([]model.HistoryItem{item}, state.History...)
		if len(state.History) > HistoryCap {
			state.History = state.History[:HistoryCap]
		}

		state.TotalEvents++
		state.IngestionRate = trailingRate(state.History, ev.Timestamp)
		state.Status = model.StatusOnline
		state.LastUpdate = ev.Timestamp

		applied = state.Feed

		return f.codec.Marshal(state)
	})
	if err != nil {
		return model.Feed{}, err
	}

	return applied, nil
}

// trailingRate counts history items inside the trailing window ending at the
// given reference time. The newest event anchors the window so replay of old
// segments stays deterministic.
func trailingRate(history []model.HistoryItem, ref time.Time) int {
	cutoff := ref.Add(-rateWindow)

	n := 0

	for _, item := range history {
		if item.Timestamp.After(cutoff) {
			n++
		}
	}

	return n
}

// Get returns a feed's state with its status derived from the age of the
// last applied event at read time.
func (f *Feeds) Get(ctx context.Context, id string) (model.FeedState, error) {
	entry, err := f.store.Get(ctx, feedKey(id))
	if err != nil {
		return model.FeedState{}, err
	}

	var state model.FeedState
	if err := f.codec.Unmarshal(entry.Value, &state); err != nil {
		return model.FeedState{}, fmt.Errorf("decode feed state: %w", err)
	}

	state.Status = deriveStatus(state, time.Now())

	return state, nil
}

// List returns the state of every registered feed.
func (f *Feeds) List(ctx context.Context) ([]model.FeedState, error) {
	var (
		states []model.FeedState
		after  string
	)

	now := time.Now()

	for {
		keys, next, err := f.store.ListByPrefix(ctx, FeedKeyPrefix, after, 256)
		if err != nil {
			return nil, err
		}

		for _, key := range keys {
			entry, err := f.store.Get(ctx, key)
			if err != nil {
				if errors.Is(err, kvstore.ErrNotFound) {
					continue
				}

				return nil, err
			}

			var state model.FeedState
			if err := f.codec.Unmarshal(entry.Value, &state); err != nil {
				return nil, fmt.Errorf("decode feed state %q: %w", key, err)
			}

			state.Status = deriveStatus(state, now)

			states = append(states, state)
		}

		if next == "" {
			break
		}

		after = next
	}

	return states, nil
}

func deriveStatus(state model.FeedState, now time.Time) model.FeedStatus {
	if state.LastUpdate.IsZero() {
		if state.Status == "" {
			return model.StatusOffline
		}

		return state.Status
	}

	age := now.Sub(state.LastUpdate)

	switch {
	case age > offlineAfter:
		return model.StatusOffline
	case age > degradedAfter:
		return model.StatusDegraded
	default:
		return model.StatusOnline
	}
}
