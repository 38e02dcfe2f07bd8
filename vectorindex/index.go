package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/feedpulse/codec"
	"github.com/hupe1980/feedpulse/distance"
	"github.com/hupe1980/feedpulse/kvstore"
	"github.com/hupe1980/feedpulse/model"
)

// Index is the collection of vector shards in the substrate.
type Index struct {
	store    kvstore.MutableStore
	codec    codec.Codec
	sim      distance.Func
	cap      int
	pageSize int
}

// Options configures the index.
type Options struct {
	// Codec encodes the persisted shard states. Defaults to codec.Default.
	Codec codec.Codec

	// Metric selects the similarity function. Defaults to cosine.
	Metric distance.Metric

	// ShardCap bounds events per shard.
	ShardCap int

	// PageSize bounds keys fetched per listing call during fan-out.
	PageSize int
}

// New creates an index over the given store.
func New(store kvstore.MutableStore, optFns ...func(o *Options)) (*Index, error) {
	opts := Options{
		Codec:    codec.Default,
		Metric:   distance.MetricCosine,
		ShardCap: ShardCap,
		PageSize: 256,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	sim, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}
	return &Index{
		store:    store,
		codec:    opts.Codec,
		sim:      sim,
		cap:      opts.ShardCap,
		pageSize: opts.PageSize,
	}, nil
}

func (x *Index) decode(data []byte, id string) (*shardState, error) {
	st := &shardState{ID: id}
	if len(data) == 0 {
		return st, nil
	}
	if err := x.codec.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to decode shard %s: %w", id, err)
	}
	return st, nil
}

// Apply routes the event into its shard. The shard id derives from the
// feed's region and type and the event's day.
func (x *Index) Apply(ctx context.Context, feed model.Feed, ev model.Event) error {
	id := ShardID(feed.Region, feed.Type, ev.Day())
	return x.store.Mutate(ctx, KeyPrefix+id, func(cur []byte) ([]byte, error) {
		st, err := x.decode(cur, id)
		if err != nil {
			return nil, err
		}
		st.insert(ev, x.cap)
		return x.codec.Marshal(st)
	})
}

// Search scans a single shard. A missing shard yields no results.
func (x *Index) Search(ctx context.Context, shardID string, query []float32, limit int, threshold float32) ([]model.SearchResult, error) {
	entry, err := x.store.Get(ctx, KeyPrefix+shardID)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	st, err := x.decode(entry.Value, shardID)
	if err != nil {
		return nil, err
	}
	return st.search(x.sim, query, limit, threshold), nil
}

// SearchAll fans the query out to every known shard concurrently, merges the
// per-shard results, and returns the top results plus the pre-truncation
// merged count.
func (x *Index) SearchAll(ctx context.Context, query []float32, limit int, threshold float32) ([]model.SearchResult, int, error) {
	shardKeys, err := x.shardKeys(ctx)
	if err != nil {
		return nil, 0, err
	}
	if len(shardKeys) == 0 {
		return nil, 0, nil
	}

	var (
		mu     sync.Mutex
		merged []model.SearchResult
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range shardKeys {
		g.Go(func() error {
			shardID := key[len(KeyPrefix):]
			results, err := x.Search(gctx, shardID, query, limit, threshold)
			if err != nil {
				return err
			}
			mu.Lock()
			merged = append(merged, results...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].Event.ID < merged[j].Event.ID
	})

	total := len(merged)
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, total, nil
}

func (x *Index) shardKeys(ctx context.Context) ([]string, error) {
	var keys []string
	after := ""
	for {
		page, next, err := x.store.ListByPrefix(ctx, KeyPrefix, after, x.pageSize)
		if err != nil {
			return nil, err
		}
		keys = append(keys, page...)
		if next == "" {
			return keys, nil
		}
		after = next
	}
}
