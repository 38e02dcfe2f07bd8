package projection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/hupe1980/feedpulse/codec"
	"github.com/hupe1980/feedpulse/kvstore"
	"github.com/hupe1980/feedpulse/model"
)

const (
	// CoordinatorKey is the singleton substrate key of the global aggregate.
	CoordinatorKey = "coordinator/global"

	// BucketRetention bounds the number of hour buckets kept, newest first.
	// 168 buckets cover seven days.
	BucketRetention = 168
)

// Coordinator is the global projection: a single aggregate of event totals
// bucketed by hour. All event types from all feeds fold into it.
type Coordinator struct {
	store kvstore.MutableStore
	codec codec.Codec
}

// NewCoordinator creates the global projection over the given substrate.
func NewCoordinator(store kvstore.MutableStore, c codec.Codec) *Coordinator {
	if c == nil {
		c = codec.Default
	}

	return &Coordinator{store: store, codec: c}
}

// Apply folds one replayed event into the aggregate: the total is
// incremented, the event's hour bucket is incremented, and buckets beyond
// the retention horizon are pruned.
func (c *Coordinator) Apply(ctx context.Context, ev model.Event) error {
	return c.store.Mutate(ctx, CoordinatorKey, func(cur []byte) ([]byte, error) {
		state := model.CoordinatorState{Buckets: map[string]int64{}}

		if cur != nil {
			if err := c.codec.Unmarshal(cur, &state); err != nil {
				return nil, fmt.Errorf("decode coordinator state: %w", err)
			}

			if state.Buckets == nil {
				state.Buckets = map[string]int64{}
			}
		}

		state.TotalEvents++
		state.Buckets[ev.HourBucket()]++
		state.LastUpdate = ev.Timestamp

		pruneBuckets(state.Buckets, BucketRetention)

		return c.codec.Marshal(state)
	})
}

// pruneBuckets drops the oldest buckets until at most keep remain. Bucket
// keys are hour indices, so numeric order is age order.
func pruneBuckets(buckets map[string]int64, keep int) {
	if len(buckets) <= keep {
		return
	}

	hours := make([]int64, 0, len(buckets))
	for key := range buckets {
		h, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			delete(buckets, key)
			continue
		}

		hours = append(hours, h)
	}

	sort.Slice(hours, func(i, j int) bool { return hours[i] > hours[j] })

	for _, h := range hours[min(keep, len(hours)):] {
		delete(buckets, strconv.FormatInt(h, 10))
	}
}

// State returns the current aggregate. A missing aggregate reads as zero.
func (c *Coordinator) State(ctx context.Context) (model.CoordinatorState, error) {
	entry, err := c.store.Get(ctx, CoordinatorKey)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return model.CoordinatorState{Buckets: map[string]int64{}}, nil
		}

		return model.CoordinatorState{}, err
	}

	var state model.CoordinatorState
	if err := c.codec.Unmarshal(entry.Value, &state); err != nil {
		return model.CoordinatorState{}, fmt.Errorf("decode coordinator state: %w", err)
	}

	if state.Buckets == nil {
		state.Buckets = map[string]int64{}
	}

	return state, nil
}

// Velocity returns the last n hours of ingest counts ending at the hour of
// now, zero-filled for hours with no events and ordered oldest first.
func (c *Coordinator) Velocity(ctx context.Context, n int, now time.Time) ([]model.VelocityPoint, error) {
	state, err := c.State(ctx)
	if err != nil {
		return nil, err
	}

	current := now.UnixMilli() / 3_600_000

	points := make([]model.VelocityPoint, 0, n)

	for h := current - int64(n) + 1; h <= current; h++ {
		points = append(points, model.VelocityPoint{
			Time:   time.UnixMilli(h * 3_600_000).UTC().Format("15:04"),
			Events: state.Buckets[strconv.FormatInt(h, 10)],
		})
	}

	return points, nil
}
