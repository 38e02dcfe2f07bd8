package feedpulse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/feedpulse/kvstore"
	"github.com/hupe1980/feedpulse/model"
)

func newTestEngine(t *testing.T, optFns ...Option) *Engine {
	t.Helper()

	opts := append([]Option{WithLogger(NoopLogger())}, optFns...)

	engine, err := New(kvstore.NewMemoryStore(), opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, engine.Close())
	})

	return engine
}

func registerTrafficFeed(t *testing.T, engine *Engine, id string) {
	t.Helper()

	require.NoError(t, engine.RegisterFeed(context.Background(), model.Feed{
		ID:     id,
		Name:   "Main St Sensor",
		Type:   model.FeedTypeTraffic,
		Region: "Downtown",
	}))
}

func TestIngestThenApply(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	registerTrafficFeed(t, engine, "f1")

	ack, err := engine.Ingest(ctx, "client-1", model.IngestRequest{
		FeedID:  "f1",
		Payload: map[string]any{"speed": 38.0, "location": "main st"},
	})
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.False(t, ack.AlreadySeen)
	assert.NotEmpty(t, ack.AckID)

	progress, err := engine.ApplyWAL(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Processed)

	state, err := engine.Feed(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.TotalEvents)
	require.Len(t, state.History, 1)
	assert.Equal(t, 38.0, state.History[0].Payload["speed"])
	assert.Equal(t, model.StatusOnline, state.Status)
}

func TestIngestIdempotency(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	registerTrafficFeed(t, engine, "f1")

	req := model.IngestRequest{
		FeedID:         "f1",
		Payload:        map[string]any{"speed": 38.0, "location": "main st"},
		IdempotencyKey: "stable-key",
	}

	ack, err := engine.Ingest(ctx, "client-1", req)
	require.NoError(t, err)
	assert.False(t, ack.AlreadySeen)

	_, err = engine.ApplyWAL(ctx)
	require.NoError(t, err)

	// The retry acks but has no new effect.
	ack, err = engine.Ingest(ctx, "client-1", req)
	require.NoError(t, err)
	assert.True(t, ack.AlreadySeen)

	progress, err := engine.ApplyWAL(ctx)
	require.NoError(t, err)
	assert.Zero(t, progress.Processed)

	state, err := engine.Feed(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.TotalEvents)
}

func TestIngestValidation(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	registerTrafficFeed(t, engine, "f1")

	_, err := engine.Ingest(ctx, "client-1", model.IngestRequest{
		FeedID:  "f1",
		Payload: map[string]any{"speed": -5.0, "location": "main st"},
	})

	var invalid *ErrInvalidPayload
	require.ErrorAs(t, err, &invalid)

	// Nothing reached the log.
	keys, _, err := engine.ListWAL(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestIngestUnknownFeed(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	_, err := engine.Ingest(ctx, "client-1", model.IngestRequest{
		FeedID:  "ghost",
		Payload: map[string]any{"speed": 10.0, "location": "main st"},
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIngestRateLimit(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, WithRateLimit(2, time.Minute))

	registerTrafficFeed(t, engine, "f1")

	payload := map[string]any{"speed": 10.0, "location": "main st"}

	for i := 0; i < 2; i++ {
		_, err := engine.Ingest(ctx, "client-1", model.IngestRequest{FeedID: "f1", Payload: payload})
		require.NoError(t, err)
	}

	_, err := engine.Ingest(ctx, "client-1", model.IngestRequest{FeedID: "f1", Payload: payload})
	assert.ErrorIs(t, err, ErrRateLimited)

	// Other clients keep their own budget.
	_, err = engine.Ingest(ctx, "client-2", model.IngestRequest{FeedID: "f1", Payload: payload})
	assert.NoError(t, err)
}

func TestRejectedIngestDoesNotConsumeBudget(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, WithRateLimit(1, time.Minute))

	registerTrafficFeed(t, engine, "f1")

	// An invalid request is refused before the budget is touched.
	_, err := engine.Ingest(ctx, "client-1", model.IngestRequest{
		FeedID:  "f1",
		Payload: map[string]any{"speed": -1.0, "location": "main st"},
	})
	require.Error(t, err)

	_, err = engine.Ingest(ctx, "client-1", model.IngestRequest{
		FeedID:  "f1",
		Payload: map[string]any{"speed": 10.0, "location": "main st"},
	})
	assert.NoError(t, err)
}

func TestDashboardStats(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	registerTrafficFeed(t, engine, "f1")
	registerTrafficFeed(t, engine, "f2")

	_, err := engine.Ingest(ctx, "client-1", model.IngestRequest{
		FeedID:  "f1",
		Payload: map[string]any{"speed": 10.0, "location": "main st"},
	})
	require.NoError(t, err)

	stats, err := engine.DashboardStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalFeeds)
	assert.Equal(t, 1, stats.ActiveFeeds)
	assert.Equal(t, 1, stats.Alerts)
	assert.Equal(t, int64(1), stats.TotalEvents)
}

func TestVelocity(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	registerTrafficFeed(t, engine, "f1")

	_, err := engine.Ingest(ctx, "client-1", model.IngestRequest{
		FeedID:  "f1",
		Payload: map[string]any{"speed": 10.0, "location": "main st"},
	})
	require.NoError(t, err)

	points, err := engine.Velocity(ctx, 6)
	require.NoError(t, err)
	require.Len(t, points, 6)

	// The event just ingested lands in the current hour.
	assert.Equal(t, int64(1), points[5].Events)
}

func TestWALInspection(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	registerTrafficFeed(t, engine, "f1")

	_, err := engine.Ingest(ctx, "client-1", model.IngestRequest{
		FeedID:  "f1",
		Payload: map[string]any{"speed": 10.0, "location": "main st"},
	})
	require.NoError(t, err)

	keys, _, err := engine.ListWAL(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	ev, err := engine.ReadWAL(ctx, keys[0])
	require.NoError(t, err)
	assert.Equal(t, "f1", ev.FeedID)
	assert.Len(t, ev.Embedding, model.EmbeddingDim)

	_, err = engine.ReadWAL(ctx, "wal/2025-01-01/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClosedEngine(t *testing.T) {
	ctx := context.Background()

	engine, err := New(kvstore.NewMemoryStore(), WithLogger(NoopLogger()))
	require.NoError(t, err)
	require.NoError(t, engine.Close())

	_, err = engine.Ingest(ctx, "client-1", model.IngestRequest{FeedID: "f1"})
	assert.ErrorIs(t, err, ErrClosed)

	_, err = engine.ApplyWAL(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = engine.Feed(ctx, "f1")
	assert.ErrorIs(t, err, ErrClosed)

	// Close is idempotent.
	assert.NoError(t, engine.Close())
}

func TestBackgroundReplay(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, WithBackgroundReplay(10*time.Millisecond, 0))

	registerTrafficFeed(t, engine, "f1")

	_, err := engine.Ingest(ctx, "client-1", model.IngestRequest{
		FeedID:  "f1",
		Payload: map[string]any{"speed": 10.0, "location": "main st"},
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		progress, err := engine.ApplyWAL(ctx)
		return err == nil && progress.Processed == 0
	}, time.Second, 20*time.Millisecond)
}
