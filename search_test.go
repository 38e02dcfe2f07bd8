package feedpulse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/feedpulse/model"
)

func ingestPublicSafety(t *testing.T, engine *Engine, id, event string) {
	t.Helper()

	require.NoError(t, engine.RegisterFeed(context.Background(), model.Feed{
		ID:     "ps-1",
		Name:   "Dispatch",
		Type:   model.FeedTypePublicSafety,
		Region: "Downtown",
	}))

	_, err := engine.Ingest(context.Background(), "client-1", model.IngestRequest{
		FeedID:         "ps-1",
		Payload:        map[string]any{"event": event, "unit": "engine-7"},
		IdempotencyKey: id,
	})
	require.NoError(t, err)
}

func TestSearchKeywordOnly(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	ingestPublicSafety(t, engine, "e1", "accident blocking main street")
	ingestPublicSafety(t, engine, "e2", "parade downtown")

	_, err := engine.ApplyWAL(ctx)
	require.NoError(t, err)

	// Alpha-only fusion ranks purely on keyword overlap.
	resp, err := engine.Search("accident").
		Weights(1.0, 0.0).
		Limit(10).
		Execute(ctx)
	require.NoError(t, err)

	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "e1", resp.Results[0].Event.ID)
	assert.Positive(t, resp.Results[0].Score)
	assert.GreaterOrEqual(t, resp.BM25Hits, 1)

	for _, r := range resp.Results {
		if r.Event.ID == "e2" {
			t.Fatal("event without keyword overlap ranked in alpha-only search")
		}
	}
}

func TestSearchSemantic(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	ingestPublicSafety(t, engine, "e1", "accident blocking main street")

	_, err := engine.ApplyWAL(ctx)
	require.NoError(t, err)

	// The deterministic embedder maps identical text to identical vectors,
	// so querying with the exact payload text is a perfect semantic match.
	results, total, err := engine.QuerySemantic(ctx, payloadText(map[string]any{
		"event": "accident blocking main street",
		"unit":  "engine-7",
	}), 10, 0.9)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "e1", results[0].Event.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
}

func TestSearchFusionCombinesLegs(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	ingestPublicSafety(t, engine, "e1", "accident blocking main street")

	_, err := engine.ApplyWAL(ctx)
	require.NoError(t, err)

	resp, err := engine.Search("accident").
		Weights(0.5, 0.5).
		Threshold(0.0).
		Execute(ctx)
	require.NoError(t, err)

	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "e1", resp.Results[0].Event.ID)
	assert.GreaterOrEqual(t, resp.FusionLatencyMs, int64(0))
}

func TestSearchBetaMonotonic(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	ingestPublicSafety(t, engine, "e1", "accident blocking main street")

	_, err := engine.ApplyWAL(ctx)
	require.NoError(t, err)

	score := func(beta float32) float32 {
		t.Helper()

		resp, err := engine.Search("accident blocking main street").
			Weights(0.0, beta).
			Threshold(0.0).
			Execute(ctx)
		require.NoError(t, err)

		for _, r := range resp.Results {
			if r.Event.ID == "e1" && !r.Event.KeywordOnly {
				return r.Score
			}
		}

		return 0
	}

	low := score(0.2)
	high := score(0.8)

	// Raising beta can only raise a semantic hit's fused score.
	assert.GreaterOrEqual(t, high, low)
}

func TestSearchKeywordOnlyPlaceholder(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	ingestPublicSafety(t, engine, "e1", "accident blocking main street")

	_, err := engine.ApplyWAL(ctx)
	require.NoError(t, err)

	// With an impossible semantic threshold the lexical hit survives as a
	// keyword-only placeholder.
	resp, err := engine.Search("accident").
		Weights(1.0, 0.0).
		Threshold(3.0).
		Execute(ctx)
	require.NoError(t, err)

	require.NotEmpty(t, resp.Results)
	assert.True(t, resp.Results[0].Event.KeywordOnly)
	assert.Equal(t, "e1", resp.Results[0].Event.ID)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, 1, resp.BM25Hits)
}

func TestSearchTotalBeforeTruncation(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	ingestPublicSafety(t, engine, "e1", "accident blocking main street")
	ingestPublicSafety(t, engine, "e2", "accident near the bridge")

	_, err := engine.ApplyWAL(ctx)
	require.NoError(t, err)

	resp, err := engine.Search("accident").
		Weights(1.0, 0.0).
		Threshold(3.0).
		Limit(1).
		Execute(ctx)
	require.NoError(t, err)

	// Total counts every fused match, not just the truncated page.
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 2, resp.BM25Hits)
}

func TestSearchEmptyIndex(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	resp, err := engine.Search("anything").Execute(ctx)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Zero(t, resp.Total)
	assert.Zero(t, resp.BM25Hits)
}
