// This file implements the hybrid query engine: keyword and semantic
// retrieval run concurrently over bounded candidate pools and are merged by
// additive weighted-sum fusion.
package feedpulse

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/feedpulse/lexical"
	"github.com/hupe1980/feedpulse/model"
)

const (
	// keywordPool bounds the lexical candidate pool fed into fusion.
	keywordPool = 50

	// semanticPoolFactor widens the semantic pool beyond the final limit so
	// fusion does not prematurely discard near-threshold matches.
	semanticPoolFactor = 4
)

// SearchRequest is a hybrid query. Alpha weights the keyword score, Beta the
// semantic score; the two are independent and need not sum to one.
type SearchRequest struct {
	Q         string  `json:"q"`
	Alpha     float32 `json:"alpha"`
	Beta      float32 `json:"beta"`
	Limit     int     `json:"limit"`
	Threshold float32 `json:"threshold"`
}

// SearchResponse is the ranked fusion output.
type SearchResponse struct {
	Results []model.SearchResult `json:"results"`

	// Total is the fused match count before the final truncation.
	Total int `json:"total"`

	// BM25Hits is the size of the lexical candidate pool.
	BM25Hits int `json:"bm25Hits"`

	// FusionLatencyMs is the wall time of the whole query.
	FusionLatencyMs int64 `json:"fusionLatencyMs"`
}

// Search creates a new fluent search builder for the given query text.
//
// Example:
//
//	resp, err := engine.Search("accident downtown").
//	    Weights(0.7, 0.3).
//	    Limit(10).
//	    Execute(ctx)
func (e *Engine) Search(q string) *SearchBuilder {
	return &SearchBuilder{
		engine: e,
		req: SearchRequest{
			Q:         q,
			Alpha:     0.5,
			Beta:      0.5,
			Limit:     10,
			Threshold: 0.3,
		},
	}
}

// SearchBuilder is a fluent builder for constructing hybrid queries.
type SearchBuilder struct {
	engine *Engine
	req    SearchRequest
}

// Weights sets the keyword (alpha) and semantic (beta) fusion weights.
func (sb *SearchBuilder) Weights(alpha, beta float32) *SearchBuilder {
	sb.req.Alpha = alpha
	sb.req.Beta = beta
	return sb
}

// Limit sets the number of fused results to return.
func (sb *SearchBuilder) Limit(limit int) *SearchBuilder {
	sb.req.Limit = limit
	return sb
}

// Threshold sets the minimum semantic similarity for the final cutoff.
func (sb *SearchBuilder) Threshold(threshold float32) *SearchBuilder {
	sb.req.Threshold = threshold
	return sb
}

// Execute runs the query and returns the fused results.
func (sb *SearchBuilder) Execute(ctx context.Context) (SearchResponse, error) {
	return sb.engine.QueryHybrid(ctx, sb.req)
}

// QueryHybrid runs keyword and semantic retrieval concurrently and merges
// the two candidate pools by additive weighted sum. A lexical hit whose
// event was not in the semantic pool contributes a keyword-only placeholder
// carrying just its id.
func (e *Engine) QueryHybrid(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	if e.closed.Load() {
		return SearchResponse{}, ErrClosed
	}

	start := time.Now()

	resp, err := e.queryHybrid(ctx, req)

	resp.FusionLatencyMs = time.Since(start).Milliseconds()

	e.metrics.RecordSearch(time.Since(start), err)
	e.logger.LogSearch(req.Q, len(resp.Results), time.Since(start))

	return resp, err
}

func (e *Engine) queryHybrid(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	if req.Limit <= 0 {
		req.Limit = 10
	}

	tokens := lexical.Tokenize(req.Q)
	query := e.embedder.Embed(req.Q)

	var (
		keyword  []model.Candidate
		semantic []model.SearchResult
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		keyword, err = e.keywords.SearchCandidates(gctx, tokens, keywordPool)
		return err
	})

	g.Go(func() error {
		// A wider pool at half the threshold keeps near-miss semantic
		// matches available for fusion with their keyword score.
		var err error
		semantic, _, err = e.vectors.SearchAll(gctx, query, semanticPoolFactor*req.Limit, req.Threshold/2)
		return err
	})

	if err := g.Wait(); err != nil {
		return SearchResponse{}, err
	}

	fused := make(map[string]*model.SearchResult, len(semantic)+len(keyword))

	for _, hit := range semantic {
		r := hit
		r.Score = req.Beta * hit.Score
		fused[hit.Event.ID] = &r
	}

	for _, c := range keyword {
		if r, ok := fused[c.DocID]; ok {
			r.Score += req.Alpha * c.Score
			continue
		}

		fused[c.DocID] = &model.SearchResult{
			Event: model.Event{ID: c.DocID, KeywordOnly: true},
			Score: req.Alpha * c.Score,
		}
	}

	results := make([]model.SearchResult, 0, len(fused))
	for _, r := range fused {
		results = append(results, *r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}

		return results[i].Event.ID < results[j].Event.ID
	})

	total := len(results)

	if len(results) > req.Limit {
		results = results[:req.Limit]
	}

	return SearchResponse{
		Results:  results,
		Total:    total,
		BM25Hits: len(keyword),
	}, nil
}
