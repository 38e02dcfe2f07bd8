// Package feedpulse implements a regional sensor event pipeline: an
// append-only event log replayed into per-feed state, a global hour-bucketed
// aggregate, a sharded vector index, and a keyword postings index, with
// hybrid keyword and semantic search on top.
//
// All durable state lives in a key-value substrate (kvstore). The log is the
// source of truth; every other structure is a projection rebuilt by ordered,
// idempotent replay.
package feedpulse

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hupe1980/feedpulse/codec"
	"github.com/hupe1980/feedpulse/embedding"
	"github.com/hupe1980/feedpulse/kvstore"
	"github.com/hupe1980/feedpulse/lexical"
	"github.com/hupe1980/feedpulse/model"
	"github.com/hupe1980/feedpulse/projection"
	"github.com/hupe1980/feedpulse/ratelimit"
	"github.com/hupe1980/feedpulse/validate"
	"github.com/hupe1980/feedpulse/vectorindex"
	"github.com/hupe1980/feedpulse/wal"
)

const (
	// DefaultRateLimit is the per-client ingest budget per window.
	DefaultRateLimit = 100

	// DefaultPageSize is the listing page size for replay and fan-out.
	DefaultPageSize = 256
)

// Engine ties the log, the durability index, and the projections together
// behind a single facade. It is safe for concurrent use.
type Engine struct {
	store kvstore.MutableStore
	opts  options

	log   *wal.Log
	index *wal.DurabilityIndex

	feeds       *projection.Feeds
	coordinator *projection.Coordinator
	vectors     *vectorindex.Index
	keywords    *lexical.Index

	embedder embedding.Embedder
	limiter  *ratelimit.Limiter

	logger  *Logger
	metrics MetricsCollector

	// applyMu serializes replay passes; the durability index tolerates
	// concurrent replayers only by failing one of them.
	applyMu sync.Mutex

	closed atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine over the given substrate.
func New(store kvstore.MutableStore, optFns ...Option) (*Engine, error) {
	opts := options{
		codec:            codec.Default,
		logger:           NewLogger(nil),
		metricsCollector: NoopMetricsCollector{},
		embedder:         embedding.NewHash(model.EmbeddingDim),
		rateLimit:        DefaultRateLimit,
		rateWindow:       ratelimit.DefaultWindow,
		replayRate:       rate.Inf,
		pageSize:         DefaultPageSize,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	log := wal.NewLog(store, opts.walOptions...)

	index := wal.NewDurabilityIndex(log, store, func(o *wal.IndexOptions) {
		o.Codec = opts.codec
		o.PageSize = opts.pageSize
		o.Logger = opts.logger.Logger
	})

	vectors, err := vectorindex.New(store, func(o *vectorindex.Options) {
		o.Codec = opts.codec
		o.PageSize = opts.pageSize
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		store:       store,
		opts:        opts,
		log:         log,
		index:       index,
		feeds:       projection.NewFeeds(store, opts.codec),
		coordinator: projection.NewCoordinator(store, opts.codec),
		vectors:     vectors,
		keywords: lexical.New(store, func(o *lexical.Options) {
			o.Codec = opts.codec
		}),
		embedder: opts.embedder,
		limiter:  ratelimit.New(opts.rateWindow),
		logger:   opts.logger,
		metrics:  opts.metricsCollector,
	}

	if opts.replayInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		e.cancel = cancel

		e.wg.Add(1)

		go e.replayLoop(ctx)
	}

	return e, nil
}

// RegisterFeed creates or updates a feed's registry record.
func (e *Engine) RegisterFeed(ctx context.Context, feed model.Feed) error {
	if e.closed.Load() {
		return ErrClosed
	}

	return e.feeds.Register(ctx, feed)
}

// Ingest validates and durably appends one event on behalf of a client. The
// returned ack only confirms durability; projections catch up on the next
// replay pass.
func (e *Engine) Ingest(ctx context.Context, clientID string, req model.IngestRequest) (model.IngestAck, error) {
	start := time.Now()

	ack, err := e.ingest(ctx, clientID, req)

	e.metrics.RecordIngest(time.Since(start), err)

	return ack, translateError(err)
}

func (e *Engine) ingest(ctx context.Context, clientID string, req model.IngestRequest) (model.IngestAck, error) {
	if e.closed.Load() {
		return model.IngestAck{}, ErrClosed
	}

	if e.opts.rateLimit > 0 && e.limiter.Limited(clientID, e.opts.rateLimit) {
		return model.IngestAck{}, ErrRateLimited
	}

	state, err := e.feeds.Get(ctx, req.FeedID)
	if err != nil {
		return model.IngestAck{}, fmt.Errorf("lookup feed %q: %w", req.FeedID, err)
	}

	if err := validate.Payload(state.Type, req.Payload); err != nil {
		return model.IngestAck{}, &ErrInvalidPayload{FeedID: req.FeedID, cause: err}
	}

	ev := model.Event{
		ID:        req.IdempotencyKey,
		Seq:       req.ClientSeq,
		FeedID:    req.FeedID,
		Payload:   req.Payload,
		Timestamp: time.Now().UTC(),
		Embedding: e.embedder.Embed(payloadText(req.Payload)),
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	if ev.Seq == 0 {
		ev.Seq = e.log.NextSeq()
	}

	key, alreadySeen, err := e.log.AppendOnce(ctx, ev)
	if err != nil {
		return model.IngestAck{}, err
	}

	if e.opts.rateLimit > 0 {
		e.limiter.Hit(clientID)
	}

	e.logger.LogIngest(req.FeedID, key, alreadySeen)

	return model.IngestAck{
		Accepted:    true,
		AckID:       uuid.NewString(),
		AlreadySeen: alreadySeen,
	}, nil
}

// applier folds one replayed event into every projection. Failures surface
// to the durability index, which logs and skips the record.
func (e *Engine) applier(limiter *rate.Limiter) wal.Applier {
	return wal.ApplierFunc(func(ctx context.Context, ev model.Event) error {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}

		feed, err := e.feeds.Apply(ctx, ev)
		if err != nil {
			return fmt.Errorf("feed projection: %w", err)
		}

		if err := e.coordinator.Apply(ctx, ev); err != nil {
			return fmt.Errorf("coordinator projection: %w", err)
		}

		if err := e.vectors.Apply(ctx, feed, ev); err != nil {
			return fmt.Errorf("vector index: %w", err)
		}

		if err := e.keywords.Add(ctx, ev.ID, payloadText(ev.Payload)); err != nil {
			return fmt.Errorf("keyword index: %w", err)
		}

		return nil
	})
}

// ApplyWAL replays all unprocessed records into the projections and returns
// the pass's progress.
func (e *Engine) ApplyWAL(ctx context.Context) (wal.Progress, error) {
	if e.closed.Load() {
		return wal.Progress{}, ErrClosed
	}

	return e.applyWAL(ctx, nil)
}

func (e *Engine) applyWAL(ctx context.Context, limiter *rate.Limiter) (wal.Progress, error) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	start := time.Now()

	progress, err := e.index.ApplyAll(ctx, e.applier(limiter))

	e.metrics.RecordReplay(progress.Processed, time.Since(start), err)
	e.logger.LogReplay(progress.Processed, progress.Duplicates, progress.Failed, time.Since(start))

	return progress, err
}

func (e *Engine) replayLoop(ctx context.Context) {
	defer e.wg.Done()

	limiter := rate.NewLimiter(e.opts.replayRate, 1)

	ticker := time.NewTicker(e.opts.replayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.applyWAL(ctx, limiter); err != nil && ctx.Err() == nil {
				e.logger.Warn("background replay failed", "error", err)
			}
		}
	}
}

// Feed returns a feed's projected state. Pending records are replayed first,
// so the read reflects every event durably appended before the call.
func (e *Engine) Feed(ctx context.Context, id string) (model.FeedState, error) {
	if e.closed.Load() {
		return model.FeedState{}, ErrClosed
	}

	if _, err := e.applyWAL(ctx, nil); err != nil {
		return model.FeedState{}, err
	}

	state, err := e.feeds.Get(ctx, id)
	if err != nil {
		return model.FeedState{}, translateError(err)
	}

	return state, nil
}

// Feeds returns the projected state of every registered feed, pending
// records replayed first.
func (e *Engine) Feeds(ctx context.Context) ([]model.FeedState, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	if _, err := e.applyWAL(ctx, nil); err != nil {
		return nil, err
	}

	return e.feeds.List(ctx)
}

// DashboardStats summarizes the registry and the global aggregate, pending
// records replayed first.
func (e *Engine) DashboardStats(ctx context.Context) (model.DashboardStats, error) {
	if e.closed.Load() {
		return model.DashboardStats{}, ErrClosed
	}

	if _, err := e.applyWAL(ctx, nil); err != nil {
		return model.DashboardStats{}, err
	}

	states, err := e.feeds.List(ctx)
	if err != nil {
		return model.DashboardStats{}, err
	}

	global, err := e.coordinator.State(ctx)
	if err != nil {
		return model.DashboardStats{}, err
	}

	stats := model.DashboardStats{
		TotalFeeds:  len(states),
		TotalEvents: global.TotalEvents,
	}

	for _, s := range states {
		switch s.Status {
		case model.StatusOnline:
			stats.ActiveFeeds++
		case model.StatusDegraded, model.StatusOffline:
			stats.Alerts++
		}
	}

	return stats, nil
}

// Velocity returns the last n hours of ingest counts, pending records
// replayed first.
func (e *Engine) Velocity(ctx context.Context, n int) ([]model.VelocityPoint, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	if n <= 0 {
		n = 24
	}

	if _, err := e.applyWAL(ctx, nil); err != nil {
		return nil, err
	}

	return e.coordinator.Velocity(ctx, n, time.Now())
}

// QuerySemantic runs a pure semantic search over every shard. The returned
// total counts every match across shards before the limit is applied.
func (e *Engine) QuerySemantic(ctx context.Context, text string, limit int, threshold float32) ([]model.SearchResult, int, error) {
	if e.closed.Load() {
		return nil, 0, ErrClosed
	}

	query := e.embedder.Embed(text)

	return e.vectors.SearchAll(ctx, query, limit, threshold)
}

// ListWAL returns a page of record keys in append order.
func (e *Engine) ListWAL(ctx context.Context, after string, limit int) ([]string, string, error) {
	if e.closed.Load() {
		return nil, "", ErrClosed
	}

	if limit <= 0 {
		limit = e.opts.pageSize
	}

	return e.log.List(ctx, after, limit)
}

// ReadWAL decodes the record at the given key.
func (e *Engine) ReadWAL(ctx context.Context, key string) (model.Event, error) {
	if e.closed.Load() {
		return model.Event{}, ErrClosed
	}

	ev, err := e.log.Read(ctx, key)

	return ev, translateError(err)
}

// Close stops the background replay loop and marks the engine closed.
// Close is idempotent.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	if e.cancel != nil {
		e.cancel()
	}

	e.wg.Wait()

	return nil
}

// payloadText renders a payload as deterministic text for embedding and
// tokenization. Keys are sorted so the same payload always embeds the same.
func payloadText(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var sb []byte

	for i, k := range keys {
		if i > 0 {
			sb = append(sb, ' ')
		}

		sb = append(sb, k...)
		sb = append(sb, ' ')
		sb = fmt.Appendf(sb, "%v", payload[k])
	}

	return string(sb)
}
