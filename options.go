package feedpulse

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/feedpulse/codec"
	"github.com/hupe1980/feedpulse/embedding"
	"github.com/hupe1980/feedpulse/wal"
)

type options struct {
	codec            codec.Codec
	logger           *Logger
	metricsCollector MetricsCollector
	embedder         embedding.Embedder

	walOptions []func(*wal.LogOptions)

	rateLimit  int
	rateWindow time.Duration

	replayInterval time.Duration
	replayRate     rate.Limit

	pageSize int
}

// Option configures Engine constructor behavior.
type Option func(*options)

// WithCodec configures the codec used for records and projection state.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithLogger configures structured logging. Pass NoopLogger() to disable.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(o *options) {
		if collector == nil {
			collector = NoopMetricsCollector{}
		}
		o.metricsCollector = collector
	}
}

// WithEmbedder configures the embedder used for event payloads and queries.
//
// The default is the deterministic hash embedder, which needs no model and
// keeps the pipeline self-contained.
func WithEmbedder(e embedding.Embedder) Option {
	return func(o *options) {
		if e != nil {
			o.embedder = e
		}
	}
}

// WithWAL configures the append-only log, e.g. record compression:
//
//	feedpulse.WithWAL(func(o *wal.LogOptions) {
//	    o.Compression = wal.CompressionZSTD
//	})
func WithWAL(optFns ...func(o *wal.LogOptions)) Option {
	return func(o *options) {
		o.walOptions = optFns
	}
}

// WithRateLimit configures the per-client ingest budget per fixed window.
// A limit <= 0 disables rate limiting.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(o *options) {
		o.rateLimit = limit
		o.rateWindow = window
	}
}

// WithBackgroundReplay configures the background replay loop: how often a
// pass starts and how many events per second a pass may apply. A
// non-positive interval disables the loop; replay then only happens through
// explicit ApplyWAL calls and replay-before-read.
func WithBackgroundReplay(interval time.Duration, eventsPerSec float64) Option {
	return func(o *options) {
		o.replayInterval = interval

		if eventsPerSec > 0 {
			o.replayRate = rate.Limit(eventsPerSec)
		} else {
			o.replayRate = rate.Inf
		}
	}
}

// WithPageSize configures the listing page size used by replay and shard
// fan-out.
func WithPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}
