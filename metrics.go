package feedpulse

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems.
type MetricsCollector interface {
	// RecordIngest is called after each ingest attempt.
	// duration is the total time taken, err is nil if successful.
	RecordIngest(duration time.Duration, err error)

	// RecordReplay is called after each replay pass.
	// processed is the number of events applied, duration the pass time.
	RecordReplay(processed int, duration time.Duration, err error)

	// RecordSearch is called after each search.
	RecordSearch(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordIngest(time.Duration, error)      {}
func (NoopMetricsCollector) RecordReplay(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordSearch(time.Duration, error)      {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	IngestCount      atomic.Int64
	IngestErrors     atomic.Int64
	IngestTotalNanos atomic.Int64

	ReplayPasses    atomic.Int64
	ReplayProcessed atomic.Int64
	ReplayErrors    atomic.Int64

	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
}

func (c *BasicMetricsCollector) RecordIngest(duration time.Duration, err error) {
	c.IngestCount.Add(1)
	c.IngestTotalNanos.Add(int64(duration))

	if err != nil {
		c.IngestErrors.Add(1)
	}
}

func (c *BasicMetricsCollector) RecordReplay(processed int, _ time.Duration, err error) {
	c.ReplayPasses.Add(1)
	c.ReplayProcessed.Add(int64(processed))

	if err != nil {
		c.ReplayErrors.Add(1)
	}
}

func (c *BasicMetricsCollector) RecordSearch(duration time.Duration, err error) {
	c.SearchCount.Add(1)
	c.SearchTotalNanos.Add(int64(duration))

	if err != nil {
		c.SearchErrors.Add(1)
	}
}
