package model

import (
	"fmt"
	"time"
)

// EmbeddingDim is the fixed dimensionality of event embeddings.
const EmbeddingDim = 128

// FeedType classifies a feed and selects its payload validation rules.
//
// The set is closed: ingest rejects events for feeds of an unknown type.
type FeedType string

const (
	FeedTypeTraffic        FeedType = "Traffic"
	FeedTypeWeather        FeedType = "Weather"
	FeedTypePublicSafety   FeedType = "PublicSafety"
	FeedTypeInfrastructure FeedType = "Infrastructure"
)

// Valid reports whether t is one of the known feed types.
func (t FeedType) Valid() bool {
	switch t {
	case FeedTypeTraffic, FeedTypeWeather, FeedTypePublicSafety, FeedTypeInfrastructure:
		return true
	default:
		return false
	}
}

// FeedStatus is the health of a feed as derived from its event stream.
type FeedStatus string

const (
	StatusOnline   FeedStatus = "Online"
	StatusDegraded FeedStatus = "Degraded"
	StatusOffline  FeedStatus = "Offline"
)

// Event is a single WAL record. Identity is ID; uniqueness is enforced at
// apply time, not at append time, so duplicates may exist in the log but are
// only ever projected once.
type Event struct {
	ID        string         `json:"id"`
	Seq       uint64         `json:"seq"`
	FeedID    string         `json:"feedId"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	Embedding []float32      `json:"embedding,omitempty"`

	// KeywordOnly marks a placeholder produced by the fusion engine for a
	// lexical hit whose full event was not in the semantic candidate pool.
	KeywordOnly bool `json:"keywordOnly,omitempty"`
}

// Day returns the event's calendar day partition (UTC, YYYY-MM-DD).
func (e Event) Day() string {
	return e.Timestamp.UTC().Format("2006-01-02")
}

// HourBucket returns the coordinator bucket key for the event's hour.
func (e Event) HourBucket() string {
	return fmt.Sprintf("%d", e.Timestamp.UnixMilli()/3_600_000)
}

// Feed is the registry entry for an event source.
type Feed struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Type       FeedType   `json:"type"`
	Region     string     `json:"region"`
	Status     FeedStatus `json:"status"`
	LastUpdate time.Time  `json:"lastUpdate"`
}

// HistoryItem is one entry in a feed's rolling event history.
type HistoryItem struct {
	EventID   string         `json:"eventId"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// FeedState is the per-feed projection: registry data plus the rolling
// history and derived rates. It is mutated only by WAL replay.
type FeedState struct {
	Feed
	History       []HistoryItem `json:"history"`
	IngestionRate int           `json:"ingestionRate"`
	TotalEvents   int64         `json:"totalEvents"`
}

// CoordinatorState is the global projection: event totals bucketed by hour.
type CoordinatorState struct {
	TotalEvents int64            `json:"totalEvents"`
	Buckets     map[string]int64 `json:"buckets"`
	LastUpdate  time.Time        `json:"lastUpdate"`
}

// Candidate is a lexical retrieval hit: a document id with a term-overlap score.
type Candidate struct {
	DocID string
	Score float32
}

// SearchResult pairs an event with its similarity or fused relevance score.
type SearchResult struct {
	Event Event   `json:"event"`
	Score float32 `json:"score"`
}

// IngestRequest is the payload contract with the validation layer.
type IngestRequest struct {
	FeedID         string         `json:"feedId"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	ClientSeq      uint64         `json:"clientSeq,omitempty"`
}

// IngestAck acknowledges a durable append. AlreadySeen signals that the
// idempotency key had already been recorded; the request had no new effect.
type IngestAck struct {
	Accepted    bool   `json:"accepted"`
	AckID       string `json:"ackId"`
	AlreadySeen bool   `json:"alreadySeen,omitempty"`
}

// DashboardStats summarizes the feed registry and event totals.
type DashboardStats struct {
	TotalFeeds  int   `json:"totalFeeds"`
	ActiveFeeds int   `json:"activeFeeds"`
	Alerts      int   `json:"alerts"`
	TotalEvents int64 `json:"totalEvents"`
}

// VelocityPoint is one hour of the ingest velocity series.
type VelocityPoint struct {
	Time   string `json:"time"`
	Events int64  `json:"events"`
}
