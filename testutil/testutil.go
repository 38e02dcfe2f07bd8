package testutil

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/hupe1980/feedpulse/model"
)

// RNG encapsulates a seeded random number generator. It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// UniformRangeVector returns a vector with components uniform in [-1, 1).
func (r *RNG) UniformRangeVector(dim int) []float32 {
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = r.Float32()*2 - 1
	}
	return vec
}

// Feed returns a deterministic feed registry entry.
func Feed(i int, typ model.FeedType) model.Feed {
	return model.Feed{
		ID:     fmt.Sprintf("feed-%03d", i),
		Name:   fmt.Sprintf("Feed %d", i),
		Type:   typ,
		Region: "downtown",
	}
}

// TrafficPayload returns a payload that passes Traffic validation.
func TrafficPayload(speed float64, location string) map[string]any {
	return map[string]any{"speed": speed, "location": location}
}

// WeatherPayload returns a payload that passes Weather validation.
func WeatherPayload(temp float64, condition string) map[string]any {
	return map[string]any{"temp": temp, "condition": condition}
}

// Event returns a deterministic event for the given feed, seq apart in time.
func Event(feedID string, seq uint64, at time.Time) model.Event {
	return model.Event{
		ID:        fmt.Sprintf("%s-ev-%06d", feedID, seq),
		Seq:       seq,
		FeedID:    feedID,
		Payload:   TrafficPayload(float64(seq%120), "main st"),
		Timestamp: at,
	}
}

// Events returns n deterministic events spaced one second apart, oldest
// first, starting at the given time.
func Events(feedID string, n int, start time.Time) []model.Event {
	events := make([]model.Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, Event(feedID, uint64(i+1), start.Add(time.Duration(i)*time.Second)))
	}
	return events
}
