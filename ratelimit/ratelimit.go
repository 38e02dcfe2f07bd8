// Package ratelimit implements a fixed-window per-client request limiter.
//
// Each client gets an independent 60 second window. The window resets
// lazily on first touch after expiry rather than on a timer, and the check
// precedes the count: a request that arrives exactly at the limit is still
// admitted, and the one after it is refused.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultWindow is the fixed window length.
const DefaultWindow = time.Minute

type window struct {
	start time.Time
	count int
}

// Limiter tracks request counts per client over fixed windows. The zero
// value is not usable; use New.
type Limiter struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*window
}

// New creates a limiter with the given window length. A non-positive
// window falls back to DefaultWindow.
func New(windowLen time.Duration) *Limiter {
	if windowLen <= 0 {
		windowLen = DefaultWindow
	}

	return &Limiter{
		window:  windowLen,
		now:     time.Now,
		clients: make(map[string]*window),
	}
}

func (l *Limiter) current(client string) *window {
	w, ok := l.clients[client]

	now := l.now()

	if !ok || now.Sub(w.start) >= l.window {
		w = &window{start: now}
		l.clients[client] = w
	}

	return w
}

// Limited reports whether the client has reached its limit in the current
// window. It does not count the request.
func (l *Limiter) Limited(client string, limit int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.current(client).count >= limit
}

// Hit counts one admitted request against the client's current window.
func (l *Limiter) Hit(client string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.current(client).count++
}

// Remaining returns how many requests the client may still make in the
// current window. It never returns a negative value.
func (l *Limiter) Remaining(client string, limit int) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if left := limit - l.current(client).count; left > 0 {
		return left
	}

	return 0
}
