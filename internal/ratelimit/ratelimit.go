// Package ratelimit provides a per-client fixed-window request limiter.
package ratelimit

import (
	"sync"
	"time"
)

// Default limits applied when a Config field is zero.
const (
	DefaultMaxRequests = 5
	DefaultWindow      = time.Minute
)

// Decision is the outcome of an admission check.
type Decision int

const (
	// Allowed means the request may proceed.
	Allowed Decision = iota
	// Denied means the client has exhausted its quota for the window.
	Denied
)

func (d Decision) String() string {
	if d == Allowed {
		return "allowed"
	}
	return "denied"
}

// Config controls the limiter quota.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

// clientWindow tracks one client's requests in the current window.
type clientWindow struct {
	count       int
	windowStart time.Time
}

// Limiter admits at most MaxRequests per client key in each fixed window.
//
// A window starts at the first request after the previous one expired, so a
// client bursting at a window boundary can get up to twice the quota in a
// short span. Entries live for the process lifetime and are reset in place
// when their window expires.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	max     int
	window  time.Duration
	now     func() time.Time
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter with the given quota.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	l := &Limiter{
		clients: make(map[string]*clientWindow),
		max:     cfg.MaxRequests,
		window:  cfg.Window,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit records a request for clientKey and reports whether it is allowed.
// Denied requests do not count against the window.
func (l *Limiter) Admit(clientKey string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.clients[clientKey]
	if !ok {
		l.clients[clientKey] = &clientWindow{count: 1, windowStart: now}
		return Allowed
	}

	if now.Sub(w.windowStart) >= l.window {
		w.count = 1
		w.windowStart = now
		return Allowed
	}

	if w.count < l.max {
		w.count++
		return Allowed
	}
	return Denied
}

// Remaining returns how many requests clientKey may still make in its
// current window.
func (l *Limiter) Remaining(clientKey string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.clients[clientKey]
	if !ok || l.now().Sub(w.windowStart) >= l.window {
		return l.max
	}
	return l.max - w.count
}

// RetryAfter returns the time until clientKey's window resets, or zero if
// the client is not currently limited.
func (l *Limiter) RetryAfter(clientKey string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.clients[clientKey]
	if !ok || w.count < l.max {
		return 0
	}
	left := l.window - l.now().Sub(w.windowStart)
	if left < 0 {
		return 0
	}
	return left
}
