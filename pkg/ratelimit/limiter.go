package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of one fixed-window rate limit check.
type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long the caller should wait before the window resets.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Limiter throttles keyed operations over a fixed window.
type Limiter interface {
	Allow(key string) Decision
}

// InMemoryLimiter is the single-process fixed-window limiter.
type InMemoryLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	items  map[string]window
}

type window struct {
	count   int
	resetAt time.Time
}

func NewInMemory(limit int, win time.Duration) *InMemoryLimiter {
	if limit <= 0 {
		limit = 1
	}
	if win <= 0 {
		win = time.Minute
	}
	return &InMemoryLimiter{
		limit:  limit,
		window: win,
		items:  make(map[string]window),
	}
}

func (l *InMemoryLimiter) Allow(key string) Decision {
	now := time.Now().UTC()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, w := range l.items {
		if now.After(w.resetAt) {
			delete(l.items, k)
		}
	}
	curr, ok := l.items[key]
	if !ok || now.After(curr.resetAt) {
		curr = window{resetAt: now.Add(l.window)}
	}
	curr.count++
	l.items[key] = curr
	remaining := l.limit - curr.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   curr.count <= l.limit,
		Count:     curr.count,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   curr.resetAt,
	}
}
