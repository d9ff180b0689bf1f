package lockout

import (
	"sync"
	"time"
)

type record struct {
	count        int
	firstAttempt time.Time
	lastAttempt  time.Time
	lockedUntil  time.Time
}

// Tracker counts failed authentication attempts per principal and enforces a
// temporary lockout once the threshold is reached.
type Tracker struct {
	mu          sync.Mutex
	records     map[string]*record
	maxAttempts int
	duration    time.Duration
	now         func() time.Time
}

const (
	defaultMaxAttempts = 5
	defaultDuration    = 30 * time.Minute
)

func NewTracker(maxAttempts int, duration time.Duration) *Tracker {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if duration <= 0 {
		duration = defaultDuration
	}
	return &Tracker{
		records:     make(map[string]*record),
		maxAttempts: maxAttempts,
		duration:    duration,
		now:         time.Now,
	}
}

// RecordFailure increments the attempt count for the principal. The lockout
// expiry is set once the count reaches the configured threshold.
func (t *Tracker) RecordFailure(principal string) {
	now := t.now().UTC()
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[principal]
	if !ok {
		rec = &record{firstAttempt: now}
		t.records[principal] = rec
	}
	rec.count++
	rec.lastAttempt = now
	if rec.count >= t.maxAttempts && rec.lockedUntil.IsZero() {
		rec.lockedUntil = now.Add(t.duration)
	}
}

// IsLocked reports whether the principal is currently locked out. An expired
// lockout is cleared as a side effect, so a subsequent failure count starts
// from zero again.
func (t *Tracker) IsLocked(principal string) (bool, time.Time) {
	now := t.now().UTC()
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[principal]
	if !ok {
		return false, time.Time{}
	}
	if !rec.lockedUntil.IsZero() {
		if now.Before(rec.lockedUntil) {
			return true, rec.lockedUntil
		}
		rec.count = 0
		rec.lockedUntil = time.Time{}
	}
	return false, time.Time{}
}

// Reset unconditionally clears the principal's record; called after a
// successful authentication.
func (t *Tracker) Reset(principal string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, principal)
}

// Attempts returns the current failure count for the principal.
func (t *Tracker) Attempts(principal string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.records[principal]; ok {
		return rec.count
	}
	return 0
}
