// Package ratelimit implements the in-process sliding-window rate limiter
// consulted on every forwarded request. State is a per-user deque of arrival
// times guarded by one mutex; decisions for a single user therefore
// serialize, and a request is either counted or rejected before the next
// admission check for that user runs. A process restart resets all counters —
// documented behaviour, not repaired.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Limits holds the two window caps for a tier.
type Limits struct {
	PerMinute int
	PerHour   int
}

// Scope names which window rejected a request.
type Scope string

const (
	ScopeMinute Scope = "minute"
	ScopeHour   Scope = "hour"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Scope      Scope // set when rejected
	Limit      int   // cap of the rejecting window
	RetryAfter int   // seconds until the window frees a slot
}

// Status is the read-only admissibility state used for response headers.
type Status struct {
	MinuteLimit     int
	MinuteRemaining int
	HourLimit       int
	HourRemaining   int
}

// Limiter tracks request arrival times per user.
type Limiter struct {
	mu      sync.Mutex
	history map[string][]float64 // arrival times, monotonic seconds, non-decreasing

	// now returns the current monotonic time in seconds. Overridable in tests.
	now func() float64
}

// New creates an empty limiter.
func New() *Limiter {
	start := time.Now()
	return &Limiter{
		history: make(map[string][]float64),
		// time.Since reads the monotonic clock, so entries are immune to
		// wall-clock adjustments.
		now: func() float64 { return time.Since(start).Seconds() },
	}
}

// Check runs the admission algorithm for one user under the given limits.
//
//  1. Evict entries older than one hour.
//  2. Reject if the hour window is full.
//  3. Reject if the minute window is full (counted after hourly eviction, so
//     hour-aged entries never count toward the minute).
//  4. Otherwise record the arrival and admit.
//
// Rejections do not record an arrival.
func (l *Limiter) Check(userID string, limits Limits) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	h := l.evictLocked(userID, now)

	if len(h) >= limits.PerHour {
		return Decision{
			Scope:      ScopeHour,
			Limit:      limits.PerHour,
			RetryAfter: int(math.Ceil(3600 - (now - h[0]))),
		}
	}

	oneMinuteAgo := now - 60
	m := 0
	oldestInWindow := now
	for _, ts := range h {
		if ts >= oneMinuteAgo {
			if m == 0 {
				oldestInWindow = ts
			}
			m++
		}
	}
	if m >= limits.PerMinute {
		return Decision{
			Scope:      ScopeMinute,
			Limit:      limits.PerMinute,
			RetryAfter: int(60-(now-oldestInWindow)) + 1,
		}
	}

	l.history[userID] = append(h, now)
	return Decision{Allowed: true}
}

// Status reports the current window occupancy without mutating state.
func (l *Limiter) Status(userID string, limits Limits) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	h := l.history[userID]

	minuteCount, hourCount := 0, 0
	for _, ts := range h {
		if ts >= now-3600 {
			hourCount++
		}
		if ts >= now-60 {
			minuteCount++
		}
	}

	return Status{
		MinuteLimit:     limits.PerMinute,
		MinuteRemaining: max(0, limits.PerMinute-minuteCount),
		HourLimit:       limits.PerHour,
		HourRemaining:   max(0, limits.PerHour-hourCount),
	}
}

// Sweep drops users whose histories have fully aged out and returns how many
// were removed. Opportunistic housekeeping; correctness never depends on it.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for user := range l.history {
		if h := l.evictLocked(user, now); len(h) == 0 {
			delete(l.history, user)
			removed++
		}
	}
	return removed
}

// evictLocked trims entries older than one hour from the front of a user's
// history and returns the trimmed slice. Caller holds l.mu.
func (l *Limiter) evictLocked(userID string, now float64) []float64 {
	h := l.history[userID]
	cutoff := now - 3600
	i := 0
	for i < len(h) && h[i] < cutoff {
		i++
	}
	if i > 0 {
		h = h[i:]
		l.history[userID] = h
	}
	return h
}
