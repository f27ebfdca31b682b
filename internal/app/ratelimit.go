package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type limiterState struct {
	timestamps []time.Time
	violations int
}

// MessageLimiter is a fixed sliding-window guard on message frequency, keyed
// per participant. Exceeding the window increments a diagnostic violation
// counter; there is no automatic escalation.
type MessageLimiter struct {
	mu     sync.Mutex
	states map[string]*limiterState
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewMessageLimiter(limit int, window time.Duration) *MessageLimiter {
	return &MessageLimiter{
		states: make(map[string]*limiterState),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow records one message attempt. On success the returned remaining is the
// quota left in the window; on rejection the attempt is not recorded and
// remaining is what is left (zero).
func (l *MessageLimiter) Allow(key string) (remaining int, ok bool) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	st, exists := l.states[key]
	if !exists {
		st = &limiterState{}
		l.states[key] = st
	}
	st.timestamps = pruneBefore(st.timestamps, now.Add(-l.window))

	if len(st.timestamps) >= l.limit {
		st.violations++
		log.Warn().Str("module", "app.ratelimit").Str("participant", key).Int("violations", st.violations).Msg("rate limit violation")
		return 0, false
	}
	st.timestamps = append(st.timestamps, now)
	return l.limit - len(st.timestamps), true
}

// Remaining peeks at the quota without recording an attempt.
func (l *MessageLimiter) Remaining(key string) int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.states[key]
	if !ok {
		return l.limit
	}
	fresh := 0
	cutoff := now.Add(-l.window)
	for _, ts := range st.timestamps {
		if ts.After(cutoff) {
			fresh++
		}
	}
	if fresh > l.limit {
		return 0
	}
	return l.limit - fresh
}

// Reset drops a participant's window, e.g. when their room is cleaned up.
func (l *MessageLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.states, key)
}

// Violations sums the diagnostic counters across all participants.
func (l *MessageLimiter) Violations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, st := range l.states {
		total += st.violations
	}
	return total
}

// SweepIdle removes states whose newest timestamp is older than ttl.
func (l *MessageLimiter) SweepIdle(ttl time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, st := range l.states {
		if len(st.timestamps) == 0 {
			delete(l.states, key)
			continue
		}
		newest := st.timestamps[len(st.timestamps)-1]
		if now.Sub(newest) > ttl {
			delete(l.states, key)
		}
	}
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
