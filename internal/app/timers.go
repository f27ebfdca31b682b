package app

import (
	"sync"
	"time"
)

type timerKey struct {
	kind string
	id   string
}

// TimerSet stores scheduled-task handles keyed by (kind, id) so cancellation
// is a lookup. Scheduling a key again replaces the previous handle; the next
// event on the same key always wins over a pending timer.
type TimerSet struct {
	mu     sync.Mutex
	timers map[timerKey]*time.Timer
}

func NewTimerSet() *TimerSet {
	return &TimerSet{timers: make(map[timerKey]*time.Timer)}
}

// Schedule arms fn to run after d. The handle removes itself before firing so
// a fired key can be rescheduled from within fn.
func (s *TimerSet) Schedule(kind, id string, d time.Duration, fn func()) {
	key := timerKey{kind: kind, id: id}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	s.timers[key] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
		fn()
	})
}

// Cancel stops a pending timer. Reports whether one was armed.
func (s *TimerSet) Cancel(kind, id string) bool {
	key := timerKey{kind: kind, id: id}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[key]
	if !ok {
		return false
	}
	delete(s.timers, key)
	return t.Stop()
}

// StopAll cancels every pending timer. Used on shutdown.
func (s *TimerSet) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}
