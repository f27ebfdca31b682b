package app

import (
	"testing"
	"time"
)

func TestMessageLimiterWindow(t *testing.T) {
	clock := time.Now()
	l := NewMessageLimiter(10, 10*time.Second)
	l.now = func() time.Time { return clock }

	for i := 0; i < 10; i++ {
		remaining, ok := l.Allow("u1")
		if !ok {
			t.Fatalf("message %d should be allowed", i+1)
		}
		if remaining != 10-(i+1) {
			t.Errorf("message %d: remaining = %d, want %d", i+1, remaining, 10-(i+1))
		}
	}

	remaining, ok := l.Allow("u1")
	if ok {
		t.Fatal("11th message should be rejected")
	}
	if remaining != 0 {
		t.Errorf("rejected remaining = %d, want 0", remaining)
	}
	if l.Violations() != 1 {
		t.Errorf("violations = %d, want 1", l.Violations())
	}

	// The rejected attempt must not consume quota once the window slides.
	clock = clock.Add(11 * time.Second)
	if _, ok := l.Allow("u1"); !ok {
		t.Error("message after window slide should be allowed")
	}
}

func TestMessageLimiterPerKey(t *testing.T) {
	l := NewMessageLimiter(2, time.Minute)
	l.Allow("u1")
	l.Allow("u1")
	if _, ok := l.Allow("u1"); ok {
		t.Error("u1 should be limited")
	}
	if _, ok := l.Allow("u2"); !ok {
		t.Error("u2 should be unaffected by u1's window")
	}
}

func TestMessageLimiterReset(t *testing.T) {
	l := NewMessageLimiter(1, time.Minute)
	l.Allow("u1")
	if _, ok := l.Allow("u1"); ok {
		t.Fatal("should be limited before reset")
	}
	l.Reset("u1")
	if _, ok := l.Allow("u1"); !ok {
		t.Error("should be allowed after reset")
	}
}

func TestMessageLimiterSweepIdle(t *testing.T) {
	clock := time.Now()
	l := NewMessageLimiter(10, 10*time.Second)
	l.now = func() time.Time { return clock }

	l.Allow("u1")
	clock = clock.Add(6 * time.Minute)
	l.SweepIdle(5 * time.Minute)

	l.mu.Lock()
	_, exists := l.states["u1"]
	l.mu.Unlock()
	if exists {
		t.Error("idle state should have been swept")
	}
}
