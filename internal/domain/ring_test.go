package domain

import (
	"fmt"
	"testing"
	"time"
)

func TestMessageRingKeepsTail(t *testing.T) {
	ring := NewMessageRing(3)
	base := time.Now()

	for i := 0; i < 5; i++ {
		ring.Add(NewMessage("room", "u1", fmt.Sprintf("msg-%d", i), base.Add(time.Duration(i)*time.Second)))
	}

	if ring.Len() != 3 {
		t.Fatalf("expected len 3, got %d", ring.Len())
	}
	snap := ring.Snapshot()
	want := []string{"msg-2", "msg-3", "msg-4"}
	for i, w := range want {
		if snap[i].Content != w {
			t.Errorf("snapshot[%d] = %q, want %q", i, snap[i].Content, w)
		}
	}
}

func TestMessageRingUnderCapacity(t *testing.T) {
	ring := NewMessageRing(30)
	ring.Add(NewMessage("room", "u1", "hello", time.Now()))
	ring.Add(NewMessage("room", "u2", "hi", time.Now()))

	snap := ring.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(snap))
	}
	if snap[0].Content != "hello" || snap[1].Content != "hi" {
		t.Errorf("unexpected order: %q, %q", snap[0].Content, snap[1].Content)
	}
}

func TestMessageRingEmpty(t *testing.T) {
	ring := NewMessageRing(30)
	if snap := ring.Snapshot(); len(snap) != 0 {
		t.Errorf("expected empty snapshot, got %d entries", len(snap))
	}
}
