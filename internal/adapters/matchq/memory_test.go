package matchq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mkorchagin/pairchat/internal/core"
	"github.com/mkorchagin/pairchat/internal/domain"
)

func ticket(p string, mode domain.Mode, at time.Time) core.MatchTicket {
	return core.MatchTicket{Participant: domain.ParticipantID(p), Mode: mode, EnqueuedAt: at}
}

func TestMemoryClaimsOldestEligible(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()
	base := time.Now()

	q.Enqueue(ctx, ticket("b", domain.ModeVideo, base.Add(time.Second)))
	q.Enqueue(ctx, ticket("a", domain.ModeVideo, base))

	claimed, err := q.FindMatch(ctx, ticket("c", domain.ModeVideo, base.Add(2*time.Second)))
	if err != nil {
		t.Fatalf("FindMatch: %v", err)
	}
	if claimed.Participant != "a" {
		t.Errorf("claimed %s, want the oldest (a)", claimed.Participant)
	}
	if depth, _ := q.Depth(ctx, domain.ModeVideo); depth != 1 {
		t.Errorf("depth = %d, want 1", depth)
	}
}

func TestMemoryNeverMatchesSelf(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()
	self := ticket("a", domain.ModeAudio, time.Now())

	q.Enqueue(ctx, self)
	if _, err := q.FindMatch(ctx, self); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if depth, _ := q.Depth(ctx, domain.ModeAudio); depth != 1 {
		t.Errorf("own ticket should not be claimed, depth = %d", depth)
	}
}

func TestMemoryModesAreIsolated(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	q.Enqueue(ctx, ticket("a", domain.ModeAudio, time.Now()))
	if _, err := q.FindMatch(ctx, ticket("b", domain.ModeVideo, time.Now())); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("audio ticket must not match a video search, got %v", err)
	}
}

func TestMemoryRemove(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	q.Enqueue(ctx, ticket("a", domain.ModeAudio, time.Now()))
	if err := q.Remove(ctx, "a", domain.ModeAudio); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := q.Remove(ctx, "a", domain.ModeAudio); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("double remove should report not found, got %v", err)
	}
}

func TestMemoryEnqueueIsIdempotent(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	q.Enqueue(ctx, ticket("a", domain.ModeAudio, time.Now()))
	q.Enqueue(ctx, ticket("a", domain.ModeAudio, time.Now()))
	if depth, _ := q.Depth(ctx, domain.ModeAudio); depth != 1 {
		t.Errorf("depth = %d, want 1", depth)
	}
}
