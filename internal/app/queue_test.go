package app

import (
	"fmt"
	"testing"
	"time"

	"github.com/mkorchagin/pairchat/internal/domain"
)

// newTestMatcher disables the delayed scheduling so tests drive matching
// passes explicitly via TryMatch.
func newTestMatcher(partners *PartnerHistory) (*Matcher, *RoomStore) {
	rooms := NewRoomStore(NewMessageLimiter(100, time.Minute), 30, 3*time.Second)
	m := NewMatcher(partners, rooms, 150*time.Millisecond, 100*time.Millisecond)
	m.schedule = func(d time.Duration, fn func()) {}
	return m, rooms
}

func entry(p string) QueueEntry {
	return QueueEntry{Participant: domain.ParticipantID(p), Endpoint: domain.EndpointID("ep-" + p), JoinedAt: time.Now()}
}

func TestMatcherPairsOldestFirst(t *testing.T) {
	m, _ := newTestMatcher(NewPartnerHistory(5, 5*time.Minute))

	var matched [][2]domain.ParticipantID
	m.OnMatched = func(room *domain.Room, a, b QueueEntry) {
		matched = append(matched, [2]domain.ParticipantID{a.Participant, b.Participant})
	}

	m.Join(entry("a"))
	m.Join(entry("b"))
	m.Join(entry("c"))
	m.TryMatch()

	if len(matched) != 1 {
		t.Fatalf("expected 1 pairing, got %d", len(matched))
	}
	if matched[0] != [2]domain.ParticipantID{"a", "b"} {
		t.Errorf("expected a+b paired first, got %v", matched[0])
	}
	if !m.InQueue("c") {
		t.Error("c should still be waiting")
	}
	if m.Len() != 1 {
		t.Errorf("queue length = %d, want 1", m.Len())
	}
}

func TestMatcherSkipsRecentPartner(t *testing.T) {
	partners := NewPartnerHistory(5, 5*time.Minute)
	partners.Record("a", "b")
	m, _ := newTestMatcher(partners)

	var matched [][2]domain.ParticipantID
	m.OnMatched = func(room *domain.Room, a, b QueueEntry) {
		matched = append(matched, [2]domain.ParticipantID{a.Participant, b.Participant})
	}

	m.Join(entry("a"))
	m.Join(entry("b"))
	m.Join(entry("c"))
	m.TryMatch()

	if len(matched) != 1 {
		t.Fatalf("expected 1 pairing, got %d", len(matched))
	}
	if matched[0] != [2]domain.ParticipantID{"a", "c"} {
		t.Errorf("a should skip recent partner b and pair with c, got %v", matched[0])
	}
}

func TestMatcherForcePairsLastTwo(t *testing.T) {
	partners := NewPartnerHistory(5, 5*time.Minute)
	partners.Record("a", "b")
	m, _ := newTestMatcher(partners)

	var matched [][2]domain.ParticipantID
	m.OnMatched = func(room *domain.Room, a, b QueueEntry) {
		matched = append(matched, [2]domain.ParticipantID{a.Participant, b.Participant})
	}

	// Only each other available: fairness wins over novelty.
	m.Join(entry("a"))
	m.Join(entry("b"))
	m.TryMatch()

	if len(matched) != 1 {
		t.Fatalf("expected forced pairing, got %d", len(matched))
	}
	if matched[0] != [2]domain.ParticipantID{"a", "b"} {
		t.Errorf("expected a+b force paired, got %v", matched[0])
	}
}

func TestMatcherRotatesHeadWhenOthersAvailable(t *testing.T) {
	partners := NewPartnerHistory(5, 5*time.Minute)
	partners.Record("a", "b")
	partners.Record("a", "c")
	m, _ := newTestMatcher(partners)

	var matched int
	m.OnMatched = func(room *domain.Room, a, b QueueEntry) { matched++ }

	m.Join(entry("a"))
	m.Join(entry("b"))
	m.Join(entry("c"))
	m.TryMatch()

	if matched != 0 {
		t.Fatalf("expected no pairing this pass, got %d", matched)
	}
	// a rotated to the tail; b is now the head.
	if pos := m.Position("b"); pos != 1 {
		t.Errorf("b position = %d, want 1", pos)
	}
	if pos := m.Position("a"); pos != 3 {
		t.Errorf("a position = %d, want 3", pos)
	}

	// Next pass pairs b+c, leaving a waiting.
	m.TryMatch()
	if matched != 1 {
		t.Fatalf("expected b+c paired on second pass, got %d pairings", matched)
	}
	if !m.InQueue("a") {
		t.Error("a should still be queued")
	}
}

func TestMatcherJoinIsIdempotent(t *testing.T) {
	m, _ := newTestMatcher(NewPartnerHistory(5, 5*time.Minute))

	m.Join(entry("a"))
	pos, _ := m.Join(QueueEntry{Participant: "a", Endpoint: "ep-new", JoinedAt: time.Now()})
	if pos != 1 {
		t.Errorf("rejoin position = %d, want 1", pos)
	}
	if m.Len() != 1 {
		t.Errorf("queue length = %d after rejoin, want 1", m.Len())
	}

	m.mu.Lock()
	ep := m.entries[0].Endpoint
	m.mu.Unlock()
	if ep != "ep-new" {
		t.Errorf("endpoint should be replaced on rejoin, got %s", ep)
	}
}

func TestMatcherLeaveIsIdempotent(t *testing.T) {
	m, _ := newTestMatcher(NewPartnerHistory(5, 5*time.Minute))
	m.Join(entry("a"))

	if !m.Leave("a") {
		t.Error("first leave should report removal")
	}
	if m.Leave("a") {
		t.Error("second leave should be a no-op")
	}
	if m.Leave("ghost") {
		t.Error("leaving while not queued should be a no-op")
	}
}

func TestMatcherGuardReleasedAfterPass(t *testing.T) {
	m, _ := newTestMatcher(NewPartnerHistory(5, 5*time.Minute))
	var matched int
	m.OnMatched = func(room *domain.Room, a, b QueueEntry) { matched++ }

	m.Join(entry("a"))
	m.TryMatch() // under two entries, exits early

	m.Join(entry("b"))
	m.TryMatch()
	if matched != 1 {
		t.Error("matching must still work after an early-exit pass")
	}
}

func TestMatcherStats(t *testing.T) {
	m, rooms := newTestMatcher(NewPartnerHistory(5, 5*time.Minute))
	m.OnMatched = func(room *domain.Room, a, b QueueEntry) {}

	m.Join(entry("a"))
	m.Join(entry("b"))
	m.TryMatch()
	m.Requeue(entry("c"))

	st := m.Stats()
	if st.QueueSize != 1 {
		t.Errorf("QueueSize = %d, want 1", st.QueueSize)
	}
	if st.ActiveRooms != rooms.ActiveCount() || st.ActiveRooms != 1 {
		t.Errorf("ActiveRooms = %d, want 1", st.ActiveRooms)
	}
	if st.Requeues != 1 {
		t.Errorf("Requeues = %d, want 1", st.Requeues)
	}
}

func TestEstimateWait(t *testing.T) {
	cases := []struct {
		position int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{5, 4 * time.Second},
		{10, 10 * time.Second},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("position_%d", tc.position), func(t *testing.T) {
			if got := estimateWait(tc.position); got != tc.want {
				t.Errorf("estimateWait(%d) = %v, want %v", tc.position, got, tc.want)
			}
		})
	}
}
