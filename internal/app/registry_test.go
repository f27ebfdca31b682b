package app

import (
	"sync"
	"testing"

	"github.com/mkorchagin/pairchat/internal/domain"
)

// stubEndpoint records everything sent to it.
type stubEndpoint struct {
	id domain.EndpointID

	mu     sync.Mutex
	sent   []any
	closed bool
}

func newStubEndpoint(id string) *stubEndpoint {
	return &stubEndpoint{id: domain.EndpointID(id)}
}

func (e *stubEndpoint) ID() domain.EndpointID { return e.id }

func (e *stubEndpoint) Send(v any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, v)
	return nil
}

func (e *stubEndpoint) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

func (e *stubEndpoint) sentCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sent)
}

func TestRegistryMultiDevice(t *testing.T) {
	r := NewRegistry()
	phone := newStubEndpoint("phone")
	laptop := newStubEndpoint("laptop")

	if !r.AddEndpoint("a", phone) {
		t.Error("first endpoint should report first=true")
	}
	if r.AddEndpoint("a", laptop) {
		t.Error("second endpoint should report first=false")
	}
	if !r.IsOnline("a") {
		t.Fatal("a should be online")
	}

	// Every endpoint of the participant gets the event.
	if sent := r.Broadcast("a", "hello"); sent != 2 {
		t.Errorf("Broadcast sent = %d, want 2", sent)
	}
	if phone.sentCount() != 1 || laptop.sentCount() != 1 {
		t.Error("both devices should have received the event")
	}

	if r.RemoveEndpoint("a", "phone") {
		t.Error("participant with remaining endpoint is not offline")
	}
	if !r.RemoveEndpoint("a", "laptop") {
		t.Error("removing the last endpoint should report offline")
	}
	if r.IsOnline("a") {
		t.Error("a should be offline")
	}
}

func TestRegistryBroadcastUnknownParticipant(t *testing.T) {
	r := NewRegistry()
	if sent := r.Broadcast("ghost", "hello"); sent != 0 {
		t.Errorf("Broadcast to unknown participant sent = %d, want 0", sent)
	}
}

func TestRegistryModeCounts(t *testing.T) {
	r := NewRegistry()

	if !r.JoinMode("a", domain.ModeText) {
		t.Error("first join should report a change")
	}
	if r.JoinMode("a", domain.ModeText) {
		t.Error("double join should be a no-op")
	}
	r.JoinMode("a", domain.ModeVideo)
	r.JoinMode("b", domain.ModeText)

	counts := r.ModeCounts()
	if counts[domain.ModeText] != 2 || counts[domain.ModeVideo] != 1 || counts[domain.ModeAudio] != 0 {
		t.Errorf("counts = %v", counts)
	}

	if !r.LeaveAllModes("a") {
		t.Error("LeaveAllModes should report a change")
	}
	counts = r.ModeCounts()
	if counts[domain.ModeText] != 1 || counts[domain.ModeVideo] != 0 {
		t.Errorf("counts after leave = %v", counts)
	}
	if r.LeaveMode("a", domain.ModeText) {
		t.Error("leaving a mode not joined should be a no-op")
	}
}

func TestRegistryOnlineCount(t *testing.T) {
	r := NewRegistry()
	r.AddEndpoint("a", newStubEndpoint("ep1"))
	r.AddEndpoint("a", newStubEndpoint("ep2"))
	r.AddEndpoint("b", newStubEndpoint("ep3"))

	// Participants, not sockets.
	if n := r.OnlineCount(); n != 2 {
		t.Errorf("OnlineCount = %d, want 2", n)
	}
}
