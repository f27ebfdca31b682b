package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mkorchagin/pairchat/internal/core"
	"github.com/mkorchagin/pairchat/internal/domain"
)

// Bridge escalates an existing text pairing to audio/video in place. The
// room id is the correlation key — the counterpart is already known, so no
// matching search happens. Signaling payloads are relayed verbatim; this
// component only validates who may send what in which state.
type Bridge struct {
	mu          sync.Mutex
	negotiation map[domain.RoomID]*domain.Negotiation
	now         func() time.Time
}

func NewBridge() *Bridge {
	return &Bridge{
		negotiation: make(map[domain.RoomID]*domain.Negotiation),
		now:         time.Now,
	}
}

// Request starts a negotiation. Rejected while another attempt on the same
// room is still in flight.
func (b *Bridge) Request(roomID domain.RoomID, initiator, receiver domain.ParticipantID) (domain.Negotiation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n, ok := b.negotiation[roomID]; ok && !n.Status.Terminal() {
		return domain.Negotiation{}, fmt.Errorf("upgrade already %s: %w", n.Status, core.ErrInvalidTransition)
	}
	n := &domain.Negotiation{
		RoomID:      roomID,
		Initiator:   initiator,
		Receiver:    receiver,
		Status:      domain.UpgradeRequesting,
		RequestedAt: b.now(),
	}
	b.negotiation[roomID] = n
	log.Info().Str("module", "app.upgrade").Str("room", string(roomID)).Str("initiator", string(initiator)).Msg("upgrade requested")
	return *n, nil
}

// Respond resolves a pending request. Only the receiver may respond. Accept
// moves to accepted, after which the initiator originates the offer; decline
// resets the negotiation so a later attempt starts from idle.
func (b *Bridge) Respond(roomID domain.RoomID, responder domain.ParticipantID, accept bool) (domain.Negotiation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.negotiation[roomID]
	if !ok {
		return domain.Negotiation{}, fmt.Errorf("no upgrade for room %s: %w", roomID, core.ErrNotFound)
	}
	if n.Receiver != responder {
		return domain.Negotiation{}, fmt.Errorf("responder is not the receiver: %w", core.ErrIdentityMismatch)
	}
	if n.Status != domain.UpgradeRequesting {
		return domain.Negotiation{}, fmt.Errorf("respond in state %s: %w", n.Status, core.ErrInvalidTransition)
	}
	if accept {
		n.Status = domain.UpgradeAccepted
		log.Info().Str("module", "app.upgrade").Str("room", string(roomID)).Msg("upgrade accepted")
		return *n, nil
	}
	n.Status = domain.UpgradeDeclined
	snapshot := *n
	delete(b.negotiation, roomID)
	log.Info().Str("module", "app.upgrade").Str("room", string(roomID)).Msg("upgrade declined")
	return snapshot, nil
}

// Relay validates one signaling hop (offer, answer or ICE candidate) and
// returns the counterpart to deliver it to. The first offer moves the
// negotiation into connecting.
func (b *Bridge) Relay(roomID domain.RoomID, sender domain.ParticipantID, kind string) (domain.ParticipantID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.negotiation[roomID]
	if !ok {
		return "", fmt.Errorf("no upgrade for room %s: %w", roomID, core.ErrNotFound)
	}
	target, ok := n.Counterpart(sender)
	if !ok {
		return "", fmt.Errorf("sender not part of negotiation: %w", core.ErrIdentityMismatch)
	}

	switch kind {
	case "offer":
		if n.Status != domain.UpgradeAccepted && n.Status != domain.UpgradeConnecting {
			return "", fmt.Errorf("offer in state %s: %w", n.Status, core.ErrInvalidTransition)
		}
		n.Status = domain.UpgradeConnecting
	case "answer":
		if n.Status != domain.UpgradeConnecting {
			return "", fmt.Errorf("answer in state %s: %w", n.Status, core.ErrInvalidTransition)
		}
	case "candidate":
		switch n.Status {
		case domain.UpgradeAccepted, domain.UpgradeConnecting, domain.UpgradeConnected:
		default:
			return "", fmt.Errorf("candidate in state %s: %w", n.Status, core.ErrInvalidTransition)
		}
	default:
		return "", fmt.Errorf("unknown signal kind %q: %w", kind, core.ErrInvalidTransition)
	}
	return target, nil
}

// MarkConnected completes the escalation.
func (b *Bridge) MarkConnected(roomID domain.RoomID) (domain.Negotiation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.negotiation[roomID]
	if !ok {
		return domain.Negotiation{}, fmt.Errorf("no upgrade for room %s: %w", roomID, core.ErrNotFound)
	}
	if n.Status != domain.UpgradeConnecting {
		return domain.Negotiation{}, fmt.Errorf("connected in state %s: %w", n.Status, core.ErrInvalidTransition)
	}
	n.Status = domain.UpgradeConnected
	log.Info().Str("module", "app.upgrade").Str("room", string(roomID)).Msg("upgrade connected")
	return *n, nil
}

// Fail marks the negotiation failed from any pre-connected state. The text
// pairing stays valid; a failed upgrade never tears down the room.
func (b *Bridge) Fail(roomID domain.RoomID, reason string) (domain.Negotiation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.negotiation[roomID]
	if !ok {
		return domain.Negotiation{}, fmt.Errorf("no upgrade for room %s: %w", roomID, core.ErrNotFound)
	}
	if n.Status.Terminal() {
		return domain.Negotiation{}, fmt.Errorf("fail in state %s: %w", n.Status, core.ErrInvalidTransition)
	}
	n.Status = domain.UpgradeFailed
	snapshot := *n
	delete(b.negotiation, roomID)
	log.Warn().Str("module", "app.upgrade").Str("room", string(roomID)).Str("reason", reason).Msg("upgrade failed")
	return snapshot, nil
}

// Clear drops any negotiation for a room that just ended.
func (b *Bridge) Clear(roomID domain.RoomID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.negotiation, roomID)
}

// Status returns the current state, or idle when no attempt is in flight.
func (b *Bridge) Status(roomID domain.RoomID) domain.UpgradeStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n, ok := b.negotiation[roomID]; ok {
		return n.Status
	}
	return domain.UpgradeIdle
}
