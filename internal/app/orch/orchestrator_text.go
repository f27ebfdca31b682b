package orch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mkorchagin/pairchat/internal/app"
	"github.com/mkorchagin/pairchat/internal/core"
	"github.com/mkorchagin/pairchat/internal/domain"
)

// JoinTextQueue puts a participant into the in-process text queue. The
// exclusivity invariant is enforced here: nobody enters the queue while they
// still own a room or a session. Re-joining while queued only rebinds the
// endpoint.
func (o *Orchestrator) JoinTextQueue(p domain.ParticipantID, ep domain.EndpointID, requeue bool) (QueuedEvent, error) {
	if _, ok := o.Rooms.RoomFor(p); ok {
		return QueuedEvent{}, fmt.Errorf("join queue while in room: %w", core.ErrAlreadyEngaged)
	}
	if _, ok := o.sessionFor(p); ok {
		return QueuedEvent{}, fmt.Errorf("join queue while in session: %w", core.ErrAlreadyEngaged)
	}

	// A pending audio/video search cannot coexist with a text pairing:
	// a stale ticket left behind would let a later claim double-book the
	// participant. Joining text withdraws it, same as a full disconnect.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, m := range []domain.Mode{domain.ModeAudio, domain.ModeVideo} {
		if err := o.MatchQ.Remove(ctx, p, m); err == nil {
			if o.Registry.LeaveMode(p, m) {
				o.broadcastCounts()
			}
		}
	}

	entry := app.QueueEntry{Participant: p, Endpoint: ep, JoinedAt: time.Now()}
	var (
		position int
		estimate time.Duration
	)
	if requeue {
		position, estimate = o.Matcher.Requeue(entry)
	} else {
		position, estimate = o.Matcher.Join(entry)
	}
	if o.Registry.JoinMode(p, domain.ModeText) {
		o.broadcastCounts()
	}
	return QueuedEvent{
		Type:         EvtQueued,
		Position:     position,
		EstimatedSec: int(estimate / time.Second),
	}, nil
}

// LeaveTextQueue removes a queued entry. Idempotent.
func (o *Orchestrator) LeaveTextQueue(p domain.ParticipantID) {
	o.Matcher.Leave(p)
	if o.Registry.LeaveMode(p, domain.ModeText) {
		o.broadcastCounts()
	}
}

// notifyMatched fans the pairing out to both sides once the matcher forms a
// room. Fire-and-forget: a dead endpoint here is handled by the disconnect
// path, not the matcher.
func (o *Orchestrator) notifyMatched(room *domain.Room, a, b app.QueueEntry) {
	o.Registry.Broadcast(a.Participant, MatchedEvent{Type: EvtMatched, RoomID: room.ID, PartnerID: b.Participant})
	o.Registry.Broadcast(b.Participant, MatchedEvent{Type: EvtMatched, RoomID: room.ID, PartnerID: a.Participant})
}

// SendMessage validates, rate-checks and buffers one chat line, then fans it
// out to every endpoint of the partner.
func (o *Orchestrator) SendMessage(p domain.ParticipantID, roomID domain.RoomID, content string) (MessageAckEvent, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return MessageAckEvent{}, &core.ValidationError{Field: "content", Reason: "empty"}
	}
	if len(content) > domain.MaxMessageLen {
		return MessageAckEvent{}, &core.ValidationError{Field: "content", Reason: "too long"}
	}

	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return MessageAckEvent{}, fmt.Errorf("room %s: %w", roomID, core.ErrNotFound)
	}
	partner, ok := room.Partner(p)
	if !ok {
		return MessageAckEvent{}, fmt.Errorf("sender not in room %s: %w", roomID, core.ErrIdentityMismatch)
	}

	msg, remaining, err := o.Rooms.AddMessage(roomID, p, content)
	if err != nil {
		return MessageAckEvent{}, err
	}

	o.Registry.Broadcast(partner.Participant, PartnerMessageEvent{Type: EvtPartnerMessage, Message: msg})
	return MessageAckEvent{Type: EvtMessageAck, MessageID: msg.ID, Remaining: remaining}, nil
}

// Typing relays a typing indicator. Last write wins; the store clears a
// stale true on its own.
func (o *Orchestrator) Typing(p domain.ParticipantID, roomID domain.RoomID, isTyping bool) error {
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return fmt.Errorf("room %s: %w", roomID, core.ErrNotFound)
	}
	partner, ok := room.Partner(p)
	if !ok {
		return fmt.Errorf("sender not in room %s: %w", roomID, core.ErrIdentityMismatch)
	}
	if err := o.Rooms.SetTyping(roomID, p, isTyping); err != nil {
		return err
	}
	o.Registry.Broadcast(partner.Participant, PartnerTypingEvent{
		Type: EvtPartnerTyping, RoomID: roomID, UserID: p, IsTyping: isTyping,
	})
	return nil
}

// ReconnectRoom resumes a pairing interrupted by a transient disconnect. On
// success the partner is told on every endpoint; on failure the caller gets a
// soft typed error and no state changes.
func (o *Orchestrator) ReconnectRoom(p domain.ParticipantID, ep domain.EndpointID) (ReconnectedEvent, error) {
	resume, err := o.Broker.AttemptReconnect(p, ep)
	if err != nil {
		return ReconnectedEvent{}, err
	}
	o.Registry.Broadcast(resume.Partner, PartnerReconnectedEvent{Type: EvtPartnerReconnected, RoomID: resume.RoomID})
	return ReconnectedEvent{
		Type:      EvtReconnected,
		RoomID:    resume.RoomID,
		PartnerID: resume.Partner,
		Messages:  resume.Messages,
	}, nil
}

// EndRoom closes a pairing on explicit request from either side. The
// transcript is discarded with the room; a report must capture it first (see
// Report, which snapshots before calling in here).
func (o *Orchestrator) EndRoom(p domain.ParticipantID, roomID domain.RoomID, reason string) error {
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return fmt.Errorf("room %s: %w", roomID, core.ErrNotFound)
	}
	if !room.Has(p) {
		return fmt.Errorf("not a member of room %s: %w", roomID, core.ErrIdentityMismatch)
	}
	if reason == "" {
		reason = domain.EndReasonUserLeft
	}

	final, ok := o.Rooms.End(roomID, reason)
	if !ok {
		return fmt.Errorf("room %s: %w", roomID, core.ErrNotFound)
	}
	o.Bridge.Clear(roomID)
	o.Broker.Forget(final.User1.Participant)
	o.Broker.Forget(final.User2.Participant)
	o.notifyRoomEnded(final, reason)
	log.Info().Str("module", "orch").Str("room", string(roomID)).Str("by", string(p)).Str("reason", reason).Msg("room ended by participant")
	return nil
}
