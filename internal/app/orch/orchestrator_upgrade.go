package orch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mkorchagin/pairchat/internal/core"
	"github.com/mkorchagin/pairchat/internal/domain"
)

// RequestVideo starts a video escalation inside an active text room. The
// partner sees the request on all of its endpoints.
func (o *Orchestrator) RequestVideo(p domain.ParticipantID, roomID domain.RoomID) error {
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return fmt.Errorf("room %s: %w", roomID, core.ErrNotFound)
	}
	partner, ok := room.Partner(p)
	if !ok {
		return fmt.Errorf("requester not in room %s: %w", roomID, core.ErrIdentityMismatch)
	}
	if _, err := o.Bridge.Request(roomID, p, partner.Participant); err != nil {
		return err
	}
	o.Rooms.Touch(roomID)
	o.Registry.Broadcast(partner.Participant, VideoRequestEvent{Type: EvtVideoRequest, RoomID: roomID, From: p})
	return nil
}

// RespondVideo resolves a pending escalation. Declining with a report reason
// also files a moderation report, which ends the room; a plain decline keeps
// the text conversation going.
func (o *Orchestrator) RespondVideo(ctx context.Context, p domain.ParticipantID, roomID domain.RoomID, accept bool, reportReason string) error {
	n, err := o.Bridge.Respond(roomID, p, accept)
	if err != nil {
		return err
	}
	evt := VideoResponseEvent{Type: EvtVideoResponse, RoomID: roomID, From: p, Accept: accept}
	if !accept {
		evt.Reason = "declined"
	}
	o.Registry.Broadcast(n.Initiator, evt)

	if !accept && reportReason != "" {
		return o.Report(ctx, p, roomID, reportReason, "reported while declining video")
	}
	return nil
}

// RelaySignal forwards one SDP offer/answer or ICE candidate to the other
// side, verbatim. An undeliverable hop fails the whole negotiation but never
// the room.
func (o *Orchestrator) RelaySignal(p domain.ParticipantID, roomID domain.RoomID, kind string, payload json.RawMessage) error {
	target, err := o.Bridge.Relay(roomID, p, kind)
	if err != nil {
		return err
	}

	var evtType string
	switch kind {
	case "offer":
		evtType = EvtUpgradeOffer
	case "answer":
		evtType = EvtUpgradeAnswer
	default:
		evtType = EvtUpgradeCandidate
	}
	sent := o.Registry.Broadcast(target, UpgradeSignalEvent{Type: evtType, RoomID: roomID, From: p, Payload: payload})
	if sent == 0 {
		o.failUpgrade(roomID, "signaling peer unreachable")
		return fmt.Errorf("signal target offline: %w", core.ErrNotFound)
	}
	return nil
}

// VideoConnected is the client's acknowledgement that media is flowing.
func (o *Orchestrator) VideoConnected(p domain.ParticipantID, roomID domain.RoomID) error {
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return fmt.Errorf("room %s: %w", roomID, core.ErrNotFound)
	}
	if !room.Has(p) {
		return fmt.Errorf("not a member of room %s: %w", roomID, core.ErrIdentityMismatch)
	}
	if _, err := o.Bridge.MarkConnected(roomID); err != nil {
		return err
	}
	o.Rooms.Touch(roomID)
	return nil
}

// failUpgrade tells both sides the escalation is over. Text messaging in the
// room continues untouched.
func (o *Orchestrator) failUpgrade(roomID domain.RoomID, reason string) {
	n, err := o.Bridge.Fail(roomID, reason)
	if err != nil {
		return
	}
	evt := UpgradeFailedEvent{Type: EvtUpgradeFailed, RoomID: roomID, Reason: reason}
	o.Registry.Broadcast(n.Initiator, evt)
	o.Registry.Broadcast(n.Receiver, evt)
	log.Info().Str("module", "orch").Str("room", string(roomID)).Str("reason", reason).Msg("video upgrade failed, text room kept")
}
