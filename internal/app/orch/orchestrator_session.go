package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mkorchagin/pairchat/internal/core"
	"github.com/mkorchagin/pairchat/internal/domain"
)

// FindMatch tries to pair the caller with the oldest waiting participant in
// the given audio/video mode. Both sides are debited MatchCost coins; if the
// counterpart's debit fails after the caller's succeeded, the caller's spend
// is refunded from its snapshot and the caller is put back at the head of
// the flow by enqueueing a fresh ticket.
func (o *Orchestrator) FindMatch(ctx context.Context, p domain.ParticipantID, mode domain.Mode) error {
	if mode != domain.ModeAudio && mode != domain.ModeVideo {
		return &core.ValidationError{Field: "mode", Reason: "audio or video required"}
	}
	if o.engaged(p) {
		return fmt.Errorf("find match: %w", core.ErrAlreadyEngaged)
	}

	ticket := core.MatchTicket{Participant: p, Mode: mode, EnqueuedAt: time.Now()}
	counterpart, err := o.MatchQ.FindMatch(ctx, ticket)
	if errors.Is(err, core.ErrNotFound) {
		return o.startSearching(ctx, ticket)
	}
	if err != nil {
		return fmt.Errorf("match queue: %w", err)
	}

	// The claim consumed the counterpart's ticket. Drop any stale ticket
	// of the caller's own, in either mode, so a later claim cannot pair
	// the caller a second time.
	for _, m := range []domain.Mode{domain.ModeAudio, domain.ModeVideo} {
		_ = o.MatchQ.Remove(ctx, p, m)
	}

	// From here every failure path must either complete the session or
	// undo its partial effects.
	mine, err := o.Coins.Spend(ctx, p, o.opts.MatchCost)
	if err != nil {
		// Caller cannot pay. The claimed counterpart lost nothing but its
		// queue slot, so put it back with its original wait time.
		if qErr := o.MatchQ.Enqueue(ctx, counterpart); qErr != nil {
			log.Error().Err(qErr).Str("module", "orch").Str("participant", string(counterpart.Participant)).Msg("requeue after failed spend")
		}
		return &core.InsufficientCoinsError{Participant: string(p)}
	}

	if _, err := o.Coins.Spend(ctx, counterpart.Participant, o.opts.MatchCost); err != nil {
		// Compensate: the caller's debit is rolled back to its exact prior
		// snapshot and the caller keeps searching.
		if rErr := o.Coins.Refund(ctx, p, mine); rErr != nil {
			log.Error().Err(rErr).Str("module", "orch").Str("participant", string(p)).Msg("refund after failed counterpart spend")
		}
		log.Warn().Str("module", "orch").Str("participant", string(counterpart.Participant)).Msg("counterpart could not pay, match abandoned")
		o.Registry.Broadcast(counterpart.Participant, ErrorEvent{
			Type: EvtError, Code: "insufficient_coins", Message: "not enough coins to start a chat",
		})
		return o.startSearching(ctx, ticket)
	}

	session := domain.NewSession(counterpart.Participant, p, mode, time.Now())
	o.mu.Lock()
	o.sessions[session.ID] = session
	o.byUser[session.User1] = session.ID
	o.byUser[session.User2] = session.ID
	o.mu.Unlock()

	if err := o.Ledger.CreateSession(ctx, session); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("session", string(session.ID)).Msg("persist session")
	}

	// The longer-waiting side initiates the signaling handshake.
	o.Registry.Broadcast(session.User1, MatchFoundEvent{
		Type: EvtMatchFound, SessionID: session.ID, MatchUserID: session.User2, IsInitiator: true, Mode: mode,
	})
	o.Registry.Broadcast(session.User2, MatchFoundEvent{
		Type: EvtMatchFound, SessionID: session.ID, MatchUserID: session.User1, IsInitiator: false, Mode: mode,
	})
	log.Info().Str("module", "orch").Str("session", string(session.ID)).Str("mode", string(mode)).Msg("session formed")
	return nil
}

func (o *Orchestrator) startSearching(ctx context.Context, t core.MatchTicket) error {
	if err := o.MatchQ.Enqueue(ctx, t); err != nil {
		return fmt.Errorf("enqueue ticket: %w", err)
	}
	if o.Registry.JoinMode(t.Participant, t.Mode) {
		o.broadcastCounts()
	}
	depth, err := o.MatchQ.Depth(ctx, t.Mode)
	if err != nil {
		depth = 1
	}
	o.Registry.Broadcast(t.Participant, SearchingEvent{Type: EvtSearching, Mode: t.Mode, TotalWaiting: depth})
	return nil
}

// StopMatching withdraws a pending audio/video search. Idempotent.
func (o *Orchestrator) StopMatching(ctx context.Context, p domain.ParticipantID, mode domain.Mode) error {
	if mode != domain.ModeAudio && mode != domain.ModeVideo {
		return &core.ValidationError{Field: "mode", Reason: "audio or video required"}
	}
	if err := o.MatchQ.Remove(ctx, p, mode); err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("remove ticket: %w", err)
	}
	if o.Registry.LeaveMode(p, mode) {
		o.broadcastCounts()
	}
	o.Registry.Broadcast(p, MatchingStoppedEvent{Type: EvtMatchingStopped, Mode: mode})
	return nil
}

// EndSession closes an audio/video session at either side's request. Coins
// are not refunded; the spend bought the match, not a minimum duration.
func (o *Orchestrator) EndSession(ctx context.Context, p domain.ParticipantID, sessionID domain.SessionID, reason string) error {
	o.mu.Lock()
	session, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	if !session.Has(p) {
		o.mu.Unlock()
		return fmt.Errorf("not a member of session %s: %w", sessionID, core.ErrIdentityMismatch)
	}
	session.Status = domain.SessionEnded
	delete(o.sessions, sessionID)
	delete(o.byUser, session.User1)
	delete(o.byUser, session.User2)
	o.mu.Unlock()

	if reason == "" {
		reason = domain.EndReasonUserLeft
	}
	duration := time.Since(session.CreatedAt)
	if err := o.Ledger.EndSession(ctx, sessionID, duration); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("session", string(sessionID)).Msg("persist session end")
	}

	evt := SessionEndedEvent{Type: EvtSessionEnded, SessionID: sessionID, Reason: reason}
	o.Registry.Broadcast(session.User1, evt)
	o.Registry.Broadcast(session.User2, evt)
	o.Broker.CancelSessionGrace(session.User1)
	o.Broker.CancelSessionGrace(session.User2)
	log.Info().Str("module", "orch").Str("session", string(sessionID)).Dur("duration", duration).Str("reason", reason).Msg("session ended")
	return nil
}

// teardownAfterGrace fires when a participant in a session stayed offline
// through the whole grace window. The survivor sees the session end with
// the disconnect reason.
func (o *Orchestrator) teardownAfterGrace(p domain.ParticipantID) {
	session, ok := o.sessionFor(p)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.EndSession(ctx, p, session.ID, domain.EndReasonPartnerDisconnected); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("session", string(session.ID)).Msg("teardown after grace")
	}
}

// Report files a moderation report against the other side of a room. The
// transcript snapshot is taken before the room is ended, never after.
func (o *Orchestrator) Report(ctx context.Context, p domain.ParticipantID, roomID domain.RoomID, reason, description string) error {
	if reason == "" {
		return &core.ValidationError{Field: "reason", Reason: "empty"}
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return fmt.Errorf("room %s: %w", roomID, core.ErrNotFound)
	}
	partner, ok := room.Partner(p)
	if !ok {
		return fmt.Errorf("reporter not in room %s: %w", roomID, core.ErrIdentityMismatch)
	}

	report := core.Report{
		RoomID:      roomID,
		ReporterID:  p,
		ReportedID:  partner.Participant,
		Reason:      reason,
		Description: description,
		Transcript:  o.Rooms.Messages(roomID),
		FiledAt:     time.Now(),
	}
	if err := o.Ledger.FileReport(ctx, report); err != nil {
		return fmt.Errorf("file report: %w", err)
	}
	log.Info().Str("module", "orch").Str("room", string(roomID)).Str("reporter", string(p)).Str("reported", string(partner.Participant)).Str("reason", reason).Msg("report filed")

	return o.EndRoom(p, roomID, domain.EndReasonReported)
}
