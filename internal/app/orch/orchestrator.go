// Package orch wires the pairing components together and routes every
// inbound event to the component that owns the state it touches. It holds the
// authoritative session index for audio/video; the components never call each
// other directly.
package orch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mkorchagin/pairchat/internal/app"
	"github.com/mkorchagin/pairchat/internal/core"
	"github.com/mkorchagin/pairchat/internal/domain"
)

// Options are the orchestrator-level tunables, normally filled from config.
type Options struct {
	MatchCost       int
	ReconnectWindow time.Duration
	RoomMaxIdle     time.Duration
	RoomSweepEvery  time.Duration
	LimiterIdleTTL  time.Duration
	LimiterSweep    time.Duration
	PartnerSweep    time.Duration
}

type Orchestrator struct {
	Registry *app.Registry
	Matcher  *app.Matcher
	Rooms    *app.RoomStore
	Broker   *app.Broker
	Bridge   *app.Bridge
	Partners *app.PartnerHistory
	Limiter  *app.MessageLimiter

	Identity core.IdentityDirectory
	Coins    core.CoinLedger
	Ledger   core.SessionLedger
	MatchQ   core.MatchQueue

	opts Options

	mu       sync.RWMutex
	sessions map[domain.SessionID]*domain.Session
	byUser   map[domain.ParticipantID]domain.SessionID
}

func New(reg *app.Registry, matcher *app.Matcher, rooms *app.RoomStore, broker *app.Broker, bridge *app.Bridge,
	partners *app.PartnerHistory, limiter *app.MessageLimiter,
	identity core.IdentityDirectory, coins core.CoinLedger, ledger core.SessionLedger, matchQ core.MatchQueue,
	opts Options) *Orchestrator {

	o := &Orchestrator{
		Registry: reg,
		Matcher:  matcher,
		Rooms:    rooms,
		Broker:   broker,
		Bridge:   bridge,
		Partners: partners,
		Limiter:  limiter,
		Identity: identity,
		Coins:    coins,
		Ledger:   ledger,
		MatchQ:   matchQ,
		opts:     opts,
		sessions: make(map[domain.SessionID]*domain.Session),
		byUser:   make(map[domain.ParticipantID]domain.SessionID),
	}

	matcher.OnMatched = o.notifyMatched
	broker.OnRoomExpired = o.notifyRoomExpired
	return o
}

// Connect registers a new endpoint. A reconnect from a participant with a
// pending audio/video teardown cancels that teardown.
func (o *Orchestrator) Connect(ctx context.Context, p domain.ParticipantID, ep core.Endpoint) error {
	if err := domain.ValidateParticipantID(p); err != nil {
		return &core.ValidationError{Field: "participantId", Reason: err.Error()}
	}
	profile, err := o.Identity.Lookup(ctx, p)
	if err == nil && profile.Banned {
		return &core.ValidationError{Field: "participantId", Reason: "banned"}
	}
	first := o.Registry.AddEndpoint(p, ep)
	if o.Broker.CancelSessionGrace(p) {
		log.Info().Str("module", "orch").Str("participant", string(p)).Msg("session teardown cancelled by reconnect")
	}
	if first {
		o.broadcastCounts()
	}
	return nil
}

// Disconnect tears an endpoint down. Only when the participant drops fully
// offline does disconnect handling run: queue removal, room grace capture,
// and the longer session grace timer.
func (o *Orchestrator) Disconnect(p domain.ParticipantID, epID domain.EndpointID) {
	offline := o.Registry.RemoveEndpoint(p, epID)
	if !offline {
		return
	}

	o.Matcher.Leave(p)

	if partner, ok := o.Broker.CaptureDisconnect(p); ok {
		if room, ok := o.Rooms.RoomFor(partner); ok {
			o.Registry.Broadcast(partner, PartnerDisconnectedEvent{
				Type:               EvtPartnerDisconnected,
				RoomID:             room.ID,
				ReconnectWindowSec: int(o.opts.ReconnectWindow / time.Second),
			})
		}
	}

	if _, ok := o.sessionFor(p); ok {
		pid := p
		o.Broker.StartSessionGrace(pid, func() { o.teardownAfterGrace(pid) })
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, m := range []domain.Mode{domain.ModeAudio, domain.ModeVideo} {
		_ = o.MatchQ.Remove(ctx, p, m)
	}
	o.Registry.LeaveAllModes(p)
	o.broadcastCounts()
}

// JoinMode and LeaveMode maintain the advisory presence counters. Any change
// rebroadcasts aggregate counts to every connected endpoint.
func (o *Orchestrator) JoinMode(p domain.ParticipantID, m domain.Mode) error {
	if !m.Valid() {
		return &core.ValidationError{Field: "mode", Reason: "unknown mode"}
	}
	if o.Registry.JoinMode(p, m) {
		o.broadcastCounts()
	}
	return nil
}

func (o *Orchestrator) LeaveMode(p domain.ParticipantID, m domain.Mode) error {
	if !m.Valid() {
		return &core.ValidationError{Field: "mode", Reason: "unknown mode"}
	}
	if o.Registry.LeaveMode(p, m) {
		o.broadcastCounts()
	}
	return nil
}

func (o *Orchestrator) broadcastCounts() {
	o.Registry.BroadcastAll(UserCountsEvent{
		Type:   EvtUserCounts,
		Online: o.Registry.OnlineCount(),
		Counts: o.Registry.ModeCounts(),
	})
}

// engaged reports whether the participant currently occupies a queue, room
// or session. Used to enforce the exclusivity invariant on entry points.
func (o *Orchestrator) engaged(p domain.ParticipantID) bool {
	if o.Matcher.InQueue(p) {
		return true
	}
	if _, ok := o.Rooms.RoomFor(p); ok {
		return true
	}
	_, ok := o.sessionFor(p)
	return ok
}

func (o *Orchestrator) sessionFor(p domain.ParticipantID) (*domain.Session, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	id, ok := o.byUser[p]
	if !ok {
		return nil, false
	}
	s, ok := o.sessions[id]
	return s, ok
}

// Stats aggregates the monitoring snapshot for the HTTP surface.
func (o *Orchestrator) Stats() map[string]any {
	qs := o.Matcher.Stats()
	o.mu.RLock()
	sessions := len(o.sessions)
	o.mu.RUnlock()
	return map[string]any{
		"queue":              qs,
		"activeSessions":     sessions,
		"online":             o.Registry.OnlineCount(),
		"modes":              o.Registry.ModeCounts(),
		"rateLimitViolations": o.Limiter.Violations(),
	}
}

// Run drives the periodic sweeps until ctx is cancelled: stale rooms, expired
// reconnect records, idle rate-limit state and expired partner history.
func (o *Orchestrator) Run(ctx context.Context) {
	roomTicker := time.NewTicker(o.opts.RoomSweepEvery)
	limiterTicker := time.NewTicker(o.opts.LimiterSweep)
	partnerTicker := time.NewTicker(o.opts.PartnerSweep)
	defer roomTicker.Stop()
	defer limiterTicker.Stop()
	defer partnerTicker.Stop()

	log.Info().Str("module", "orch").Msg("sweep loops started")
	for {
		select {
		case <-ctx.Done():
			o.Rooms.Close()
			o.Broker.Close()
			log.Info().Str("module", "orch").Msg("sweep loops stopped")
			return
		case <-roomTicker.C:
			for _, room := range o.Rooms.SweepStale(o.opts.RoomMaxIdle) {
				o.Bridge.Clear(room.ID)
				o.notifyRoomEnded(room, domain.EndReasonTimeout)
			}
			o.Broker.Sweep()
		case <-limiterTicker.C:
			o.Limiter.SweepIdle(o.opts.LimiterIdleTTL)
		case <-partnerTicker.C:
			o.Partners.Sweep()
		}
	}
}

func (o *Orchestrator) notifyRoomEnded(room domain.Room, reason string) {
	evt := RoomEndedEvent{Type: EvtRoomEnded, RoomID: room.ID, Reason: reason}
	o.Registry.Broadcast(room.User1.Participant, evt)
	o.Registry.Broadcast(room.User2.Participant, evt)
}

// notifyRoomExpired runs when an unclaimed reconnect window force-ended a
// room: whoever is still connected learns the pairing is gone.
func (o *Orchestrator) notifyRoomExpired(room domain.Room) {
	o.Bridge.Clear(room.ID)
	o.Broker.Forget(room.User1.Participant)
	o.Broker.Forget(room.User2.Participant)
	o.notifyRoomEnded(room, domain.EndReasonPartnerDisconnected)
}
