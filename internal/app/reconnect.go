package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mkorchagin/pairchat/internal/core"
	"github.com/mkorchagin/pairchat/internal/domain"
)

const (
	timerKindTextGrace    = "text_grace"
	timerKindSessionGrace = "session_grace"
)

type disconnectRecord struct {
	roomID         domain.RoomID
	partnerID      domain.ParticipantID
	disconnectedAt time.Time
}

// Resume is what a successful reconnect restores: the partner and the full
// buffered transcript.
type Resume struct {
	RoomID   domain.RoomID
	Partner  domain.ParticipantID
	Messages []domain.Message
}

// Broker retains just enough state after a disconnect to resume a pairing.
// Text rooms get a short grace window during which the room is kept alive;
// audio/video sessions use a separate, longer per-participant timer. Every
// timer is cancelled by the next event on the same key.
type Broker struct {
	mu      sync.Mutex
	records map[domain.ParticipantID]disconnectRecord

	rooms        *RoomStore
	timers       *TimerSet
	window       time.Duration
	sessionGrace time.Duration
	now          func() time.Time

	// OnRoomExpired fires after an unclaimed grace window force-ends the
	// room, so the orchestrator can notify whoever is still connected.
	OnRoomExpired func(room domain.Room)
}

func NewBroker(rooms *RoomStore, window, sessionGrace time.Duration) *Broker {
	return &Broker{
		records:      make(map[domain.ParticipantID]disconnectRecord),
		rooms:        rooms,
		timers:       NewTimerSet(),
		window:       window,
		sessionGrace: sessionGrace,
		now:          time.Now,
	}
}

// CaptureDisconnect records a room owner going offline and keeps the room
// alive for the grace window. Returns the partner to notify.
func (b *Broker) CaptureDisconnect(p domain.ParticipantID) (domain.ParticipantID, bool) {
	room, ok := b.rooms.RoomFor(p)
	if !ok {
		return "", false
	}
	partner, ok := room.Partner(p)
	if !ok {
		return "", false
	}

	b.mu.Lock()
	b.records[p] = disconnectRecord{
		roomID:         room.ID,
		partnerID:      partner.Participant,
		disconnectedAt: b.now(),
	}
	b.mu.Unlock()

	b.timers.Schedule(timerKindTextGrace, string(p), b.window, func() {
		b.expire(p)
	})
	log.Info().Str("module", "app.reconnect").Str("participant", string(p)).Str("room", string(room.ID)).Dur("window", b.window).Msg("disconnect captured")
	return partner.Participant, true
}

// AttemptReconnect succeeds only while the record is fresh and the room still
// exists; then the new endpoint is rebound inside the room. Any failure has
// no side effects beyond purging the stale record.
func (b *Broker) AttemptReconnect(p domain.ParticipantID, ep domain.EndpointID) (Resume, error) {
	b.mu.Lock()
	rec, ok := b.records[p]
	if !ok {
		b.mu.Unlock()
		return Resume{}, fmt.Errorf("no disconnect record for %s: %w", p, core.ErrNotFound)
	}
	if b.now().Sub(rec.disconnectedAt) > b.window {
		delete(b.records, p)
		b.mu.Unlock()
		b.timers.Cancel(timerKindTextGrace, string(p))
		log.Info().Str("module", "app.reconnect").Str("participant", string(p)).Msg("reconnect window expired")
		return Resume{}, fmt.Errorf("reconnect window expired for %s: %w", p, core.ErrNotFound)
	}
	b.mu.Unlock()

	if _, ok := b.rooms.Get(rec.roomID); !ok {
		b.mu.Lock()
		delete(b.records, p)
		b.mu.Unlock()
		b.timers.Cancel(timerKindTextGrace, string(p))
		return Resume{}, fmt.Errorf("room %s gone: %w", rec.roomID, core.ErrNotFound)
	}

	b.rooms.RebindEndpoint(rec.roomID, p, ep)
	b.mu.Lock()
	delete(b.records, p)
	b.mu.Unlock()
	b.timers.Cancel(timerKindTextGrace, string(p))

	log.Info().Str("module", "app.reconnect").Str("participant", string(p)).Str("room", string(rec.roomID)).Msg("reconnected")
	return Resume{
		RoomID:   rec.roomID,
		Partner:  rec.partnerID,
		Messages: b.rooms.Messages(rec.roomID),
	}, nil
}

// Forget drops a pending record without touching the room, e.g. when the
// partner explicitly ends the pairing during the grace window.
func (b *Broker) Forget(p domain.ParticipantID) {
	b.mu.Lock()
	delete(b.records, p)
	b.mu.Unlock()
	b.timers.Cancel(timerKindTextGrace, string(p))
}

func (b *Broker) expire(p domain.ParticipantID) {
	b.mu.Lock()
	rec, ok := b.records[p]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.records, p)
	b.mu.Unlock()

	final, ok := b.rooms.End(rec.roomID, domain.EndReasonPartnerDisconnected)
	if !ok {
		return
	}
	log.Info().Str("module", "app.reconnect").Str("participant", string(p)).Str("room", string(rec.roomID)).Msg("grace expired, room ended")
	if b.OnRoomExpired != nil {
		b.OnRoomExpired(final)
	}
}

// Sweep force-expires records past the window. The keyed timers normally do
// this; the sweep is the backstop alongside the stale-room sweep.
func (b *Broker) Sweep() {
	now := b.now()
	b.mu.Lock()
	var stale []domain.ParticipantID
	for p, rec := range b.records {
		if now.Sub(rec.disconnectedAt) >= b.window {
			stale = append(stale, p)
		}
	}
	b.mu.Unlock()
	for _, p := range stale {
		b.timers.Cancel(timerKindTextGrace, string(p))
		b.expire(p)
	}
}

// StartSessionGrace arms the longer audio/video teardown timer for a
// disconnected participant. fn runs on expiry.
func (b *Broker) StartSessionGrace(p domain.ParticipantID, fn func()) {
	log.Info().Str("module", "app.reconnect").Str("participant", string(p)).Dur("grace", b.sessionGrace).Msg("session grace started")
	b.timers.Schedule(timerKindSessionGrace, string(p), b.sessionGrace, fn)
}

// CancelSessionGrace is called on any reconnect from the same participant
// before expiry. Reports whether a teardown was pending.
func (b *Broker) CancelSessionGrace(p domain.ParticipantID) bool {
	return b.timers.Cancel(timerKindSessionGrace, string(p))
}

// Close stops all pending grace timers.
func (b *Broker) Close() {
	b.timers.StopAll()
}
