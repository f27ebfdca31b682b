package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mkorchagin/pairchat/internal/core"
	"github.com/mkorchagin/pairchat/internal/domain"
)

const timerKindTyping = "typing"

type roomState struct {
	room   *domain.Room
	ring   *domain.MessageRing
	typing map[domain.ParticipantID]bool
}

// RoomStore owns every active text pairing: the bounded transcript buffer,
// typing state and the reverse participant index. Message admission is
// rate-checked before any room mutation.
type RoomStore struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomID]*roomState
	byUser map[domain.ParticipantID]domain.RoomID

	limiter   *MessageLimiter
	timers    *TimerSet
	bufCap    int
	typingTTL time.Duration
	now       func() time.Time
}

func NewRoomStore(limiter *MessageLimiter, bufCap int, typingTTL time.Duration) *RoomStore {
	return &RoomStore{
		rooms:     make(map[domain.RoomID]*roomState),
		byUser:    make(map[domain.ParticipantID]domain.RoomID),
		limiter:   limiter,
		timers:    NewTimerSet(),
		bufCap:    bufCap,
		typingTTL: typingTTL,
		now:       time.Now,
	}
}

// Create forms a room for two freshly matched members.
func (s *RoomStore) Create(a, b domain.RoomMember) *domain.Room {
	room := domain.NewRoom(a, b, s.now())
	s.mu.Lock()
	s.rooms[room.ID] = &roomState{
		room:   room,
		ring:   domain.NewMessageRing(s.bufCap),
		typing: make(map[domain.ParticipantID]bool),
	}
	s.byUser[a.Participant] = room.ID
	s.byUser[b.Participant] = room.ID
	s.mu.Unlock()
	log.Info().Str("module", "app.rooms").Str("room", string(room.ID)).Str("user1", string(a.Participant)).Str("user2", string(b.Participant)).Msg("room created")
	return room
}

// Get returns a snapshot of the room header.
func (s *RoomStore) Get(id domain.RoomID) (domain.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.rooms[id]
	if !ok {
		return domain.Room{}, false
	}
	return *st.room, true
}

// RoomFor resolves the room a participant currently occupies, if any.
func (s *RoomStore) RoomFor(p domain.ParticipantID) (domain.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUser[p]
	if !ok {
		return domain.Room{}, false
	}
	st, ok := s.rooms[id]
	if !ok {
		return domain.Room{}, false
	}
	return *st.room, true
}

// AddMessage rate-checks first: on violation the room is untouched and a
// typed rejection with remaining quota is returned. Otherwise the message
// joins the bounded ring (oldest evicted beyond capacity) and activity is
// bumped.
func (s *RoomStore) AddMessage(id domain.RoomID, sender domain.ParticipantID, content string) (domain.Message, int, error) {
	remaining, ok := s.limiter.Allow(string(sender))
	if !ok {
		return domain.Message{}, 0, &core.RateLimitError{Remaining: remaining}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, exists := s.rooms[id]
	if !exists {
		return domain.Message{}, 0, fmt.Errorf("room %s: %w", id, core.ErrNotFound)
	}
	now := s.now()
	msg := domain.NewMessage(id, sender, content, now)
	st.ring.Add(msg)
	st.room.MessageCount++
	st.room.LastActivityAt = now
	return msg, remaining, nil
}

// Messages returns the buffered transcript tail in order.
func (s *RoomStore) Messages(id domain.RoomID) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.rooms[id]
	if !ok {
		return nil
	}
	return st.ring.Snapshot()
}

// SetTyping is last-write-wins. A true state auto-clears after the TTL unless
// refreshed, tolerating clients that never send an explicit stop.
func (s *RoomStore) SetTyping(id domain.RoomID, p domain.ParticipantID, isTyping bool) error {
	s.mu.Lock()
	st, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("room %s: %w", id, core.ErrNotFound)
	}
	st.typing[p] = isTyping
	s.mu.Unlock()

	key := string(id) + ":" + string(p)
	if isTyping {
		s.timers.Schedule(timerKindTyping, key, s.typingTTL, func() {
			s.mu.Lock()
			if st, ok := s.rooms[id]; ok && st.typing[p] {
				st.typing[p] = false
			}
			s.mu.Unlock()
		})
	} else {
		s.timers.Cancel(timerKindTyping, key)
	}
	return nil
}

func (s *RoomStore) IsTyping(id domain.RoomID, p domain.ParticipantID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.rooms[id]
	return ok && st.typing[p]
}

// Touch bumps the activity clock, e.g. on typing or signaling traffic.
func (s *RoomStore) Touch(id domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.rooms[id]; ok {
		st.room.LastActivityAt = s.now()
	}
}

// RebindEndpoint swaps the endpoint bound to a participant's side of the
// room, used on reconnect.
func (s *RoomStore) RebindEndpoint(id domain.RoomID, p domain.ParticipantID, ep domain.EndpointID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[id]
	if !ok {
		return false
	}
	switch p {
	case st.room.User1.Participant:
		st.room.User1.Endpoint = ep
	case st.room.User2.Participant:
		st.room.User2.Endpoint = ep
	default:
		return false
	}
	return true
}

// End closes the room, releases both participants and their rate-limit and
// typing state. Returns the final header snapshot.
func (s *RoomStore) End(id domain.RoomID, reason string) (domain.Room, bool) {
	s.mu.Lock()
	st, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return domain.Room{}, false
	}
	st.room.Status = domain.RoomEnded
	final := *st.room
	delete(s.byUser, st.room.User1.Participant)
	delete(s.byUser, st.room.User2.Participant)
	delete(s.rooms, id)
	s.mu.Unlock()

	s.timers.Cancel(timerKindTyping, string(id)+":"+string(final.User1.Participant))
	s.timers.Cancel(timerKindTyping, string(id)+":"+string(final.User2.Participant))
	s.limiter.Reset(string(final.User1.Participant))
	s.limiter.Reset(string(final.User2.Participant))

	duration := s.now().Sub(final.CreatedAt)
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("reason", reason).Dur("duration", duration).Int("messages", final.MessageCount).Msg("room ended")
	return final, true
}

// SweepStale ends rooms idle beyond maxIdle and returns their final headers.
func (s *RoomStore) SweepStale(maxIdle time.Duration) []domain.Room {
	now := s.now()
	s.mu.RLock()
	var stale []domain.RoomID
	for id, st := range s.rooms {
		if now.Sub(st.room.LastActivityAt) > maxIdle {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	ended := make([]domain.Room, 0, len(stale))
	for _, id := range stale {
		if final, ok := s.End(id, domain.EndReasonTimeout); ok {
			ended = append(ended, final)
		}
	}
	return ended
}

func (s *RoomStore) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// Close stops all pending typing timers.
func (s *RoomStore) Close() {
	s.timers.StopAll()
}
