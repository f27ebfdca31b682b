package domain

import (
	"time"

	"github.com/google/uuid"
)

type SessionID string

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Session is an active audio or video pairing. Text pairings use Room instead;
// a session's media never passes through this process, only its signaling.
type Session struct {
	ID        SessionID     `json:"sessionId"`
	User1     ParticipantID `json:"user1Id"`
	User2     ParticipantID `json:"user2Id"`
	Mode      Mode          `json:"mode"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

func NewSession(a, b ParticipantID, mode Mode, now time.Time) *Session {
	return &Session{
		ID:        SessionID("session_" + uuid.NewString()),
		User1:     a,
		User2:     b,
		Mode:      mode,
		Status:    SessionActive,
		CreatedAt: now,
	}
}

func (s *Session) Partner(p ParticipantID) (ParticipantID, bool) {
	switch p {
	case s.User1:
		return s.User2, true
	case s.User2:
		return s.User1, true
	}
	return "", false
}

func (s *Session) Has(p ParticipantID) bool {
	return s.User1 == p || s.User2 == p
}
