package domain

import (
	"time"

	"github.com/google/uuid"
)

type RoomID string

type RoomStatus string

const (
	RoomActive RoomStatus = "active"
	RoomEnded  RoomStatus = "ended"
)

// Room end reasons, reported to both sides when a pairing closes.
const (
	EndReasonUserLeft            = "user_left"
	EndReasonPartnerDisconnected = "partner_disconnected"
	EndReasonTimeout             = "timeout"
	EndReasonReported            = "reported"
)

// RoomMember is one side of a text pairing: the participant plus the endpoint
// currently bound to the room. The endpoint is rebound on reconnect.
type RoomMember struct {
	Participant ParticipantID `json:"participantId"`
	Endpoint    EndpointID    `json:"endpointId"`
}

// Room is an active text-chat pairing between exactly two participants.
type Room struct {
	ID             RoomID     `json:"roomId"`
	User1          RoomMember `json:"user1"`
	User2          RoomMember `json:"user2"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	MessageCount   int        `json:"messageCount"`
	Status         RoomStatus `json:"status"`
}

func NewRoom(a, b RoomMember, now time.Time) *Room {
	return &Room{
		ID:             RoomID("text_room_" + uuid.NewString()),
		User1:          a,
		User2:          b,
		CreatedAt:      now,
		LastActivityAt: now,
		Status:         RoomActive,
	}
}

// Partner returns the opposite side of the pairing.
func (r *Room) Partner(p ParticipantID) (RoomMember, bool) {
	switch p {
	case r.User1.Participant:
		return r.User2, true
	case r.User2.Participant:
		return r.User1, true
	}
	return RoomMember{}, false
}

// Has reports whether the participant is one of the two sides.
func (r *Room) Has(p ParticipantID) bool {
	return r.User1.Participant == p || r.User2.Participant == p
}
