package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is one line of a text conversation. The room keeps only the tail
// of the transcript (see MessageRing) for moderation evidence.
type Message struct {
	ID       string        `json:"messageId"`
	RoomID   RoomID        `json:"roomId"`
	SenderID ParticipantID `json:"senderId"`
	Content  string        `json:"content"`
	SentAt   time.Time     `json:"timestamp"`
}

func NewMessage(roomID RoomID, sender ParticipantID, content string, at time.Time) Message {
	return Message{
		ID:       uuid.NewString(),
		RoomID:   roomID,
		SenderID: sender,
		Content:  content,
		SentAt:   at,
	}
}
