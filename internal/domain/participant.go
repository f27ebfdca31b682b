// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxParticipantIDLen = 64
	MaxMessageLen       = 2000
)

var (
	ErrParticipantIDEmpty   = errors.New("participant id empty")
	ErrParticipantIDTooLong = errors.New("participant id too long")
)

type (
	// ParticipantID is an opaque identity string. Its lifecycle is owned by
	// the auth layer; this core only routes on it.
	ParticipantID string

	// EndpointID identifies one live connection instance. A participant may
	// hold several endpoints at once (multi-device).
	EndpointID string
)

// Mode is a chat medium a participant can queue for.
type Mode string

const (
	ModeText  Mode = "text"
	ModeAudio Mode = "audio"
	ModeVideo Mode = "video"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeText, ModeAudio, ModeVideo:
		return true
	}
	return false
}

// Modes lists every medium, in the order counts are reported.
func Modes() []Mode {
	return []Mode{ModeText, ModeAudio, ModeVideo}
}

func ValidateParticipantID(id ParticipantID) error {
	if id == "" {
		return ErrParticipantIDEmpty
	}
	if len(id) > MaxParticipantIDLen {
		return ErrParticipantIDTooLong
	}
	return nil
}
