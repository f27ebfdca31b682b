package orch

import (
	"encoding/json"

	"github.com/mkorchagin/pairchat/internal/domain"
)

// Outbound notification types. Every server-to-client event is one of these
// typed, displayable structs — raw faults never reach the wire.
const (
	EvtQueued              = "queued"
	EvtMatched             = "matched"
	EvtMessageAck          = "message_ack"
	EvtPartnerMessage      = "partner_message"
	EvtPartnerTyping       = "partner_typing"
	EvtPartnerDisconnected = "partner_disconnected"
	EvtPartnerReconnected  = "partner_reconnected"
	EvtReconnected         = "reconnected"
	EvtRoomEnded           = "room_ended"
	EvtSearching           = "searching"
	EvtMatchFound          = "match_found"
	EvtMatchingStopped     = "matching_stopped"
	EvtSessionEnded        = "session_ended"
	EvtUserCounts          = "user_counts"
	EvtVideoRequest        = "request_video"
	EvtVideoResponse       = "video_response"
	EvtUpgradeOffer        = "upgrade_offer"
	EvtUpgradeAnswer       = "upgrade_answer"
	EvtUpgradeCandidate    = "upgrade_ice_candidate"
	EvtUpgradeFailed       = "video_upgrade_failed"
	EvtError               = "error"
)

type QueuedEvent struct {
	Type         string `json:"type"`
	Position     int    `json:"position"`
	EstimatedSec int    `json:"estimatedWaitTime"`
}

type MatchedEvent struct {
	Type      string               `json:"type"`
	RoomID    domain.RoomID        `json:"roomId"`
	PartnerID domain.ParticipantID `json:"partnerId"`
}

type MessageAckEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Remaining int    `json:"remaining"`
}

type PartnerMessageEvent struct {
	Type    string         `json:"type"`
	Message domain.Message `json:"message"`
}

type PartnerTypingEvent struct {
	Type     string               `json:"type"`
	RoomID   domain.RoomID        `json:"roomId"`
	UserID   domain.ParticipantID `json:"userId"`
	IsTyping bool                 `json:"isTyping"`
}

type PartnerDisconnectedEvent struct {
	Type               string        `json:"type"`
	RoomID             domain.RoomID `json:"roomId"`
	ReconnectWindowSec int           `json:"reconnectWindow"`
}

type PartnerReconnectedEvent struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

type ReconnectedEvent struct {
	Type      string               `json:"type"`
	RoomID    domain.RoomID        `json:"roomId"`
	PartnerID domain.ParticipantID `json:"partnerId"`
	Messages  []domain.Message     `json:"messages"`
}

type RoomEndedEvent struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	Reason string        `json:"reason"`
}

type SearchingEvent struct {
	Type         string      `json:"type"`
	Mode         domain.Mode `json:"mode"`
	TotalWaiting int         `json:"totalWaiting"`
}

type MatchFoundEvent struct {
	Type        string               `json:"type"`
	SessionID   domain.SessionID     `json:"sessionId"`
	MatchUserID domain.ParticipantID `json:"matchUserId"`
	IsInitiator bool                 `json:"isInitiator"`
	Mode        domain.Mode          `json:"mode"`
}

type MatchingStoppedEvent struct {
	Type string      `json:"type"`
	Mode domain.Mode `json:"mode"`
}

type SessionEndedEvent struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
	Reason    string           `json:"reason"`
}

type UserCountsEvent struct {
	Type   string              `json:"type"`
	Online int                 `json:"online"`
	Counts map[domain.Mode]int `json:"counts"`
}

type VideoRequestEvent struct {
	Type   string               `json:"type"`
	RoomID domain.RoomID        `json:"roomId"`
	From   domain.ParticipantID `json:"from"`
}

type VideoResponseEvent struct {
	Type   string               `json:"type"`
	RoomID domain.RoomID        `json:"roomId"`
	From   domain.ParticipantID `json:"from"`
	Accept bool                 `json:"accept"`
	Reason string               `json:"reason,omitempty"`
}

// UpgradeSignalEvent carries an offer, answer or ICE candidate. The payload
// is relayed verbatim with no content inspection.
type UpgradeSignalEvent struct {
	Type    string               `json:"type"`
	RoomID  domain.RoomID        `json:"roomId"`
	From    domain.ParticipantID `json:"from"`
	Payload json.RawMessage      `json:"payload"`
}

type UpgradeFailedEvent struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	Reason string        `json:"reason"`
}

type ErrorEvent struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Remaining *int   `json:"remaining,omitempty"`
}
