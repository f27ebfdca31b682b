package domain

import "time"

// UpgradeStatus is the lifecycle of one video escalation attempt on top of an
// existing text pairing. Transitions are validated by the bridge; an event
// that is invalid for the current status is rejected, not ignored.
type UpgradeStatus int

const (
	UpgradeIdle UpgradeStatus = iota
	UpgradeRequesting
	UpgradeAccepted
	UpgradeConnecting
	UpgradeConnected
	UpgradeDeclined
	UpgradeFailed
)

func (s UpgradeStatus) String() string {
	switch s {
	case UpgradeIdle:
		return "idle"
	case UpgradeRequesting:
		return "requesting"
	case UpgradeAccepted:
		return "accepted"
	case UpgradeConnecting:
		return "connecting"
	case UpgradeConnected:
		return "connected"
	case UpgradeDeclined:
		return "declined"
	case UpgradeFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further signaling is accepted for this attempt.
func (s UpgradeStatus) Terminal() bool {
	return s == UpgradeConnected || s == UpgradeDeclined || s == UpgradeFailed
}

// Negotiation is the per-pairing escalation state. The room id doubles as the
// correlation key: the counterpart is already known, no re-matching happens.
type Negotiation struct {
	RoomID      RoomID        `json:"roomId"`
	Initiator   ParticipantID `json:"initiator"`
	Receiver    ParticipantID `json:"receiver"`
	Status      UpgradeStatus `json:"-"`
	RequestedAt time.Time     `json:"requestedAt"`
}

func (n *Negotiation) Counterpart(p ParticipantID) (ParticipantID, bool) {
	switch p {
	case n.Initiator:
		return n.Receiver, true
	case n.Receiver:
		return n.Initiator, true
	}
	return "", false
}
