package core

import (
	"context"
	"time"

	"github.com/mkorchagin/pairchat/internal/domain"
)

// Profile is the slice of account state this core is allowed to see.
type Profile struct {
	ID     domain.ParticipantID
	Tier   string
	Banned bool
	Coins  int
}

// IdentityDirectory answers profile and ban-status lookups. Implemented
// outside this core; consulted before any audio/video pairing.
type IdentityDirectory interface {
	Lookup(ctx context.Context, id domain.ParticipantID) (Profile, error)
}

// CoinBalance is the snapshot returned by a successful spend, kept so the
// exact prior state can be restored on refund.
type CoinBalance struct {
	Coins      int
	TotalChats int
	DailyChats int
}

// CoinLedger debits the per-match cost before an audio/video session forms.
// Refund is the compensating transaction: it must restore the prior snapshot
// regardless of how the ledger is implemented.
type CoinLedger interface {
	Spend(ctx context.Context, id domain.ParticipantID, cost int) (CoinBalance, error)
	Refund(ctx context.Context, id domain.ParticipantID, previous CoinBalance) error
}

// SessionLedger persists audio/video session records and moderation reports.
type SessionLedger interface {
	CreateSession(ctx context.Context, s *domain.Session) error
	EndSession(ctx context.Context, id domain.SessionID, duration time.Duration) error
	FileReport(ctx context.Context, r Report) error
}

// Report is a moderation report built from a room's buffered transcript.
// Capture must happen before the transcript is discarded.
type Report struct {
	RoomID      domain.RoomID
	SessionID   domain.SessionID
	ReporterID  domain.ParticipantID
	ReportedID  domain.ParticipantID
	Reason      string
	Description string
	Transcript  []domain.Message
	FiledAt     time.Time
}

// MatchTicket is one pending audio/video match request.
type MatchTicket struct {
	Participant domain.ParticipantID
	Mode        domain.Mode
	EnqueuedAt  time.Time
}

// MatchQueue is the cross-process queue for audio/video modes. Its internal
// algorithm is out of scope here; the contract is oldest-eligible-first,
// never matching a ticket with itself.
type MatchQueue interface {
	Enqueue(ctx context.Context, t MatchTicket) error
	Remove(ctx context.Context, id domain.ParticipantID, mode domain.Mode) error
	// FindMatch claims and returns the oldest eligible counterpart, or
	// ErrNotFound when nobody is waiting.
	FindMatch(ctx context.Context, t MatchTicket) (MatchTicket, error)
	Depth(ctx context.Context, mode domain.Mode) (int, error)
}
