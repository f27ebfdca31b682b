// Package core defines the narrow interfaces the components talk through and
// the error taxonomy every failure is translated into before it reaches a
// client. Nothing here owns state.
package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers stale room/session ids. It is a benign race: the
	// entity ended between the client sending and the server routing.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned by the upgrade bridge for an event
	// that is not legal in the negotiation's current status.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrBackpressure means an endpoint's send buffer is full.
	ErrBackpressure = errors.New("backpressure")

	// ErrEndpointClosed means the endpoint was torn down; the registry will
	// drop it shortly, so the frame is simply lost.
	ErrEndpointClosed = errors.New("endpoint closed")

	// ErrIdentityMismatch means an event's stated identity does not match
	// the participant bound to the originating endpoint.
	ErrIdentityMismatch = errors.New("identity mismatch")

	// ErrAlreadyEngaged guards the exclusivity invariant: a participant may
	// occupy at most one of queue, room, session at any instant.
	ErrAlreadyEngaged = errors.New("already in queue, room or session")
)

// ValidationError rejects a malformed or oversized payload. It is delivered
// to the originator only and causes no state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// RateLimitError is a typed rejection carrying the remaining quota so the
// client can display it. The room stays open.
type RateLimitError struct {
	Remaining int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, %d remaining", e.Remaining)
}

// InsufficientCoinsError triggers the compensating-refund path: any partner
// spend already taken is rolled back and the unaffected party requeued.
type InsufficientCoinsError struct {
	Participant string
}

func (e *InsufficientCoinsError) Error() string {
	return fmt.Sprintf("insufficient coins for %s", e.Participant)
}
