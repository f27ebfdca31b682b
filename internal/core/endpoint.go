package core

import "github.com/mkorchagin/pairchat/internal/domain"

// Endpoint abstracts one live client connection. Owned by the adapter that
// created it; the adapter must Close() it. Send is at-least-once per endpoint
// with no cross-endpoint ordering guarantee.
type Endpoint interface {
	ID() domain.EndpointID
	// Send marshals v and queues it for delivery. Returns ErrBackpressure
	// when the outbound buffer is full; the caller treats delivery as
	// fire-and-forget either way.
	Send(v any) error
	Close()
}
