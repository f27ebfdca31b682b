// Package app holds the in-memory pairing components: connection registry,
// text matcher, room store, reconnection broker and video upgrade bridge.
// Each component exclusively owns its own maps; the orchestrator mutates them
// only through component operations.
package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mkorchagin/pairchat/internal/core"
	"github.com/mkorchagin/pairchat/internal/domain"
)

// Registry tracks live endpoints per participant and advisory per-mode
// occupancy counts. Presence counts are never authoritative for matching.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[domain.ParticipantID]map[domain.EndpointID]core.Endpoint
	modes     map[domain.Mode]map[domain.ParticipantID]struct{}
}

func NewRegistry() *Registry {
	modes := make(map[domain.Mode]map[domain.ParticipantID]struct{})
	for _, m := range domain.Modes() {
		modes[m] = make(map[domain.ParticipantID]struct{})
	}
	return &Registry{
		endpoints: make(map[domain.ParticipantID]map[domain.EndpointID]core.Endpoint),
		modes:     modes,
	}
}

// AddEndpoint registers a device. Reports whether this was the participant's
// first active endpoint.
func (r *Registry) AddEndpoint(p domain.ParticipantID, ep core.Endpoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	eps, ok := r.endpoints[p]
	if !ok {
		eps = make(map[domain.EndpointID]core.Endpoint)
		r.endpoints[p] = eps
	}
	eps[ep.ID()] = ep
	first := !ok
	log.Info().Str("module", "app.registry").Str("participant", string(p)).Str("endpoint", string(ep.ID())).Bool("first", first).Msg("endpoint added")
	return first
}

// RemoveEndpoint drops a device. Reports whether the participant is now
// fully offline.
func (r *Registry) RemoveEndpoint(p domain.ParticipantID, id domain.EndpointID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	eps, ok := r.endpoints[p]
	if !ok {
		return false
	}
	delete(eps, id)
	if len(eps) > 0 {
		return false
	}
	delete(r.endpoints, p)
	log.Info().Str("module", "app.registry").Str("participant", string(p)).Msg("participant offline")
	return true
}

func (r *Registry) IsOnline(p domain.ParticipantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints[p]) > 0
}

// Endpoint resolves one device by id, for endpoint-addressed replies.
func (r *Registry) Endpoint(p domain.ParticipantID, id domain.EndpointID) (core.Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[p][id]
	return ep, ok
}

// Broadcast fans v out to every live endpoint of one participant,
// at-least-once, no cross-endpoint ordering guarantee.
func (r *Registry) Broadcast(p domain.ParticipantID, v any) int {
	r.mu.RLock()
	eps := make([]core.Endpoint, 0, len(r.endpoints[p]))
	for _, ep := range r.endpoints[p] {
		eps = append(eps, ep)
	}
	r.mu.RUnlock()

	sent := 0
	for _, ep := range eps {
		if err := ep.Send(v); err != nil {
			log.Debug().Str("module", "app.registry").Str("participant", string(p)).Str("endpoint", string(ep.ID())).Err(err).Msg("broadcast drop")
			continue
		}
		sent++
	}
	return sent
}

// BroadcastAll fans v out to every connected endpoint of every participant.
func (r *Registry) BroadcastAll(v any) int {
	r.mu.RLock()
	eps := make([]core.Endpoint, 0, len(r.endpoints))
	for _, byID := range r.endpoints {
		for _, ep := range byID {
			eps = append(eps, ep)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, ep := range eps {
		if ep.Send(v) == nil {
			sent++
		}
	}
	return sent
}

// JoinMode adds the participant to a mode's presence set. Idempotent; reports
// whether the set changed so the caller knows to rebroadcast counts.
func (r *Registry) JoinMode(p domain.ParticipantID, m domain.Mode) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.modes[m]
	if !ok {
		return false
	}
	if _, ok := set[p]; ok {
		return false
	}
	set[p] = struct{}{}
	return true
}

// LeaveMode is the idempotent inverse of JoinMode.
func (r *Registry) LeaveMode(p domain.ParticipantID, m domain.Mode) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.modes[m]
	if !ok {
		return false
	}
	if _, ok := set[p]; !ok {
		return false
	}
	delete(set, p)
	return true
}

// LeaveAllModes clears the participant from every presence set. Reports
// whether anything changed.
func (r *Registry) LeaveAllModes(p domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := false
	for _, set := range r.modes {
		if _, ok := set[p]; ok {
			delete(set, p)
			changed = true
		}
	}
	return changed
}

// ModeCounts returns the aggregate occupancy per mode.
func (r *Registry) ModeCounts() map[domain.Mode]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.Mode]int, len(r.modes))
	for m, set := range r.modes {
		out[m] = len(set)
	}
	return out
}

func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}
