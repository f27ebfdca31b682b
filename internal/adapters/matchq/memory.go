package matchq

import (
	"context"
	"sort"
	"sync"

	"github.com/mkorchagin/pairchat/internal/core"
	"github.com/mkorchagin/pairchat/internal/domain"
)

// Memory is the single-process queue used in development and tests. Same
// contract as the Redis adapter: oldest eligible first, a claimed ticket is
// gone.
type Memory struct {
	mu      sync.Mutex
	waiting map[domain.Mode][]core.MatchTicket
}

func NewMemory() *Memory {
	return &Memory{waiting: make(map[domain.Mode][]core.MatchTicket)}
}

var _ core.MatchQueue = (*Memory)(nil)

func (m *Memory) Enqueue(_ context.Context, t core.MatchTicket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.waiting[t.Mode]
	for i := range q {
		if q[i].Participant == t.Participant {
			q[i] = t
			return nil
		}
	}
	m.waiting[t.Mode] = append(q, t)
	sort.SliceStable(m.waiting[t.Mode], func(i, j int) bool {
		return m.waiting[t.Mode][i].EnqueuedAt.Before(m.waiting[t.Mode][j].EnqueuedAt)
	})
	return nil
}

func (m *Memory) Remove(_ context.Context, id domain.ParticipantID, mode domain.Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.waiting[mode]
	for i := range q {
		if q[i].Participant == id {
			m.waiting[mode] = append(q[:i], q[i+1:]...)
			return nil
		}
	}
	return core.ErrNotFound
}

func (m *Memory) FindMatch(_ context.Context, t core.MatchTicket) (core.MatchTicket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.waiting[t.Mode]
	for i := range q {
		if q[i].Participant != t.Participant {
			claimed := q[i]
			m.waiting[t.Mode] = append(q[:i], q[i+1:]...)
			return claimed, nil
		}
	}
	return core.MatchTicket{}, core.ErrNotFound
}

func (m *Memory) Depth(_ context.Context, mode domain.Mode) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiting[mode]), nil
}
