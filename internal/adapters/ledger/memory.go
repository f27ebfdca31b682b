package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/mkorchagin/pairchat/internal/core"
	"github.com/mkorchagin/pairchat/internal/domain"
)

// Memory keeps everything in maps. Unknown participants are auto-created
// with a starter balance so a fresh dev server works without seeding.
type Memory struct {
	mu       sync.Mutex
	profiles map[domain.ParticipantID]*core.Profile
	chats    map[domain.ParticipantID]*chatCounters
	sessions map[domain.SessionID]*sessionRecord
	reports  []core.Report

	starterCoins int
}

type chatCounters struct {
	total int
	daily int
}

type sessionRecord struct {
	session  domain.Session
	duration time.Duration
	ended    bool
}

func NewMemory(starterCoins int) *Memory {
	return &Memory{
		profiles:     make(map[domain.ParticipantID]*core.Profile),
		chats:        make(map[domain.ParticipantID]*chatCounters),
		sessions:     make(map[domain.SessionID]*sessionRecord),
		starterCoins: starterCoins,
	}
}

var _ core.CoinLedger = (*Memory)(nil)
var _ core.SessionLedger = (*Memory)(nil)
var _ core.IdentityDirectory = (*Memory)(nil)

func (m *Memory) profile(id domain.ParticipantID) *core.Profile {
	p, ok := m.profiles[id]
	if !ok {
		p = &core.Profile{ID: id, Tier: "free", Coins: m.starterCoins}
		m.profiles[id] = p
		m.chats[id] = &chatCounters{}
	}
	return p
}

func (m *Memory) Lookup(_ context.Context, id domain.ParticipantID) (core.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.profile(id), nil
}

// SetProfile overrides a profile, used by tests to simulate bans and broke
// accounts.
func (m *Memory) SetProfile(p core.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.profiles[p.ID] = &cp
	if _, ok := m.chats[p.ID]; !ok {
		m.chats[p.ID] = &chatCounters{}
	}
}

func (m *Memory) Spend(_ context.Context, id domain.ParticipantID, cost int) (core.CoinBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profile(id)
	c := m.chats[id]
	if p.Coins < cost {
		return core.CoinBalance{}, &core.InsufficientCoinsError{Participant: string(id)}
	}
	before := core.CoinBalance{Coins: p.Coins, TotalChats: c.total, DailyChats: c.daily}
	p.Coins -= cost
	c.total++
	c.daily++
	return before, nil
}

func (m *Memory) Refund(_ context.Context, id domain.ParticipantID, previous core.CoinBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profile(id)
	c := m.chats[id]
	p.Coins = previous.Coins
	c.total = previous.TotalChats
	c.daily = previous.DailyChats
	return nil
}

func (m *Memory) CreateSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = &sessionRecord{session: *s}
	return nil
}

func (m *Memory) EndSession(_ context.Context, id domain.SessionID, duration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[id]
	if !ok {
		return core.ErrNotFound
	}
	rec.ended = true
	rec.duration = duration
	return nil
}

func (m *Memory) FileReport(_ context.Context, r core.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return nil
}

// Reports returns filed reports, used by tests.
func (m *Memory) Reports() []core.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Report, len(m.reports))
	copy(out, m.reports)
	return out
}
