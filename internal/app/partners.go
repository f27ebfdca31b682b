package app

import (
	"sync"
	"time"

	"github.com/mkorchagin/pairchat/internal/domain"
)

type partnerRecord struct {
	partner domain.ParticipantID
	seenAt  time.Time
}

// PartnerHistory remembers who was recently paired with whom so the matcher
// can bias away from immediate rematches. Entries expire after a TTL and each
// participant keeps at most a handful; expired entries are inert.
type PartnerHistory struct {
	mu     sync.Mutex
	byUser map[domain.ParticipantID][]partnerRecord
	keep   int
	ttl    time.Duration
	now    func() time.Time
}

func NewPartnerHistory(keep int, ttl time.Duration) *PartnerHistory {
	return &PartnerHistory{
		byUser: make(map[domain.ParticipantID][]partnerRecord),
		keep:   keep,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Record notes that a was just paired with b. Call once per direction.
func (h *PartnerHistory) Record(a, b domain.ParticipantID) {
	now := h.now()
	h.mu.Lock()
	defer h.mu.Unlock()
	fresh := h.fresh(h.byUser[a], now)
	fresh = append(fresh, partnerRecord{partner: b, seenAt: now})
	if len(fresh) > h.keep {
		fresh = fresh[len(fresh)-h.keep:]
	}
	h.byUser[a] = fresh
}

// RecentlyMatched checks both directions: either side remembering the other
// counts.
func (h *PartnerHistory) RecentlyMatched(a, b domain.ParticipantID) bool {
	now := h.now()
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.remembers(a, b, now) || h.remembers(b, a, now)
}

func (h *PartnerHistory) remembers(who, whom domain.ParticipantID, now time.Time) bool {
	for _, rec := range h.byUser[who] {
		if rec.partner == whom && now.Sub(rec.seenAt) < h.ttl {
			return true
		}
	}
	return false
}

func (h *PartnerHistory) fresh(recs []partnerRecord, now time.Time) []partnerRecord {
	out := recs[:0]
	for _, rec := range recs {
		if now.Sub(rec.seenAt) < h.ttl {
			out = append(out, rec)
		}
	}
	return out
}

// Sweep drops fully-expired histories so the map does not grow unbounded.
func (h *PartnerHistory) Sweep() {
	now := h.now()
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, recs := range h.byUser {
		fresh := h.fresh(recs, now)
		if len(fresh) == 0 {
			delete(h.byUser, id)
			continue
		}
		h.byUser[id] = fresh
	}
}
