package app

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mkorchagin/pairchat/internal/domain"
)

// QueueEntry exists only while its participant is unmatched.
type QueueEntry struct {
	Participant domain.ParticipantID
	Endpoint    domain.EndpointID
	JoinedAt    time.Time
}

// maximum pairing samples kept for the stats percentiles
const maxPairSamples = 1000

// Matcher is the in-process FIFO pairing engine for text mode. Insertion
// order is preserved; the head is matched first-fit against the rest of the
// queue, skipping recently paired candidates. Passes are serialized by a
// reentrancy guard because a pass reschedules itself to drain backlog.
type Matcher struct {
	mu       sync.Mutex
	entries  []QueueEntry
	matching bool

	partners *PartnerHistory
	rooms    *RoomStore

	matchDelay time.Duration
	drainDelay time.Duration
	now        func() time.Time
	schedule   func(d time.Duration, fn func())

	// OnMatched is invoked after a room is formed, outside the queue lock.
	OnMatched func(room *domain.Room, a, b QueueEntry)

	pairWaits []time.Duration
	requeues  int
}

func NewMatcher(partners *PartnerHistory, rooms *RoomStore, matchDelay, drainDelay time.Duration) *Matcher {
	return &Matcher{
		partners:   partners,
		rooms:      rooms,
		matchDelay: matchDelay,
		drainDelay: drainDelay,
		now:        time.Now,
		schedule:   func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
}

// Join enqueues a participant. If they are already queued only the endpoint
// is replaced, never duplicated. A matching pass is scheduled after a short
// delay so near-simultaneous joiners batch into one pass.
func (m *Matcher) Join(e QueueEntry) (position int, estimate time.Duration) {
	m.mu.Lock()
	for i := range m.entries {
		if m.entries[i].Participant == e.Participant {
			m.entries[i].Endpoint = e.Endpoint
			position = i + 1
			m.mu.Unlock()
			log.Info().Str("module", "app.queue").Str("participant", string(e.Participant)).Int("position", position).Msg("already queued, endpoint replaced")
			return position, estimateWait(position)
		}
	}
	m.entries = append(m.entries, e)
	position = len(m.entries)
	m.mu.Unlock()

	log.Info().Str("module", "app.queue").Str("participant", string(e.Participant)).Int("position", position).Msg("joined queue")
	m.schedule(m.matchDelay, m.TryMatch)
	return position, estimateWait(position)
}

// Leave removes a queued entry if present. Idempotent no-op otherwise.
func (m *Matcher) Leave(p domain.ParticipantID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].Participant == p {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			log.Info().Str("module", "app.queue").Str("participant", string(p)).Int("queue_size", len(m.entries)).Msg("left queue")
			return true
		}
	}
	return false
}

// Requeue puts a participant back after a partner disconnect.
func (m *Matcher) Requeue(e QueueEntry) (int, time.Duration) {
	m.mu.Lock()
	m.requeues++
	m.mu.Unlock()
	return m.Join(e)
}

// InQueue reports queue membership.
func (m *Matcher) InQueue(p domain.ParticipantID) bool {
	return m.Position(p) > 0
}

// Position returns the 1-based queue position, or 0 when not queued.
func (m *Matcher) Position(p domain.ParticipantID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].Participant == p {
			return i + 1
		}
	}
	return 0
}

func (m *Matcher) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// TryMatch runs one matching pass:
//
//  1. fewer than two entries: exit
//  2. pop the head (oldest)
//  3. first-fit scan for a candidate not recently paired with the head
//  4. found: form a room with it
//  5. not found: force-pair when at most one other is waiting (fairness over
//     novelty), otherwise rotate the head to the tail
//  6. after a pairing, reschedule shortly if backlog remains
//
// The guard must be released no matter how the pass exits, or all future
// matching stalls.
func (m *Matcher) TryMatch() {
	m.mu.Lock()
	if m.matching || len(m.entries) < 2 {
		m.mu.Unlock()
		return
	}
	m.matching = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.matching = false
		m.mu.Unlock()
	}()

	a, b, ok := m.selectPair()
	if !ok {
		return
	}
	m.createMatch(a, b)

	if m.Len() >= 2 {
		m.schedule(m.drainDelay, m.TryMatch)
	}
}

// selectPair mutates the queue under lock and returns the two entries to
// pair, if a pairing should happen this pass.
func (m *Matcher) selectPair() (a, b QueueEntry, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) < 2 {
		return QueueEntry{}, QueueEntry{}, false
	}
	head := m.entries[0]
	m.entries = m.entries[1:]

	for i := range m.entries {
		if !m.partners.RecentlyMatched(head.Participant, m.entries[i].Participant) {
			candidate := m.entries[i]
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return head, candidate, true
		}
	}

	// No fresh candidate. With at most one other participant waiting, pair
	// them anyway rather than starve both.
	if len(m.entries) == 1 {
		candidate := m.entries[0]
		m.entries = m.entries[:0]
		log.Info().Str("module", "app.queue").Str("participant", string(head.Participant)).Msg("no fresh partner, force pairing")
		return head, candidate, true
	}

	m.entries = append(m.entries, head)
	log.Info().Str("module", "app.queue").Str("participant", string(head.Participant)).Msg("no fresh partner, rotated to tail")
	return QueueEntry{}, QueueEntry{}, false
}

func (m *Matcher) createMatch(a, b QueueEntry) {
	room := m.rooms.Create(
		domain.RoomMember{Participant: a.Participant, Endpoint: a.Endpoint},
		domain.RoomMember{Participant: b.Participant, Endpoint: b.Endpoint},
	)
	m.partners.Record(a.Participant, b.Participant)
	m.partners.Record(b.Participant, a.Participant)

	now := m.now()
	m.mu.Lock()
	m.pairWaits = append(m.pairWaits, now.Sub(a.JoinedAt), now.Sub(b.JoinedAt))
	if len(m.pairWaits) > maxPairSamples {
		m.pairWaits = m.pairWaits[len(m.pairWaits)-maxPairSamples:]
	}
	m.mu.Unlock()

	log.Info().Str("module", "app.queue").Str("room", string(room.ID)).Str("user1", string(a.Participant)).Str("user2", string(b.Participant)).Msg("matched")
	if m.OnMatched != nil {
		m.OnMatched(room, a, b)
	}
}

// QueueStats is the monitoring snapshot exposed over /api/stats.
type QueueStats struct {
	QueueSize     int           `json:"queueSize"`
	ActiveRooms   int           `json:"activeRooms"`
	MedianPairing time.Duration `json:"medianPairingMs"`
	P95Pairing    time.Duration `json:"p95PairingMs"`
	Requeues      int           `json:"requeues"`
}

func (m *Matcher) Stats() QueueStats {
	m.mu.Lock()
	waits := make([]time.Duration, len(m.pairWaits))
	copy(waits, m.pairWaits)
	st := QueueStats{
		QueueSize: len(m.entries),
		Requeues:  m.requeues,
	}
	m.mu.Unlock()

	st.ActiveRooms = m.rooms.ActiveCount()
	if len(waits) > 0 {
		sort.Slice(waits, func(i, j int) bool { return waits[i] < waits[j] })
		st.MedianPairing = waits[len(waits)/2]
		st.P95Pairing = waits[len(waits)*95/100]
	}
	return st
}

// estimateWait assumes a pair forms roughly every two seconds.
func estimateWait(position int) time.Duration {
	if position <= 1 {
		return time.Second
	}
	return time.Duration(position/2) * 2 * time.Second
}
