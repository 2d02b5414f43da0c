package health

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"causalog/internal/config"
	"causalog/internal/types"
)

// Status represents the reachability of a peer.
type Status int

const (
	Alive Status = iota
	Suspect
	Dead
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case Alive:
		return "ALIVE"
	case Suspect:
		return "SUSPECT"
	case Dead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Prober checks whether a peer answers.
type Prober interface {
	Probe(ctx context.Context, peer config.Peer) error
}

type member struct {
	peer     config.Peer
	status   Status
	lastSeen time.Time
	failures int
}

// Monitor probes every peer periodically. Its view is informational only;
// fan-out keeps retrying regardless of what the monitor believes.
type Monitor struct {
	mu      sync.RWMutex
	localID string
	members map[string]*member
	prober  Prober

	probeInterval  time.Duration
	suspectTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor over peers. Self is skipped.
func NewMonitor(localID string, peers []config.Peer, prober Prober, probeInterval, suspectTimeout time.Duration) *Monitor {
	if probeInterval <= 0 {
		probeInterval = 1 * time.Second
	}
	if suspectTimeout <= 0 {
		suspectTimeout = 3 * probeInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		localID:        localID,
		members:        make(map[string]*member),
		prober:         prober,
		probeInterval:  probeInterval,
		suspectTimeout: suspectTimeout,
		ctx:            ctx,
		cancel:         cancel,
	}

	now := time.Now()
	for _, p := range peers {
		if p.ID == localID {
			continue
		}
		// Assume alive until the first probe says otherwise.
		m.members[p.ID] = &member{peer: p, status: Alive, lastSeen: now}
	}
	return m
}

// Start launches the probe loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.probeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.probeAll()
				m.checkTimeouts(time.Now())
			}
		}
	}()
}

// Stop stops the probe loop and waits for it.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// probeAll probes every peer concurrently.
func (m *Monitor) probeAll() {
	m.mu.RLock()
	peers := make([]config.Peer, 0, len(m.members))
	for _, mem := range m.members {
		peers = append(peers, mem.peer)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p config.Peer) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(m.ctx, m.probeInterval)
			defer cancel()
			m.record(p.ID, m.prober.Probe(ctx, p), time.Now())
		}(p)
	}
	wg.Wait()
}

// record applies one probe result.
func (m *Monitor) record(id string, err error, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.members[id]
	if !ok {
		return
	}
	if err == nil {
		if mem.status != Alive {
			log.Printf("[%s] Marked %s as ALIVE", m.localID, id)
		}
		mem.status = Alive
		mem.lastSeen = now
		mem.failures = 0
		return
	}

	mem.failures++
	if mem.status == Alive {
		mem.status = Suspect
		log.Printf("[%s] Marked %s as SUSPECT (probe failed: %v)", m.localID, id, err)
	}
}

// checkTimeouts promotes long-silent suspects to dead.
func (m *Monitor) checkTimeouts(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, mem := range m.members {
		if mem.status == Suspect && now.Sub(mem.lastSeen) > m.suspectTimeout {
			mem.status = Dead
			log.Printf("[%s] Marked %s as DEAD (suspect timeout)", m.localID, id)
		}
	}
}

// Snapshot returns the view of every peer sorted by ID.
func (m *Monitor) Snapshot() []types.PeerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.PeerStatus, 0, len(m.members))
	for _, mem := range m.members {
		out = append(out, types.PeerStatus{
			ID:       mem.peer.ID,
			Addr:     mem.peer.Addr,
			Status:   mem.status.String(),
			LastSeen: mem.lastSeen,
			Failures: mem.failures,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
