package eventlog

import (
	"sort"
	"sync"

	"causalog/internal/clock"
)

// Event is one appended value with the clock it was stamped with and the
// node that originated it.
type Event struct {
	Value int64          `json:"value"`
	Clock clock.Snapshot `json:"clock"`
	Node  string         `json:"node"`
}

// Log is an append-only, in-memory record of events in local processing
// order. It is thread-safe.
type Log struct {
	mu     sync.RWMutex
	events []Event
}

// New creates an empty log.
func New() *Log {
	return &Log{}
}

// Append records an event. Duplicate values are allowed.
func (l *Log) Append(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

// Len returns the number of recorded events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// All returns a copy of every event in local append order.
func (l *Log) All() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	// Snapshots are immutable, so copying the slice is enough.
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Sorted returns every event in presentation order.
//
// Events are ordered by clock weight (the Lamport time, or the sum of the
// vector entries), then by origin node ID, then by local append order. An
// event that happens-before another always has a strictly smaller weight, so
// causally related events keep their causal order. For concurrent events
// this is not a true causal order, only a deterministic total order for
// presentation.
func (l *Log) Sorted() []Event {
	out := l.All()
	Sort(out)
	return out
}

// Sort orders events in place using the presentation order of Sorted.
func Sort(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if c := events[i].Clock.Weight().Cmp(events[j].Clock.Weight()); c != 0 {
			return c < 0
		}
		return events[i].Node < events[j].Node
	})
}
