package node

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"causalog/internal/clock"
	"causalog/internal/eventlog"
	"causalog/internal/inbox"
	"causalog/internal/types"
)

// Broadcaster delivers a stamped message to every peer except excluding.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg types.Message, excluding string) error
}

// flight tracks one outstanding fan-out; done is closed when it finishes.
type flight struct {
	done chan struct{}
}

func (f *flight) finished() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Dispatcher owns one node's clock, event log and inbox.
type Dispatcher struct {
	nodeID  string
	kind    clock.Kind
	members map[string]bool
	fanout  Broadcaster
	inbox   *inbox.Queue

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards the clock, the log writes, the in-flight handle and closed.
	mu       sync.Mutex
	clock    clock.Logical
	log      *eventlog.Log
	inflight *flight
	closed   bool

	seenMu sync.Mutex
	seen   map[string]struct{}
}

// NewDispatcher creates a dispatcher for nodeID. members is the full static
// membership, self included.
func NewDispatcher(nodeID string, kind clock.Kind, members []string, fanout Broadcaster) (*Dispatcher, error) {
	lc, err := clock.New(kind, nodeID, members)
	if err != nil {
		return nil, err
	}

	set := make(map[string]bool, len(members)+1)
	set[nodeID] = true
	for _, m := range members {
		set[m] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		nodeID:  nodeID,
		kind:    kind,
		members: set,
		fanout:  fanout,
		inbox:   inbox.New(),
		ctx:     ctx,
		cancel:  cancel,
		clock:   lc,
		log:     eventlog.New(),
		seen:    make(map[string]struct{}),
	}, nil
}

// Append records value as a new local event and starts broadcasting it.
// It returns types.ErrBusy without touching any state while the previous
// broadcast is still outstanding.
func (d *Dispatcher) Append(value int64) (eventlog.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return eventlog.Event{}, types.ErrClosed
	}
	if d.inflight != nil && !d.inflight.finished() {
		return eventlog.Event{}, types.ErrBusy
	}

	d.drainLocked()
	d.clock.IncrementLocal()
	ev := eventlog.Event{Value: value, Clock: d.clock.Snapshot(), Node: d.nodeID}
	d.log.Append(ev)

	msg := types.Message{
		ID:     uuid.NewString(),
		Sender: d.nodeID,
		Clock:  ev.Clock,
		Value:  value,
	}
	f := &flight{done: make(chan struct{})}
	d.inflight = f
	go d.broadcast(f, msg)

	log.Printf("[%s] Append: value=%d clock=%s", d.nodeID, value, ev.Clock)
	return ev, nil
}

func (d *Dispatcher) broadcast(f *flight, msg types.Message) {
	defer close(f.done)
	if err := d.fanout.Broadcast(d.ctx, msg, d.nodeID); err != nil {
		log.Printf("[%s] Fan-out of %s abandoned: %v", d.nodeID, msg.ID, err)
		return
	}
	log.Printf("[%s] Fan-out of %s complete", d.nodeID, msg.ID)
}

// Message validates a peer message and queues it for the next drain. A
// message whose ID was already accepted is acknowledged and dropped.
func (d *Dispatcher) Message(msg types.Message) error {
	if err := d.validate(msg); err != nil {
		return err
	}

	if msg.ID != "" {
		d.seenMu.Lock()
		if _, dup := d.seen[msg.ID]; dup {
			d.seenMu.Unlock()
			log.Printf("[%s] Duplicate message %s from %s dropped", d.nodeID, msg.ID, msg.Sender)
			return nil
		}
		d.seen[msg.ID] = struct{}{}
		d.seenMu.Unlock()
	}

	d.inbox.Enqueue(msg)
	return nil
}

func (d *Dispatcher) validate(msg types.Message) error {
	if msg.Sender == d.nodeID {
		return fmt.Errorf("%w: message claims to come from self (%s)", types.ErrUnknownNode, msg.Sender)
	}
	if !d.members[msg.Sender] {
		return fmt.Errorf("%w: sender %s", types.ErrUnknownNode, msg.Sender)
	}
	if msg.Clock.Kind() != d.kind {
		return fmt.Errorf("%w: message carries %s clock, node runs %s", clock.ErrKindMismatch, msg.Clock.Kind(), d.kind)
	}
	if d.kind == clock.KindVector {
		for id := range msg.Clock.Vector() {
			if !d.members[id] {
				return fmt.Errorf("%w: clock entry %s", types.ErrUnknownNode, id)
			}
		}
	}
	return nil
}

// drainLocked merges every queued message into the clock and records it.
// Must be called with mu held.
func (d *Dispatcher) drainLocked() {
	for _, msg := range d.inbox.DrainAll() {
		if err := d.clock.Merge(msg.Clock, msg.Sender); err != nil {
			log.Printf("[%s] Dropping message %s from %s: %v", d.nodeID, msg.ID, msg.Sender, err)
			continue
		}
		d.log.Append(eventlog.Event{Value: msg.Value, Clock: msg.Clock, Node: msg.Sender})
	}
}

// Read drains the inbox and returns every event in local append order.
func (d *Dispatcher) Read() []eventlog.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drainLocked()
	return d.log.All()
}

// ReadSorted drains the inbox and returns every event in presentation order.
func (d *Dispatcher) ReadSorted() []eventlog.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drainLocked()
	return d.log.Sorted()
}

// Clock returns the current clock snapshot without draining.
func (d *Dispatcher) Clock() clock.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clock.Snapshot()
}

// Pending reports whether a broadcast is outstanding.
func (d *Dispatcher) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inflight != nil && !d.inflight.finished()
}

// Status summarises the node's logical state.
func (d *Dispatcher) Status() types.ClockStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return types.ClockStatus{
		Node:    d.nodeID,
		Kind:    d.kind.String(),
		Clock:   d.clock.Snapshot(),
		Pending: d.inflight != nil && !d.inflight.finished(),
		Inbox:   d.inbox.Len(),
		Events:  d.log.Len(),
	}
}

// WaitFanout blocks until the outstanding broadcast, if any, finishes or
// ctx is done.
func (d *Dispatcher) WaitFanout(ctx context.Context) error {
	d.mu.Lock()
	f := d.inflight
	d.mu.Unlock()
	if f == nil {
		return nil
	}
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects further appends, cancels the outstanding broadcast and
// waits for it to stop.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	f := d.inflight
	d.mu.Unlock()

	d.cancel()
	if f != nil {
		<-f.done
	}
}
