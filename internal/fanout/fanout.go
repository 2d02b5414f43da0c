package fanout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"causalog/internal/config"
	"causalog/internal/types"
)

const (
	// DefaultAttemptTimeout bounds a single delivery attempt.
	DefaultAttemptTimeout = time.Second
	// DefaultBackoff is the fixed pause between attempts to the same peer.
	DefaultBackoff = 100 * time.Millisecond
)

// Transport delivers one message to one peer. A nil error means the peer
// acknowledged the message.
type Transport interface {
	Deliver(ctx context.Context, peer config.Peer, msg types.Message) error
}

// Options tune the retry loop.
type Options struct {
	AttemptTimeout time.Duration
	Backoff        time.Duration
}

// Broadcaster sends stamped messages to every other member of the cluster.
type Broadcaster struct {
	nodeID         string
	peers          []config.Peer
	transport      Transport
	attemptTimeout time.Duration
	backoff        time.Duration
}

// New creates a broadcaster for nodeID over the static peer list.
func New(nodeID string, peers []config.Peer, transport Transport, opts Options) *Broadcaster {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	return &Broadcaster{
		nodeID:         nodeID,
		peers:          append([]config.Peer(nil), peers...),
		transport:      transport,
		attemptTimeout: opts.AttemptTimeout,
		backoff:        opts.Backoff,
	}
}

// Broadcast delivers msg to every peer except excluding and blocks until all
// of them acknowledged. Failed attempts are retried without limit; only
// cancellation of ctx ends the call early, returning the context error.
func (b *Broadcaster) Broadcast(ctx context.Context, msg types.Message, excluding string) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, peer := range b.peers {
		if peer.ID == excluding {
			continue
		}
		wg.Add(1)
		go func(p config.Peer) {
			defer wg.Done()
			if err := b.deliver(ctx, p, msg); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("peer %s: %w", p.ID, err))
				mu.Unlock()
			}
		}(peer)
	}

	wg.Wait()
	return errors.Join(errs...)
}

// deliver retries until peer acknowledges or ctx is done.
func (b *Broadcaster) deliver(ctx context.Context, peer config.Peer, msg types.Message) error {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, b.attemptTimeout)
		err := b.transport.Deliver(attemptCtx, peer, msg)
		cancel()
		if err == nil {
			if attempt > 1 {
				log.Printf("[%s] Delivered to %s after %d attempts", b.nodeID, peer.ID, attempt)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Printf("[%s] Delivery to %s failed (attempt %d), retrying in %s: %v",
			b.nodeID, peer.ID, attempt, b.backoff, err)

		timer.Reset(b.backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}
