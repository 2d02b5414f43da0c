package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"causalog/internal/config"
	"causalog/internal/eventlog"
	"causalog/internal/types"
)

// DefaultBackoff is the pause before retrying when a node gives no
// Retry-After hint or cannot be reached.
const DefaultBackoff = 100 * time.Millisecond

// ErrNoPeers is returned by New for an empty node list.
var ErrNoPeers = errors.New("no nodes given")

// Options tune a Client.
type Options struct {
	// HTTPClient defaults to a client with a 5s timeout.
	HTTPClient *http.Client
	// Backoff defaults to DefaultBackoff.
	Backoff time.Duration
	// MaxAttempts bounds Append; zero retries until the context ends.
	MaxAttempts int
}

// Client talks to the client-facing HTTP API of a cluster. It is safe for
// concurrent use.
type Client struct {
	peers       []config.Peer
	http        *http.Client
	backoff     time.Duration
	maxAttempts int
	pick        func(n int) int
}

// New creates a client for the given nodes.
func New(peers []config.Peer, opts Options) (*Client, error) {
	if len(peers) == 0 {
		return nil, ErrNoPeers
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	return &Client{
		peers:       append([]config.Peer(nil), peers...),
		http:        opts.HTTPClient,
		backoff:     opts.Backoff,
		maxAttempts: opts.MaxAttempts,
		pick:        rand.Intn,
	}, nil
}

// AppendResult describes an accepted append.
type AppendResult struct {
	Node     string
	Event    eventlog.Event
	Attempts int
}

// StatusError is a non-retryable reply from a node.
type StatusError struct {
	Node    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("node %s: status %d", e.Node, e.Code)
	}
	return fmt.Sprintf("node %s: status %d: %s", e.Node, e.Code, e.Message)
}

// Append posts value to a randomly chosen node. A busy node (503) or a
// transport failure is retried on another random pick after the node's
// Retry-After delay, or the client backoff when there is none. Any other
// non-200 reply is returned as a *StatusError.
func (c *Client) Append(ctx context.Context, value int64) (AppendResult, error) {
	body, err := json.Marshal(types.AppendRequest{Value: value})
	if err != nil {
		return AppendResult{}, fmt.Errorf("failed to encode request: %w", err)
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		peer := c.peers[c.pick(len(c.peers))]
		ev, wait, err := c.appendOnce(ctx, peer, body)
		if err == nil {
			return AppendResult{Node: peer.ID, Event: ev, Attempts: attempt}, nil
		}
		var se *StatusError
		if errors.As(err, &se) {
			return AppendResult{}, err
		}
		lastErr = err

		if c.maxAttempts > 0 && attempt >= c.maxAttempts {
			return AppendResult{}, fmt.Errorf("append %d: gave up after %d attempts: %w", value, attempt, lastErr)
		}
		log.Printf("Append %d to %s not accepted, retrying in %v: %v", value, peer.ID, wait, err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return AppendResult{}, errors.Join(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
}

// errBusy marks a 503 reply so Append retries it.
var errBusy = errors.New("node busy")

// appendOnce returns the recorded event, or the delay to wait before the
// next attempt together with a retryable error.
func (c *Client) appendOnce(ctx context.Context, peer config.Peer, body []byte) (eventlog.Event, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peer.URL()+"/append", bytes.NewReader(body))
	if err != nil {
		return eventlog.Event{}, 0, &StatusError{Node: peer.ID, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eventlog.Event{}, c.backoff, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var ev eventlog.Event
		if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
			return eventlog.Event{}, c.backoff, fmt.Errorf("node %s: failed to decode event: %w", peer.ID, err)
		}
		return ev, 0, nil
	case http.StatusServiceUnavailable:
		_, _ = io.Copy(io.Discard, resp.Body)
		return eventlog.Event{}, retryAfter(resp.Header.Get("Retry-After"), c.backoff), fmt.Errorf("node %s: %w", peer.ID, errBusy)
	default:
		return eventlog.Event{}, 0, &StatusError{Node: peer.ID, Code: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP
// date, falling back to def.
func retryAfter(h string, def time.Duration) time.Duration {
	if h == "" {
		return def
	}
	if secs, err := strconv.Atoi(h); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
		return 0
	}
	return def
}

func errorMessage(r io.Reader) string {
	var er types.ErrorResponse
	if err := json.NewDecoder(r).Decode(&er); err != nil {
		return ""
	}
	return er.Error
}

// Report is the outcome of Check.
type Report struct {
	// Logs holds each reachable node's log in causal presentation order.
	Logs map[string][]eventlog.Event
	// Diverged lists nodes whose log differs from the first reachable node.
	Diverged []string
	// Unreachable maps nodes that could not be read to the failure.
	Unreachable map[string]error
}

// Agree reports whether every node was read and all logs are identical.
func (r Report) Agree() bool {
	return len(r.Diverged) == 0 && len(r.Unreachable) == 0
}

// Check reads GET /append?order=causal from every node and compares the
// logs event by event: value, origin node and clock must all match.
func (c *Client) Check(ctx context.Context) (Report, error) {
	report := Report{
		Logs:        make(map[string][]eventlog.Event, len(c.peers)),
		Unreachable: make(map[string]error),
	}

	var (
		ref   []eventlog.Event
		refID string
	)
	for _, peer := range c.peers {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		events, err := c.causalLog(ctx, peer)
		if err != nil {
			report.Unreachable[peer.ID] = err
			continue
		}
		report.Logs[peer.ID] = events
		if refID == "" {
			ref, refID = events, peer.ID
			continue
		}
		if !sameLog(ref, events) {
			report.Diverged = append(report.Diverged, peer.ID)
		}
	}
	return report, nil
}

func (c *Client) causalLog(ctx context.Context, peer config.Peer) ([]eventlog.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, peer.URL()+"/append?order=causal", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Node: peer.ID, Code: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	var events []eventlog.Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("node %s: failed to decode log: %w", peer.ID, err)
	}
	return events, nil
}

func sameLog(a, b []eventlog.Event) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Value != b[i].Value || a[i].Node != b[i].Node || !a[i].Clock.Equal(b[i].Clock) {
			return false
		}
	}
	return true
}
