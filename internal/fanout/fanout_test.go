package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"causalog/internal/clock"
	"causalog/internal/config"
	"causalog/internal/types"
)

var fastOpts = Options{AttemptTimeout: 200 * time.Millisecond, Backoff: 5 * time.Millisecond}

type recordingTransport struct {
	mu        sync.Mutex
	delivered map[string]int
	failFirst map[string]int
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{delivered: map[string]int{}, failFirst: map[string]int{}}
}

func (r *recordingTransport) Deliver(_ context.Context, peer config.Peer, _ types.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFirst[peer.ID] > 0 {
		r.failFirst[peer.ID]--
		return errors.New("connection refused")
	}
	r.delivered[peer.ID]++
	return nil
}

func testMessage() types.Message {
	return types.Message{ID: "m1", Sender: "a", Clock: clock.LamportSnapshot(1), Value: 7}
}

func TestBroadcast_ExcludesSelf(t *testing.T) {
	peers := []config.Peer{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	tr := newRecordingTransport()
	b := New("a", peers, tr, fastOpts)

	require.NoError(t, b.Broadcast(context.Background(), testMessage(), "a"))
	assert.Equal(t, map[string]int{"b": 1, "c": 1}, tr.delivered)
}

func TestBroadcast_RetriesUntilAcknowledged(t *testing.T) {
	peers := []config.Peer{{ID: "b"}, {ID: "c"}}
	tr := newRecordingTransport()
	tr.failFirst["b"] = 3
	b := New("a", peers, tr, fastOpts)

	require.NoError(t, b.Broadcast(context.Background(), testMessage(), "a"))
	assert.Equal(t, 1, tr.delivered["b"], "exactly one successful delivery after failures")
	assert.Equal(t, 1, tr.delivered["c"])
}

func TestBroadcast_CancelStopsRetrying(t *testing.T) {
	peers := []config.Peer{{ID: "b"}}
	tr := newRecordingTransport()
	tr.failFirst["b"] = 1 << 30
	b := New("a", peers, tr, fastOpts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Broadcast(ctx, testMessage(), "a") }()

	time.Sleep(30 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("Broadcast returned before cancel: %v", err)
	default:
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast did not return after cancel")
	}
	assert.Zero(t, tr.delivered["b"])
}

func TestBroadcast_NoPeers(t *testing.T) {
	b := New("a", nil, newRecordingTransport(), Options{})
	require.NoError(t, b.Broadcast(context.Background(), testMessage(), "a"))
	assert.Equal(t, DefaultAttemptTimeout, b.attemptTimeout)
	assert.Equal(t, DefaultBackoff, b.backoff)
}

func TestHTTPTransport_DeliverFailsThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	var got types.Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/message" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	peers := []config.Peer{{ID: "b", Addr: srv.URL}}
	b := New("a", peers, NewHTTPTransport(nil), fastOpts)

	msg := testMessage()
	require.NoError(t, b.Broadcast(context.Background(), msg, "a"))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, int64(7), got.Value)
	assert.Equal(t, int64(1), got.Clock.Time())
}

func TestHTTPTransport_AttemptTimeout(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-release:
			case <-r.Context().Done():
			}
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	peers := []config.Peer{{ID: "b", Addr: srv.URL}}
	b := New("a", peers, NewHTTPTransport(nil), Options{AttemptTimeout: 50 * time.Millisecond, Backoff: 5 * time.Millisecond})

	start := time.Now()
	require.NoError(t, b.Broadcast(context.Background(), testMessage(), "a"))
	assert.GreaterOrEqual(t, calls.Load(), int32(2), "a hung attempt must be abandoned and retried")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHTTPTransport_Probe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(nil)
	require.NoError(t, tr.Probe(context.Background(), config.Peer{ID: "b", Addr: srv.URL}))
	require.Error(t, tr.Probe(context.Background(), config.Peer{ID: "c", Addr: "127.0.0.1:1"}))
}
