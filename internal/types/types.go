package types

import (
	"time"

	"causalog/internal/clock"
)

// Message is the peer-to-peer wire form of an appended value.
type Message struct {
	ID     string         `json:"id,omitempty"`
	Sender string         `json:"sender"`
	Clock  clock.Snapshot `json:"clock"`
	Value  int64          `json:"value"`
}

// AppendRequest is the client body of POST /append.
type AppendRequest struct {
	Value int64 `json:"value"`
}

// ClockStatus describes a node's current logical time.
type ClockStatus struct {
	Node    string         `json:"node"`
	Kind    string         `json:"kind"`
	Clock   clock.Snapshot `json:"clock"`
	Pending bool           `json:"pending"`
	Inbox   int            `json:"inbox"`
	Events  int            `json:"events"`
}

// PeerStatus is the health monitor's view of one peer.
type PeerStatus struct {
	ID       string    `json:"id"`
	Addr     string    `json:"addr"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
	Failures int       `json:"failures"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
