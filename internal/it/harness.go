package it

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"causalog/internal/config"
	"causalog/internal/eventlog"
	"causalog/internal/node"
	"causalog/internal/types"
)

// Options configure a test cluster.
type Options struct {
	Clock     string
	Transport string
}

// Cluster represents an in-process test cluster of nodes
type Cluster struct {
	mu     sync.Mutex
	nodes  []*Node
	client *http.Client
}

// Node represents a single node in the test cluster
type Node struct {
	ID      string
	Addr    string
	RPCAddr string
	node    *node.Node
	stopped bool
	client  *http.Client
}

// NewCluster creates a new test cluster harness
func NewCluster() *Cluster {
	return &Cluster{client: &http.Client{Timeout: 5 * time.Second}}
}

// StartCluster starts size nodes named n1..nN that all know each other.
func (c *Cluster) StartCluster(ctx context.Context, size int, opts Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if opts.Clock == "" {
		opts.Clock = "vector"
	}
	if opts.Transport == "" {
		opts.Transport = config.TransportHTTP
	}

	// Reserve every address first so each node can be given the full peer list.
	httpLis := make([]net.Listener, size)
	rpcLis := make([]net.Listener, size)
	peers := make([]config.Peer, size)
	for i := 0; i < size; i++ {
		var err error
		if httpLis[i], err = net.Listen("tcp", "127.0.0.1:0"); err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		if rpcLis[i], err = net.Listen("tcp", "127.0.0.1:0"); err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		peers[i] = config.Peer{
			ID:      fmt.Sprintf("n%d", i+1),
			Addr:    httpLis[i].Addr().String(),
			RPCAddr: rpcLis[i].Addr().String(),
		}
	}

	for i := 0; i < size; i++ {
		cfg := config.Default()
		cfg.NodeID = peers[i].ID
		cfg.ListenAddr = peers[i].Addr
		cfg.RPCListenAddr = peers[i].RPCAddr
		cfg.Peers = peers
		cfg.Clock = opts.Clock
		cfg.Transport = opts.Transport
		cfg.RetryBackoff = 20 * time.Millisecond
		cfg.AttemptTimeout = 500 * time.Millisecond
		cfg.ProbeInterval = 200 * time.Millisecond

		n, err := node.NewNode(cfg)
		if err != nil {
			return fmt.Errorf("failed to create node %s: %w", cfg.NodeID, err)
		}
		n.Serve(httpLis[i], rpcLis[i])

		tn := &Node{ID: cfg.NodeID, Addr: n.Addr(), RPCAddr: n.RPCAddr(), node: n, client: c.client}
		c.nodes = append(c.nodes, tn)

		if err := waitForReady(ctx, tn, 5*time.Second); err != nil {
			return fmt.Errorf("node %s failed to become ready: %w", cfg.NodeID, err)
		}
	}
	return nil
}

// waitForReady waits for a node to be ready by checking health endpoint
func waitForReady(ctx context.Context, n *Node, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("timeout waiting for node %s to be ready", n.ID)
			}
			resp, err := n.client.Get("http://" + n.Addr + "/healthz")
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

// Stop stops all nodes in the cluster
func (c *Cluster) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		n.stop()
	}
	c.nodes = nil
}

func (n *Node) stop() {
	if n.stopped {
		return
	}
	n.stopped = true
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = n.node.Stop(ctx)
}

// GetNode returns a node by ID
func (c *Cluster) GetNode(nodeID string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		if n.ID == nodeID {
			return n
		}
	}
	return nil
}

// Peers returns every node of the cluster, stopped ones included.
func (c *Cluster) Peers() []config.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()

	peers := make([]config.Peer, 0, len(c.nodes))
	for _, n := range c.nodes {
		peers = append(peers, config.Peer{ID: n.ID, Addr: n.Addr, RPCAddr: n.RPCAddr})
	}
	return peers
}

// PeersFlag renders Peers in the id=addr@rpcaddr list format.
func (c *Cluster) PeersFlag() string {
	peers := c.Peers()
	parts := make([]string, len(peers))
	for i, p := range peers {
		parts[i] = p.ID + "=" + p.Addr + "@" + p.RPCAddr
	}
	return strings.Join(parts, ",")
}

// KillNode stops a specific node; its peers keep retrying deliveries to it.
func (c *Cluster) KillNode(nodeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		if n.ID == nodeID {
			n.stop()
			return nil
		}
	}
	return fmt.Errorf("node %s not found", nodeID)
}

// WaitQuiescent waits until no live node has a fan-out in flight.
func (c *Cluster) WaitQuiescent(ctx context.Context) error {
	c.mu.Lock()
	live := make([]*Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		if !n.stopped {
			live = append(live, n)
		}
	}
	c.mu.Unlock()

	for _, n := range live {
		if err := n.node.Dispatcher().WaitFanout(ctx); err != nil {
			return fmt.Errorf("node %s: %w", n.ID, err)
		}
	}
	return nil
}

// Append posts a raw body to /append and returns the status and decoded event.
func (n *Node) Append(body string) (int, eventlog.Event, error) {
	resp, err := n.client.Post("http://"+n.Addr+"/append", "application/json", bytes.NewBufferString(body))
	if err != nil {
		return 0, eventlog.Event{}, err
	}
	defer resp.Body.Close()

	var ev eventlog.Event
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
			return resp.StatusCode, ev, err
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, ev, nil
}

// Events returns the node's event log; order is "" or "causal".
func (n *Node) Events(order string) ([]eventlog.Event, error) {
	url := "http://" + n.Addr + "/append"
	if order != "" {
		url += "?order=" + order
	}
	var events []eventlog.Event
	if err := n.getJSON(url, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Clock returns the node's /clock view.
func (n *Node) Clock() (types.ClockStatus, error) {
	var st types.ClockStatus
	err := n.getJSON("http://"+n.Addr+"/clock", &st)
	return st, err
}

// Peers returns the node's /peers view.
func (n *Node) Peers() ([]types.PeerStatus, error) {
	var peers []types.PeerStatus
	if err := n.getJSON("http://"+n.Addr+"/peers", &peers); err != nil {
		return nil, err
	}
	return peers, nil
}

func (n *Node) getJSON(url string, out any) error {
	resp, err := n.client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
