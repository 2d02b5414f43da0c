package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"causalog/internal/clock"
)

// Peer transports.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// Peer represents a member of the static cluster.
type Peer struct {
	ID      string `yaml:"id"`
	Addr    string `yaml:"addr"`
	RPCAddr string `yaml:"rpc_addr,omitempty"`
}

// URL returns the peer's HTTP base URL. Addr may be "host:port", ":port" or
// a full URL.
func (p Peer) URL() string {
	addr := p.Addr
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}

// Config holds the node configuration.
type Config struct {
	NodeID        string `yaml:"node_id"`
	ListenAddr    string `yaml:"listen"`
	RPCListenAddr string `yaml:"rpc_listen"`
	Peers         []Peer `yaml:"peers"`
	Clock         string `yaml:"clock"`
	Transport     string `yaml:"transport"`

	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		ListenAddr:     ":8888",
		Clock:          clock.KindVector.String(),
		Transport:      TransportHTTP,
		RetryBackoff:   100 * time.Millisecond,
		AttemptTimeout: time.Second,
		ProbeInterval:  time.Second,
	}
}

// Load reads a YAML file on top of Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ParsePeers parses a comma-separated list of peers in the format:
// "id1=addr1,id2=addr2@rpcaddr2,id3=addr3"
// The optional "@rpcaddr" suffix gives the peer's gRPC address.
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer format: %s (expected id=addr[@rpcaddr])", part)
		}

		id := strings.TrimSpace(kv[0])
		addr, rpcAddr, _ := strings.Cut(kv[1], "@")
		addr = strings.TrimSpace(addr)
		rpcAddr = strings.TrimSpace(rpcAddr)

		if id == "" || addr == "" {
			return nil, fmt.Errorf("peer ID and address cannot be empty: %s", part)
		}

		peers = append(peers, Peer{
			ID:      id,
			Addr:    addr,
			RPCAddr: rpcAddr,
		})
	}

	return peers, nil
}

// ClockKind returns the parsed clock variant.
func (c *Config) ClockKind() (clock.Kind, error) {
	return clock.ParseKind(c.Clock)
}

// Members returns every node ID in the cluster, self included, sorted.
func (c *Config) Members() []string {
	seen := map[string]bool{c.NodeID: true}
	ids := []string{c.NodeID}
	for _, p := range c.Peers {
		if !seen[p.ID] {
			seen[p.ID] = true
			ids = append(ids, p.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// OtherPeers returns the configured peers without self.
func (c *Config) OtherPeers() []Peer {
	peers := make([]Peer, 0, len(c.Peers))
	for _, p := range c.Peers {
		if p.ID != c.NodeID {
			peers = append(peers, p)
		}
	}
	return peers
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node id is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if _, err := c.ClockKind(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Peers))
	for _, p := range c.Peers {
		if p.ID == "" || p.Addr == "" {
			return fmt.Errorf("peer ID and address cannot be empty: %+v", p)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate peer %s", p.ID)
		}
		seen[p.ID] = true
	}

	switch c.Transport {
	case TransportHTTP:
	case TransportGRPC:
		if c.RPCListenAddr == "" {
			return fmt.Errorf("grpc transport requires rpc_listen")
		}
		for _, p := range c.OtherPeers() {
			if p.RPCAddr == "" {
				return fmt.Errorf("grpc transport requires rpc_addr for peer %s", p.ID)
			}
		}
	default:
		return fmt.Errorf("unknown transport %q (expected %s or %s)", c.Transport, TransportHTTP, TransportGRPC)
	}

	if c.RetryBackoff <= 0 || c.AttemptTimeout <= 0 || c.ProbeInterval <= 0 {
		return fmt.Errorf("retry_backoff, attempt_timeout and probe_interval must be positive")
	}
	return nil
}
