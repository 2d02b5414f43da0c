package node

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"

	"causalog/internal/config"
	"causalog/internal/types"
)

// ClientManager manages gRPC connections to peer nodes.
type ClientManager struct {
	mu       sync.RWMutex
	conns    map[string]*grpc.ClientConn
	dialOpts []grpc.DialOption
}

// NewClientManager creates a new client manager. Extra options are appended
// to the insecure transport credentials.
func NewClientManager(opts ...grpc.DialOption) *ClientManager {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	return &ClientManager{
		conns:    make(map[string]*grpc.ClientConn),
		dialOpts: dialOpts,
	}
}

// GetConn returns a connection for the given address.
// Creates a new connection if one doesn't exist.
func (cm *ClientManager) GetConn(addr string) (*grpc.ClientConn, error) {
	cm.mu.RLock()
	conn, exists := cm.conns[addr]
	cm.mu.RUnlock()

	if exists {
		return conn, nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Double-check after acquiring write lock
	if conn, exists := cm.conns[addr]; exists {
		return conn, nil
	}

	conn, err := grpc.NewClient(addr, cm.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	cm.conns[addr] = conn
	return conn, nil
}

// Close closes all client connections.
func (cm *ClientManager) Close() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for _, conn := range cm.conns {
		_ = conn.Close()
	}
	cm.conns = make(map[string]*grpc.ClientConn)
}

// GRPCTransport delivers messages over the peer RPC.
type GRPCTransport struct {
	clients *ClientManager
}

// NewGRPCTransport creates a transport backed by clients.
func NewGRPCTransport(clients *ClientManager) *GRPCTransport {
	return &GRPCTransport{clients: clients}
}

// Deliver sends msg to peer's rpc address.
func (t *GRPCTransport) Deliver(ctx context.Context, peer config.Peer, msg types.Message) error {
	conn, err := t.clients.GetConn(peer.RPCAddr)
	if err != nil {
		return err
	}
	req, err := messageToProto(msg)
	if err != nil {
		return err
	}
	return conn.Invoke(ctx, deliverFullMethod, req, new(emptypb.Empty))
}

// Probe asks the peer's gRPC health service whether the peer service is up.
func (t *GRPCTransport) Probe(ctx context.Context, peer config.Peer) error {
	conn, err := t.clients.GetConn(peer.RPCAddr)
	if err != nil {
		return err
	}
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: peerServiceName})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("peer %s is %s", peer.ID, resp.GetStatus())
	}
	return nil
}
