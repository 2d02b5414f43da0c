package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"causalog/internal/config"
	"causalog/internal/fanout"
	"causalog/internal/health"
	"causalog/internal/httpapi"
)

// peerTransport both delivers messages and answers health probes.
type peerTransport interface {
	fanout.Transport
	health.Prober
}

// Node represents a single member of the cluster.
type Node struct {
	nodeID     string
	cfg        *config.Config
	dispatcher *Dispatcher
	monitor    *health.Monitor
	clientMgr  *ClientManager

	httpServer   *http.Server
	grpcServer   *grpc.Server
	healthServer *grpchealth.Server

	httpLis net.Listener
	rpcLis  net.Listener
}

// NewNode creates a node from a validated configuration. dialOpts are
// passed to every outgoing gRPC connection.
func NewNode(cfg *config.Config, dialOpts ...grpc.DialOption) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	kind, err := cfg.ClockKind()
	if err != nil {
		return nil, err
	}

	clientMgr := NewClientManager(dialOpts...)
	var transport peerTransport
	switch cfg.Transport {
	case config.TransportGRPC:
		transport = NewGRPCTransport(clientMgr)
	default:
		transport = fanout.NewHTTPTransport(nil)
	}

	peers := cfg.OtherPeers()
	bcast := fanout.New(cfg.NodeID, peers, transport, fanout.Options{
		AttemptTimeout: cfg.AttemptTimeout,
		Backoff:        cfg.RetryBackoff,
	})
	dispatcher, err := NewDispatcher(cfg.NodeID, kind, cfg.Members(), bcast)
	if err != nil {
		return nil, err
	}
	monitor := health.NewMonitor(cfg.NodeID, peers, transport, cfg.ProbeInterval, 3*cfg.ProbeInterval)

	n := &Node{
		nodeID:     cfg.NodeID,
		cfg:        cfg,
		dispatcher: dispatcher,
		monitor:    monitor,
		clientMgr:  clientMgr,
	}

	api := httpapi.New(cfg.NodeID, dispatcher, monitor)
	n.httpServer = &http.Server{Handler: api.Router()}

	n.grpcServer = grpc.NewServer()
	RegisterPeerServer(n.grpcServer, NewPeerServer(cfg.NodeID, dispatcher))
	n.healthServer = grpchealth.NewServer()
	n.healthServer.SetServingStatus(peerServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(n.grpcServer, n.healthServer)

	// Enable gRPC reflection for grpcurl
	reflection.Register(n.grpcServer)

	return n, nil
}

// Dispatcher returns the node's dispatcher.
func (n *Node) Dispatcher() *Dispatcher {
	return n.dispatcher
}

// Start listens on the configured addresses and serves in the background.
func (n *Node) Start() error {
	httpLis, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.cfg.ListenAddr, err)
	}

	var rpcLis net.Listener
	if n.cfg.RPCListenAddr != "" {
		rpcLis, err = net.Listen("tcp", n.cfg.RPCListenAddr)
		if err != nil {
			httpLis.Close()
			return fmt.Errorf("failed to listen on %s: %w", n.cfg.RPCListenAddr, err)
		}
	}

	n.Serve(httpLis, rpcLis)
	return nil
}

// Serve serves HTTP on httpLis and, when rpcLis is not nil, gRPC on rpcLis.
// It returns immediately.
func (n *Node) Serve(httpLis, rpcLis net.Listener) {
	n.httpLis = httpLis
	n.rpcLis = rpcLis

	log.Printf("[%s] Starting node on %s (clock=%s, transport=%s, peers=%d)",
		n.nodeID, httpLis.Addr(), n.cfg.Clock, n.cfg.Transport, len(n.cfg.OtherPeers()))

	go func() {
		if err := n.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[%s] HTTP server stopped: %v", n.nodeID, err)
		}
	}()

	if rpcLis != nil {
		log.Printf("[%s] Serving peer RPC on %s", n.nodeID, rpcLis.Addr())
		go func() {
			if err := n.grpcServer.Serve(rpcLis); err != nil {
				log.Printf("[%s] gRPC server stopped: %v", n.nodeID, err)
			}
		}()
	}

	n.monitor.Start()
}

// Addr returns the HTTP listen address once serving.
func (n *Node) Addr() string {
	if n.httpLis == nil {
		return ""
	}
	return n.httpLis.Addr().String()
}

// RPCAddr returns the gRPC listen address, or "" when gRPC is not served.
func (n *Node) RPCAddr() string {
	if n.rpcLis == nil {
		return ""
	}
	return n.rpcLis.Addr().String()
}

// Stop gracefully stops the node. The outstanding fan-out is cancelled
// first so that no retry loop outlives the node.
func (n *Node) Stop(ctx context.Context) error {
	log.Printf("[%s] Stopping node", n.nodeID)

	n.monitor.Stop()
	n.dispatcher.Close()
	n.healthServer.Shutdown()

	err := n.httpServer.Shutdown(ctx)

	if n.rpcLis != nil {
		stopped := make(chan struct{})
		go func() {
			n.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			n.grpcServer.Stop()
			<-stopped
		}
	}

	n.clientMgr.Close()
	return err
}
