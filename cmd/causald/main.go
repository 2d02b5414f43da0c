package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"causalog/internal/config"
	"causalog/internal/node"
)

func main() {
	defaults := config.Default()

	configPath := flag.String("config", "", "YAML config file (flags override its values)")
	nodeID := flag.String("node-id", "", "Node ID (required)")
	listen := flag.String("listen", defaults.ListenAddr, "HTTP listen address")
	rpcListen := flag.String("rpc-listen", "", "gRPC listen address (optional)")
	peers := flag.String("peers", "", "Comma-separated list of peers in format id=addr[@rpcaddr]")
	clockKind := flag.String("clock", defaults.Clock, "Clock variant: lamport or vector")
	transport := flag.String("transport", defaults.Transport, "Peer transport: http or grpc")
	retryBackoff := flag.Duration("retry-backoff", defaults.RetryBackoff, "Pause between delivery attempts")
	attemptTimeout := flag.Duration("attempt-timeout", defaults.AttemptTimeout, "Timeout of one delivery attempt")
	probeInterval := flag.Duration("probe-interval", defaults.ProbeInterval, "Peer health probe interval")
	flag.Parse()

	cfg := defaults
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	// Only flags given explicitly override the file.
	var peersErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "node-id":
			cfg.NodeID = *nodeID
		case "listen":
			cfg.ListenAddr = *listen
		case "rpc-listen":
			cfg.RPCListenAddr = *rpcListen
		case "peers":
			cfg.Peers, peersErr = config.ParsePeers(*peers)
		case "clock":
			cfg.Clock = *clockKind
		case "transport":
			cfg.Transport = *transport
		case "retry-backoff":
			cfg.RetryBackoff = *retryBackoff
		case "attempt-timeout":
			cfg.AttemptTimeout = *attemptTimeout
		case "probe-interval":
			cfg.ProbeInterval = *probeInterval
		}
	})
	if peersErr != nil {
		log.Fatalf("Failed to parse peers: %v", peersErr)
	}

	if err := cfg.Validate(); err != nil {
		log.Printf("Error: invalid configuration: %v", err)
		flag.Usage()
		os.Exit(1)
	}

	n, err := node.NewNode(cfg)
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}
	if err := n.Start(); err != nil {
		log.Fatalf("Failed to start node: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Printf("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Stop(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
