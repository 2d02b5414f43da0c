package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"causalog/internal/client"
	"causalog/internal/config"
)

// errDiverged makes check exit non-zero.
var errDiverged = errors.New("node logs do not agree")

const usage = `Usage: causalctl [flags] <command> [args]

Commands:
  append VALUE...   append each value to a random node, retrying while busy
  check             print every node's causal log and report whether they agree

Flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("causalctl", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "YAML config file to read the peer list from")
	peers := fs.String("peers", "", "Comma-separated list of nodes in format id=addr[@rpcaddr]")
	backoff := fs.Duration("backoff", client.DefaultBackoff, "Retry pause when a node sends no Retry-After")
	maxAttempts := fs.Int("max-attempts", 0, "Attempts per value before giving up (0 = until timeout)")
	timeout := fs.Duration("timeout", 30*time.Second, "Overall deadline")
	if err := fs.Parse(args); err != nil {
		return err
	}

	nodes, err := loadPeers(*configPath, *peers)
	if err != nil {
		return err
	}
	c, err := client.New(nodes, client.Options{Backoff: *backoff, MaxAttempts: *maxAttempts})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	switch cmd := fs.Arg(0); cmd {
	case "append":
		return appendValues(ctx, c, fs.Args()[1:], stdout)
	case "check":
		return check(ctx, c, stdout)
	case "":
		fs.Usage()
		return flag.ErrHelp
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// loadPeers prefers --peers over the config file's peer list.
func loadPeers(configPath, peers string) ([]config.Peer, error) {
	if peers != "" {
		nodes, err := config.ParsePeers(peers)
		if err != nil {
			return nil, fmt.Errorf("failed to parse peers: %w", err)
		}
		return nodes, nil
	}
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		return cfg.Peers, nil
	}
	return nil, errors.New("--peers or --config is required")
}

func appendValues(ctx context.Context, c *client.Client, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New("append needs at least one value")
	}
	values := make([]int64, len(args))
	for i, a := range args {
		v, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid value %q: %w", a, err)
		}
		values[i] = v
	}

	for _, v := range values {
		res, err := c.Append(ctx, v)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%d -> %s clock %s (attempts %d)\n", v, res.Node, res.Event.Clock, res.Attempts)
	}
	return nil
}

func check(ctx context.Context, c *client.Client, stdout io.Writer) error {
	report, err := c.Check(ctx)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(report.Logs))
	for id := range report.Logs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		b, err := json.MarshalIndent(report.Logs[id], "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s %s\n", id, b)
	}

	down := make([]string, 0, len(report.Unreachable))
	for id := range report.Unreachable {
		down = append(down, id)
	}
	sort.Strings(down)
	for _, id := range down {
		fmt.Fprintf(stdout, "%s unreachable: %v\n", id, report.Unreachable[id])
	}

	if !report.Agree() {
		if len(report.Diverged) > 0 {
			fmt.Fprintf(stdout, "diverged: %v\n", report.Diverged)
		}
		return errDiverged
	}
	fmt.Fprintf(stdout, "logs agree (%d nodes, %d events)\n", len(ids), eventCount(report))
	return nil
}

func eventCount(r client.Report) int {
	for _, events := range r.Logs {
		return len(events)
	}
	return 0
}
