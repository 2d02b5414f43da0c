// Package client drives a cluster through its client HTTP API. Append
// posts a value to a random node and retries while nodes are busy; Check
// compares the causal logs of every node.
package client
