// Package fanout delivers each appended value to every other node.
// Each peer is retried at a fixed backoff until it acknowledges or the
// broadcast context ends, so a peer that stays down blocks completion.
package fanout
