// Package eventlog holds a node's append-only record of stamped values.
// Nothing is persisted; the log lives for the lifetime of the process.
package eventlog
