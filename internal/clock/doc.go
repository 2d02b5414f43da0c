// Package clock provides the logical clocks used to order appended events:
// a scalar Lamport clock and a Fidge vector clock. Both expose the same
// increment, merge and snapshot operations through Logical, and frozen values
// travel between nodes as Snapshot.
package clock
