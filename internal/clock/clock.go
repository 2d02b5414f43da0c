package clock

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// VectorClock represents a vector clock as a map from node ID to counter.
// Missing entries count as zero.
// Thread-safe operations should be handled by the caller.
type VectorClock map[string]int64

// NewVector creates a vector clock with a zero entry for every member.
func NewVector(members ...string) VectorClock {
	vc := make(VectorClock, len(members))
	for _, id := range members {
		vc[id] = 0
	}
	return vc
}

// Increment increments the counter for the given node ID.
// If the node ID doesn't exist, it's initialized to 1.
func (vc VectorClock) Increment(nodeID string) {
	vc[nodeID]++
}

// Get returns the counter value for the given node ID, or 0 if not present.
func (vc VectorClock) Get(nodeID string) int64 {
	return vc[nodeID]
}

// Set sets the counter for the given node ID.
func (vc VectorClock) Set(nodeID string, value int64) {
	vc[nodeID] = value
}

// Merge merges another vector clock into this one, taking the maximum
// counter value for each node ID. No entry is ever lowered.
func (vc VectorClock) Merge(other VectorClock) {
	for nodeID, counter := range other {
		if vc[nodeID] < counter {
			vc[nodeID] = counter
		}
	}
}

// Copy creates a deep copy of the vector clock.
func (vc VectorClock) Copy() VectorClock {
	c := make(VectorClock, len(vc))
	for k, v := range vc {
		c[k] = v
	}
	return c
}

// Sum returns the exact total of all counters. Entries may be as large as
// math.MaxInt64, so the total does not fit an int64.
func (vc VectorClock) Sum() *big.Int {
	total := new(big.Int)
	var v big.Int
	for _, c := range vc {
		total.Add(total, v.SetInt64(c))
	}
	return total
}

// CompareResult represents the result of comparing two clocks.
type CompareResult int

const (
	// Before indicates this clock happened before the other.
	Before CompareResult = iota
	// After indicates this clock happened after the other.
	After
	// Concurrent indicates the clocks are concurrent (no causal relationship).
	Concurrent
	// Equal indicates the clocks are equal.
	Equal
)

// String returns the name of the relation.
func (r CompareResult) String() string {
	switch r {
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	case Equal:
		return "equal"
	default:
		return "unknown"
	}
}

// Compare compares two vector clocks and returns their relationship.
// Returns:
//   - Equal: if all counters are equal
//   - Before: if this clock happened before other (all counters <=, at least one <)
//   - After: if this clock happened after other (all counters >=, at least one >)
//   - Concurrent: if neither dominates (some counters are greater, some are less)
func (vc VectorClock) Compare(other VectorClock) CompareResult {
	allNodes := make(map[string]bool, len(vc)+len(other))
	for nodeID := range vc {
		allNodes[nodeID] = true
	}
	for nodeID := range other {
		allNodes[nodeID] = true
	}

	var thisLess, thisGreater bool
	for nodeID := range allNodes {
		thisVal := vc[nodeID]
		otherVal := other[nodeID]
		if thisVal < otherVal {
			thisLess = true
		} else if thisVal > otherVal {
			thisGreater = true
		}
	}

	switch {
	case !thisLess && !thisGreater:
		return Equal
	case thisLess && !thisGreater:
		return Before
	case thisGreater && !thisLess:
		return After
	default:
		return Concurrent
	}
}

// Equal checks if two vector clocks are equal, treating missing entries as zero.
func (vc VectorClock) Equal(other VectorClock) bool {
	return vc.Compare(other) == Equal
}

// String returns a string representation of the vector clock.
func (vc VectorClock) String() string {
	if len(vc) == 0 {
		return "{}"
	}

	// Sort for deterministic output
	keys := make([]string, 0, len(vc))
	for k := range vc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, vc[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
