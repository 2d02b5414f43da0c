package clock

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
)

// Kind identifies the logical clock variant.
type Kind int

const (
	// KindLamport is a scalar Lamport clock.
	KindLamport Kind = iota + 1
	// KindVector is a per-node vector clock.
	KindVector
)

// String returns the configuration name of the kind.
func (k Kind) String() string {
	switch k {
	case KindLamport:
		return "lamport"
	case KindVector:
		return "vector"
	default:
		return "unknown"
	}
}

// ParseKind parses "lamport" or "vector".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "lamport":
		return KindLamport, nil
	case "vector":
		return KindVector, nil
	default:
		return 0, fmt.Errorf("unknown clock kind %q (expected lamport or vector)", s)
	}
}

var (
	// ErrKindMismatch is returned when a snapshot of one kind is merged into
	// or compared with a clock of the other kind.
	ErrKindMismatch = errors.New("clock kind mismatch")
	// ErrNegativeCounter is returned when decoding a counter below zero.
	ErrNegativeCounter = errors.New("negative clock counter")
)

// Snapshot is a frozen copy of a logical clock. The zero value carries no
// clock. Snapshots never share state with the clock they were taken from.
type Snapshot struct {
	kind   Kind
	time   int64
	vector VectorClock
}

// LamportSnapshot returns a scalar snapshot.
func LamportSnapshot(t int64) Snapshot {
	return Snapshot{kind: KindLamport, time: t}
}

// VectorSnapshot returns a vector snapshot holding a copy of vc.
func VectorSnapshot(vc VectorClock) Snapshot {
	if vc == nil {
		vc = NewVector()
	}
	return Snapshot{kind: KindVector, vector: vc.Copy()}
}

// Kind returns the clock variant, or 0 for the zero Snapshot.
func (s Snapshot) Kind() Kind { return s.kind }

// IsZero reports whether the snapshot carries no clock.
func (s Snapshot) IsZero() bool { return s.kind == 0 }

// Time returns the scalar value of a Lamport snapshot.
func (s Snapshot) Time() int64 { return s.time }

// Vector returns a copy of the entries of a vector snapshot.
func (s Snapshot) Vector() VectorClock {
	if s.kind != KindVector {
		return nil
	}
	return s.vector.Copy()
}

// Get returns the counter for nodeID. For Lamport snapshots the scalar is
// returned regardless of nodeID.
func (s Snapshot) Get(nodeID string) int64 {
	if s.kind == KindLamport {
		return s.time
	}
	return s.vector.Get(nodeID)
}

// Weight is a scalar that grows strictly along happens-before: the Lamport
// time, or the sum of all vector entries.
func (s Snapshot) Weight() *big.Int {
	if s.kind == KindVector {
		return s.vector.Sum()
	}
	return big.NewInt(s.time)
}

// Equal reports whether both snapshots hold the same clock. Missing vector
// entries count as zero.
func (s Snapshot) Equal(other Snapshot) bool {
	if s.kind != other.kind {
		return false
	}
	if s.kind == KindVector {
		return s.vector.Equal(other.vector)
	}
	return s.time == other.time
}

// Compare relates two snapshots. Lamport snapshots compare numerically, so
// they never report Concurrent. Snapshots of different kinds are Concurrent.
func (s Snapshot) Compare(other Snapshot) CompareResult {
	if s.kind != other.kind {
		return Concurrent
	}
	if s.kind == KindVector {
		return s.vector.Compare(other.vector)
	}
	switch {
	case s.time < other.time:
		return Before
	case s.time > other.time:
		return After
	default:
		return Equal
	}
}

// String renders the snapshot as "7" or "{a:1, b:0}".
func (s Snapshot) String() string {
	switch s.kind {
	case KindLamport:
		return strconv.FormatInt(s.time, 10)
	case KindVector:
		return s.vector.String()
	default:
		return "<none>"
	}
}

// MarshalJSON encodes a Lamport snapshot as a bare integer and a vector
// snapshot as an object keyed by node ID.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case KindLamport:
		return []byte(strconv.FormatInt(s.time, 10)), nil
	case KindVector:
		return json.Marshal(map[string]int64(s.vector))
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts an integer (Lamport), an object (vector) or null.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*s = Snapshot{}
		return nil
	case data[0] == '{':
		var vc VectorClock
		if err := json.Unmarshal(data, &vc); err != nil {
			return fmt.Errorf("decode vector clock: %w", err)
		}
		for id, v := range vc {
			if v < 0 {
				return fmt.Errorf("%w: %s=%d", ErrNegativeCounter, id, v)
			}
		}
		*s = Snapshot{kind: KindVector, vector: vc}
		return nil
	default:
		var t int64
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("decode lamport clock: %w", err)
		}
		if t < 0 {
			return fmt.Errorf("%w: %d", ErrNegativeCounter, t)
		}
		*s = Snapshot{kind: KindLamport, time: t}
		return nil
	}
}
