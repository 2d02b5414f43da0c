package clock

import "fmt"

// Logical is a node-local logical clock. Implementations are not safe for
// concurrent use; the owner serialises access.
type Logical interface {
	// Kind reports the clock variant.
	Kind() Kind
	// IncrementLocal raises the owning node's counter by one.
	IncrementLocal()
	// Merge incorporates a snapshot received from sender.
	Merge(incoming Snapshot, sender string) error
	// Snapshot returns an independent copy of the current state.
	Snapshot() Snapshot
}

// New returns a clock of the given kind owned by self. Vector clocks start
// with a zero entry for each member and for self.
func New(kind Kind, self string, members []string) (Logical, error) {
	switch kind {
	case KindLamport:
		return NewLamport(), nil
	case KindVector:
		return NewVectorLogical(self, members), nil
	default:
		return nil, fmt.Errorf("unsupported clock kind %d", kind)
	}
}

// Lamport is a scalar logical clock.
type Lamport struct {
	time int64
}

// NewLamport creates a Lamport clock at zero.
func NewLamport() *Lamport {
	return &Lamport{}
}

// Kind implements Logical.
func (l *Lamport) Kind() Kind { return KindLamport }

// IncrementLocal implements Logical.
func (l *Lamport) IncrementLocal() {
	l.time++
}

// Merge sets the clock to max(local, incoming) + 1.
func (l *Lamport) Merge(incoming Snapshot, sender string) error {
	if incoming.Kind() != KindLamport {
		return fmt.Errorf("%w: %s snapshot from %s merged into lamport clock", ErrKindMismatch, incoming.Kind(), sender)
	}
	if incoming.Time() > l.time {
		l.time = incoming.Time()
	}
	l.time++
	return nil
}

// Snapshot implements Logical.
func (l *Lamport) Snapshot() Snapshot {
	return LamportSnapshot(l.time)
}

// Vector is a vector clock owned by one node.
type Vector struct {
	self string
	vc   VectorClock
}

// NewVectorLogical creates a vector clock owned by self.
func NewVectorLogical(self string, members []string) *Vector {
	vc := NewVector(members...)
	vc.Set(self, 0)
	return &Vector{self: self, vc: vc}
}

// Kind implements Logical.
func (v *Vector) Kind() Kind { return KindVector }

// IncrementLocal raises only the owner's entry.
func (v *Vector) IncrementLocal() {
	v.vc.Increment(v.self)
}

// Merge applies Fidge's rule: the sender's entry in the incoming snapshot is
// bumped by one for the send itself, then every entry takes the maximum.
func (v *Vector) Merge(incoming Snapshot, sender string) error {
	if incoming.Kind() != KindVector {
		return fmt.Errorf("%w: %s snapshot from %s merged into vector clock", ErrKindMismatch, incoming.Kind(), sender)
	}
	bumped := incoming.Vector()
	bumped.Increment(sender)
	v.vc.Merge(bumped)
	return nil
}

// Snapshot implements Logical.
func (v *Vector) Snapshot() Snapshot {
	return VectorSnapshot(v.vc)
}
