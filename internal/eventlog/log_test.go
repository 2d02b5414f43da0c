package eventlog

import (
	"math"
	"testing"

	"causalog/internal/clock"
)

func vec(entries map[string]int64) clock.Snapshot {
	return clock.VectorSnapshot(clock.VectorClock(entries))
}

func TestLog_AppendAndAll(t *testing.T) {
	l := New()
	l.Append(Event{Value: 7, Clock: clock.LamportSnapshot(1), Node: "a"})
	l.Append(Event{Value: 7, Clock: clock.LamportSnapshot(2), Node: "a"})

	if l.Len() != 2 {
		t.Fatalf("Expected 2 events (duplicates allowed), got %d", l.Len())
	}

	all := l.All()
	all[0].Value = 99
	if l.All()[0].Value != 7 {
		t.Error("All should return a copy")
	}
}

func TestLog_AllKeepsLocalOrder(t *testing.T) {
	l := New()
	l.Append(Event{Value: 3, Clock: clock.LamportSnapshot(5), Node: "a"})
	l.Append(Event{Value: 1, Clock: clock.LamportSnapshot(1), Node: "b"})

	all := l.All()
	if all[0].Value != 3 || all[1].Value != 1 {
		t.Errorf("Expected insertion order [3 1], got [%d %d]", all[0].Value, all[1].Value)
	}
}

func TestLog_SortedLamport(t *testing.T) {
	l := New()
	l.Append(Event{Value: 30, Clock: clock.LamportSnapshot(3), Node: "b"})
	l.Append(Event{Value: 11, Clock: clock.LamportSnapshot(1), Node: "b"})
	l.Append(Event{Value: 10, Clock: clock.LamportSnapshot(1), Node: "a"})
	l.Append(Event{Value: 20, Clock: clock.LamportSnapshot(2), Node: "c"})

	got := values(l.Sorted())
	want := []int64{10, 11, 20, 30}
	if !equal(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestLog_SortedVectorPreservesHappensBefore(t *testing.T) {
	l := New()
	// Recorded out of causal order on purpose.
	l.Append(Event{Value: 3, Clock: vec(map[string]int64{"a": 2, "b": 1}), Node: "b"})
	l.Append(Event{Value: 2, Clock: vec(map[string]int64{"a": 2, "b": 0}), Node: "a"})
	l.Append(Event{Value: 1, Clock: vec(map[string]int64{"a": 1, "b": 0}), Node: "a"})
	l.Append(Event{Value: 9, Clock: vec(map[string]int64{"a": 0, "b": 1}), Node: "b"})

	sorted := l.Sorted()
	for i := range sorted {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].Clock.Compare(sorted[i].Clock) == clock.Before {
				t.Errorf("%s (value %d) sorted after %s (value %d) but happened before it",
					sorted[j].Clock, sorted[j].Value, sorted[i].Clock, sorted[i].Value)
			}
		}
	}

	// {a:1} and {b:1} are concurrent with equal weight; "a" sorts first.
	got := values(sorted)
	want := []int64{1, 9, 2, 3}
	if !equal(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestLog_SortedLargeCountersKeepHappensBefore(t *testing.T) {
	l := New()
	// The later clock's entries sum past math.MaxInt64.
	l.Append(Event{Value: 2, Clock: vec(map[string]int64{"a": math.MaxInt64 / 2, "b": math.MaxInt64 / 2, "c": 5}), Node: "c"})
	l.Append(Event{Value: 1, Clock: vec(map[string]int64{"a": 1, "b": 0, "c": 0}), Node: "a"})

	got := values(l.Sorted())
	if !equal(got, []int64{1, 2}) {
		t.Errorf("Expected [1 2], got %v", got)
	}
}

func TestLog_SortedTieKeepsLocalOrder(t *testing.T) {
	l := New()
	l.Append(Event{Value: 1, Clock: clock.LamportSnapshot(4), Node: "a"})
	l.Append(Event{Value: 2, Clock: clock.LamportSnapshot(4), Node: "a"})

	got := values(l.Sorted())
	if !equal(got, []int64{1, 2}) {
		t.Errorf("Expected stable order [1 2], got %v", got)
	}
}

func values(events []Event) []int64 {
	out := make([]int64, len(events))
	for i, ev := range events {
		out[i] = ev.Value
	}
	return out
}

func equal(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
