package graphs

import (
	"testing"

	"pgregory.net/rapid"
)

// slowDisjointSet is the obvious quadratic reference.
type slowDisjointSet struct {
	canon map[uint64]uint64
	sets  map[uint64]map[uint64]struct{}
}

func newSlowDisjointSet() *slowDisjointSet {
	return &slowDisjointSet{
		canon: make(map[uint64]uint64),
		sets:  make(map[uint64]map[uint64]struct{}),
	}
}

func (s *slowDisjointSet) canonicalize(x uint64) uint64 {
	if _, ok := s.canon[x]; !ok {
		s.canon[x] = x
		s.sets[x] = map[uint64]struct{}{x: {}}
	}
	return s.canon[x]
}

func (s *slowDisjointSet) merge(a, b uint64) bool {
	a = s.canonicalize(a)
	b = s.canonicalize(b)
	if a == b {
		return false
	}
	if a > b {
		a, b = b, a
	}
	for member := range s.sets[b] {
		s.canon[member] = a
		s.sets[a][member] = struct{}{}
	}
	delete(s.sets, b)
	return true
}

func TestDisjointSetBasics(t *testing.T) {
	d := NewDisjointSet()
	if d.SameSet(1, 2) {
		t.Fatal("fresh elements should be disjoint")
	}
	if !d.Merge(1, 2) {
		t.Fatal("first merge should be new")
	}
	if d.Merge(2, 1) {
		t.Fatal("repeat merge should not be new")
	}
	if !d.SameSet(1, 2) {
		t.Fatal("merged elements should share a set")
	}
	if got := d.Canonicalize(2); got != 1 {
		t.Fatalf("canonical element should be the minimum, got %d", got)
	}
}

func TestDisjointSetMinimumTracksThroughChains(t *testing.T) {
	d := NewDisjointSet()
	d.Merge(8, 9)
	d.Merge(5, 8)
	d.Merge(9, 3)
	for _, x := range []uint64{3, 5, 8, 9} {
		if got := d.Canonicalize(x); got != 3 {
			t.Fatalf("canonicalize(%d) = %d, want 3", x, got)
		}
	}
	if d.Canonicalize(7) != 7 {
		t.Fatal("untouched element canonicalizes to itself")
	}
}

func TestDisjointSetMatchesReference(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		fast := NewDisjointSet()
		slow := newSlowDisjointSet()

		steps := rapid.IntRange(0, 20).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(t, "merge") {
				a := rapid.Uint64Range(0, 9).Draw(t, "a")
				b := rapid.Uint64Range(0, 9).Draw(t, "b")
				if fast.Merge(a, b) != slow.merge(a, b) {
					t.Fatalf("merge(%d, %d) disagreed with reference", a, b)
				}
			} else {
				x := rapid.Uint64Range(0, 9).Draw(t, "x")
				if got, want := fast.Canonicalize(x), slow.canonicalize(x); got != want {
					t.Fatalf("canonicalize(%d) = %d, reference %d", x, got, want)
				}
			}
		}
	})
}

func TestDisjointSetRejectsOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("elements >= 2^63 should panic")
		}
	}()
	NewDisjointSet().Merge(1<<63, 0)
}
