// Package graphs implements the incremental graph engine: an append-only
// directed multigraph with chain compression, strongly-connected-component
// views, and the small auxiliary containers the engine is built from.
//
// Node ids are dense uint64 indices assigned by the owning ControlFlowGraph;
// the engine never interprets them beyond ordering.
package graphs

import (
	"iter"
	"slices"
)

// smallSetInlineCap is the number of elements kept inline before a SmallSet
// promotes itself to a sorted-slice representation.
const smallSetInlineCap = 6

// SmallSet is a small-size-optimised set of uint64. Up to six elements are
// stored in an inline array in insertion order; beyond that the set promotes
// to a sorted slice and never downgrades.
//
// The zero value is an empty set ready for use.
type SmallSet struct {
	inline [smallSetInlineCap]uint64
	n      uint8
	// sorted is non-nil iff the set has been promoted.
	sorted []uint64
}

// SmallSetOf builds a set from the given values.
func SmallSetOf(vals ...uint64) SmallSet {
	var s SmallSet
	for _, v := range vals {
		s.Insert(v)
	}
	return s
}

// Insert adds val and reports whether it was not already present.
func (s *SmallSet) Insert(val uint64) bool {
	if s.sorted != nil {
		i, ok := slices.BinarySearch(s.sorted, val)
		if ok {
			return false
		}
		s.sorted = slices.Insert(s.sorted, i, val)
		return true
	}
	for _, v := range s.inline[:s.n] {
		if v == val {
			return false
		}
	}
	if int(s.n) == smallSetInlineCap {
		promoted := make([]uint64, 0, smallSetInlineCap+1)
		promoted = append(promoted, s.inline[:s.n]...)
		promoted = append(promoted, val)
		slices.Sort(promoted)
		s.sorted = promoted
		return true
	}
	s.inline[s.n] = val
	s.n++
	return true
}

// Remove deletes val and reports whether it was present.
func (s *SmallSet) Remove(val uint64) bool {
	if s.sorted != nil {
		i, ok := slices.BinarySearch(s.sorted, val)
		if !ok {
			return false
		}
		s.sorted = slices.Delete(s.sorted, i, i+1)
		return true
	}
	for i, v := range s.inline[:s.n] {
		if v == val {
			copy(s.inline[i:], s.inline[i+1:s.n])
			s.n--
			return true
		}
	}
	return false
}

// Contains reports whether val is in the set.
func (s *SmallSet) Contains(val uint64) bool {
	if s.sorted != nil {
		_, ok := slices.BinarySearch(s.sorted, val)
		return ok
	}
	for _, v := range s.inline[:s.n] {
		if v == val {
			return true
		}
	}
	return false
}

// Len returns the number of elements.
func (s *SmallSet) Len() int {
	if s.sorted != nil {
		return len(s.sorted)
	}
	return int(s.n)
}

// IsEmpty reports whether the set has no elements.
func (s *SmallSet) IsEmpty() bool { return s.Len() == 0 }

// GetAny returns an arbitrary element. Panics if the set is empty.
func (s *SmallSet) GetAny() uint64 {
	if s.sorted != nil {
		return s.sorted[0]
	}
	if s.n == 0 {
		panic("graphs: GetAny on empty SmallSet")
	}
	return s.inline[0]
}

// All iterates over the elements: insertion order while inline, ascending
// once promoted.
func (s *SmallSet) All() iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		if s.sorted != nil {
			for _, v := range s.sorted {
				if !yield(v) {
					return
				}
			}
			return
		}
		for _, v := range s.inline[:s.n] {
			if !yield(v) {
				return
			}
		}
	}
}

// Values returns the elements as a fresh slice, in iteration order.
func (s *SmallSet) Values() []uint64 {
	out := make([]uint64, 0, s.Len())
	for v := range s.All() {
		out = append(out, v)
	}
	return out
}

// SortedValues returns the elements ascending regardless of representation.
func (s *SmallSet) SortedValues() []uint64 {
	out := s.Values()
	slices.Sort(out)
	return out
}

// Union inserts every element of other.
func (s *SmallSet) Union(other *SmallSet) {
	for v := range other.All() {
		s.Insert(v)
	}
}

// Clone returns a deep copy.
func (s *SmallSet) Clone() SmallSet {
	out := *s
	if s.sorted != nil {
		out.sorted = slices.Clone(s.sorted)
	}
	return out
}

// Equal reports set equality, independent of representation.
func (s *SmallSet) Equal(other *SmallSet) bool {
	return slices.Equal(s.SortedValues(), other.SortedValues())
}
