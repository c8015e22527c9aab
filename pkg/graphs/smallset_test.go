package graphs

import (
	"slices"
	"testing"

	"pgregory.net/rapid"
)

func TestSmallSetBasics(t *testing.T) {
	var s SmallSet
	if !s.IsEmpty() || s.Len() != 0 {
		t.Fatal("zero value should be empty")
	}
	if !s.Insert(3) {
		t.Fatal("first insert should be new")
	}
	if s.Insert(3) {
		t.Fatal("duplicate insert should not be new")
	}
	if !s.Contains(3) || s.Contains(4) {
		t.Fatal("contains is wrong")
	}
	if !s.Remove(3) {
		t.Fatal("remove of member should report true")
	}
	if s.Remove(3) {
		t.Fatal("remove of non-member should report false")
	}
}

func TestSmallSetPromotion(t *testing.T) {
	var s SmallSet
	// Fill past the inline capacity; contents must survive promotion.
	for i := uint64(0); i < 20; i++ {
		if !s.Insert(i * 7) {
			t.Fatalf("insert %d should be new", i*7)
		}
	}
	if s.Len() != 20 {
		t.Fatalf("want 20 elements, got %d", s.Len())
	}
	for i := uint64(0); i < 20; i++ {
		if !s.Contains(i * 7) {
			t.Fatalf("lost %d across promotion", i*7)
		}
	}
	// Promoted iteration is ascending.
	vals := s.Values()
	if !slices.IsSorted(vals) {
		t.Fatalf("promoted iteration should be sorted, got %v", vals)
	}
}

func TestSmallSetEqualityAcrossRepresentations(t *testing.T) {
	small := SmallSetOf(1, 2, 3)
	var big SmallSet
	for i := uint64(10); i < 20; i++ {
		big.Insert(i)
	}
	for i := uint64(10); i < 20; i++ {
		big.Remove(i)
	}
	big.Insert(3)
	big.Insert(1)
	big.Insert(2)
	if !small.Equal(&big) {
		t.Fatal("set equality must not depend on representation")
	}
}

func TestSmallSetGetAnyPanicsWhenEmpty(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("GetAny on empty set should panic")
		}
	}()
	var s SmallSet
	s.GetAny()
}

// Reference comparison against a plain map.
func TestSmallSetMatchesMap(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var fast SmallSet
		slow := make(map[uint64]struct{})

		steps := rapid.IntRange(0, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			v := rapid.Uint64Range(0, 15).Draw(t, "v")
			if rapid.Bool().Draw(t, "insert") {
				_, had := slow[v]
				slow[v] = struct{}{}
				if fast.Insert(v) != !had {
					t.Fatalf("insert(%d) disagreed with reference", v)
				}
			} else {
				_, had := slow[v]
				delete(slow, v)
				if fast.Remove(v) != had {
					t.Fatalf("remove(%d) disagreed with reference", v)
				}
			}
		}
		if fast.Len() != len(slow) {
			t.Fatalf("len %d != reference %d", fast.Len(), len(slow))
		}
		for v := range slow {
			if !fast.Contains(v) {
				t.Fatalf("missing %d", v)
			}
		}
	})
}
