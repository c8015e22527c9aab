package graphs

// DisjointSet is a union-find over uint64 elements below 2^63.
//
// Conceptually it starts as an edgeless graph over all representable
// elements. Merge connects two elements; Canonicalize returns the minimum
// element ever placed in a component. Both run in amortised near-constant
// time (size-ranked union plus path compression).
type DisjointSet struct {
	// parentOrSize maps an element to its parent, or, for roots, to
	// disjointSetLimit+size of the component.
	parentOrSize map[uint64]uint64
	// rootNames maps a root to the minimum element of its component.
	rootNames map[uint64]uint64
}

const disjointSetLimit = uint64(1) << 63

// NewDisjointSet returns an empty structure.
func NewDisjointSet() *DisjointSet {
	return &DisjointSet{
		parentOrSize: make(map[uint64]uint64),
		rootNames:    make(map[uint64]uint64),
	}
}

// Merge joins the components containing a and b and reports whether they
// were previously distinct.
func (d *DisjointSet) Merge(a, b uint64) bool {
	if a >= disjointSetLimit || b >= disjointSetLimit {
		panic("graphs: DisjointSet element out of range")
	}
	a = d.find(a)
	b = d.find(b)
	if a == b {
		return false
	}
	sizeA := d.parentOrSize[a] - disjointSetLimit
	sizeB := d.parentOrSize[b] - disjointSetLimit
	if sizeA < sizeB {
		a, b = b, a
		sizeA, sizeB = sizeB, sizeA
	}
	d.parentOrSize[a] = disjointSetLimit + sizeA + sizeB
	d.parentOrSize[b] = a

	nameB, ok := d.rootNames[b]
	if !ok {
		nameB = b
	}
	nameA, ok := d.rootNames[a]
	if !ok {
		nameA = a
	}
	d.rootNames[a] = min(nameA, nameB)
	return true
}

// find returns the root of x's component, compressing the path walked.
func (d *DisjointSet) find(x uint64) uint64 {
	if x >= disjointSetLimit {
		panic("graphs: DisjointSet element out of range")
	}
	y, ok := d.parentOrSize[x]
	if !ok {
		d.parentOrSize[x] = disjointSetLimit + 1
		return x
	}
	if y >= disjointSetLimit {
		return x
	}
	alongTheWay := []uint64{x}
	x = y
	for {
		y = d.parentOrSize[x]
		if y < disjointSetLimit {
			alongTheWay = append(alongTheWay, x)
			x = y
			continue
		}
		for _, prev := range alongTheWay {
			d.parentOrSize[prev] = x
		}
		return x
	}
}

// Canonicalize returns the minimum element of the component containing x.
func (d *DisjointSet) Canonicalize(x uint64) uint64 {
	x = d.find(x)
	if name, ok := d.rootNames[x]; ok {
		return name
	}
	return x
}

// SameSet reports whether a and b are in the same component.
func (d *DisjointSet) SameSet(a, b uint64) bool {
	return d.Canonicalize(a) == d.Canonicalize(b)
}
