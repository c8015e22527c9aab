package layout

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r2"
)

// barnesHutNode is one cell of the Barnes-Hut tree, stored implicitly in a
// slice: element 0 is the cell, the rest splits evenly into the two child
// subtrees. Leaves carry a single point mass.
type barnesHutNode struct {
	leaf bool
	// leaf
	pointMass r2.Vec
	// split
	mass         float64
	centerOfMass r2.Vec
	boxMin       r2.Vec
	boxMax       r2.Vec
}

// buildBarnesHut partitions positions by the median along the longest axis
// and fills buf with the implicit tree. positions is reordered in place.
func buildBarnesHut(buf []barnesHutNode, positions []r2.Vec) {
	if len(positions) == 0 || len(buf) == 0 {
		panic("layout: buildBarnesHut on empty input")
	}
	if len(positions) == 1 {
		buf[0] = barnesHutNode{leaf: true, pointMass: positions[0]}
		return
	}
	boxMin := r2.Vec{X: math.Inf(1), Y: math.Inf(1)}
	boxMax := r2.Vec{X: math.Inf(-1), Y: math.Inf(-1)}
	for _, p := range positions {
		boxMin = vecMin(boxMin, p)
		boxMax = vecMax(boxMax, p)
	}
	splitX := boxMax.X-boxMin.X > boxMax.Y-boxMin.Y
	axis := func(v r2.Vec) float64 {
		if splitX {
			return v.X
		}
		return v.Y
	}

	// Partition by median along the longest axis using quickselect.
	mid := len(positions) / 2
	selectNthByAxis(positions, mid, axis)

	children := buf[1:]
	bufLeft, bufRight := children[:len(children)/2], children[len(children)/2:]
	before, after := positions[:mid], positions[mid:]

	const forkJoinThreshold = 20
	if len(positions) > forkJoinThreshold {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			buildBarnesHut(bufLeft, before)
		}()
		buildBarnesHut(bufRight, after)
		wg.Wait()
	} else {
		buildBarnesHut(bufLeft, before)
		buildBarnesHut(bufRight, after)
	}

	leftMass, leftCOM := bufLeft[0].massAndCenter()
	rightMass, rightCOM := bufRight[0].massAndCenter()
	buf[0] = barnesHutNode{
		mass: float64(len(positions)),
		centerOfMass: r2.Scale(1/float64(len(positions)),
			r2.Add(r2.Scale(leftMass, leftCOM), r2.Scale(rightMass, rightCOM))),
		boxMin: boxMin,
		boxMax: boxMax,
	}
}

func (n *barnesHutNode) massAndCenter() (float64, r2.Vec) {
	if n.leaf {
		return 1, n.pointMass
	}
	return n.mass, n.centerOfMass
}

// barnesHutForceOn accumulates the repulsion force on pos from the subtree
// rooted at tree[0]. A cell is treated as a point mass when
// approximation²·|mid-pos|² exceeds its squared longest side.
func barnesHutForceOn(pos r2.Vec, tree []barnesHutNode, approximation2 float64, potentialEnergy *float64) r2.Vec {
	cell := &tree[0]
	if cell.leaf {
		return repulsionFromSource(1, cell.pointMass, pos, potentialEnergy)
	}
	mid := r2.Scale(0.5, r2.Add(cell.boxMin, cell.boxMax))
	side := cell.boxMax.X - cell.boxMin.X
	if dy := cell.boxMax.Y - cell.boxMin.Y; dy > side {
		side = dy
	}
	d := r2.Sub(mid, pos)
	if approximation2*(d.X*d.X+d.Y*d.Y) > side*side {
		return repulsionFromSource(cell.mass, cell.centerOfMass, pos, potentialEnergy)
	}
	children := tree[1:]
	left, right := children[:len(children)/2], children[len(children)/2:]
	return r2.Add(
		barnesHutForceOn(pos, left, approximation2, potentialEnergy),
		barnesHutForceOn(pos, right, approximation2, potentialEnergy),
	)
}

// repulsionFromSource is the pairwise kernel: F = m·d/(1+|d|³), E = m/(1+|d|).
func repulsionFromSource(mass float64, source, target r2.Vec, potentialEnergy *float64) r2.Vec {
	delta := r2.Sub(target, source)
	deltaLen := r2.Norm(delta)
	force := r2.Scale(mass/(1+deltaLen*deltaLen*deltaLen), delta)
	*potentialEnergy += mass / (1 + deltaLen)
	return force
}

// selectNthByAxis reorders positions so the element with the k-th smallest
// axis value is at index k, smaller-or-equal values before it.
func selectNthByAxis(positions []r2.Vec, k int, axis func(r2.Vec) float64) {
	lo, hi := 0, len(positions)-1
	for lo < hi {
		pivot := axis(positions[(lo+hi)/2])
		i, j := lo, hi
		for i <= j {
			for axis(positions[i]) < pivot {
				i++
			}
			for axis(positions[j]) > pivot {
				j--
			}
			if i <= j {
				positions[i], positions[j] = positions[j], positions[i]
				i++
				j--
			}
		}
		if k <= j {
			hi = j
		} else if k >= i {
			lo = i
		} else {
			return
		}
	}
}

func vecMin(a, b r2.Vec) r2.Vec {
	return r2.Vec{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y)}
}

func vecMax(a, b r2.Vec) r2.Vec {
	return r2.Vec{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y)}
}
