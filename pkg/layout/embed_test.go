package layout

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"
)

func lineGraph(n int) ([]NodeDrawingData, [][2]int) {
	nodes := make([]NodeDrawingData, n)
	edges := make([][2]int, 0, n-1)
	for i := 0; i < n-1; i++ {
		edges = append(edges, [2]int{i, i + 1})
	}
	return nodes, edges
}

func TestEmptyGraphConverges(t *testing.T) {
	g := Empty()
	if got := g.RunLayoutIterations(100); got != Converged {
		t.Fatalf("empty graph should converge immediately, got %v", got)
	}
}

func TestInitialLayoutSpreadsByDepth(t *testing.T) {
	nodes, edges := lineGraph(5)
	g := New(nodes, edges)
	if len(g.NodePositions) != 5 {
		t.Fatalf("want 5 positions, got %d", len(g.NodePositions))
	}
	if g.NodePositions[0] != (r2.Vec{}) {
		t.Fatalf("node 0 starts at the origin, got %v", g.NodePositions[0])
	}
	// Deeper nodes start farther out.
	if r2.Norm(g.NodePositions[4]) <= r2.Norm(g.NodePositions[1]) {
		t.Fatal("depth-4 node should start farther out than depth-1")
	}
}

func TestLayoutKeepsPositionsFinite(t *testing.T) {
	nodes, edges := lineGraph(12)
	g := New(nodes, edges)
	for batch := 0; batch < 5; batch++ {
		g.RunLayoutIterations(100)
	}
	for i, p := range g.NodePositions {
		if !isFinite(p) {
			t.Fatalf("node %d diverged to %v", i, p)
		}
	}
	if g.Min.X > g.Max.X || g.Min.Y > g.Max.Y {
		t.Fatalf("bounding box inverted: %v %v", g.Min, g.Max)
	}
}

func TestConvergenceLadderReachesConverged(t *testing.T) {
	// A single pinned node has constant potential energy, so every batch is
	// stale and the ladder must walk θ to 0 and then Δt to 0.
	g := New(make([]NodeDrawingData, 1), nil)
	converged := false
	for batch := 0; batch < 200; batch++ {
		if g.RunLayoutIterations(10) == Converged {
			converged = true
			break
		}
	}
	if !converged {
		t.Fatal("stale layout never converged")
	}
	if g.TimeStep() != 0 {
		t.Fatalf("converged layout should have zero time step, got %f", g.TimeStep())
	}
}

func TestNoiseBlocksConvergence(t *testing.T) {
	g := New(make([]NodeDrawingData, 2), [][2]int{{0, 1}})
	params := DefaultParameters()
	params.Noise = 1.0
	g.SetParams(params)
	for batch := 0; batch < 50; batch++ {
		if got := g.RunLayoutIterations(10); got == Converged {
			t.Fatal("noisy layout must not report convergence")
		}
	}
}

func TestSetParamsResetsConvergenceState(t *testing.T) {
	g := New(make([]NodeDrawingData, 1), nil)
	for batch := 0; batch < 200; batch++ {
		if g.RunLayoutIterations(10) == Converged {
			break
		}
	}
	if g.TimeStep() != 0 {
		t.Fatal("setup failed to converge")
	}

	params := DefaultParameters()
	params.Gravity = 1.5
	g.SetParams(params)
	if g.TimeStep() != maxTimeStep {
		t.Fatal("material param change must reset the time step")
	}
	if g.RepulsionApproximation() != maxRepulsionApproximation {
		t.Fatal("material param change must reset θ")
	}

	// Re-setting identical params must not reset.
	g.RunLayoutIterations(10)
	before := g.RepulsionApproximation()
	g.SetParams(params)
	if g.RepulsionApproximation() != before {
		t.Fatal("identical params must not reset the state machine")
	}
}

func TestSeededReplacePreservesSharedPrefix(t *testing.T) {
	nodes, edges := lineGraph(6)
	g := New(nodes, edges)
	g.RunLayoutIterations(50)
	old := make([]r2.Vec, len(g.NodePositions))
	copy(old, g.NodePositions)

	biggerNodes, biggerEdges := lineGraph(9)
	g.SeededReplaceSelfWith(biggerNodes, biggerEdges)
	if len(g.NodePositions) != 9 {
		t.Fatalf("want 9 positions, got %d", len(g.NodePositions))
	}
	// Old positions survive modulo the small jitter.
	const maxJitter = 0.2
	for i := range old {
		d := r2.Norm(r2.Sub(g.NodePositions[i], old[i]))
		if d > maxJitter {
			t.Fatalf("node %d moved %f during seeded replace", i, d)
		}
	}
}

func TestSeededReplaceToEmpty(t *testing.T) {
	nodes, edges := lineGraph(4)
	g := New(nodes, edges)
	g.SeededReplaceSelfWith(nil, nil)
	if len(g.NodePositions) != 0 {
		t.Fatal("replacing with an empty graph should clear positions")
	}
	if g.RunLayoutIterations(10) != Converged {
		t.Fatal("empty replacement should converge immediately")
	}
}

func TestBarnesHutMatchesAllPairs(t *testing.T) {
	// The coarsest approximation must still roughly agree with the exact
	// force for a well-separated pair of clusters.
	positions := []r2.Vec{
		{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1},
		{X: 100, Y: 100}, {X: 101, Y: 100}, {X: 100, Y: 101},
	}
	buf := make([]barnesHutNode, 2*nextPowerOfTwo(len(positions)))
	scratch := make([]r2.Vec, len(positions))
	copy(scratch, positions)
	buildBarnesHut(buf, scratch)

	target := r2.Vec{X: 0, Y: 0}
	var pe float64
	approx := barnesHutForceOn(target, buf, 0.6*0.6, &pe)

	var exact r2.Vec
	var exactPE float64
	for _, p := range positions {
		exact = r2.Add(exact, repulsionFromSource(1, p, target, &exactPE))
	}

	if d := r2.Norm(r2.Sub(approx, exact)); d > 0.1*math.Max(1, r2.Norm(exact)) {
		t.Fatalf("approximation too far off: approx %v exact %v", approx, exact)
	}
}

func TestSelectNthByAxis(t *testing.T) {
	positions := []r2.Vec{{X: 5}, {X: 1}, {X: 4}, {X: 2}, {X: 3}}
	selectNthByAxis(positions, 2, func(v r2.Vec) float64 { return v.X })
	if positions[2].X != 3 {
		t.Fatalf("median should be 3, got %v", positions[2].X)
	}
	for i := 0; i < 2; i++ {
		if positions[i].X > positions[2].X {
			t.Fatalf("left partition violated: %v", positions)
		}
	}
	for i := 3; i < len(positions); i++ {
		if positions[i].X < positions[2].X {
			t.Fatalf("right partition violated: %v", positions)
		}
	}
}

func TestLodText(t *testing.T) {
	var l LodText
	if l.Full() != "" {
		t.Fatal("empty lod should render empty")
	}
	l.Coarser("line one\nline two is rather long")
	l.Coarser("short")
	if l.Full() != "line one\nline two is rather long" {
		t.Fatal("Full should return the finest level")
	}
	if got := l.GivenAvailableSquare(10, 1); got != "short" {
		t.Fatalf("tight square should fall back to the coarse level, got %q", got)
	}
	if got := l.GivenAvailableSquare(80, 10); got != l.Full() {
		t.Fatalf("large square should fit the finest level, got %q", got)
	}
	if got := l.GivenAvailableSquare(2, 1); got != "" {
		t.Fatalf("no level fits, got %q", got)
	}
}
