package graphs

import (
	"testing"

	"pgregory.net/rapid"
)

// node builds a test node from its id and neighbour/of lists.
func node(id uint64, from, to, of []uint64) *Node {
	return &Node{
		ID:   id,
		From: SmallSetOf(from...),
		To:   SmallSetOf(to...),
		Of:   SmallSetOf(of...),
	}
}

func graphWith(nodes ...*Node) *Graph {
	g := NewGraph()
	for _, n := range nodes {
		g.Nodes[n.ID] = n
	}
	return g
}

// verify checks that every edge is mirrored in both neighbour sets.
func verify(t *testing.T, g *Graph) {
	t.Helper()
	for id, n := range g.Nodes {
		for out := range n.From.All() {
			if !g.Nodes[out].To.Contains(id) {
				t.Fatalf("%d.to does not contain %d", out, id)
			}
		}
		for to := range n.To.All() {
			if !g.Nodes[to].From.Contains(id) {
				t.Fatalf("%d.from does not contain %d", to, id)
			}
		}
	}
}

func assertGraphsEqual(t *testing.T, got, want *Graph) {
	t.Helper()
	if !got.Equal(want) {
		t.Fatalf("graphs differ\ngot:  %v\nwant: %v", dumpGraph(got), dumpGraph(want))
	}
}

func dumpGraph(g *Graph) map[uint64][3][]uint64 {
	out := make(map[uint64][3][]uint64, len(g.Nodes))
	for id, n := range g.Nodes {
		out[id] = [3][]uint64{n.From.SortedValues(), n.To.SortedValues(), n.Of.SortedValues()}
	}
	return out
}

func compressAndApply(g *Graph) {
	g.Compress()
	g.ApplyMerges()
}

// 0 → 1 → 2
func TestStraightLine(t *testing.T) {
	g := graphWith(
		node(0, nil, []uint64{1}, []uint64{0}),
		node(1, []uint64{0}, []uint64{2}, []uint64{1}),
		node(2, []uint64{1}, nil, []uint64{2}),
	)
	want := graphWith(node(0, nil, nil, []uint64{0, 1, 2}))
	verify(t, g)
	compressAndApply(g)
	verify(t, g)
	assertGraphsEqual(t, g, want)
}

// 2 → 1 → 0
func TestStraightLineRev(t *testing.T) {
	g := graphWith(
		node(0, []uint64{1}, nil, []uint64{0}),
		node(1, []uint64{2}, []uint64{0}, []uint64{1}),
		node(2, nil, []uint64{1}, []uint64{2}),
	)
	want := graphWith(node(0, nil, nil, []uint64{0, 1, 2}))
	verify(t, g)
	compressAndApply(g)
	verify(t, g)
	assertGraphsEqual(t, g, want)
}

// 0 → 1
func TestShortLine(t *testing.T) {
	g := graphWith(
		node(0, nil, []uint64{1}, []uint64{0}),
		node(1, []uint64{0}, nil, []uint64{1}),
	)
	want := graphWith(node(0, nil, nil, []uint64{0, 1}))
	compressAndApply(g)
	verify(t, g)
	assertGraphsEqual(t, g, want)
}

//	  0
//	 ↙ ↘
//	1   2
//	 ↘ ↙
//	  3
func TestDiamond(t *testing.T) {
	g := graphWith(
		node(0, nil, []uint64{1, 2}, []uint64{0}),
		node(1, []uint64{0}, []uint64{3}, []uint64{1}),
		node(2, []uint64{0}, []uint64{3}, []uint64{2}),
		node(3, []uint64{1, 2}, nil, []uint64{3}),
	)
	want := g.Clone()
	compressAndApply(g)
	verify(t, g)
	assertGraphsEqual(t, g, want)
}

// 4 → 0
// ↑  ↙ ↘
// 5 1   2
// ↑  ↘ ↙
// 6   3
func TestDiamondOnStick(t *testing.T) {
	g := graphWith(
		node(0, []uint64{4}, []uint64{1, 2}, []uint64{0}),
		node(1, []uint64{0}, []uint64{3}, []uint64{1}),
		node(2, []uint64{0}, []uint64{3}, []uint64{2}),
		node(3, []uint64{1, 2}, nil, []uint64{3}),
		node(4, []uint64{5}, []uint64{0}, []uint64{4}),
		node(5, []uint64{6}, []uint64{4}, []uint64{5}),
		node(6, nil, []uint64{5}, []uint64{6}),
	)
	want := graphWith(
		node(0, nil, []uint64{1, 2}, []uint64{0, 4, 5, 6}),
		node(1, []uint64{0}, []uint64{3}, []uint64{1}),
		node(2, []uint64{0}, []uint64{3}, []uint64{2}),
		node(3, []uint64{1, 2}, nil, []uint64{3}),
	)
	compressAndApply(g)
	verify(t, g)
	assertGraphsEqual(t, g, want)
}

// 0 → 1 → 2 → 3 → 0
func TestCycle(t *testing.T) {
	g := graphWith(
		node(0, []uint64{3}, []uint64{1}, []uint64{0}),
		node(1, []uint64{0}, []uint64{2}, []uint64{1}),
		node(2, []uint64{1}, []uint64{3}, []uint64{2}),
		node(3, []uint64{2}, []uint64{0}, []uint64{3}),
	)
	want := graphWith(node(0, []uint64{0}, []uint64{0}, []uint64{0, 1, 2, 3}))
	compressAndApply(g)
	verify(t, g)
	assertGraphsEqual(t, g, want)
}

// 0   1
//  ↘ ↙
//   2
//   ↓
//   3
//  ↙ ↘
// 4   5
func TestCross(t *testing.T) {
	g := graphWith(
		node(0, nil, []uint64{2}, []uint64{0}),
		node(1, nil, []uint64{2}, []uint64{1}),
		node(2, []uint64{0, 1}, []uint64{3}, []uint64{2}),
		node(3, []uint64{2}, []uint64{4, 5}, []uint64{3}),
		node(4, []uint64{3}, nil, []uint64{4}),
		node(5, []uint64{3}, nil, []uint64{5}),
	)
	want := graphWith(
		node(0, nil, []uint64{2}, []uint64{0}),
		node(1, nil, []uint64{2}, []uint64{1}),
		node(2, []uint64{0, 1}, []uint64{4, 5}, []uint64{2, 3}),
		node(4, []uint64{2}, nil, []uint64{4}),
		node(5, []uint64{2}, nil, []uint64{5}),
	)
	compressAndApply(g)
	verify(t, g)
	assertGraphsEqual(t, g, want)
}

// 0   1
// ↓   ↓
// 2   3
//  ↘ ↙
//   4
func TestV(t *testing.T) {
	g := graphWith(
		node(0, nil, []uint64{2}, []uint64{0}),
		node(1, nil, []uint64{3}, []uint64{1}),
		node(2, []uint64{0}, []uint64{4}, []uint64{2}),
		node(3, []uint64{1}, []uint64{4}, []uint64{3}),
		node(4, []uint64{2, 3}, nil, []uint64{4}),
	)
	want := graphWith(
		node(0, nil, []uint64{4}, []uint64{0, 2}),
		node(1, nil, []uint64{4}, []uint64{1, 3}),
		node(4, []uint64{0, 1}, nil, []uint64{4}),
	)
	compressAndApply(g)
	verify(t, g)
	assertGraphsEqual(t, g, want)
}

func TestStraightLineHint(t *testing.T) {
	g := graphWith(
		node(0, nil, []uint64{1}, []uint64{0}),
		node(1, []uint64{0}, []uint64{2}, []uint64{1}),
		node(2, []uint64{1}, nil, []uint64{2}),
	)
	want := graphWith(node(0, nil, nil, []uint64{0, 1, 2}))
	g.CompressWithHint(SmallSetOf(0, 1))
	g.ApplyMerges()
	verify(t, g)
	assertGraphsEqual(t, g, want)
}

func TestDiamondOnStickHint(t *testing.T) {
	g := graphWith(
		node(0, []uint64{4}, []uint64{1, 2}, []uint64{0}),
		node(1, []uint64{0}, []uint64{3}, []uint64{1}),
		node(2, []uint64{0}, []uint64{3}, []uint64{2}),
		node(3, []uint64{1, 2}, nil, []uint64{3}),
		node(4, []uint64{5}, []uint64{0}, []uint64{4}),
		node(5, []uint64{6}, []uint64{4}, []uint64{5}),
		node(6, nil, []uint64{5}, []uint64{6}),
	)
	want := graphWith(
		node(0, nil, []uint64{1, 2}, []uint64{0, 4, 5, 6}),
		node(1, []uint64{0}, []uint64{3}, []uint64{1}),
		node(2, []uint64{0}, []uint64{3}, []uint64{2}),
		node(3, []uint64{1, 2}, nil, []uint64{3}),
	)
	g.CompressWithHint(SmallSetOf(5, 4))
	g.ApplyMerges()
	verify(t, g)
	assertGraphsEqual(t, g, want)
}

func TestCycleHint(t *testing.T) {
	g := graphWith(
		node(0, []uint64{3}, []uint64{1}, []uint64{0}),
		node(1, []uint64{0}, []uint64{2}, []uint64{1}),
		node(2, []uint64{1}, []uint64{3}, []uint64{2}),
		node(3, []uint64{2}, []uint64{0}, []uint64{3}),
	)
	want := graphWith(node(0, []uint64{0}, []uint64{0}, []uint64{0, 1, 2, 3}))
	g.CompressWithHint(SmallSetOf(0))
	g.ApplyMerges()
	verify(t, g)
	assertGraphsEqual(t, g, want)
}

// 0 → 1 → 2 then a new edge 0 → 3 forces a partial revert.
func TestIncrementalL(t *testing.T) {
	g := graphWith(
		node(0, nil, []uint64{1}, []uint64{0}),
		node(1, []uint64{0}, []uint64{2}, []uint64{1}),
		node(2, []uint64{1}, nil, []uint64{2}),
	)
	want1 := graphWith(node(0, nil, nil, []uint64{0, 1, 2}))
	want2 := graphWith(
		node(0, nil, []uint64{1, 3}, []uint64{0}),
		node(1, []uint64{0}, nil, []uint64{1, 2}),
		node(3, []uint64{0}, nil, []uint64{3}),
	)

	raw := g.Clone()
	compressAndApply(g)
	assertGraphsEqual(t, g, want1)

	raw.Update(0, 3)
	revert := g.RevertAndUpdate(raw, 0, 3)
	g.CompressWithHint(revert)
	g.ApplyMerges()
	assertGraphsEqual(t, g, want2)
}

func TestIncrementalGenerated(t *testing.T) {
	slow := NewGraph()
	fast := NewGraph()

	cycle := func(from, to uint64) {
		t.Helper()
		slow.Update(from, to)
		reverted := fast.RevertAndUpdate(slow, from, to)
		fast.CompressWithHint(reverted)

		fastApplied := fast.Clone()
		fastApplied.ApplyMerges()

		reference := slow.Clone()
		reference.Compress()
		reference.ApplyMerges()

		assertGraphsEqual(t, fastApplied, reference)
	}

	cycle(9, 8)
	cycle(0, 9)
	cycle(1, 8)
}

func TestUpdateIdempotent(t *testing.T) {
	g := NewGraph()
	if !g.Update(0, 1) {
		t.Fatal("first insert should report new")
	}
	if g.Update(0, 1) {
		t.Fatal("repeat insert should report not-new")
	}
	if g.Len() != 2 {
		t.Fatalf("want 2 nodes, got %d", g.Len())
	}
}

func TestEmptyGraph(t *testing.T) {
	g := NewGraph()
	if g.Len() != 0 || !g.IsEmpty() {
		t.Fatal("empty graph should be empty")
	}
	for range g.Edges() {
		t.Fatal("empty graph should have no edges")
	}
	g.Compress()
	g.ApplyMerges()
	if !g.IsEmpty() {
		t.Fatal("compression of empty graph should be a no-op")
	}
	if scc := g.ToStronglyConnectedComponentsTarjan(); !scc.IsEmpty() {
		t.Fatal("SCC of empty graph should be empty")
	}
}

func TestSingleSelfLoop(t *testing.T) {
	g := NewGraph()
	g.Update(0, 0)
	want := g.Clone()
	compressAndApply(g)
	assertGraphsEqual(t, g, want)

	scc := g.ToStronglyConnectedComponentsTarjan()
	if scc.Len() != 1 {
		t.Fatalf("want one SCC, got %d", scc.Len())
	}
	if !scc.Nodes[0].To.Contains(0) {
		t.Fatal("self-loop should survive SCC condensation")
	}
}

func TestLongLineCompressesToOneNode(t *testing.T) {
	const n = 30
	g := NewGraph()
	for i := uint64(0); i < n; i++ {
		g.Update(i, i+1)
	}
	compressAndApply(g)
	if g.Len() != 1 {
		t.Fatalf("want one node, got %d", g.Len())
	}
	root := g.Nodes[0]
	if root.Of.Len() != n+1 {
		t.Fatalf("want of-set of %d, got %d", n+1, root.Of.Len())
	}
	if !root.To.IsEmpty() || !root.From.IsEmpty() {
		t.Fatal("collapsed line should have no edges")
	}
}

func TestLongCycleCompressesToSelfLoop(t *testing.T) {
	const n = 12
	g := NewGraph()
	for i := uint64(0); i < n; i++ {
		g.Update(i, (i+1)%n)
	}
	compressAndApply(g)
	if g.Len() != 1 {
		t.Fatalf("want one node, got %d", g.Len())
	}
	root := g.Nodes[0]
	if !root.To.Contains(0) || !root.From.Contains(0) {
		t.Fatal("collapsed cycle should keep a self-loop")
	}
	if root.Of.Len() != n {
		t.Fatalf("want of-set of %d, got %d", n, root.Of.Len())
	}
}

// TestIncrementalMatchesBatch is the central compression property: for any
// edge sequence, the incremental path produces the same node map as a full
// compress from scratch. Run with -rapid.checks=10000 for a deep sweep.
func TestIncrementalMatchesBatch(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		slow := NewGraph()
		fast := NewGraph()

		steps := rapid.IntRange(1, 20).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			from := rapid.Uint64Range(0, 9).Draw(t, "from")
			to := rapid.Uint64Range(0, 9).Draw(t, "to")

			slow.Update(from, to)
			reverted := fast.RevertAndUpdate(slow, from, to)
			fast.CompressWithHint(reverted)

			fastApplied := fast.Clone()
			fastApplied.ApplyMerges()

			reference := slow.Clone()
			reference.Compress()
			reference.ApplyMerges()

			if !fastApplied.Equal(reference) {
				t.Fatalf("incremental diverged from batch\nincremental: %v\nbatch: %v",
					dumpGraph(fastApplied), dumpGraph(reference))
			}
		}
	})
}

// TestMergeConsistency: after update+ApplyMerges, every edge is mirrored.
func TestMergeConsistency(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		g := NewGraph()
		steps := rapid.IntRange(1, 20).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			g.Update(rapid.Uint64Range(0, 9).Draw(t, "from"), rapid.Uint64Range(0, 9).Draw(t, "to"))
		}
		g.Compress()
		g.ApplyMerges()
		for id, n := range g.Nodes {
			for v := range n.To.All() {
				if !g.Nodes[v].From.Contains(id) {
					t.Fatalf("edge %d->%d not mirrored", id, v)
				}
			}
			for v := range n.From.All() {
				if !g.Nodes[v].To.Contains(id) {
					t.Fatalf("edge %d<-%d not mirrored", id, v)
				}
			}
		}
	})
}

// Self-loop preservation: merging mutual predecessors keeps a self-loop,
// merging a plain chain link does not introduce one.
func TestMergePreservesSelfLoop(t *testing.T) {
	g := NewGraph()
	g.Update(0, 1)
	g.Update(1, 0)
	g.MergeNodes(0, 1)
	survivor := g.Nodes[0]
	if !survivor.To.Contains(0) || !survivor.From.Contains(0) {
		t.Fatal("mutual predecessors should merge into a self-loop")
	}

	h := NewGraph()
	h.Update(0, 1)
	h.MergeNodes(0, 1)
	if h.Nodes[0].To.Contains(0) {
		t.Fatal("plain chain merge should not introduce a self-loop")
	}
}

func TestMergeNodesSurvivorIsMin(t *testing.T) {
	g := NewGraph()
	g.Update(5, 3)
	if got := g.MergeNodes(5, 3); got != 3 {
		t.Fatalf("survivor should be min id, got %d", got)
	}
	if _, ok := g.Nodes[5]; ok {
		t.Fatal("absorbed node should be gone")
	}
	if g.Translate(5) != 3 {
		t.Fatal("absorbed id should translate to survivor")
	}
}
