package graphs

// The two SCC views below must agree exactly (same of-groups, same
// inter-group edges) for any input; the property tests compare them.

// sccWorkerEdgeThreshold is the edge count above which the Tarjan traversal
// runs on its own goroutine, so the working memory it grows is handed back
// to the runtime as soon as the traversal exits.
const sccWorkerEdgeThreshold = 10_000

// ToStronglyConnectedComponentsTarjan returns a new graph whose nodes are
// the strongly connected components of g and whose edges are the inter-SCC
// edges (plus the self-loop of a single-node component that has one),
// computed with Tarjan's algorithm.
func (g *Graph) ToStronglyConnectedComponentsTarjan() *Graph {
	if g.EdgeCount() > sccWorkerEdgeThreshold {
		ch := make(chan *Graph, 1)
		go func() {
			ch <- connectDAG(g.tarjan())
		}()
		return <-ch
	}
	return connectDAG(g.tarjan())
}

// ToStronglyConnectedComponentsKosaraju is the Kosaraju counterpart of
// ToStronglyConnectedComponentsTarjan.
func (g *Graph) ToStronglyConnectedComponentsKosaraju() *Graph {
	return connectDAG(g.kosaraju())
}

type tarjanMeta struct {
	index   uint64
	lowLink uint64
	onStack bool
}

// tarjan finds the strongly connected components, returned as a map from a
// component root to the merged node. The traversal keeps its own frame stack
// instead of recursing, so graph depth never threatens the call stack.
func (g *Graph) tarjan() map[uint64]*Node {
	var (
		index       uint64
		stack       []uint64
		translation = make(map[uint64]*tarjanMeta, len(g.Nodes))
		out         = make(map[uint64]*Node)
	)

	type frame struct {
		v         uint64
		neighbors []uint64
		next      int
	}

	discover := func(v uint64) {
		translation[v] = &tarjanMeta{index: index, lowLink: index, onStack: true}
		index++
		stack = append(stack, v)
	}

	strongConnect := func(root uint64) {
		discover(root)
		frames := []frame{{v: root, neighbors: g.Nodes[root].To.Values()}}
		for len(frames) > 0 {
			f := &frames[len(frames)-1]
			if f.next < len(f.neighbors) {
				w := f.neighbors[f.next]
				f.next++
				switch meta := translation[w]; {
				case meta == nil:
					discover(w)
					frames = append(frames, frame{v: w, neighbors: g.Nodes[w].To.Values()})
				case meta.onStack:
					vMeta := translation[f.v]
					vMeta.lowLink = min(vMeta.lowLink, meta.index)
				}
				continue
			}

			v := f.v
			vMeta := translation[v]
			if vMeta.index == vMeta.lowLink {
				newNode := &Node{ID: v}
				for len(stack) > 0 {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					translation[w].onStack = false

					old := g.Nodes[w]
					newNode.Of.Insert(w)
					newNode.From.Union(&old.From)
					newNode.To.Union(&old.To)
					newNode.ID = min(newNode.ID, old.ID)

					if v == w {
						break
					}
				}
				out[v] = newNode
			}
			frames = frames[:len(frames)-1]
			if len(frames) > 0 {
				parent := translation[frames[len(frames)-1].v]
				parent.lowLink = min(parent.lowLink, vMeta.lowLink)
			}
		}
	}

	for _, id := range g.SortedIDs() {
		if translation[id] == nil {
			strongConnect(id)
		}
	}

	return out
}

// kosaraju finds the strongly connected components with Kosaraju's
// algorithm: a forward postorder pass, then assignment along reversed edges.
func (g *Graph) kosaraju() map[uint64]*Node {
	var order []uint64 // reverse of wikipedia's L
	visited := make(map[uint64]struct{}, len(g.Nodes))
	assigned := make(map[uint64]struct{}, len(g.Nodes))
	acc := make(map[uint64]*Node)

	type frame struct {
		u         uint64
		neighbors []uint64
		next      int
	}

	visit := func(start uint64) {
		if _, ok := visited[start]; ok {
			return
		}
		visited[start] = struct{}{}
		frames := []frame{{u: start, neighbors: g.Nodes[start].To.Values()}}
		for len(frames) > 0 {
			f := &frames[len(frames)-1]
			if f.next < len(f.neighbors) {
				v := f.neighbors[f.next]
				f.next++
				if _, ok := visited[v]; !ok {
					visited[v] = struct{}{}
					frames = append(frames, frame{u: v, neighbors: g.Nodes[v].To.Values()})
				}
				continue
			}
			order = append(order, f.u)
			frames = frames[:len(frames)-1]
		}
	}

	assign := func(start, root uint64) {
		pending := []uint64{start}
		for len(pending) > 0 {
			u := pending[len(pending)-1]
			pending = pending[:len(pending)-1]
			if _, ok := assigned[u]; ok {
				continue
			}
			assigned[u] = struct{}{}
			uRef := g.Nodes[u]
			if node, ok := acc[root]; ok {
				node.Of.Union(&uRef.Of)
				node.To.Union(&uRef.To)
				node.From.Union(&uRef.From)
				node.ID = min(node.ID, u)
			} else {
				acc[root] = uRef.Clone()
			}
			pending = append(pending, acc[root].From.Values()...)
		}
	}

	for _, u := range g.SortedIDs() {
		visit(u)
	}
	for i := len(order) - 1; i >= 0; i-- {
		assign(order[i], order[i])
	}

	return acc
}

// connectDAG rebuilds a Graph from SCC nodes: every member id is renamed to
// its component's id and intra-component edges are dropped, except that a
// single-node component keeps its own self-loop.
func connectDAG(components map[uint64]*Node) *Graph {
	newIDs := make(map[uint64]uint64)
	ids := make(map[uint64]struct{}, len(components))
	for _, n := range components {
		ids[n.ID] = struct{}{}
		for member := range n.Of.All() {
			newIDs[member] = n.ID
		}
	}

	out := NewGraph()
	for _, n := range components {
		remap := func(s *SmallSet) SmallSet {
			var r SmallSet
			for v := range s.All() {
				mapped := newIDs[v]
				if mapped == n.ID && n.Of.Len() > 1 {
					continue
				}
				if _, ok := ids[mapped]; !ok {
					continue
				}
				r.Insert(mapped)
			}
			return r
		}
		out.Nodes[n.ID] = &Node{
			ID:   n.ID,
			From: remap(&n.From),
			To:   remap(&n.To),
			Of:   n.Of.Clone(),
		}
	}
	return out
}
