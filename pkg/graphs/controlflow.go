package graphs

import (
	"fmt"
	"strings"
	"time"

	"github.com/vanderheijden86/amba/pkg/ipc"
	"github.com/vanderheijden86/amba/pkg/metrics"
)

// ControlFlowGraph wraps a raw graph and its incrementally maintained
// compressed quotient. Node metadata is interned to dense ids on first
// sight; the ids index Metadata.
type ControlFlowGraph struct {
	Graph           *Graph
	CompressedGraph *Graph

	Metadata  []ipc.NodeMetadata
	metaToIdx map[string]uint64

	updates        int
	rebuilds       int
	createdAt      time.Time
	rebuildingTime time.Duration
}

// NewControlFlowGraph returns an empty control flow graph.
func NewControlFlowGraph() *ControlFlowGraph {
	return &ControlFlowGraph{
		Graph:           NewGraph(),
		CompressedGraph: NewGraph(),
		metaToIdx:       make(map[string]uint64),
		createdAt:       time.Now(),
	}
}

// ControlFlowGraphFromEdges builds a graph from a metadata edge list.
func ControlFlowGraphFromEdges(edges []ipc.Edge) *ControlFlowGraph {
	cfg := NewControlFlowGraph()
	for _, e := range edges {
		cfg.Update(e.From, e.To)
	}
	return cfg
}

// Update inserts a metadata edge. Returns true if the connection is new.
// New edges are propagated to the compressed graph through
// RevertAndUpdate + CompressWithHint.
func (c *ControlFlowGraph) Update(fromMeta, toMeta ipc.NodeMetadata) bool {
	from := c.internMetadata(fromMeta)
	to := c.internMetadata(toMeta)

	start := time.Now()
	modified := c.Graph.Update(from, to)
	c.updates++

	// Only edit the compressed graph if this was a new link.
	if modified {
		reverted := c.CompressedGraph.RevertAndUpdate(c.Graph, from, to)
		c.rebuilds++
		c.CompressedGraph.CompressWithHint(reverted)
	}

	elapsed := time.Since(start)
	c.rebuildingTime += elapsed
	metrics.GraphRebuild.Record(elapsed)
	return modified
}

func (c *ControlFlowGraph) internMetadata(meta ipc.NodeMetadata) uint64 {
	key := meta.Key()
	if idx, ok := c.metaToIdx[key]; ok {
		return idx
	}
	idx := uint64(len(c.Metadata))
	c.Metadata = append(c.Metadata, meta)
	c.metaToIdx[key] = idx
	return idx
}

// Updates returns the number of Update calls.
func (c *ControlFlowGraph) Updates() int { return c.updates }

// Rebuilds returns how many updates caused a compressed-graph rebuild.
func (c *ControlFlowGraph) Rebuilds() int { return c.rebuilds }

// RebuildingTime returns the cumulative time spent updating graphs.
func (c *ControlFlowGraph) RebuildingTime() time.Duration { return c.rebuildingTime }

// GetRawMetadataAndSelfedgeAndSequentialEdges exports the raw graph:
// per-node metadata, a per-node self-edge flag and the edge list, all
// indexed 0..n. Raw ids are already dense, so no renaming happens.
func (c *ControlFlowGraph) GetRawMetadataAndSelfedgeAndSequentialEdges() ([]ipc.NodeMetadata, []bool, [][2]int) {
	metadata := make([]ipc.NodeMetadata, len(c.Metadata))
	copy(metadata, c.Metadata)

	selfEdge := make([]bool, len(c.Metadata))
	for idx := range selfEdge {
		selfEdge[idx] = c.Graph.Nodes[uint64(idx)].To.Contains(uint64(idx))
	}

	var edges [][2]int
	for from, to := range c.Graph.Edges() {
		edges = append(edges, [2]int{int(from), int(to)})
	}
	return metadata, selfEdge, edges
}

// GetCompressedMetadataAndSelfedgeAndSequentialEdges exports the compressed
// graph re-indexed 0..n. Each compressed node's metadata is the merged
// value built from its component blocks in of-iteration order. Panics if a
// component is not basic-block metadata.
func (c *ControlFlowGraph) GetCompressedMetadataAndSelfedgeAndSequentialEdges() ([]ipc.NodeMetadata, []bool, [][2]int) {
	// Iterating in increasing-id order is crucial: the renaming below must
	// match the metadata element order.
	ids := c.CompressedGraph.SortedIDs()
	renaming := make(map[uint64]int, len(ids))
	for i, id := range ids {
		renaming[id] = i
	}

	metadata := make([]ipc.NodeMetadata, 0, len(ids))
	selfEdge := make([]bool, 0, len(ids))
	for _, id := range ids {
		node := c.CompressedGraph.Nodes[id]
		metadata = append(metadata, c.mergeComponentMetadata(&node.Of))
		selfEdge = append(selfEdge, node.To.Contains(id))
	}

	var edges [][2]int
	for from, to := range c.CompressedGraph.Edges() {
		edges = append(edges, [2]int{renaming[from], renaming[to]})
	}
	return metadata, selfEdge, edges
}

// mergeComponentMetadata concatenates the basic-block fields of every raw
// node in the component, in of-iteration order.
func (c *ControlFlowGraph) mergeComponentMetadata(of *SmallSet) ipc.NodeMetadata {
	merged := &ipc.CompressedBasicBlock{}
	for idx := range of.All() {
		block, ok := c.Metadata[idx].(*ipc.BasicBlock)
		if !ok {
			panic("graphs: basic block graph contained non-basic-block metadata")
		}
		merged.SymbolicStateIDs = append(merged.SymbolicStateIDs, block.SymbolicStateID)
		merged.VAddrs = append(merged.VAddrs, block.VAddr)
		merged.Generations = append(merged.Generations, block.Generation)
		merged.ELFVAddrs = append(merged.ELFVAddrs, block.ELFVAddr)
		merged.Contents = append(merged.Contents, block.Content)
	}
	return merged
}

// String renders a statistics block for debugging overlays.
func (c *ControlFlowGraph) String() string {
	var (
		compressedFrom int
		rawFrom        int
		maxConnections int
		compressedTo   int
	)
	for _, n := range c.CompressedGraph.Nodes {
		compressedFrom += n.From.Len()
		compressedTo += n.To.Len()
		maxConnections = max(maxConnections, max(n.From.Len(), n.To.Len()))
	}
	for _, n := range c.Graph.Nodes {
		rawFrom += n.From.Len()
	}
	compressedLen := max(c.CompressedGraph.Len(), 1)

	var b strings.Builder
	fmt.Fprintf(&b, "Nodes: %d (%d)\n", c.CompressedGraph.Len(), c.Graph.Len())
	fmt.Fprintf(&b, "Edges: %d (%d)\n", compressedFrom, rawFrom)
	fmt.Fprintf(&b, "Connections: Avg from: %.2f, Avg to: %.2f, Max: %d\n",
		float64(compressedFrom)/float64(compressedLen),
		float64(compressedTo)/float64(compressedLen),
		maxConnections)
	fmt.Fprintf(&b, "Updates: %d\n", c.updates)
	fmt.Fprintf(&b, "Rebuilds: %d\n", c.rebuilds)
	fmt.Fprintf(&b, "Lifetime: %v\n", time.Since(c.createdAt).Round(time.Millisecond))
	fmt.Fprintf(&b, "Time spent rebuilding: %v", c.rebuildingTime.Round(time.Microsecond))
	return b.String()
}
