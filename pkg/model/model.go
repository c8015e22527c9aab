// Package model owns every graph the analyser maintains and mediates
// between the three parties touching them: the IPC ingest path, the
// embedder, and the GUI.
//
// Locking discipline: a model-wide single-writer mutex serialises all
// mutation (edge ingest and layout steps). Each graph additionally sits
// behind its own RWMutex so the GUI can read one graph while a writer
// replaces another. EmbeddingParameters has its own mutex and may be
// written by anyone at any time.
package model

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vanderheijden86/amba/pkg/disasm"
	"github.com/vanderheijden86/amba/pkg/graphs"
	"github.com/vanderheijden86/amba/pkg/ipc"
	"github.com/vanderheijden86/amba/pkg/layout"
	"github.com/vanderheijden86/amba/pkg/metrics"
)

// GraphToView selects which of the five maintained views the GUI displays.
type GraphToView uint32

const (
	RawBlock GraphToView = iota
	CompressedBlock
	StateGraph
	MergedBlock
	CompressedMergedBlock
)

// AllGraphsToView lists every view, in display order.
func AllGraphsToView() []GraphToView {
	return []GraphToView{RawBlock, CompressedBlock, StateGraph, MergedBlock, CompressedMergedBlock}
}

func (g GraphToView) String() string {
	switch g {
	case RawBlock:
		return "Raw Basic Block Graph"
	case CompressedBlock:
		return "Compressed Block Graph"
	case StateGraph:
		return "State Graph"
	case MergedBlock:
		return "Merged Basic Block Graph"
	case CompressedMergedBlock:
		return "Compressed Merged Basic Block Graph"
	default:
		panic(fmt.Sprintf("model: invalid view %d", uint32(g)))
	}
}

type lockedCFG struct {
	mu  sync.RWMutex
	cfg *graphs.ControlFlowGraph
}

type lockedGraph2D struct {
	mu sync.RWMutex
	g  *layout.Graph2D
}

// Model is shared between the controller, embedder and GUI threads.
type Model struct {
	blockControlFlow  lockedCFG
	mergedControlFlow lockedCFG
	stateControlFlow  lockedCFG

	rawStateGraph              lockedGraph2D
	rawBlockGraph              lockedGraph2D
	compressedBlockGraph       lockedGraph2D
	mergedBlockGraph           lockedGraph2D
	mergedCompressedBlockGraph lockedGraph2D

	paramsMu sync.Mutex
	params   layout.EmbeddingParameters

	graphToView atomic.Uint32

	// singleWriter serialises every mutating action on the model,
	// excluding params which anyone may write.
	singleWriter sync.Mutex

	disasmContext disasm.Context
}

// New returns an empty model labelling blocks through dc.
func New(dc disasm.Context) *Model {
	m := &Model{
		params:        layout.DefaultParameters(),
		disasmContext: dc,
	}
	m.blockControlFlow.cfg = graphs.NewControlFlowGraph()
	m.mergedControlFlow.cfg = graphs.NewControlFlowGraph()
	m.stateControlFlow.cfg = graphs.NewControlFlowGraph()
	m.rawStateGraph.g = layout.Empty()
	m.rawBlockGraph.g = layout.Empty()
	m.compressedBlockGraph.g = layout.Empty()
	m.mergedBlockGraph.g = layout.Empty()
	m.mergedCompressedBlockGraph.g = layout.Empty()
	return m
}

// AddNewEdges applies one ingest batch to all control flow graphs and
// regenerates the dependent 2D shells, preserving layout positions.
// State edges are applied before block edges.
func (m *Model) AddNewEdges(stateEdges, blockEdges []ipc.Edge) {
	m.singleWriter.Lock()
	defer m.singleWriter.Unlock()

	metrics.StateEdgesIngested.Add(int64(len(stateEdges)))
	metrics.BlockEdgesIngested.Add(int64(len(blockEdges)))

	{
		m.stateControlFlow.mu.Lock()
		cfg := m.stateControlFlow.cfg
		for _, e := range stateEdges {
			cfg.Update(e.From, e.To)
		}
		nodes, edges := m.stateDrawingData(cfg)
		m.stateControlFlow.mu.Unlock()

		m.rawStateGraph.mu.Lock()
		m.rawStateGraph.g.SeededReplaceSelfWith(nodes, edges)
		m.rawStateGraph.mu.Unlock()
	}

	{
		m.blockControlFlow.mu.Lock()
		m.mergedControlFlow.mu.Lock()
		blockCFG := m.blockControlFlow.cfg
		mergedCFG := m.mergedControlFlow.cfg
		for _, e := range blockEdges {
			blockCFG.Update(e.From, e.To)
			mergedCFG.Update(ipc.ResetState(e.From), ipc.ResetState(e.To))
		}

		rawNodes, rawEdges := m.rawBlockDrawingData(blockCFG)
		mergedNodes, mergedEdges := m.rawBlockDrawingData(mergedCFG)
		compressedNodes, compressedEdges := m.compressedBlockDrawingData(blockCFG)
		mergedCompressedNodes, mergedCompressedEdges := m.compressedBlockDrawingData(mergedCFG)
		m.mergedControlFlow.mu.Unlock()
		m.blockControlFlow.mu.Unlock()

		replace := func(l *lockedGraph2D, nodes []layout.NodeDrawingData, edges [][2]int) {
			l.mu.Lock()
			l.g.SeededReplaceSelfWith(nodes, edges)
			l.mu.Unlock()
		}
		replace(&m.rawBlockGraph, rawNodes, rawEdges)
		replace(&m.mergedBlockGraph, mergedNodes, mergedEdges)
		replace(&m.compressedBlockGraph, compressedNodes, compressedEdges)
		replace(&m.mergedCompressedBlockGraph, mergedCompressedNodes, mergedCompressedEdges)
	}
}

func (m *Model) stateDrawingData(cfg *graphs.ControlFlowGraph) ([]layout.NodeDrawingData, [][2]int) {
	metadata, selfEdge, edges := cfg.GetRawMetadataAndSelfedgeAndSequentialEdges()
	nodes := make([]layout.NodeDrawingData, len(metadata))
	for i, meta := range metadata {
		nodes[i] = layout.NodeDrawingData{
			Lod: buildLodText(meta, selfEdge[i], m.disasmContext),
		}
	}
	return nodes, edges
}

func (m *Model) rawBlockDrawingData(cfg *graphs.ControlFlowGraph) ([]layout.NodeDrawingData, [][2]int) {
	metadata, selfEdge, edges := cfg.GetRawMetadataAndSelfedgeAndSequentialEdges()
	sccGroups := sccGroups(cfg.Graph)
	nodes := make([]layout.NodeDrawingData, len(metadata))
	for i, meta := range metadata {
		block, ok := meta.(*ipc.BasicBlock)
		if !ok {
			panic("model: block graph contained non-basic-block metadata")
		}
		nodes[i] = layout.NodeDrawingData{
			State:    int(block.SymbolicStateID),
			SCCGroup: sccGroups[uint64(i)],
			Lod:      buildLodText(meta, selfEdge[i], m.disasmContext),
		}
	}
	return nodes, edges
}

func (m *Model) compressedBlockDrawingData(cfg *graphs.ControlFlowGraph) ([]layout.NodeDrawingData, [][2]int) {
	metadata, selfEdge, edges := cfg.GetCompressedMetadataAndSelfedgeAndSequentialEdges()
	sccGroups := sccGroups(cfg.CompressedGraph)
	ids := cfg.CompressedGraph.SortedIDs()
	nodes := make([]layout.NodeDrawingData, len(metadata))
	for i, meta := range metadata {
		block, ok := meta.(*ipc.CompressedBasicBlock)
		if !ok {
			panic("model: compressed block graph contained non-compressed metadata")
		}
		state := 0
		if len(block.SymbolicStateIDs) > 0 {
			state = int(block.SymbolicStateIDs[0])
		}
		nodes[i] = layout.NodeDrawingData{
			State:    state,
			SCCGroup: sccGroups[ids[i]],
			Lod:      buildLodText(meta, selfEdge[i], m.disasmContext),
		}
	}
	return nodes, edges
}

// sccGroups maps each node id to a dense SCC group index.
func sccGroups(g *graphs.Graph) map[uint64]int {
	defer metrics.Timer(metrics.SCCCompute)()
	scc := g.ToStronglyConnectedComponentsTarjan()
	groups := make(map[uint64]int, g.Len())
	for i, id := range scc.SortedIDs() {
		for member := range scc.Nodes[id].Of.All() {
			groups[member] = i
		}
	}
	return groups
}

// layoutSubsteps is the batch size for one embedder pass.
const layoutSubsteps = 100

// RunLayoutIterations advances the currently viewed graph by one layout
// batch and reports convergence. The working copy runs outside the graph's
// lock; only the final swap holds it.
func (m *Model) RunLayoutIterations() layout.Convergence {
	m.paramsMu.Lock()
	params := m.params
	m.paramsMu.Unlock()

	view := GraphToView(m.graphToView.Load())

	m.singleWriter.Lock()
	timer := time.Now()
	locked := m.lockedGraphFor(view)

	locked.mu.RLock()
	working := locked.g.Clone()
	locked.mu.RUnlock()

	working.SetParams(params)
	converged := working.RunLayoutIterations(layoutSubsteps)

	locked.mu.Lock()
	locked.g = working
	locked.mu.Unlock()
	m.singleWriter.Unlock()

	updatesPerSecond := 0.0
	if !converged.IsConverged() {
		if elapsed := time.Since(timer).Seconds(); elapsed > 0 {
			updatesPerSecond = 1 / elapsed
		}
	}
	m.paramsMu.Lock()
	m.params.StatisticUpdatesPerSecond = layoutSubsteps * updatesPerSecond
	m.paramsMu.Unlock()

	return converged
}

func (m *Model) lockedGraphFor(view GraphToView) *lockedGraph2D {
	switch view {
	case RawBlock:
		return &m.rawBlockGraph
	case CompressedBlock:
		return &m.compressedBlockGraph
	case StateGraph:
		return &m.rawStateGraph
	case MergedBlock:
		return &m.mergedBlockGraph
	case CompressedMergedBlock:
		return &m.mergedCompressedBlockGraph
	default:
		panic(fmt.Sprintf("model: invalid view %d", uint32(view)))
	}
}

// GuiSetGraphToView records which view the GUI is displaying; the embedder
// only advances that one.
func (m *Model) GuiSetGraphToView(which GraphToView) {
	m.graphToView.Store(uint32(which))
}

// GuiGraphToView returns the currently selected view.
func (m *Model) GuiGraphToView() GraphToView {
	return GraphToView(m.graphToView.Load())
}

// GuiGetGraph returns the latest snapshot of the requested view. The
// returned graph is replaced, never mutated, by writers: treat it as
// read-only and re-fetch to observe progress.
func (m *Model) GuiGetGraph(which GraphToView) *layout.Graph2D {
	m.GuiSetGraphToView(which)
	locked := m.lockedGraphFor(which)
	locked.mu.RLock()
	defer locked.mu.RUnlock()
	return locked.g
}

// GuiLockParams runs fn with exclusive access to the embedding parameters.
func (m *Model) GuiLockParams(fn func(*layout.EmbeddingParameters)) {
	m.paramsMu.Lock()
	defer m.paramsMu.Unlock()
	fn(&m.params)
}

// GuiParams returns a copy of the embedding parameters.
func (m *Model) GuiParams() layout.EmbeddingParameters {
	m.paramsMu.Lock()
	defer m.paramsMu.Unlock()
	return m.params
}

// GuiGetNodeDescription renders the metadata of one node of a view.
func (m *Model) GuiGetNodeDescription(which GraphToView, nodeIndex int) string {
	var meta ipc.NodeMetadata
	switch which {
	case RawBlock, MergedBlock:
		locked := m.blockCFGFor(which)
		locked.mu.RLock()
		if nodeIndex < len(locked.cfg.Metadata) {
			meta = locked.cfg.Metadata[nodeIndex]
		}
		locked.mu.RUnlock()
	case CompressedBlock, CompressedMergedBlock:
		locked := m.blockCFGFor(which)
		locked.mu.RLock()
		metadata, _, _ := locked.cfg.GetCompressedMetadataAndSelfedgeAndSequentialEdges()
		if nodeIndex < len(metadata) {
			meta = metadata[nodeIndex]
		}
		locked.mu.RUnlock()
	case StateGraph:
		m.stateControlFlow.mu.RLock()
		if nodeIndex < len(m.stateControlFlow.cfg.Metadata) {
			meta = m.stateControlFlow.cfg.Metadata[nodeIndex]
		}
		m.stateControlFlow.mu.RUnlock()
	}
	if meta == nil {
		return fmt.Sprintf("%d: <unknown node>", nodeIndex)
	}
	return fmt.Sprintf("%d: %s", nodeIndex, meta.Describe())
}

func (m *Model) blockCFGFor(which GraphToView) *lockedCFG {
	switch which {
	case MergedBlock, CompressedMergedBlock:
		return &m.mergedControlFlow
	default:
		return &m.blockControlFlow
	}
}

// GetNeighbourStates returns the s2e state ids reachable forward from the
// given state-graph node, including the start, sorted ascending.
func (m *Model) GetNeighbourStates(priorityNode int) []int32 {
	m.stateControlFlow.mu.RLock()
	defer m.stateControlFlow.mu.RUnlock()
	cfg := m.stateControlFlow.cfg

	states := make(map[int32]struct{})
	visited := make(map[uint64]struct{})
	stack := []uint64{uint64(priorityNode)}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[idx]; ok {
			continue
		}
		visited[idx] = struct{}{}
		state, ok := cfg.Metadata[idx].(*ipc.State)
		if !ok {
			panic("model: state graph contained non-state metadata")
		}
		states[state.S2EStateID] = struct{}{}
		for link := range cfg.Graph.Nodes[idx].To.All() {
			stack = append(stack, link)
		}
	}

	out := make([]int32, 0, len(states))
	for s := range states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StateControlFlowStats renders the state CFG statistics block.
func (m *Model) StateControlFlowStats() string {
	m.stateControlFlow.mu.RLock()
	defer m.stateControlFlow.mu.RUnlock()
	return m.stateControlFlow.cfg.String()
}

// BlockControlFlowStats renders the block CFG statistics block.
func (m *Model) BlockControlFlowStats() string {
	m.blockControlFlow.mu.RLock()
	defer m.blockControlFlow.mu.RUnlock()
	return m.blockControlFlow.cfg.String()
}
