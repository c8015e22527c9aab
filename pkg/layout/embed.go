package layout

import (
	"math"
	"math/rand/v2"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/vanderheijden86/amba/pkg/debug"
	"github.com/vanderheijden86/amba/pkg/metrics"
)

// EmbeddingParameters are the user-tunable force coefficients, plus the
// updates-per-second statistic reported back to the GUI.
type EmbeddingParameters struct {
	Noise      float64
	Attraction float64
	Repulsion  float64
	Gravity    float64

	StatisticUpdatesPerSecond float64
}

// Slider bounds for the GUI.
const (
	MaxNoise      = 20.0
	MaxAttraction = 0.2
	MaxRepulsion  = 2.0
	MaxGravity    = 2.0
)

// DefaultParameters returns the starting coefficients.
func DefaultParameters() EmbeddingParameters {
	return EmbeddingParameters{
		Noise:                     0.0,
		Attraction:                0.1,
		Repulsion:                 1.0,
		Gravity:                   0.5,
		StatisticUpdatesPerSecond: 1.0,
	}
}

// Convergence reports whether a layout batch finished the embedding.
type Convergence int

const (
	NotConverged Convergence = iota
	Converged
)

// AndAlso combines batch results: converged only if both converged.
func (c Convergence) AndAlso(other Convergence) Convergence {
	if c == Converged {
		return other
	}
	return NotConverged
}

// IsConverged reports whether c is Converged.
func (c Convergence) IsConverged() bool { return c == Converged }

const (
	barnesHutCutoff            = 0.1
	iterationsPerLevel         = 10
	maxRepulsionApproximation  = 0.6
	maxTimeStep                = 1.0
	stepRepulsionApproximation = 0.1
	stepTimeStep               = 0.1
)

// Graph2D embeds a node/edge list in the plane. A replaced copy is cheap to
// clone, so the embedder works on a working copy and swaps it in whole.
type Graph2D struct {
	NodePositions []r2.Vec
	DrawingData   []NodeDrawingData
	Edges         [][2]int
	Min           r2.Vec
	Max           r2.Vec

	// Convergence state machine.
	params                  EmbeddingParameters
	repulsionApproximation  float64
	timeStep                float64
	bestPotentialEnergy     float64
	iterationsSinceImproved int
}

// Empty returns a graph with no nodes.
func Empty() *Graph2D {
	return &Graph2D{
		params:                 DefaultParameters(),
		repulsionApproximation: maxRepulsionApproximation,
		timeStep:               maxTimeStep,
		bestPotentialEnergy:    math.Inf(1),
	}
}

// New lays out the given nodes from scratch.
func New(nodes []NodeDrawingData, edges [][2]int) *Graph2D {
	if len(nodes) == 0 {
		return Empty()
	}
	g := Empty()
	g.NodePositions = initialNodePositions(len(nodes), edges)
	g.DrawingData = nodes
	g.Edges = edges
	return g
}

// Clone returns a deep copy.
func (g *Graph2D) Clone() *Graph2D {
	out := *g
	out.NodePositions = slices.Clone(g.NodePositions)
	out.DrawingData = slices.Clone(g.DrawingData)
	out.Edges = slices.Clone(g.Edges)
	return &out
}

// Params returns the parameters currently steering the embedding.
func (g *Graph2D) Params() EmbeddingParameters { return g.params }

// RepulsionApproximation returns the current Barnes-Hut θ.
func (g *Graph2D) RepulsionApproximation() float64 { return g.repulsionApproximation }

// TimeStep returns the current Δt.
func (g *Graph2D) TimeStep() float64 { return g.timeStep }

// SetParams installs new parameters, resetting the convergence state
// machine when they differ materially from the current ones.
func (g *Graph2D) SetParams(params EmbeddingParameters) {
	params.StatisticUpdatesPerSecond = 1.0
	if g.params == params {
		return
	}
	g.params = params
	g.repulsionApproximation = maxRepulsionApproximation
	g.timeStep = maxTimeStep
	g.bestPotentialEnergy = math.Inf(1)
	g.iterationsSinceImproved = 0
}

// SeededReplaceSelfWith is equivalent to *g = *New(nodes, edges) with a
// better initial guess: positions of the first min(old, new) nodes carry
// over, slightly jittered.
func (g *Graph2D) SeededReplaceSelfWith(nodes []NodeDrawingData, edges [][2]int) {
	old := g.NodePositions
	*g = *New(nodes, edges)

	shared := min(len(old), len(g.NodePositions))
	copy(g.NodePositions[:shared], old[:shared])

	const initialNoise = 0.1
	rng := rand.New(rand.NewPCG(0, 0))
	for i := range g.NodePositions {
		g.NodePositions[i] = r2.Add(g.NodePositions[i], r2.Scale(initialNoise, randomVec(rng)))
	}
}

// initialNodePositions spreads nodes by their depth from node 0, jittered.
func initialNodePositions(nodeCount int, edges [][2]int) []r2.Vec {
	rng := rand.New(rand.NewPCG(0, 0))

	adjacency := make([][]int, nodeCount)
	for _, e := range edges {
		adjacency[e[0]] = append(adjacency[e[0]], e[1])
	}

	depth := make([]int, nodeCount)
	for i := range depth {
		depth[i] = -1
	}
	depth[0] = 0
	queue := []int{0}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		for _, e := range adjacency[i] {
			if depth[e] == -1 {
				depth[e] = depth[i] + 1
				queue = append(queue, e)
			}
		}
	}

	positions := make([]r2.Vec, nodeCount)
	for i, d := range depth {
		positions[i] = r2.Scale(float64(d), r2.Add(randomVec(rng), r2.Vec{Y: 1}))
	}
	return positions
}

// RunLayoutIterations advances the embedding by a batch of iterations and
// reports whether the state machine considers the layout converged.
func (g *Graph2D) RunLayoutIterations(iterations int) Convergence {
	if len(g.NodePositions) == 0 {
		return Converged
	}
	defer metrics.Timer(metrics.LayoutBatch)()

	n := len(g.NodePositions)
	velocity := make([]r2.Vec, n)
	accel := make([]r2.Vec, n)
	treeBuf := make([]barnesHutNode, 2*nextPowerOfTwo(n))
	scratch := make([]r2.Vec, n)
	potentialEnergy := 0.0

	for i := iterations - 1; i >= 0; i-- {
		temperature := float64(i) / float64(iterations)
		temperature *= temperature

		for j := range accel {
			accel[j] = r2.Vec{}
		}

		// Edges attract with F ∝ D^1.2.
		for _, e := range g.Edges {
			const edgeAttractExponent = 0.2
			delta := r2.Sub(g.NodePositions[e[1]], g.NodePositions[e[0]])
			scale := math.Pow(r2.Norm(delta), edgeAttractExponent)
			// F = k D^1.2
			push := r2.Scale(g.params.Attraction*scale, delta)
			accel[e[0]] = r2.Add(accel[e[0]], push)
			accel[e[1]] = r2.Sub(accel[e[1]], push)
			// E = k D^2.2 / 2.2
			potentialEnergy += g.params.Attraction * r2.Norm2(delta) * scale / (2.0 + edgeAttractExponent)
		}

		// Nodes repel with F ∝ D^-2.
		if g.repulsionApproximation > barnesHutCutoff {
			copy(scratch, g.NodePositions)
			buildBarnesHut(treeBuf, scratch)
			approx2 := g.repulsionApproximation * g.repulsionApproximation
			potentialEnergy += g.parallelNodes(func(j int) float64 {
				pe := 0.0
				force := barnesHutForceOn(g.NodePositions[j], treeBuf, approx2, &pe)
				accel[j] = r2.Add(accel[j], r2.Scale(g.params.Repulsion, force))
				return pe
			})
		} else {
			potentialEnergy += g.parallelNodes(func(j int) float64 {
				pe := 0.0
				aPos := g.NodePositions[j]
				for _, bPos := range g.NodePositions {
					aToB := r2.Sub(bPos, aPos)
					aToBLen := r2.Norm(aToB)
					// F = k D / (1 + D³)
					push := r2.Scale(g.params.Repulsion/(1+aToBLen*aToBLen*aToBLen), aToB)
					accel[j] = r2.Sub(accel[j], push)
					// E = k / (1 + D)
					pe += g.params.Repulsion / (1 + aToBLen)
				}
				return pe
			})
		}

		// Node 0 is pinned: its acceleration is subtracted from everyone.
		a0 := accel[0]
		for j := 1; j < n; j++ {
			a := r2.Add(accel[j], r2.Vec{Y: g.params.Gravity})
			a = r2.Sub(a, a0)
			potentialEnergy -= g.params.Gravity * g.NodePositions[j].Y
			// Opposite accel and velocity => exponentially reduce velocity.
			if r2.Dot(a, velocity[j]) > 0 {
				const velocitySpeedup = 1.1
				velocity[j] = r2.Scale(velocitySpeedup, velocity[j])
			} else {
				const velocitySlowdown = 0.9
				velocity[j] = r2.Scale(velocitySlowdown, velocity[j])
			}
			velocity[j] = r2.Add(velocity[j], r2.Scale(g.timeStep, a))
			deltaPos := r2.Add(
				r2.Scale(g.timeStep, velocity[j]),
				r2.Scale(g.params.Noise*temperature, randomVec(globalRng)),
			)
			g.NodePositions[j] = r2.Add(g.NodePositions[j], deltaPos)
			if !isFinite(g.NodePositions[j]) {
				debug.Log("layout: non-finite node position; resetting graph")
				fresh := Empty()
				fresh.NodePositions = initialNodePositions(n, g.Edges)
				fresh.DrawingData = g.DrawingData
				fresh.Edges = g.Edges
				*g = *fresh
				return NotConverged
			}
		}

		// Rotate so the center of mass sits on the downward diagonal.
		// As a complex number, (com.X+com.Y, com.X-com.Y) has the angle π/4
		// minus that of com, so multiplying by it turns com onto y=x.
		var com r2.Vec
		for _, p := range g.NodePositions {
			com = r2.Add(com, p)
		}
		rotor := r2.Vec{X: com.X + com.Y, Y: com.X - com.Y}
		if norm := r2.Norm(rotor); norm > 0 {
			rotor = r2.Scale(1/norm, rotor)
			for j := 1; j < n; j++ {
				g.NodePositions[j] = complexRotate(rotor, g.NodePositions[j])
				velocity[j] = complexRotate(rotor, velocity[j])
			}
		}
	}

	g.Min, g.Max = r2.Vec{}, r2.Vec{}
	for _, p := range g.NodePositions {
		g.Min = vecMin(g.Min, p)
		g.Max = vecMax(g.Max, p)
	}

	if g.params.Noise > 0 {
		g.bestPotentialEnergy = potentialEnergy
		return NotConverged
	}

	if potentialEnergy < g.bestPotentialEnergy {
		g.bestPotentialEnergy = potentialEnergy
		g.iterationsSinceImproved = 0
	} else {
		g.iterationsSinceImproved++
		if g.iterationsSinceImproved%iterationsPerLevel == 0 {
			g.repulsionApproximation = clamp(
				g.repulsionApproximation-stepRepulsionApproximation,
				0, maxRepulsionApproximation)
			if g.repulsionApproximation == 0 {
				g.timeStep = clamp(g.timeStep/2-stepTimeStep, 0, maxTimeStep)
			}
		}
	}

	if g.timeStep == 0 {
		return Converged
	}
	return NotConverged
}

// parallelNodes runs fn over every node index across the available cores
// and returns the sum of the per-node results.
func (g *Graph2D) parallelNodes(fn func(j int) float64) float64 {
	n := len(g.NodePositions)
	workers := min(runtime.GOMAXPROCS(0), n)
	if workers <= 1 || n < 64 {
		total := 0.0
		for j := 0; j < n; j++ {
			total += fn(j)
		}
		return total
	}

	partial := make([]float64, workers)
	var eg errgroup.Group
	chunk := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, n)
		if lo >= hi {
			break
		}
		eg.Go(func() error {
			sum := 0.0
			for j := lo; j < hi; j++ {
				sum += fn(j)
			}
			partial[w] = sum
			return nil
		})
	}
	_ = eg.Wait()
	total := 0.0
	for _, p := range partial {
		total += p
	}
	return total
}

// globalRng feeds the per-iteration jitter; layout is explicitly not
// deterministic across machines.
var globalRng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

func randomVec(rng *rand.Rand) r2.Vec {
	return r2.Vec{X: rng.Float64(), Y: rng.Float64()}
}

// complexRotate rotates v by the angle of the unit rotor u.
func complexRotate(u, v r2.Vec) r2.Vec {
	return r2.Vec{
		X: u.X*v.X - u.Y*v.Y,
		Y: u.Y*v.X + u.X*v.Y,
	}
}

func isFinite(v r2.Vec) bool {
	return !math.IsInf(v.X, 0) && !math.IsNaN(v.X) && !math.IsInf(v.Y, 0) && !math.IsNaN(v.Y)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func nextPowerOfTwo(v int) int {
	n := 1
	for n < v {
		n *= 2
	}
	return n
}
