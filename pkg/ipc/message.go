package ipc

// Message is one of the four protocol messages. The set is stable: both
// endpoints hard-code the variant tags in the codec.
type Message interface {
	isMessage()
}

// Ping is a liveness probe carrying no payload.
type Ping struct{}

// NewEdges delivers a batch of state-graph and block-graph edges. Within a
// batch, state edges are applied before block edges.
type NewEdges struct {
	StateEdges []Edge
	BlockEdges []Edge
}

// PrioritiseStates tells the guest scheduler to favour the given
// s2e state ids. The list is sorted ascending.
type PrioritiseStates struct {
	States []int32
}

// ResetPriority clears any previously sent prioritisation.
type ResetPriority struct{}

func (*Ping) isMessage()             {}
func (*NewEdges) isMessage()         {}
func (*PrioritiseStates) isMessage() {}
func (*ResetPriority) isMessage()    {}
