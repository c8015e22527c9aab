// Package ipc implements the wire protocol between the in-guest plugin and
// the host: node metadata, a bincode-compatible codec, and length-prefixed
// framing with blocking and polling receive paths.
package ipc

import (
	"fmt"
	"strings"
)

// NodeMetadata is the tagged value attached to every graph node. The three
// concrete types are State, BasicBlock and CompressedBasicBlock.
//
// Metadata is value-compared; Key returns a canonical byte string (the wire
// encoding) usable as a map key.
type NodeMetadata interface {
	Key() string
	// Describe renders a human-readable multi-line description.
	Describe() string

	appendWire(buf []byte) []byte
}

// ConcreteInput is a named concrete assignment discovered for a symbolic
// variable.
type ConcreteInput struct {
	Name  string
	Value []byte
}

// State identifies a symbolic execution state.
type State struct {
	AmbaStateID    uint32
	S2EStateID     int32
	ConcreteInputs []ConcreteInput
}

// BasicBlock identifies a visited guest basic block, tagged with the state
// that visited it. The three address fields use zero for "absent".
type BasicBlock struct {
	SymbolicStateID uint32
	VAddr           uint64
	Generation      uint64
	ELFVAddr        uint64
	Content         []byte
}

// CompressedBasicBlock carries the fields of a whole collapsed chain of
// basic blocks as parallel vectors, ordered by chain traversal.
type CompressedBasicBlock struct {
	SymbolicStateIDs []uint32
	VAddrs           []uint64
	Generations      []uint64
	ELFVAddrs        []uint64
	Contents         [][]byte
}

func (m *State) Key() string                { return string(m.appendWire(nil)) }
func (m *BasicBlock) Key() string           { return string(m.appendWire(nil)) }
func (m *CompressedBasicBlock) Key() string { return string(m.appendWire(nil)) }

func (m *State) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d (%d)\n", m.AmbaStateID, m.S2EStateID)
	for _, input := range m.ConcreteInputs {
		fmt.Fprintf(&b, "\n%s:\n=\t%v\n=\t%s", input.Name, input.Value, string(input.Value))
	}
	return b.String()
}

func (m *BasicBlock) Describe() string {
	return fmt.Sprintf("state %d vaddr %#x gen %d", m.SymbolicStateID, m.VAddr, m.Generation)
}

func (m *CompressedBasicBlock) Describe() string {
	if len(m.SymbolicStateIDs) == 0 {
		return "empty compressed block"
	}
	first := m.SymbolicStateIDs[0]
	last := m.SymbolicStateIDs[len(m.SymbolicStateIDs)-1]
	if first == last {
		return fmt.Sprintf("state %d, %d blocks", first, len(m.VAddrs))
	}
	return fmt.Sprintf("states %d-%d, %d blocks", first, last, len(m.VAddrs))
}

// ResetState zeroes the state dimension of block metadata, merging otherwise
// identical blocks visited by different states. State metadata is unchanged.
func ResetState(m NodeMetadata) NodeMetadata {
	switch b := m.(type) {
	case *BasicBlock:
		out := *b
		out.SymbolicStateID = 0
		return &out
	default:
		return m
	}
}

// Edge is a directed metadata pair.
type Edge struct {
	From NodeMetadata
	To   NodeMetadata
}
