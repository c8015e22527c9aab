// Package disasm declares the disassembler / debug-info collaborator the
// graph views use to label basic blocks. The real implementation wraps an
// external toolchain and lives outside the core; Fallback serves when none
// is wired up.
package disasm

import "fmt"

// Instruction is one disassembled machine instruction.
type Instruction struct {
	Size int
	Text string
}

// Context resolves machine code and addresses to human-readable text.
type Context interface {
	// X64ToAssembly disassembles raw bytes loaded at base.
	X64ToAssembly(code []byte, base uint64) []Instruction
	// FunctionName resolves the function containing an ELF vaddr.
	FunctionName(elfVAddr uint64) (string, error)
	// SourceLine returns the source line for an ELF vaddr, if known.
	SourceLine(elfVAddr uint64) (string, bool)
}

// Fallback is a Context with no debug information: addresses format as hex
// and code stays opaque.
type Fallback struct{}

func (Fallback) X64ToAssembly(code []byte, base uint64) []Instruction {
	if len(code) == 0 {
		return nil
	}
	return []Instruction{{Size: len(code), Text: fmt.Sprintf("<%d bytes at %#x>", len(code), base)}}
}

func (Fallback) FunctionName(elfVAddr uint64) (string, error) {
	return fmt.Sprintf("%x", elfVAddr), nil
}

func (Fallback) SourceLine(uint64) (string, bool) { return "", false }
