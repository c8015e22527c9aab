package model

import (
	"fmt"
	"strings"

	"github.com/vanderheijden86/amba/pkg/disasm"
	"github.com/vanderheijden86/amba/pkg/ipc"
	"github.com/vanderheijden86/amba/pkg/layout"
)

// buildLodText renders a node's metadata at several levels of detail, from
// full disassembly down to a bare state id.
func buildLodText(meta ipc.NodeMetadata, hasSelfEdge bool, dc disasm.Context) layout.LodText {
	var ret layout.LodText
	marker := ""
	if hasSelfEdge {
		marker = "↺"
	}

	switch m := meta.(type) {
	case *ipc.State:
		var full strings.Builder
		fmt.Fprintf(&full, "%d (%d)\n", m.AmbaStateID, m.S2EStateID)
		for _, input := range m.ConcreteInputs {
			fmt.Fprintf(&full, "\n%s:\n=\t%v\n=\t%s", input.Name, input.Value, string(input.Value))
		}
		ret.Coarser(full.String())
		ret.Coarser(fmt.Sprintf("%d (%d)", m.AmbaStateID, m.S2EStateID))
		ret.Coarser(fmt.Sprintf("%d", m.AmbaStateID))

	case *ipc.BasicBlock:
		name := functionName(dc, m.ELFVAddr)
		source, disassembly := blockSourceAndDisasm(dc, m.VAddr, m.ELFVAddr, m.Content)
		ret.Coarser(fmt.Sprintf("State: %d%s\nWithin function: %s\n%s", m.SymbolicStateID, marker, name, disassembly))
		ret.Coarser(fmt.Sprintf("State: %d%s\nWithin function: %s\n%s", m.SymbolicStateID, marker, name, source))
		ret.Coarser(fmt.Sprintf("%d%s\n%s", m.SymbolicStateID, marker, name))
		ret.Coarser(fmt.Sprintf("%d%s", m.SymbolicStateID, marker))

	case *ipc.CompressedBasicBlock:
		if len(m.SymbolicStateIDs) == 0 {
			panic("model: compressed basic block with no components")
		}
		first := m.SymbolicStateIDs[0]
		last := m.SymbolicStateIDs[len(m.SymbolicStateIDs)-1]

		var names, sources, disasms strings.Builder
		for i := range m.VAddrs {
			name := functionName(dc, m.ELFVAddrs[i])
			source, disassembly := blockSourceAndDisasm(dc, m.VAddrs[i], m.ELFVAddrs[i], m.Contents[i])
			if !strings.HasSuffix(names.String(), name) {
				fmt.Fprintf(&names, " %s", name)
			}
			fmt.Fprintf(&sources, "\n\n%s:\n%s", name, source)
			fmt.Fprintf(&disasms, "\n\n%s:\n%s", name, disassembly)
		}

		span := fmt.Sprintf("%d", first)
		spanLabel := "State"
		if first != last {
			span = fmt.Sprintf("%d-%d", first, last)
			spanLabel = "States"
		}
		ret.Coarser(fmt.Sprintf("%s: %s%s\nWithin functions: %s%s", spanLabel, span, marker, names.String(), disasms.String()))
		ret.Coarser(fmt.Sprintf("%s: %s%s\nWithin functions: %s%s", spanLabel, span, marker, names.String(), sources.String()))
		ret.Coarser(fmt.Sprintf("%s%s\n%s", span, marker, names.String()))
		ret.Coarser(fmt.Sprintf("%s%s", span, marker))
	}
	return ret
}

func functionName(dc disasm.Context, elfVAddr uint64) string {
	name, err := dc.FunctionName(elfVAddr)
	if err != nil {
		return fmt.Sprintf("%x", elfVAddr)
	}
	return name
}

// blockSourceAndDisasm interleaves source lines (when debug info resolves
// them) with the disassembly of one basic block.
func blockSourceAndDisasm(dc disasm.Context, vaddr, elfVAddr uint64, content []byte) (string, string) {
	var source, disassembly strings.Builder
	const indent = ";   "

	addr := elfVAddr
	for _, ins := range dc.X64ToAssembly(content, vaddr) {
		if line, ok := dc.SourceLine(addr); ok {
			line = strings.TrimSpace(line)
			trimmed := source.String()
			if !strings.HasSuffix(strings.TrimSuffix(trimmed, "\n"), line) {
				fmt.Fprintf(&source, "%s%s\n", indent, line)
				fmt.Fprintf(&disassembly, "%s%s\n", indent, line)
			}
		}
		fmt.Fprintf(&disassembly, "%s\n", ins.Text)
		addr += uint64(ins.Size)
	}
	return strings.TrimRight(source.String(), "\n"), strings.TrimRight(disassembly.String(), "\n")
}
