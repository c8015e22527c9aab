package ipc

import (
	"encoding/binary"
	"fmt"
)

// The payload encoding is bincode's little-endian layout, fixed so the
// in-guest producer and the host consumer agree byte-for-byte: u32 variant
// tags, u64 sequence lengths, one-byte option tags, fixed-width integers.

const (
	metaTagState uint32 = iota
	metaTagBasicBlock
	metaTagCompressedBasicBlock
)

const (
	msgTagPing uint32 = iota
	msgTagNewEdges
	msgTagPrioritiseStates
	msgTagResetPriority
)

func appendU32(buf []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(buf, v)
}

func appendU64(buf []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, v)
}

func appendI32(buf []byte, v int32) []byte {
	return binary.LittleEndian.AppendUint32(buf, uint32(v))
}

func appendBytes(buf, v []byte) []byte {
	buf = appendU64(buf, uint64(len(v)))
	return append(buf, v...)
}

// appendOptU64 encodes an Option<NonZeroU64>: zero is absent.
func appendOptU64(buf []byte, v uint64) []byte {
	if v == 0 {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return appendU64(buf, v)
}

func (m *State) appendWire(buf []byte) []byte {
	buf = appendU32(buf, metaTagState)
	buf = appendU32(buf, m.AmbaStateID)
	buf = appendI32(buf, m.S2EStateID)
	buf = appendU64(buf, uint64(len(m.ConcreteInputs)))
	for _, input := range m.ConcreteInputs {
		buf = appendBytes(buf, []byte(input.Name))
		buf = appendBytes(buf, input.Value)
	}
	return buf
}

func (m *BasicBlock) appendWire(buf []byte) []byte {
	buf = appendU32(buf, metaTagBasicBlock)
	buf = appendU32(buf, m.SymbolicStateID)
	buf = appendOptU64(buf, m.VAddr)
	buf = appendOptU64(buf, m.Generation)
	buf = appendOptU64(buf, m.ELFVAddr)
	buf = appendBytes(buf, m.Content)
	return buf
}

func (m *CompressedBasicBlock) appendWire(buf []byte) []byte {
	buf = appendU32(buf, metaTagCompressedBasicBlock)
	buf = appendU64(buf, uint64(len(m.SymbolicStateIDs)))
	for _, v := range m.SymbolicStateIDs {
		buf = appendU32(buf, v)
	}
	buf = appendU64(buf, uint64(len(m.VAddrs)))
	for _, v := range m.VAddrs {
		buf = appendOptU64(buf, v)
	}
	buf = appendU64(buf, uint64(len(m.Generations)))
	for _, v := range m.Generations {
		buf = appendOptU64(buf, v)
	}
	buf = appendU64(buf, uint64(len(m.ELFVAddrs)))
	for _, v := range m.ELFVAddrs {
		buf = appendOptU64(buf, v)
	}
	buf = appendU64(buf, uint64(len(m.Contents)))
	for _, v := range m.Contents {
		buf = appendBytes(buf, v)
	}
	return buf
}

// wireReader walks an encoded payload. Decoding errors are sticky.
type wireReader struct {
	buf []byte
	pos int
	err error
}

func (r *wireReader) fail(what string) {
	if r.err == nil {
		r.err = fmt.Errorf("ipc: truncated payload reading %s at offset %d", what, r.pos)
	}
}

func (r *wireReader) u32(what string) uint32 {
	if r.err != nil {
		return 0
	}
	if r.pos+4 > len(r.buf) {
		r.fail(what)
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *wireReader) i32(what string) int32 {
	return int32(r.u32(what))
}

func (r *wireReader) u64(what string) uint64 {
	if r.err != nil {
		return 0
	}
	if r.pos+8 > len(r.buf) {
		r.fail(what)
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

func (r *wireReader) u8(what string) byte {
	if r.err != nil {
		return 0
	}
	if r.pos >= len(r.buf) {
		r.fail(what)
		return 0
	}
	v := r.buf[r.pos]
	r.pos++
	return v
}

// seqLen reads a u64 length and bounds it against the remaining payload so a
// corrupt length cannot drive a huge allocation.
func (r *wireReader) seqLen(what string) int {
	n := r.u64(what)
	if r.err != nil {
		return 0
	}
	if n > uint64(len(r.buf)-r.pos) {
		r.fail(what + " length")
		return 0
	}
	return int(n)
}

func (r *wireReader) bytes(what string) []byte {
	n := r.seqLen(what)
	if r.err != nil || n == 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out
}

func (r *wireReader) optU64(what string) uint64 {
	switch tag := r.u8(what); tag {
	case 0:
		return 0
	case 1:
		return r.u64(what)
	default:
		if r.err == nil {
			r.err = fmt.Errorf("ipc: invalid option tag %d for %s", tag, what)
		}
		return 0
	}
}

func (r *wireReader) metadata() NodeMetadata {
	switch tag := r.u32("metadata tag"); tag {
	case metaTagState:
		m := &State{
			AmbaStateID: r.u32("amba state id"),
			S2EStateID:  r.i32("s2e state id"),
		}
		n := r.seqLen("concrete inputs")
		for i := 0; i < n && r.err == nil; i++ {
			m.ConcreteInputs = append(m.ConcreteInputs, ConcreteInput{
				Name:  string(r.bytes("input name")),
				Value: r.bytes("input value"),
			})
		}
		return m
	case metaTagBasicBlock:
		return &BasicBlock{
			SymbolicStateID: r.u32("symbolic state id"),
			VAddr:           r.optU64("vaddr"),
			Generation:      r.optU64("generation"),
			ELFVAddr:        r.optU64("elf vaddr"),
			Content:         r.bytes("content"),
		}
	case metaTagCompressedBasicBlock:
		m := &CompressedBasicBlock{}
		n := r.seqLen("state ids")
		for i := 0; i < n && r.err == nil; i++ {
			m.SymbolicStateIDs = append(m.SymbolicStateIDs, r.u32("state id"))
		}
		n = r.seqLen("vaddrs")
		for i := 0; i < n && r.err == nil; i++ {
			m.VAddrs = append(m.VAddrs, r.optU64("vaddr"))
		}
		n = r.seqLen("generations")
		for i := 0; i < n && r.err == nil; i++ {
			m.Generations = append(m.Generations, r.optU64("generation"))
		}
		n = r.seqLen("elf vaddrs")
		for i := 0; i < n && r.err == nil; i++ {
			m.ELFVAddrs = append(m.ELFVAddrs, r.optU64("elf vaddr"))
		}
		n = r.seqLen("contents")
		for i := 0; i < n && r.err == nil; i++ {
			m.Contents = append(m.Contents, r.bytes("content"))
		}
		return m
	default:
		if r.err == nil {
			r.err = fmt.Errorf("ipc: unknown metadata tag %d", tag)
		}
		return nil
	}
}

func (r *wireReader) edges(what string) []Edge {
	n := r.seqLen(what)
	if r.err != nil || n == 0 {
		return nil
	}
	edges := make([]Edge, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		edges = append(edges, Edge{From: r.metadata(), To: r.metadata()})
	}
	return edges
}

// EncodeMessage serialises a message payload (without the length prefix).
func EncodeMessage(msg Message) []byte {
	switch m := msg.(type) {
	case *Ping:
		return appendU32(nil, msgTagPing)
	case *NewEdges:
		buf := appendU32(nil, msgTagNewEdges)
		buf = appendU64(buf, uint64(len(m.StateEdges)))
		for _, e := range m.StateEdges {
			buf = e.From.appendWire(buf)
			buf = e.To.appendWire(buf)
		}
		buf = appendU64(buf, uint64(len(m.BlockEdges)))
		for _, e := range m.BlockEdges {
			buf = e.From.appendWire(buf)
			buf = e.To.appendWire(buf)
		}
		return buf
	case *PrioritiseStates:
		buf := appendU32(nil, msgTagPrioritiseStates)
		buf = appendU64(buf, uint64(len(m.States)))
		for _, s := range m.States {
			buf = appendI32(buf, s)
		}
		return buf
	case *ResetPriority:
		return appendU32(nil, msgTagResetPriority)
	default:
		panic(fmt.Sprintf("ipc: unknown message type %T", msg))
	}
}

// DecodeMessage parses a message payload (without the length prefix).
func DecodeMessage(payload []byte) (Message, error) {
	r := &wireReader{buf: payload}
	var msg Message
	switch tag := r.u32("message tag"); tag {
	case msgTagPing:
		msg = &Ping{}
	case msgTagNewEdges:
		m := &NewEdges{}
		m.StateEdges = r.edges("state edges")
		m.BlockEdges = r.edges("block edges")
		msg = m
	case msgTagPrioritiseStates:
		m := &PrioritiseStates{}
		n := r.seqLen("states")
		for i := 0; i < n && r.err == nil; i++ {
			m.States = append(m.States, r.i32("state"))
		}
		msg = m
	case msgTagResetPriority:
		msg = &ResetPriority{}
	default:
		if r.err == nil {
			r.err = fmt.Errorf("ipc: unknown message tag %d", tag)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.pos != len(payload) {
		return nil, fmt.Errorf("ipc: %d trailing bytes after message", len(payload)-r.pos)
	}
	return msg, nil
}
