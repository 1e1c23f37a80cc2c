// Package machine defines the input contract this module's lifter
// consumes: decoded x86-64 instructions grouped into straight-line
// blocks grouped into functions. Nothing in this package performs
// decoding — that is an external collaborator's job (see
// internal/disasm) — it only names the shapes the rest of the module
// operates on.
//
// Operand vocabulary is borrowed directly from golang.org/x/arch's
// x86asm package (Reg, Mem, Imm, Rel) rather than invented from
// scratch: it is the de facto standard decode result shape for x86 in
// Go, and is what a production disassembler sitting in front of this
// lifter would already hand back.
package machine

import "golang.org/x/arch/x86/x86asm"

// Inst is one decoded machine instruction, tagged with its load-free
// byte offset into the object file. Offset plus x86asm.Inst.Len gives
// the address of the following instruction.
type Inst struct {
	x86asm.Inst
	Offset uint64
}

// End returns the load-free offset of the byte following this
// instruction.
func (i Inst) End() uint64 {
	return i.Offset + uint64(i.Len)
}

// Block is a straight-line run of instructions as produced by the
// disassembler, ending in a branch-class instruction (or the last
// instruction the disassembler could reach). Addr is the load-free
// offset of its first instruction.
type Block struct {
	Addr  uint64
	Insts []Inst
}

// Function is the disassembler's view of one function: an ordered
// set of blocks reachable from Entry. Name is the disassembler's best
// guess (symbol table, or a synthesized "sub_<addr>" name); the
// lifter may override it once PLT/relocation resolution runs.
type Function struct {
	Entry  uint64
	Name   string
	Blocks []*Block
}

// Reg returns the register operand at position idx, and whether Args[idx]
// is in fact a register (as opposed to Mem, Imm or Rel).
func (i Inst) Reg(idx int) (x86asm.Reg, bool) {
	r, ok := i.Args[idx].(x86asm.Reg)
	return r, ok
}

// Mem returns the memory operand at position idx, and whether Args[idx]
// is in fact a memory reference.
func (i Inst) Mem(idx int) (x86asm.Mem, bool) {
	m, ok := i.Args[idx].(x86asm.Mem)
	return m, ok
}

// Imm returns the immediate operand at position idx, and whether Args[idx]
// is in fact an immediate.
func (i Inst) Imm(idx int) (x86asm.Imm, bool) {
	im, ok := i.Args[idx].(x86asm.Imm)
	return im, ok
}

// Rel returns the relative-branch operand at position idx, and whether
// Args[idx] is in fact a Rel.
func (i Inst) Rel(idx int) (x86asm.Rel, bool) {
	rel, ok := i.Args[idx].(x86asm.Rel)
	return rel, ok
}

// NumArgs returns the number of non-nil entries in Args.
func (i Inst) NumArgs() int {
	n := 0
	for _, a := range i.Args {
		if a == nil {
			break
		}
		n++
	}
	return n
}

// BlockName returns the canonical "bb_<decimal offset>" name for the
// block starting at addr, matching the textual-IR naming convention
// downstream tooling parses (spec §6.3).
func BlockName(addr uint64) string {
	return "bb_" + itoa(addr)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
