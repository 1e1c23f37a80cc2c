package disasm

import (
	"fmt"

	"github.com/irlift/x64ir/internal/machine"
	"golang.org/x/arch/x86/x86asm"
)

// Fake is a deterministic, table-driven Disassembler and
// SymbolResolver used by tests and by the x64ir CLI's --fixture mode.
// It decodes a fixed map of address -> raw bytes with x86asm.Decode,
// splitting into blocks at branch-class instructions exactly the way
// a real recursive-descent disassembler would, so the lifter's own
// block-splitting logic is exercised against realistic input.
type Fake struct {
	Code     map[uint64][]byte // function entry -> raw bytes
	Sections []Section
	Names    map[uint64]string // address -> symbol name
	Relocs   map[uint64]string // relocation slot address -> external name
	PLT      map[uint64]string // PLT stub address -> external name
	Symbols  map[string]uint64 // name -> address, inverse of Names

	current Section
}

// NewFake returns an empty Fake ready for its fields to be populated.
func NewFake() *Fake {
	return &Fake{
		Code:    make(map[uint64][]byte),
		Names:   make(map[uint64]string),
		Relocs:  make(map[uint64]string),
		PLT:     make(map[uint64]string),
		Symbols: make(map[string]uint64),
	}
}

// Disassemble decodes the raw bytes registered at addr into a
// machine.Function, splitting into blocks at every branch-class
// instruction (unconditional/conditional jump, call, return) the same
// way MachineFunction's MachineBasicBlocks are formed upstream.
func (f *Fake) Disassemble(addr uint64) (*machine.Function, error) {
	code, ok := f.Code[addr]
	if !ok {
		return nil, fmt.Errorf("disasm: no code registered at %#x", addr)
	}

	fn := &machine.Function{Entry: addr, Name: f.FunctionName(addr)}
	if fn.Name == "" {
		fn.Name = fmt.Sprintf("sub_%x", addr)
	}

	blk := &machine.Block{Addr: addr}
	off := uint64(0)
	for off < uint64(len(code)) {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return nil, fmt.Errorf("disasm: decode at %#x: %w", addr+off, err)
		}
		mi := machine.Inst{Inst: inst, Offset: addr + off}
		blk.Insts = append(blk.Insts, mi)
		off += uint64(inst.Len)

		if isBlockEnd(inst.Op) {
			fn.Blocks = append(fn.Blocks, blk)
			blk = &machine.Block{Addr: addr + off}
		}
	}
	if len(blk.Insts) > 0 {
		fn.Blocks = append(fn.Blocks, blk)
	}
	return fn, nil
}

func isBlockEnd(op x86asm.Op) bool {
	switch op {
	case x86asm.JMP, x86asm.CALL, x86asm.RET,
		x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE,
		x86asm.JE, x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE,
		x86asm.JNE, x86asm.JNO, x86asm.JNP, x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JS:
		return true
	default:
		return false
	}
}

// SectionByAddress implements Disassembler.
func (f *Fake) SectionByAddress(addr uint64) (Section, bool) {
	for _, s := range f.Sections {
		if s.Contains(addr) {
			return s, true
		}
	}
	return Section{}, false
}

// SetSection implements Disassembler.
func (f *Fake) SetSection(s Section) { f.current = s }

// CurrentSection implements Disassembler.
func (f *Fake) CurrentSection() Section { return f.current }

// FunctionName implements Disassembler.
func (f *Fake) FunctionName(addr uint64) string { return f.Names[addr] }

// RelocFunctionName implements Disassembler.
func (f *Fake) RelocFunctionName(addr uint64, name string) string {
	if n, ok := f.Relocs[addr]; ok {
		return n
	}
	return name
}

// FuncNameInPLT implements SymbolResolver.
func (f *Fake) FuncNameInPLT(addr uint64) string { return f.PLT[addr] }

// FuncName implements SymbolResolver.
func (f *Fake) FuncName(addr uint64) string { return f.Names[addr] }

// UnloadAddr implements SymbolResolver. The fake uses identical
// load/unload address spaces (no relocation offset).
func (f *Fake) UnloadAddr(loadAddr uint64) uint64 { return loadAddr }

// LoadAddr implements SymbolResolver.
func (f *Fake) LoadAddr(unloadAddr uint64, _, _ string) uint64 { return unloadAddr }

// Addr implements SymbolResolver.
func (f *Fake) Addr(name string) uint64 { return f.Symbols[name] }
