package irutil

import (
	"sort"

	"github.com/llir/llvm/ir"
)

// Block wraps an *ir.Block together with the load-free machine offset
// each instruction was lowered from — playing the role of the
// "debug-location field" spec §3 says every IR instruction is tagged
// with. llir/llvm instruction metadata is not used for this (see
// DESIGN.md): tracking offsets in a parallel Go slice keeps the
// offset-sort and block-split passes (§4.3) simple, exact, and
// independent of llir/llvm's metadata attachment shape.
type Block struct {
	Name string
	LLVM *ir.Block

	fn *Func

	offsets    []uint64 // parallel to LLVM.Insts
	termOffset uint64
	hasTerm    bool
}

// GetOrCreateBasicBlock returns the block named name in f, creating it
// empty (and appending it to the llir/llvm function) if absent.
// Matches Decompiler::getOrCreateBasicBlock: branch handlers never
// create duplicate blocks, only the unique block for a given name.
func (f *Func) GetOrCreateBasicBlock(name string) *Block {
	if b, ok := f.blockByName[name]; ok {
		return b
	}
	lb := f.LLVM.NewBlock(name)
	b := &Block{Name: name, LLVM: lb, fn: f}
	f.blocks = append(f.blocks, b)
	f.blockByName[name] = b
	return b
}

// Empty reports whether this block has been created as a branch
// target but not yet populated.
func (b *Block) Empty() bool { return len(b.LLVM.Insts) == 0 }

// Terminated reports whether this block's last instruction is a
// terminator.
func (b *Block) Terminated() bool { return b.LLVM.Term != nil }

// StartOffset returns the offset of this block's first instruction.
// Only valid when !Empty().
func (b *Block) StartOffset() uint64 { return b.offsets[0] }

// EndOffset returns the offset of this block's terminator, the "debug
// offset of its terminator" §3 defines end(S) as. Only valid when
// Terminated().
func (b *Block) EndOffset() uint64 { return b.termOffset }

// Append inserts inst at the tail of the block, tagged with offset.
func (b *Block) Append(inst ir.Instruction, offset uint64) {
	b.LLVM.Insts = append(b.LLVM.Insts, inst)
	b.offsets = append(b.offsets, offset)
}

// Mark tags every instruction appended to the block's underlying
// llir/llvm block but not yet tagged with an offset, with offset.
// Lifter handlers build IR by calling methods directly on b.LLVM
// (regfile.Read/Write and friends issue their own
// b.NewLoad/NewStore/... calls), so they never go through Append;
// Dispatch instead calls Mark once after running a handler, tagging
// every instruction the handler added with the machine instruction's
// offset. This is also the natural way to express spec §4.3's "a
// single machine instruction can lower to several IR instructions
// with equal offsets": they really are the same offset, not
// approximately so.
func (b *Block) Mark(offset uint64) {
	for len(b.offsets) < len(b.LLVM.Insts) {
		b.offsets = append(b.offsets, offset)
	}
}

// SetTerm sets the block's terminator, tagged with offset.
func (b *Block) SetTerm(term ir.Terminator, offset uint64) {
	b.LLVM.Term = term
	b.termOffset = offset
	b.hasTerm = true
}

// SortByOffset stable-sorts this block's instructions by their tagged
// offset. §4.3 step 2: lowering of a single machine instruction can
// emit multiple IR instructions with equal offsets whose relative
// order isn't guaranteed across instructions at different offsets, so
// this is a stable sort, not a full reorder.
func (b *Block) SortByOffset() {
	idx := make([]int, len(b.offsets))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return b.offsets[idx[i]] < b.offsets[idx[j]]
	})
	insts := make([]ir.Instruction, len(idx))
	offs := make([]uint64, len(idx))
	for newPos, oldPos := range idx {
		insts[newPos] = b.LLVM.Insts[oldPos]
		offs[newPos] = b.offsets[oldPos]
	}
	b.LLVM.Insts = insts
	b.offsets = offs
}

// FindSplitPoint returns the index of the first instruction whose
// tagged offset equals target, after SortByOffset has been called.
func (b *Block) FindSplitPoint(target uint64) (int, bool) {
	for i, off := range b.offsets {
		if off == target {
			return i, true
		}
		if off > target {
			return 0, false
		}
	}
	return 0, false
}

// SplitInto moves every instruction from index i onward out of b and
// into dst (appended in order), matching
// Decompiler::splitBasicBlockIntoBlock. It installs an unconditional
// branch from b to dst, tagged with the offset of the instruction now
// immediately preceding it in b (the last one remaining), so
// subsequent splits stay deterministic.
func (b *Block) SplitInto(i int, dst *Block) {
	moved := b.LLVM.Insts[i:]
	movedOffs := b.offsets[i:]
	dst.LLVM.Insts = append(dst.LLVM.Insts, moved...)
	dst.offsets = append(dst.offsets, movedOffs...)

	// dst inherits the terminator that used to end b.
	dst.LLVM.Term = b.LLVM.Term
	dst.termOffset = b.termOffset
	dst.hasTerm = b.hasTerm

	lastOffset := b.offsets[i-1]
	b.LLVM.Insts = b.LLVM.Insts[:i]
	b.offsets = b.offsets[:i]

	b.SetTerm(b.LLVM.NewBr(dst.LLVM), lastOffset)

	// §4.3 step 5: dst (E) now owns the successors that used to be
	// b's (S's); any PHI incoming-edge labeling b as predecessor must
	// be relabeled to dst. This lifter's instruction handlers never
	// themselves construct PHI nodes (register state is modeled as
	// global-cell load/store, not block parameters), but the
	// mechanism is implemented in full for fidelity to the spec and
	// for any PHI nodes a later pass over the IR might introduce.
	for _, succ := range Successors(dst) {
		retargetPhis(succ, b.LLVM, dst.LLVM)
	}
}

// Successors returns the basic blocks b's terminator can transfer
// control to.
func Successors(b *Block) []*ir.Block {
	switch term := b.LLVM.Term.(type) {
	case *ir.TermBr:
		return []*ir.Block{term.Target}
	case *ir.TermCondBr:
		return []*ir.Block{term.TargetTrue, term.TargetFalse}
	default:
		return nil
	}
}

func retargetPhis(succ, from, to *ir.Block) {
	for _, inst := range succ.Insts {
		phi, ok := inst.(*ir.InstPhi)
		if !ok {
			continue
		}
		for _, inc := range phi.Incs {
			if inc.Pred == from {
				inc.Pred = to
			}
		}
	}
}
