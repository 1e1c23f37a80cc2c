// Package decompile implements function discovery and CFG
// reconstruction by recursive descent (spec §4.3): turning one
// disassembled MachineFunction into IR blocks, splitting blocks at
// branch targets that land mid-block, and driving a work-list across
// call edges until every reachable function is materialized.
//
// Grounded on Decompiler::decompile/decompileFunction/
// getFunctionByAddr/getOrCreateBasicBlock/splitBasicBlockIntoBlock in
// lib/CodeInv/Decompiler.cpp.
package decompile

import (
	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"

	"github.com/irlift/x64ir/internal/disasm"
	"github.com/irlift/x64ir/internal/irutil"
	"github.com/irlift/x64ir/internal/lift"
	"github.com/irlift/x64ir/internal/machine"
	"github.com/irlift/x64ir/internal/xlog"
)

// Decompiler owns the module being built and the external
// collaborators function discovery consults. One per binary; not
// safe for concurrent use (spec §5).
type Decompiler struct {
	Mod    *irutil.Module
	Disasm disasm.Disassembler
	Sym    disasm.SymbolResolver
}

// New returns a Decompiler over an already-constructed module.
func New(mod *irutil.Module, d disasm.Disassembler, s disasm.SymbolResolver) *Decompiler {
	return &Decompiler{Mod: mod, Disasm: d, Sym: s}
}

// Decompile drives recursive descent from addr: decompileFunction,
// then scan the result for call sites with concrete targets, renaming
// and enqueueing each undiscovered callee, until the work list is
// empty. Cycles terminate naturally because function-by-address
// memoization returns the existing (possibly still-empty) Function
// instead of re-entering decompilation (spec §4.3).
//
// An unknown opcode stops the walk and its error (matching
// lift.ErrUnknownOpcode) is returned; any other per-function failure,
// such as a decode error, is logged and that function is skipped.
func (d *Decompiler) Decompile(addr uint64) error {
	work := []uint64{addr}
	for len(work) > 0 {
		n := len(work) - 1
		target := work[n]
		work = work[:n]

		fn, err := d.decompileFunction(target)
		if err != nil {
			if errors.Is(err, lift.ErrUnknownOpcode) {
				xlog.Error.Printf("decompile %#x: %v", target, err)
				return err
			}
			xlog.Warn.Printf("decompile %#x: %v", target, err)
			continue
		}
		if fn == nil {
			continue
		}

		for _, callAddr := range d.callTargetsOf(fn) {
			if callAddr == 0 {
				continue
			}
			callee := d.Mod.FunctionByAddr(callAddr, d.nameFor)
			if callee.HasBody() {
				continue
			}
			if name := d.resolveDisplayName(callAddr); name != "" {
				d.Mod.Rename(callee, name)
			} else {
				xlog.Warn.Printf("no symbol name resolved for callee %#x", callAddr)
			}
			work = append(work, callAddr)
		}
	}
	return nil
}

// decompileFunction implements spec §4.3's six-step algorithm.
func (d *Decompiler) decompileFunction(addr uint64) (*irutil.Func, error) {
	sec := d.Disasm.CurrentSection()
	if sec != (disasm.Section{}) && !sec.Contains(addr) {
		if s, ok := d.Disasm.SectionByAddress(addr); ok {
			sec = s
			d.Disasm.SetSection(s)
		} else {
			xlog.Warn.Printf("%#x is out of bounds of the current section", addr)
			return nil, nil
		}
	}

	mf, err := d.Disasm.Disassemble(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "disassemble %#x", addr)
	}

	name := d.nameFor(addr)
	fn := d.Mod.GetOrInsertFunction(name, addr)
	if fn.HasBody() {
		return fn, nil
	}

	// First pass: create every block up front so forward branch
	// references resolve to the right block object.
	for _, mb := range mf.Blocks {
		fn.GetOrCreateBasicBlock(machine.BlockName(mb.Addr))
	}

	// Second pass: lower every instruction.
	env := &lift.Env{Mod: d.Mod, Fn: fn, Disasm: d.Disasm, Sym: d.Sym}
	for _, mb := range mf.Blocks {
		blk := fn.GetOrCreateBasicBlock(machine.BlockName(mb.Addr))
		for _, mi := range mb.Insts {
			if err := lift.Dispatch(env, blk, mi); err != nil {
				return nil, errors.Wrapf(err, "function %#x", addr)
			}
		}
		if !blk.Terminated() {
			blk.SetTerm(blk.LLVM.NewUnreachable(), lastOffset(mb))
		}
	}

	// Third pass: split-on-branch-target.
	splitOnBranchTargets(fn)

	return fn, nil
}

func lastOffset(mb *machine.Block) uint64 {
	if len(mb.Insts) == 0 {
		return mb.Addr
	}
	return mb.Insts[len(mb.Insts)-1].Offset
}

// splitOnBranchTargets finds every empty block (a branch target that
// landed mid-block rather than at a populated block's start) and
// splits it out of its containing block, per spec §4.3. The entry
// block (fn.Blocks()[0]) is never a split source or a split target of
// itself, matching "splitting begins at the second block".
func splitOnBranchTargets(fn *irutil.Func) {
	blocks := fn.Blocks()
	if len(blocks) < 2 {
		return
	}

	for _, e := range blocks[1:] {
		if !e.Empty() {
			continue
		}
		target, ok := parseBlockOffset(e.Name)
		if !ok {
			continue
		}

		s := findContaining(blocks[1:], target)
		if s == nil {
			xlog.Warn.Printf("split target %s has no containing block", e.Name)
			continue
		}

		s.SortByOffset()
		i, ok := s.FindSplitPoint(target)
		if !ok {
			xlog.Warn.Printf("split target %s not found in %s after sort", e.Name, s.Name)
			continue
		}
		s.SplitInto(i, e)
	}
}

func findContaining(blocks []*irutil.Block, target uint64) *irutil.Block {
	for _, b := range blocks {
		if b.Empty() || !b.Terminated() {
			continue
		}
		if b.StartOffset() <= target && target <= b.EndOffset() {
			return b
		}
	}
	return nil
}

func parseBlockOffset(name string) (uint64, bool) {
	const prefix = "bb_"
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return 0, false
	}
	var v uint64
	for _, c := range name[len(prefix):] {
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + uint64(c-'0')
	}
	return v, true
}

// nameFor asks the disassembler/resolver for a display name for addr,
// falling back to a synthesized sub_<addr> name, matching
// getFunctionByAddr's get_func_name(addr) fallback.
func (d *Decompiler) nameFor(addr uint64) string {
	if name := d.Disasm.FunctionName(addr); name != "" {
		return name
	}
	if name := d.Sym.FuncName(addr); name != "" {
		return name
	}
	return "sub_" + machine.BlockName(addr)[3:]
}

// resolveDisplayName implements the section-switch-and-restore dance
// Decompiler::decompile performs before renaming a newly-discovered
// callee: look up the section containing addr, switch to it so
// RelocFunctionName resolves against the right section's relocation
// table, then switch back.
func (d *Decompiler) resolveDisplayName(addr uint64) string {
	prev := d.Disasm.CurrentSection()
	if sec, ok := d.Disasm.SectionByAddress(addr); ok {
		d.Disasm.SetSection(sec)
		defer d.Disasm.SetSection(prev)
	}

	name := d.Disasm.FunctionName(addr)
	name = d.Disasm.RelocFunctionName(addr, name)
	if name == "" {
		name = d.Sym.FuncNameInPLT(addr)
	}
	return name
}

// callTargetsOf scans fn's blocks for direct-call instructions and
// returns the set of concrete target addresses (spec §4.3 "scans the
// new function for call sites referring to concrete target
// addresses"). Implemented over the original disassembled form rather
// than by re-walking the emitted IR, since the IR's saib_collect_indirect
// calls intentionally carry no static target to recover.
func (d *Decompiler) callTargetsOf(fn *irutil.Func) []uint64 {
	mf, err := d.Disasm.Disassemble(fn.Addr)
	if err != nil {
		return nil
	}
	var targets []uint64
	for _, mb := range mf.Blocks {
		for _, mi := range mb.Insts {
			if mi.Op != x86asm.CALL {
				continue
			}
			if rel, ok := mi.Rel(0); ok {
				targets = append(targets, mi.Offset+uint64(mi.Len)+uint64(int64(rel)))
			}
		}
	}
	return targets
}
