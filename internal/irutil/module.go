// Package irutil wraps github.com/llir/llvm's ir package with the
// handful of constructors and bookkeeping helpers the lifter needs:
// canonical register/flag global cells, a function registry keyed by
// load-free address, and the per-block instruction/offset tracking
// the split-on-branch-target pass depends on.
//
// The actual IR nodes (types.Type, value.Value, ir.Instruction,
// ir.Terminator) are always real llir/llvm objects — this package
// never reimplements the IR object model, it only arranges them the
// way spec.md's Module/Function/BasicBlock describe.
package irutil

import (
	"sort"
	"strconv"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/metadata"
	"github.com/llir/llvm/ir/types"
)

// Module is the lifter's top-level IR arena: one per binary, matching
// spec §3's "Module" (the LLVMContext-equivalent arena).
type Module struct {
	LLVM *ir.Module

	// RegCells maps a canonical register name (e.g. "RAX") to its
	// global storage cell.
	RegCells map[string]*ir.Global
	// FlagCells maps a flag name (e.g. "ZF") to its i1 global cell.
	FlagCells map[string]*ir.Global
	// Collect is the declared saib_collect_indirect(i64) helper.
	Collect *ir.Func

	funcs       []*Func
	funcsByAddr map[uint64]*Func
	funcsByName map[string]*Func
}

// NewModule creates an empty Module with the given target triple and
// data layout, and declares the register cells, flag cells and
// indirect-call-collection helper spec §3/§6.2 require.
func NewModule(triple, dataLayout string, gprWidths map[string]int) *Module {
	m := &Module{
		LLVM:        ir.NewModule(),
		RegCells:    make(map[string]*ir.Global),
		FlagCells:   make(map[string]*ir.Global),
		funcsByAddr: make(map[uint64]*Func),
		funcsByName: make(map[string]*Func),
	}
	m.LLVM.TargetTriple = triple
	m.LLVM.DataLayout = dataLayout

	names := make([]string, 0, len(gprWidths))
	for name := range gprWidths {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		typ := types.NewInt(uint64(gprWidths[name]))
		g := m.LLVM.NewGlobalDef(name, constant.NewInt(typ, 0))
		m.RegCells[name] = g
	}

	for _, name := range []string{"OF", "SF", "ZF", "AF", "PF", "CF", "TF", "IF", "DF", "NT", "RF"} {
		g := m.LLVM.NewGlobalDef(name, constant.NewInt(types.I1, 0))
		m.FlagCells[name] = g
	}

	m.Collect = m.LLVM.NewFunc("saib_collect_indirect", types.Void, ir.NewParam("target", types.I64))

	return m
}

// Func wraps an *ir.Func with the load-free Address this lifter keys
// functions by (spec §3 "Function ... Carries the function's
// load-free start offset as an attribute").
type Func struct {
	LLVM        *ir.Func
	Addr        uint64
	blocks      []*Block
	blockByName map[string]*Block
}

// GetOrInsertFunction returns the function named name with the given
// Address, creating (as an empty forward declaration) if absent.
// Matches Decompiler::decompileFunction's Mod->getOrInsertFunction and
// §4.3 step 3's memoization: re-decompiling a materialized function is
// a no-op left to the caller (it should check HasBody first).
func (m *Module) GetOrInsertFunction(name string, addr uint64) *Func {
	if f, ok := m.funcsByAddr[addr]; ok {
		return f
	}
	if f, ok := m.funcsByName[name]; ok {
		f.Addr = addr
		m.funcsByAddr[addr] = f
		setAddrMetadata(f)
		return f
	}
	lf := m.LLVM.NewFunc(name, types.Void)
	f := &Func{LLVM: lf, Addr: addr, blockByName: make(map[string]*Block)}
	m.funcs = append(m.funcs, f)
	m.funcsByAddr[addr] = f
	m.funcsByName[name] = f
	setAddrMetadata(f)
	return f
}

// setAddrMetadata stamps f's Address attribute as an !addr function
// metadata attachment, the persisted form spec §6.2/§6.3 require
// ("downstream tooling parses the !addr attachment to recover the
// function's load-free start offset"). Idempotent: re-addressing a
// forward declaration (the funcsByName branch above) updates the
// existing attachment in place rather than appending a duplicate.
func setAddrMetadata(f *Func) {
	node := &metadata.String{Val: f.AddrAttr()}
	for _, a := range f.LLVM.Metadata {
		if a.Name == "addr" {
			a.Node = node
			return
		}
	}
	f.LLVM.Metadata = append(f.LLVM.Metadata, &metadata.Attachment{Name: "addr", Node: node})
}

// FunctionByAddr looks addr up in the address registry (where
// Decompiler::getFunctionByAddr does a linear search), forward-declaring
// a function via nameFn(addr) if none exists yet.
func (m *Module) FunctionByAddr(addr uint64, nameFn func(uint64) string) *Func {
	if f, ok := m.funcsByAddr[addr]; ok {
		return f
	}
	return m.GetOrInsertFunction(nameFn(addr), addr)
}

// Rename changes f's symbol name, keeping the name registry consistent.
// Used when PLT/relocation resolution discovers a better name for a
// forward-declared callee (spec §4.3 "renames the callee function").
func (m *Module) Rename(f *Func, name string) {
	if name == "" || name == f.LLVM.Name() {
		return
	}
	delete(m.funcsByName, f.LLVM.Name())
	f.LLVM.SetName(name)
	m.funcsByName[name] = f
}

// Functions returns every function registered in m, in creation order.
func (m *Module) Functions() []*Func { return m.funcs }

// HasBody reports whether f has been materialized (decompiled),
// versus still being an empty forward declaration.
func (f *Func) HasBody() bool { return len(f.blocks) > 0 }

// Blocks returns f's basic blocks in creation order (entry first).
func (f *Func) Blocks() []*Block { return f.blocks }

// AddrAttr renders the Address attribute value as spec §6.2 describes
// it: the function's load-free offset as a decimal string.
func (f *Func) AddrAttr() string { return strconv.FormatUint(f.Addr, 10) }
