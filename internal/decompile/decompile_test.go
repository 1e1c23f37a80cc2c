package decompile_test

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/stretchr/testify/require"

	"github.com/irlift/x64ir/internal/decompile"
	"github.com/irlift/x64ir/internal/disasm"
	"github.com/irlift/x64ir/internal/irutil"
	"github.com/irlift/x64ir/internal/regfile"
)

func newModule(t *testing.T) *irutil.Module {
	t.Helper()
	widths := regfile.GPRWidths()
	for name, w := range regfile.SegBaseCells() {
		widths[name] = w
	}
	return irutil.NewModule("x86_64-unknown-linux-gnu", "", widths)
}

func funcAt(t *testing.T, mod *irutil.Module, addr uint64) *irutil.Func {
	t.Helper()
	for _, f := range mod.Functions() {
		if f.Addr == addr {
			return f
		}
	}
	t.Fatalf("no function at %#x", addr)
	return nil
}

// A trivial leaf function: mov eax, ebx; ret.
func TestDecompileTrivialLeafFunction(t *testing.T) {
	fake := disasm.NewFake()
	fake.Code[0x1000] = []byte{0x89, 0xD8, 0xC3}

	mod := newModule(t)
	dec := decompile.New(mod, fake, fake)
	require.NoError(t, dec.Decompile(0x1000))

	fn := funcAt(t, mod, 0x1000)
	require.True(t, fn.HasBody())
	require.Len(t, fn.Blocks(), 1)
	require.IsType(t, &ir.TermRet{}, fn.Blocks()[0].LLVM.Term)
}

// A conditional forward jump whose target lands mid-block, forcing the
// split-on-branch-target pass: je +3; inc eax; nop; ret (target == ret).
func TestDecompileConditionalForwardJumpSplitsBlock(t *testing.T) {
	fake := disasm.NewFake()
	fake.Code[0x1000] = []byte{
		0x74, 0x03, // je +3      (0x1000, len 2, target = 0x1002+3 = 0x1005)
		0xFF, 0xC0, // inc eax    (0x1002, len 2)
		0x90,       // nop        (0x1004, len 1)
		0xC3,       // ret        (0x1005, len 1)
	}

	mod := newModule(t)
	dec := decompile.New(mod, fake, fake)
	require.NoError(t, dec.Decompile(0x1000))

	fn := funcAt(t, mod, 0x1000)
	require.True(t, fn.HasBody())
	// entry (je) + [inc, nop] + [ret], after splitting the branch target
	// out of the single post-je block the fake disassembler produced.
	require.Len(t, fn.Blocks(), 3)

	var sawCondBr, sawRet bool
	for _, b := range fn.Blocks() {
		switch b.LLVM.Term.(type) {
		case *ir.TermCondBr:
			sawCondBr = true
		case *ir.TermRet:
			sawRet = true
		}
	}
	require.True(t, sawCondBr, "entry block should end in a conditional branch")
	require.True(t, sawRet, "split-out block should end in the original ret")
}

// A direct call to a callee the work list must discover and decompile
// on its own.
func TestDecompileDirectCallDiscoversCallee(t *testing.T) {
	fake := disasm.NewFake()
	fake.Code[0x2000] = []byte{
		0xE8, 0x0B, 0x00, 0x00, 0x00, // call +0x0B (target = 0x2005+0x0B = 0x2010)
		0xC3, // ret
	}
	fake.Code[0x2010] = []byte{0xC3} // ret

	mod := newModule(t)
	dec := decompile.New(mod, fake, fake)
	require.NoError(t, dec.Decompile(0x2000))

	require.Len(t, mod.Functions(), 2)
	caller := funcAt(t, mod, 0x2000)
	callee := funcAt(t, mod, 0x2010)
	require.True(t, caller.HasBody())
	require.True(t, callee.HasBody())

	var sawCall bool
	for _, b := range caller.Blocks() {
		for _, inst := range b.LLVM.Insts {
			call, ok := inst.(*ir.InstCall)
			if !ok {
				continue
			}
			if call.Callee == callee.LLVM {
				sawCall = true
			}
		}
	}
	require.True(t, sawCall, "caller's call site should be a direct *ir.InstCall to the callee, not Unreachable")
}

// A call through a PLT stub: the callee has no code of its own to
// decompile, but gets discovered and renamed to its external symbol.
func TestDecompileCallThroughPLTRenamesWithoutBody(t *testing.T) {
	fake := disasm.NewFake()
	fake.Sections = []disasm.Section{
		{Name: ".text", Start: 0x2000, End: 0x3000},
		{Name: ".plt", Start: 0x3000, End: 0x3010},
	}
	fake.PLT[0x3008] = "puts"
	fake.Code[0x2000] = []byte{
		0xE8, 0x03, 0x10, 0x00, 0x00, // call +0x1003 (target = 0x2005+0x1003 = 0x3008)
		0xC3, // ret
	}

	mod := newModule(t)
	dec := decompile.New(mod, fake, fake)
	require.NoError(t, dec.Decompile(0x2000))

	callee := funcAt(t, mod, 0x3008)
	require.False(t, callee.HasBody())
	require.Equal(t, "puts", callee.LLVM.Name())
}
