package lift_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"

	"github.com/irlift/x64ir/internal/disasm"
	"github.com/irlift/x64ir/internal/irutil"
	"github.com/irlift/x64ir/internal/lift"
	"github.com/irlift/x64ir/internal/machine"
	"github.com/irlift/x64ir/internal/regfile"
)

func decodeAt(t *testing.T, code []byte, offset uint64) machine.Inst {
	t.Helper()
	inst, err := x86asm.Decode(code, 64)
	require.NoError(t, err)
	return machine.Inst{Inst: inst, Offset: offset}
}

func newEnv(t *testing.T) (*lift.Env, *irutil.Block) {
	t.Helper()
	widths := regfile.GPRWidths()
	for name, w := range regfile.SegBaseCells() {
		widths[name] = w
	}
	mod := irutil.NewModule("x86_64-unknown-linux-gnu", "", widths)
	fn := mod.GetOrInsertFunction("test", 0x1000)
	blk := fn.GetOrCreateBasicBlock("entry")

	fake := disasm.NewFake()
	env := &lift.Env{Mod: mod, Fn: fn, Disasm: fake, Sym: fake}
	return env, blk
}

func TestDispatchMovRegReg(t *testing.T) {
	env, blk := newEnv(t)
	// 89 d8 = mov eax, ebx
	mi := decodeAt(t, []byte{0x89, 0xD8}, 0x10)

	err := lift.Dispatch(env, blk, mi)
	require.NoError(t, err)
	require.False(t, blk.Empty())
	require.Equal(t, uint64(0x10), blk.StartOffset())
}

func TestDispatchAddSetsFlags(t *testing.T) {
	env, blk := newEnv(t)
	// 01 d8 = add eax, ebx
	mi := decodeAt(t, []byte{0x01, 0xD8}, 0x10)

	before := len(blk.LLVM.Insts)
	err := lift.Dispatch(env, blk, mi)
	require.NoError(t, err)
	require.Greater(t, len(blk.LLVM.Insts), before+1, "add should write back and store flags")
}

func TestDispatchRetTerminatesBlock(t *testing.T) {
	env, blk := newEnv(t)
	mi := decodeAt(t, []byte{0xC3}, 0x20) // ret

	err := lift.Dispatch(env, blk, mi)
	require.NoError(t, err)
	require.True(t, blk.Terminated())
	require.Equal(t, uint64(0x20), blk.EndOffset())
}

func TestDispatchJmpRelCreatesTargetBlock(t *testing.T) {
	env, blk := newEnv(t)
	mi := decodeAt(t, []byte{0xEB, 0x05}, 0x10) // jmp +5

	err := lift.Dispatch(env, blk, mi)
	require.NoError(t, err)
	require.True(t, blk.Terminated())

	target := machine.BlockName(0x10 + 2 + 5)
	require.Contains(t, blockNames(env.Fn.Blocks()), target)
}

func TestDispatchJccCreatesBothSuccessors(t *testing.T) {
	env, blk := newEnv(t)
	mi := decodeAt(t, []byte{0x74, 0x05}, 0x10) // je +5

	err := lift.Dispatch(env, blk, mi)
	require.NoError(t, err)

	taken := machine.BlockName(0x10 + 2 + 5)
	fall := machine.BlockName(0x10 + 2)
	names := blockNames(env.Fn.Blocks())
	require.Contains(t, names, taken)
	require.Contains(t, names, fall)
}

func TestDispatchUnknownOpcodeReturnsSentinel(t *testing.T) {
	env, blk := newEnv(t)
	// 0f a2 = cpuid, not in the handler table
	mi := decodeAt(t, []byte{0x0F, 0xA2}, 0x10)

	err := lift.Dispatch(env, blk, mi)
	require.Error(t, err)
	require.True(t, errors.Is(err, lift.ErrUnknownOpcode))
}

func blockNames(blocks []*irutil.Block) []string {
	var names []string
	for _, b := range blocks {
		names = append(names, b.Name)
	}
	return names
}
