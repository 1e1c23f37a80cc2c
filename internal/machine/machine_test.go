package machine_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"

	"github.com/irlift/x64ir/internal/machine"
)

func TestBlockNameIsDecimalAddress(t *testing.T) {
	require.Equal(t, "bb_0", machine.BlockName(0))
	require.Equal(t, "bb_4096", machine.BlockName(0x1000))
}

func TestInstEndAddsLength(t *testing.T) {
	inst, err := x86asm.Decode([]byte{0x90}, 64) // nop
	require.NoError(t, err)
	mi := machine.Inst{Inst: inst, Offset: 0x10}
	require.Equal(t, uint64(0x11), mi.End())
}

func TestOperandAccessorsDiscriminateKind(t *testing.T) {
	// 89 d8 = mov eax, ebx: two register operands.
	inst, err := x86asm.Decode([]byte{0x89, 0xD8}, 64)
	require.NoError(t, err)
	mi := machine.Inst{Inst: inst, Offset: 0}

	dst, ok := mi.Reg(0)
	require.True(t, ok)
	require.Equal(t, x86asm.EAX, dst)

	src, ok := mi.Reg(1)
	require.True(t, ok)
	require.Equal(t, x86asm.EBX, src)

	_, ok = mi.Mem(0)
	require.False(t, ok)
	_, ok = mi.Imm(0)
	require.False(t, ok)

	require.Equal(t, 2, mi.NumArgs())
}

func TestImmAndRelAccessors(t *testing.T) {
	// b8 2a 00 00 00 = mov eax, 0x2a
	inst, err := x86asm.Decode([]byte{0xB8, 0x2A, 0x00, 0x00, 0x00}, 64)
	require.NoError(t, err)
	mi := machine.Inst{Inst: inst, Offset: 0}

	imm, ok := mi.Imm(1)
	require.True(t, ok)
	require.EqualValues(t, 0x2a, imm)

	// eb 05 = jmp +5
	jmpInst, err := x86asm.Decode([]byte{0xEB, 0x05}, 64)
	require.NoError(t, err)
	jmp := machine.Inst{Inst: jmpInst, Offset: 0}

	rel, ok := jmp.Rel(0)
	require.True(t, ok)
	require.EqualValues(t, 5, rel)
}
