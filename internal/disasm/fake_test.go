package disasm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/irlift/x64ir/internal/disasm"
)

func TestFakeDisassembleSplitsAtBranchInstructions(t *testing.T) {
	fake := disasm.NewFake()
	fake.Code[0x1000] = []byte{
		0x74, 0x03, // je +3
		0xFF, 0xC0, // inc eax
		0x90, // nop
		0xC3, // ret
	}

	fn, err := fake.Disassemble(0x1000)
	require.NoError(t, err)
	require.Len(t, fn.Blocks, 2)
	require.Equal(t, uint64(0x1000), fn.Blocks[0].Addr)
	require.Len(t, fn.Blocks[0].Insts, 1) // just the je

	require.Equal(t, uint64(0x1002), fn.Blocks[1].Addr)
	require.Len(t, fn.Blocks[1].Insts, 3) // inc, nop, ret
}

func TestFakeDisassembleUnknownAddressErrors(t *testing.T) {
	fake := disasm.NewFake()
	_, err := fake.Disassemble(0xDEAD)
	require.Error(t, err)
}

func TestFakeSectionAndNameLookups(t *testing.T) {
	fake := disasm.NewFake()
	fake.Sections = []disasm.Section{{Name: ".text", Start: 0x1000, End: 0x2000}}
	fake.Names[0x1000] = "main"
	fake.PLT[0x3000] = "puts"
	fake.Relocs[0x1008] = "fixed_up"

	sec, ok := fake.SectionByAddress(0x1500)
	require.True(t, ok)
	require.Equal(t, ".text", sec.Name)

	_, ok = fake.SectionByAddress(0x9000)
	require.False(t, ok)

	require.Equal(t, "main", fake.FunctionName(0x1000))
	require.Equal(t, "main", fake.FuncName(0x1000))
	require.Equal(t, "puts", fake.FuncNameInPLT(0x3000))
	require.Equal(t, "fixed_up", fake.RelocFunctionName(0x1008, "stale"))
	require.Equal(t, "unchanged", fake.RelocFunctionName(0x1009, "unchanged"))

	fake.SetSection(sec)
	require.Equal(t, sec, fake.CurrentSection())
}
