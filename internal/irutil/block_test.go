package irutil_test

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/require"

	"github.com/irlift/x64ir/internal/irutil"
)

func newTestFunc(t *testing.T) *irutil.Func {
	t.Helper()
	mod := irutil.NewModule("x86_64-unknown-linux-gnu", "", map[string]int{"RAX": 64})
	return mod.GetOrInsertFunction("test", 0x1000)
}

func TestGetOrCreateBasicBlockIdempotent(t *testing.T) {
	fn := newTestFunc(t)
	a := fn.GetOrCreateBasicBlock("bb_1")
	b := fn.GetOrCreateBasicBlock("bb_1")
	require.Same(t, a, b)
	require.Len(t, fn.Blocks(), 1)

	fn.GetOrCreateBasicBlock("bb_2")
	require.Len(t, fn.Blocks(), 2)
}

func TestEmptyUntilFirstInstruction(t *testing.T) {
	fn := newTestFunc(t)
	blk := fn.GetOrCreateBasicBlock("entry")
	require.True(t, blk.Empty())

	blk.LLVM.NewAdd(constant.NewInt(types.I64, 1), constant.NewInt(types.I64, 2))
	blk.Mark(0x10)

	require.False(t, blk.Empty())
	require.Equal(t, uint64(0x10), blk.StartOffset())
}

func TestMarkTagsEveryPendingInstructionOnce(t *testing.T) {
	fn := newTestFunc(t)
	blk := fn.GetOrCreateBasicBlock("entry")

	// Simulate a handler that emits several IR instructions for one
	// machine instruction (as regfile's masked-splice write does).
	blk.LLVM.NewAdd(constant.NewInt(types.I64, 1), constant.NewInt(types.I64, 1))
	blk.LLVM.NewAdd(constant.NewInt(types.I64, 2), constant.NewInt(types.I64, 2))
	blk.LLVM.NewAdd(constant.NewInt(types.I64, 3), constant.NewInt(types.I64, 3))
	blk.Mark(0x20)

	require.Equal(t, uint64(0x20), blk.StartOffset())

	blk.LLVM.NewAdd(constant.NewInt(types.I64, 4), constant.NewInt(types.I64, 4))
	blk.Mark(0x24)

	s, ok := blk.FindSplitPoint(0x24)
	require.True(t, ok)
	require.Equal(t, 3, s)
}

func TestSplitIntoMovesTailAndInsertsBranch(t *testing.T) {
	fn := newTestFunc(t)
	s := fn.GetOrCreateBasicBlock("bb_s")
	e := fn.GetOrCreateBasicBlock("bb_e")

	s.LLVM.NewAdd(constant.NewInt(types.I64, 1), constant.NewInt(types.I64, 1))
	s.Mark(0x10)
	s.LLVM.NewAdd(constant.NewInt(types.I64, 2), constant.NewInt(types.I64, 2))
	s.Mark(0x14)
	s.SetTerm(s.LLVM.NewRet(nil), 0x14)

	s.SortByOffset()
	i, ok := s.FindSplitPoint(0x14)
	require.True(t, ok)

	s.SplitInto(i, e)

	require.Len(t, s.LLVM.Insts, 1)
	require.Len(t, e.LLVM.Insts, 1)
	require.IsType(t, &ir.TermBr{}, s.LLVM.Term)
	require.IsType(t, &ir.TermRet{}, e.LLVM.Term)
	require.True(t, e.Terminated())
	require.Equal(t, uint64(0x14), e.EndOffset())
}

func TestFindSplitPointRequiresSortedOffsets(t *testing.T) {
	fn := newTestFunc(t)
	blk := fn.GetOrCreateBasicBlock("entry")

	blk.LLVM.NewAdd(constant.NewInt(types.I64, 1), constant.NewInt(types.I64, 1))
	blk.Mark(0x30)
	blk.LLVM.NewAdd(constant.NewInt(types.I64, 2), constant.NewInt(types.I64, 2))
	blk.Mark(0x10) // out of order on purpose

	blk.SortByOffset()
	require.Equal(t, uint64(0x10), blk.StartOffset())

	_, ok := blk.FindSplitPoint(0x99)
	require.False(t, ok)
}
