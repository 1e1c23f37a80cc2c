package regfile

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"golang.org/x/arch/x86/x86asm"

	"github.com/irlift/x64ir/internal/irutil"
)

// SegBase returns the value seg_base(SEG) contributes to an
// effective-address computation (spec §4.2): zero for CS/DS/ES/SS/no
// segment override, the canonical FS_BASE/GS_BASE cell for FS/GS.
// Mirrors get_pointer_val's segment handling, generalized from its
// NoRegister-only assertion to the two segments this lifter's TLS
// support actually needs.
func SegBase(b *ir.Block, m *irutil.Module, seg x86asm.Reg) value.Value {
	switch seg {
	case x86asm.FS:
		cell := m.RegCells["FS_BASE"]
		return b.NewLoad(cell.ContentType, cell)
	case x86asm.GS:
		cell := m.RegCells["GS_BASE"]
		return b.NewLoad(cell.ContentType, cell)
	default:
		return constant.NewInt(types.I64, 0)
	}
}

// EffectiveAddr computes addr = seg_base(SEG) + base_val + disp +
// index_val*scale (spec §4.2 memory-operand lowering), matching
// get_pointer_val instruction-for-instruction.
func EffectiveAddr(b *ir.Block, m *irutil.Module, mem x86asm.Mem) value.Value {
	base := value.Value(constant.NewInt(types.I64, 0))
	if mem.Base != 0 {
		base = widenTo64(b, Read(b, m, mem.Base))
	}
	index := value.Value(constant.NewInt(types.I64, 0))
	if mem.Index != 0 {
		index = widenTo64(b, Read(b, m, mem.Index))
	}
	scale := constant.NewInt(types.I64, int64(mem.Scale))
	disp := constant.NewInt(types.I64, mem.Disp)
	seg := SegBase(b, m, mem.Segment)

	sum := value.Value(b.NewAdd(base, disp))
	sum = b.NewAdd(sum, b.NewMul(index, scale))
	sum = b.NewAdd(sum, seg)
	return sum
}

func widenTo64(b *ir.Block, v value.Value) value.Value {
	it, ok := v.Type().(*types.IntType)
	if ok && it.BitSize == 64 {
		return v
	}
	return b.NewZExt(v, types.I64)
}

// LoadMem reads a width-bit value from mem's effective address,
// matching get_mem_val: cast the computed address to a typed pointer
// of the operation width, then issue a single load.
func LoadMem(b *ir.Block, m *irutil.Module, mem x86asm.Mem, width uint64) value.Value {
	addr := EffectiveAddr(b, m, mem)
	ptr := b.NewIntToPtr(addr, types.NewPointer(types.NewInt(width)))
	return b.NewLoad(types.NewInt(width), ptr)
}

// StoreMem writes val (already of its own width) to mem's effective
// address, matching store_mem_val.
func StoreMem(b *ir.Block, m *irutil.Module, mem x86asm.Mem, val value.Value) {
	addr := EffectiveAddr(b, m, mem)
	ptr := b.NewIntToPtr(addr, types.NewPointer(val.Type()))
	b.NewStore(val, ptr)
}
