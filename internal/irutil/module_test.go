package irutil_test

import (
	"testing"

	"github.com/llir/llvm/ir/metadata"
	"github.com/stretchr/testify/require"

	"github.com/irlift/x64ir/internal/irutil"
)

func addrMetadata(t *testing.T, f *irutil.Func) string {
	t.Helper()
	for _, a := range f.LLVM.Metadata {
		if a.Name == "addr" {
			s, ok := a.Node.(*metadata.String)
			require.True(t, ok, "addr attachment should carry a metadata.String")
			return s.Val
		}
	}
	t.Fatalf("function %s has no !addr metadata attachment", f.LLVM.Name())
	return ""
}

func TestGetOrInsertFunctionStampsAddrMetadata(t *testing.T) {
	mod := irutil.NewModule("x86_64-unknown-linux-gnu", "", map[string]int{"RAX": 64})
	f := mod.GetOrInsertFunction("main", 0x1000)
	require.Equal(t, f.AddrAttr(), addrMetadata(t, f))
}

func TestGetOrInsertFunctionUpdatesAddrMetadataOnRekey(t *testing.T) {
	mod := irutil.NewModule("x86_64-unknown-linux-gnu", "", map[string]int{"RAX": 64})
	placeholder := mod.GetOrInsertFunction("puts", 0)
	require.Equal(t, "0", addrMetadata(t, placeholder))

	rekeyed := mod.GetOrInsertFunction("puts", 0x3008)
	require.Same(t, placeholder, rekeyed)
	require.Equal(t, "12296", addrMetadata(t, rekeyed)) // strconv.FormatUint(0x3008, 10)
	require.Len(t, rekeyed.LLVM.Metadata, 1, "rekeying should update the existing attachment, not append a second one")
}

func TestFunctionByAddrForwardDeclares(t *testing.T) {
	mod := irutil.NewModule("x86_64-unknown-linux-gnu", "", map[string]int{"RAX": 64})
	var namedAddr uint64
	f := mod.FunctionByAddr(0x2010, func(addr uint64) string {
		namedAddr = addr
		return "sub_2010"
	})
	require.NotNil(t, f)
	require.Equal(t, uint64(0x2010), namedAddr)
	require.Equal(t, "sub_2010", f.LLVM.Name())
	require.False(t, f.HasBody())

	again := mod.FunctionByAddr(0x2010, func(uint64) string {
		t.Fatal("nameFn should not be called on an already-registered address")
		return ""
	})
	require.Same(t, f, again)
}
