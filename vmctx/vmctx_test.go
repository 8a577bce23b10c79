package vmctx_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aotwasm/sandboxrt/api"
	"github.com/aotwasm/sandboxrt/instance"
	"github.com/aotwasm/sandboxrt/internal/moduledata"
	"github.com/aotwasm/sandboxrt/region"
	"github.com/aotwasm/sandboxrt/vmctx"
)

func newTestVmctx(t *testing.T, mod *moduledata.Mock) (*vmctx.Vmctx, *instance.Instance) {
	t.Helper()
	if mod.Heap.ReservedSize == 0 {
		mod.Heap = region.HeapSpec{
			ReservedSize: 2 * api.WasmPageSize,
			GuardSize:    api.WasmPageSize,
			InitialSize:  api.WasmPageSize,
		}
	}
	r, err := region.Create(1, region.DefaultLimits(), region.MmapBackend{})
	require.NoError(t, err)
	inst, err := instance.Open(r, mod, instance.NewConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Release() })
	return vmctx.New(inst, mod), inst
}

func TestCallIndirectSuccess(t *testing.T) {
	mod := moduledata.NewMock()
	mod.TableEntries = []moduledata.TableEntry{{TypeID: 7, Address: 0x1000}}
	v, _ := newTestVmctx(t, mod)

	addr, err := v.CallIndirect(0, 7)
	require.NoError(t, err)
	require.Equal(t, uintptr(0x1000), addr)
}

func TestCallIndirectOutOfBounds(t *testing.T) {
	mod := moduledata.NewMock()
	v, _ := newTestVmctx(t, mod)

	_, err := v.CallIndirect(3, 7)
	require.ErrorIs(t, err, vmctx.ErrTableOutOfBounds)
}

func TestCallIndirectNullEntry(t *testing.T) {
	mod := moduledata.NewMock()
	mod.TableEntries = []moduledata.TableEntry{{TypeID: 7, Address: 0}}
	v, _ := newTestVmctx(t, mod)

	_, err := v.CallIndirect(0, 7)
	require.ErrorIs(t, err, vmctx.ErrIndirectCallToNull)
}

func TestCallIndirectSignatureMismatch(t *testing.T) {
	mod := moduledata.NewMock()
	mod.TableEntries = []moduledata.TableEntry{{TypeID: 7, Address: 0x1000}}
	v, _ := newTestVmctx(t, mod)

	_, err := v.CallIndirect(0, 9)
	require.ErrorIs(t, err, vmctx.ErrBadSignature)
}

func TestGrowMemoryFromHostcall(t *testing.T) {
	mod := moduledata.NewMock()
	mod.Heap = region.HeapSpec{
		ReservedSize: 4 * api.WasmPageSize,
		GuardSize:    api.WasmPageSize,
		InitialSize:  api.WasmPageSize,
	}
	v, inst := newTestVmctx(t, mod)

	prev, err := v.GrowMemory(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), prev)
	require.Equal(t, v.HeapBase(), inst.HeapBase())
}

func TestHeapBaseMatchesInstance(t *testing.T) {
	mod := moduledata.NewMock()
	v, inst := newTestVmctx(t, mod)
	require.Equal(t, inst.HeapBase(), v.HeapBase())
}
