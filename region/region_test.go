package region

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aotwasm/sandboxrt/api"
)

type fakeModule struct {
	heap    HeapSpec
	globals uint64
	sparse  []SparsePage
}

func (m fakeModule) HeapSpec() HeapSpec        { return m.heap }
func (m fakeModule) GlobalsSize() uint64       { return m.globals }
func (m fakeModule) SparsePages() []SparsePage { return m.sparse }

func smallHeapSpec() HeapSpec {
	return HeapSpec{
		ReservedSize: 2 * api.WasmPageSize,
		GuardSize:    api.WasmPageSize,
		InitialSize:  api.WasmPageSize,
	}
}

func TestCreateRejectsZeroCapacity(t *testing.T) {
	_, err := Create(0, DefaultLimits(), MmapBackend{})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCreateRejectsInvalidLimits(t *testing.T) {
	bad := DefaultLimits()
	bad.StackSize = 123 // not a page multiple
	_, err := Create(1, bad, MmapBackend{})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNewInstanceHeapReadWrite(t *testing.T) {
	r, err := Create(2, DefaultLimits(), MmapBackend{})
	require.NoError(t, err)

	handle, err := r.NewInstance(fakeModule{heap: smallHeapSpec()}, nil)
	require.NoError(t, err)
	defer handle.Release()

	heap := handle.Slot.Heap()
	require.Len(t, heap, api.WasmPageSize)

	heap[0] = 0x42
	heap[len(heap)-1] = 0x43
	require.Equal(t, byte(0x42), heap[0])
	require.Equal(t, byte(0x43), heap[len(heap)-1])
}

func TestNewInstanceBadHeapSpecDoesNotConsumeCapacity(t *testing.T) {
	r, err := Create(1, DefaultLimits(), MmapBackend{})
	require.NoError(t, err)

	bad := HeapSpec{ReservedSize: r.Limits.HeapAddressSpaceSize * 2, InitialSize: 0}
	_, err = r.NewInstance(fakeModule{heap: bad}, nil)
	require.ErrorIs(t, err, ErrLimitsExceeded)

	// The slot must still be available: a failed spec must not consume
	// capacity (spec.md §4.1 "a bad spec must not consume capacity").
	handle, err := r.NewInstance(fakeModule{heap: smallHeapSpec()}, nil)
	require.NoError(t, err)
	require.NoError(t, handle.Release())
}

func TestRegionFullWhenFreelistExhausted(t *testing.T) {
	r, err := Create(1, DefaultLimits(), MmapBackend{})
	require.NoError(t, err)

	h1, err := r.NewInstance(fakeModule{heap: smallHeapSpec()}, nil)
	require.NoError(t, err)
	defer h1.Release()

	_, err = r.NewInstance(fakeModule{heap: smallHeapSpec()}, nil)
	require.ErrorIs(t, err, ErrRegionFull)
}

func TestReleaseReturnsSlotToFreelist(t *testing.T) {
	r, err := Create(1, DefaultLimits(), MmapBackend{})
	require.NoError(t, err)

	h1, err := r.NewInstance(fakeModule{heap: smallHeapSpec()}, nil)
	require.NoError(t, err)
	require.NoError(t, h1.Release())
	require.NoError(t, h1.Release()) // idempotent

	h2, err := r.NewInstance(fakeModule{heap: smallHeapSpec()}, nil)
	require.NoError(t, err)
	require.NoError(t, h2.Release())
}

func TestResetHeapRestoresSparseImage(t *testing.T) {
	r, err := Create(1, DefaultLimits(), MmapBackend{})
	require.NoError(t, err)

	payload := make([]byte, api.WasmPageSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	mod := fakeModule{
		heap:   smallHeapSpec(),
		sparse: []SparsePage{{PageIndex: 0, Data: payload}},
	}
	handle, err := r.NewInstance(mod, nil)
	require.NoError(t, err)
	defer handle.Release()

	require.Equal(t, payload, handle.Slot.Heap())

	// Corrupt the heap, then grow and reset: reset must restore byte-for-byte
	// the module's sparse-init image regardless of prior growth (spec.md §8
	// invariant 2).
	copy(handle.Slot.Heap(), make([]byte, api.WasmPageSize))
	require.NoError(t, r.Backend.ExpandHeap(handle.Slot, 2*api.WasmPageSize))
	require.NoError(t, r.Backend.ResetHeap(handle.Slot, mod.heap, mod.sparse))

	require.Equal(t, uint64(api.WasmPageSize), handle.Slot.HeapCommitted())
	require.Equal(t, payload, handle.Slot.Heap())
}

func TestExpandHeapGrowsCommittedSize(t *testing.T) {
	r, err := Create(1, DefaultLimits(), MmapBackend{})
	require.NoError(t, err)

	handle, err := r.NewInstance(fakeModule{heap: smallHeapSpec()}, nil)
	require.NoError(t, err)
	defer handle.Release()

	before := handle.Slot.HeapCommitted()
	require.NoError(t, r.Backend.ExpandHeap(handle.Slot, before+api.WasmPageSize))
	require.Equal(t, before+api.WasmPageSize, handle.Slot.HeapCommitted())

	grown := handle.Slot.Heap()
	require.Len(t, grown, int(before+api.WasmPageSize))
	grown[len(grown)-1] = 0xFF // the newly-grown page must be writable.
	require.Equal(t, byte(0xFF), grown[len(grown)-1])
}

func TestLinearStrategyHandsOutIndexZeroFirst(t *testing.T) {
	r, err := Create(3, DefaultLimits(), MmapBackend{})
	require.NoError(t, err)

	h, err := r.NewInstance(fakeModule{heap: smallHeapSpec()}, nil)
	require.NoError(t, err)
	defer h.Release()

	require.Equal(t, 0, h.Slot.Index())
}

func TestHeapSpecValidate(t *testing.T) {
	limits := DefaultLimits()

	ok := smallHeapSpec()
	require.NoError(t, ok.Validate(limits))

	unaligned := smallHeapSpec()
	unaligned.InitialSize = 123
	require.Error(t, unaligned.Validate(limits))

	tooBig := smallHeapSpec()
	tooBig.ReservedSize = limits.HeapAddressSpaceSize * 2
	require.Error(t, tooBig.Validate(limits))

	initialExceedsReserved := smallHeapSpec()
	initialExceedsReserved.InitialSize = initialExceedsReserved.ReservedSize + api.WasmPageSize
	require.Error(t, initialExceedsReserved.Validate(limits))
}
