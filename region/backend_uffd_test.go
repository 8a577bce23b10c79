//go:build linux

package region

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aotwasm/sandboxrt/api"
)

func testLimitsForFaultClassification() Limits {
	return Limits{
		HeapAddressSpaceSize: 4 * uint64(api.WasmPageSize),
		HeapMemorySize:       4 * uint64(api.WasmPageSize),
		StackSize:            2 * uint64(api.WasmPageSize),
		GlobalsSize:          uint64(api.WasmPageSize),
		SignalStackSize:      uint64(api.WasmPageSize),
	}
}

func TestClassifyFaultAddressSparseInitHeapPageCopies(t *testing.T) {
	l := newLayout(testLimitsForFaultClassification())
	spec := HeapSpec{ReservedSize: 2 * uint64(api.WasmPageSize), InitialSize: uint64(api.WasmPageSize)}
	payload := make([]byte, api.WasmPageSize)
	payload[0] = 0xAB
	sparse := []SparsePage{{PageIndex: 0, Data: payload}}

	action := classifyFaultAddress(l.heapOffset, l, testLimitsForFaultClassification(), spec, sparse)
	require.Equal(t, faultCopy, action.kind)
	require.Equal(t, uintptr(api.WasmPageSize), action.size)
	require.Equal(t, payload, action.data)
}

func TestClassifyFaultAddressZeroInitHeapPageZeroes(t *testing.T) {
	l := newLayout(testLimitsForFaultClassification())
	spec := HeapSpec{ReservedSize: 2 * uint64(api.WasmPageSize), InitialSize: uint64(api.WasmPageSize)}

	// Second heap page has no sparse entry.
	action := classifyFaultAddress(l.heapOffset+uint64(api.WasmPageSize), l, testLimitsForFaultClassification(), spec, nil)
	require.Equal(t, faultZero, action.kind)
	require.Equal(t, uintptr(api.WasmPageSize), action.size)
	require.Nil(t, action.data)
}

func TestClassifyFaultAddressHeapGuardPoisons(t *testing.T) {
	limits := testLimitsForFaultClassification()
	l := newLayout(limits)
	spec := HeapSpec{ReservedSize: 2 * uint64(api.WasmPageSize), InitialSize: uint64(api.WasmPageSize)}

	action := classifyFaultAddress(l.heapGuardOffset, l, limits, spec, nil)
	require.Equal(t, faultPoison, action.kind)
}

func TestClassifyFaultAddressGlobalsPoisons(t *testing.T) {
	limits := testLimitsForFaultClassification()
	l := newLayout(limits)
	spec := HeapSpec{ReservedSize: 2 * uint64(api.WasmPageSize), InitialSize: uint64(api.WasmPageSize)}

	action := classifyFaultAddress(l.globalsOffset, l, limits, spec, nil)
	require.Equal(t, faultPoison, action.kind)
}

func TestClassifyFaultAddressSigstackPoisons(t *testing.T) {
	limits := testLimitsForFaultClassification()
	l := newLayout(limits)
	spec := HeapSpec{ReservedSize: 2 * uint64(api.WasmPageSize), InitialSize: uint64(api.WasmPageSize)}

	action := classifyFaultAddress(l.sigstackOffset, l, limits, spec, nil)
	require.Equal(t, faultPoison, action.kind)
}

func TestClassifyFaultAddressStackPageZeroes(t *testing.T) {
	limits := testLimitsForFaultClassification()
	l := newLayout(limits)
	spec := HeapSpec{ReservedSize: 2 * uint64(api.WasmPageSize), InitialSize: uint64(api.WasmPageSize)}

	action := classifyFaultAddress(l.stackOffset, l, limits, spec, nil)
	require.Equal(t, faultZero, action.kind)
	require.Equal(t, uintptr(api.WasmPageSize), action.size)
}
