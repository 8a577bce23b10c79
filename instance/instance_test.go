package instance

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aotwasm/sandboxrt/api"
	"github.com/aotwasm/sandboxrt/internal/moduledata"
	"github.com/aotwasm/sandboxrt/region"
)

func newTestRegion(t *testing.T) *region.Region {
	t.Helper()
	r, err := region.Create(2, region.DefaultLimits(), region.MmapBackend{})
	require.NoError(t, err)
	return r
}

func simpleMock() *moduledata.Mock {
	return moduledata.NewMock().WithExport("onetwothree", 0x1000, api.Signature{
		Params:  []api.ValueType{api.ValueTypeI32},
		Results: []api.ValueType{api.ValueTypeI32},
	})
}

func openTestInstance(t *testing.T, mod *moduledata.Mock) *Instance {
	t.Helper()
	inst, err := Open(newTestRegion(t), mod, NewConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Release() })
	return inst
}

func TestRunUnknownExport(t *testing.T) {
	inst := openTestInstance(t, simpleMock())
	_, err := inst.Run(context.Background(), "nope", nil)
	require.Error(t, err)
	require.Equal(t, KindFuncNotFound, err.(*Error).Kind)
}

func TestRunStartFunctionDirectlyRejected(t *testing.T) {
	mod := simpleMock()
	start := api.FunctionDescriptor{Name: "_start", Address: 0x2000, IsStart: true}
	mod.Start = &start
	mod.Exports["_start"] = start
	inst := openTestInstance(t, mod)

	_, err := inst.Run(context.Background(), "_start", nil)
	require.Error(t, err)
	require.Equal(t, KindInvalidArgument, err.(*Error).Kind)
}

func TestRunBeforeStartRequiresRunStart(t *testing.T) {
	mod := simpleMock()
	start := api.FunctionDescriptor{Name: "_start", Address: 0x2000, IsStart: true}
	mod.Start = &start
	inst := openTestInstance(t, mod)
	require.Equal(t, "NotStarted", inst.State().Name())

	_, err := inst.Run(context.Background(), "onetwothree", []uint64{1})
	require.Error(t, err)
	require.Equal(t, KindInstanceNeedsStart, err.(*Error).Kind)
}

func TestRunArityMismatch(t *testing.T) {
	inst := openTestInstance(t, simpleMock())
	_, err := inst.Run(context.Background(), "onetwothree", nil)
	require.Error(t, err)
	require.Equal(t, KindInvalidArgument, err.(*Error).Kind)
}

func TestRunIllegalState(t *testing.T) {
	inst := openTestInstance(t, simpleMock())
	inst.mu.Lock()
	inst.state = Running
	inst.mu.Unlock()

	_, err := inst.Run(context.Background(), "onetwothree", []uint64{1})
	require.Error(t, err)
	require.Equal(t, KindInvalidArgument, err.(*Error).Kind)
}

func TestRunStartNoStartFunction(t *testing.T) {
	inst := openTestInstance(t, simpleMock())
	_, err := inst.RunStart(context.Background())
	require.Error(t, err)
	require.Equal(t, KindInvalidArgument, err.(*Error).Kind)
}

func TestRunStartAlreadyRun(t *testing.T) {
	mod := simpleMock()
	start := api.FunctionDescriptor{Name: "_start", Address: 0x2000, IsStart: true}
	mod.Start = &start
	inst := openTestInstance(t, mod)

	inst.mu.Lock()
	inst.startRun = true
	inst.mu.Unlock()

	_, err := inst.RunStart(context.Background())
	require.Error(t, err)
	require.Equal(t, KindStartAlreadyRun, err.(*Error).Kind)
}

func TestRunStartIllegalState(t *testing.T) {
	mod := simpleMock()
	start := api.FunctionDescriptor{Name: "_start", Address: 0x2000, IsStart: true}
	mod.Start = &start
	inst := openTestInstance(t, mod)

	inst.mu.Lock()
	inst.state = Ready
	inst.mu.Unlock()

	_, err := inst.RunStart(context.Background())
	require.Error(t, err)
	require.Equal(t, KindInvalidArgument, err.(*Error).Kind)
}

func TestResumeNotYielded(t *testing.T) {
	inst := openTestInstance(t, simpleMock())
	_, err := inst.Resume(context.Background(), nil)
	require.Error(t, err)
	require.Equal(t, KindInstanceNotYielded, err.(*Error).Kind)
}

func TestResumeTypeMismatch(t *testing.T) {
	inst := openTestInstance(t, simpleMock())
	i32 := api.ValueTypeI32
	inst.mu.Lock()
	inst.state = Yielded(&i32)
	inst.mu.Unlock()

	_, err := inst.Resume(context.Background(), "not a number")
	require.Error(t, err)
	require.Equal(t, KindInvalidArgument, err.(*Error).Kind)
}

func TestResetFromReadyReinitializesHeap(t *testing.T) {
	payload := make([]byte, api.WasmPageSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	mod := simpleMock()
	mod.Heap = region.HeapSpec{
		ReservedSize: 2 * api.WasmPageSize,
		GuardSize:    api.WasmPageSize,
		InitialSize:  api.WasmPageSize,
	}
	mod.Sparse = []region.SparsePage{{PageIndex: 0, Data: payload}}
	inst := openTestInstance(t, mod)

	oldKS := inst.KillSwitch()
	copy(inst.handle.Slot.Heap(), make([]byte, api.WasmPageSize))

	require.NoError(t, inst.Reset())
	require.Equal(t, "Ready", inst.State().Name())
	require.Equal(t, payload, inst.handle.Slot.Heap())

	// Reset replaces the KillState: an outstanding switch from before the
	// reset can no longer reach the new state (spec.md §4.6 "reset()"), once
	// the old state's weak reference has actually been collected.
	runtime.GC()
	runtime.GC()
	require.Equal(t, "invalid", oldKS.Terminate().String())
}

func TestResetIllegalStateFromRunning(t *testing.T) {
	inst := openTestInstance(t, simpleMock())
	inst.mu.Lock()
	inst.state = Running
	inst.mu.Unlock()

	err := inst.Reset()
	require.Error(t, err)
}

func TestKillSwitchBeforeRunCancels(t *testing.T) {
	inst := openTestInstance(t, simpleMock())
	sw := inst.KillSwitch()
	require.Equal(t, "cancelled", sw.Terminate().String())
}

func TestEmbedContextRoundTrip(t *testing.T) {
	inst := openTestInstance(t, simpleMock())
	type key struct{}
	_, ok := inst.EmbedContext(key{})
	require.False(t, ok)

	inst.SetEmbedContext(key{}, 42)
	v, ok := inst.EmbedContext(key{})
	require.True(t, ok)
	require.Equal(t, 42, v)
}

func TestGrowMemoryWithinLimits(t *testing.T) {
	mod := simpleMock()
	mod.Heap = region.HeapSpec{
		ReservedSize: 4 * api.WasmPageSize,
		GuardSize:    api.WasmPageSize,
		InitialSize:  api.WasmPageSize,
	}
	inst := openTestInstance(t, mod)

	prev, err := inst.GrowMemory(1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), prev)
	require.Equal(t, uint64(2*api.WasmPageSize), inst.handle.Slot.HeapCommitted())
}

func TestGrowMemoryExceedsMax(t *testing.T) {
	heapCap := uint64(2 * api.WasmPageSize)
	mod := simpleMock()
	mod.Heap = region.HeapSpec{
		ReservedSize: 4 * api.WasmPageSize,
		GuardSize:    api.WasmPageSize,
		InitialSize:  api.WasmPageSize,
		MaxSize:      &heapCap,
	}
	inst := openTestInstance(t, mod)

	_, err := inst.GrowMemory(5)
	require.Error(t, err)
	require.Equal(t, KindLimitsExceeded, err.(*Error).Kind)
}

func TestRecordYieldTransitionsFromRunning(t *testing.T) {
	inst := openTestInstance(t, simpleMock())
	inst.mu.Lock()
	inst.state = Running
	inst.mu.Unlock()

	i32 := api.ValueTypeI32
	inst.RecordYield(int32(5), &i32)
	require.Equal(t, "Yielded", inst.State().Name())
}

func TestHeapBaseMatchesSlot(t *testing.T) {
	inst := openTestInstance(t, simpleMock())
	require.Equal(t, inst.handle.Slot.HeapBase(), inst.HeapBase())
}
