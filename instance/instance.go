package instance

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/aotwasm/sandboxrt/api"
	"github.com/aotwasm/sandboxrt/internal/ctxswitch"
	"github.com/aotwasm/sandboxrt/internal/killswitch"
	"github.com/aotwasm/sandboxrt/internal/moduledata"
	"github.com/aotwasm/sandboxrt/internal/obs"
	"github.com/aotwasm/sandboxrt/internal/signalcore"
	"github.com/aotwasm/sandboxrt/region"
)

// magicCookie is written into every Instance for pointer-math sanity
// checking (spec.md §3 "Instance ... a magic cookie"): a corrupted or
// stale vmctx-derived Instance pointer is caught by comparing against this
// constant rather than silently dereferencing garbage.
const magicCookie = 0x4c4f6654c0ffee11

// Instance composes one Slot, one Module, a guest Context, the execution
// State, a shared KillState, and the per-instance hooks into the
// run/resume/reset lifecycle of spec.md §4.6.
type Instance struct {
	ID     string
	magic  uint64
	handle *region.InstanceHandle
	module moduledata.Module
	cfg    Config

	mu          sync.Mutex
	state       State
	startRun    bool
	ks          *killswitch.State
	guestCtx    *ctxswitch.Context
	hostCtx     *ctxswitch.Context
	embeds      map[any]any
	resumeValue any
}

// New composes an Instance over an already-carved region.InstanceHandle and
// a loaded Module. Most callers go through region.Region.NewInstance
// followed by New, or the convenience Open helper below.
func New(handle *region.InstanceHandle, mod moduledata.Module, cfg Config) *Instance {
	inst := &Instance{
		ID:      uuid.NewString(),
		magic:   magicCookie,
		handle:  handle,
		module:  mod,
		cfg:     cfg,
		state:   Ready,
		ks:      killswitch.New(),
		embeds:  map[any]any{},
	}
	if _, ok := mod.StartFunction(); ok {
		inst.state = NotStarted
	}
	inst.initRuntimeData()
	return inst
}

// Open carves a Slot from region r for mod and composes an Instance over it
// in one step (spec.md §4.1 "new_instance(module)").
func Open(r *region.Region, mod moduledata.Module, cfg Config) (*Instance, error) {
	handle, err := r.NewInstance(mod, cfg.HeapCap)
	if err != nil {
		return nil, err
	}
	return New(handle, mod, cfg), nil
}

func (inst *Instance) initRuntimeData() {
	rt := newRuntimeData(inst.handle.Slot.InstancePage())
	reservation := uint64(4096)
	if r := inst.handle.Slot.Region(); r != nil {
		reservation = r.Limits.HostcallStackReservation
	}
	rt.SetStackLimit(reservation)
	rt.SetInstructionCountBound(^uint64(0)) // unbounded; Instance exposes no setter for the bound.
	rt.SetInstructionCountAdj(0)
}

// setState validates the requested transition against the spec.md §4.7
// table before applying it. Callers hold inst.mu.
func (inst *Instance) setState(next State) {
	if !transition(inst.state, next) {
		panic(fmt.Sprintf("instance: BUG: illegal state transition %s -> %s", inst.state.Name(), next.Name()))
	}
	inst.state = next
}

// State returns the instance's current State.
func (inst *Instance) State() State {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.state
}

// EmbedContext stores a value under its dynamic type, mirroring the
// "heterogeneous keyed by type" embed-context map of spec.md §3.
func (inst *Instance) EmbedContext(key any) (any, bool) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	v, ok := inst.embeds[key]
	return v, ok
}

// SetEmbedContext installs a value into the embed-context map.
func (inst *Instance) SetEmbedContext(key, value any) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.embeds[key] = value
}

// KillSwitch mints a new KillSwitch holding a weak reference to the
// instance's current KillState (spec.md §3 "KillSwitch ... created from an
// Instance at any time").
func (inst *Instance) KillSwitch() *killswitch.Switch {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return killswitch.NewSwitch(inst.ks)
}

// argWords checks args against sig for the word encoding ctxswitch.Init
// expects: one uint64 per argument. Only the arity is checked; args are
// already raw words, so no per-argument type check against sig.Params is
// made.
func argWords(sig api.Signature, args []uint64) error {
	if len(args) != len(sig.Params) {
		return fmt.Errorf("arity mismatch: export wants %d arguments, got %d", len(sig.Params), len(args))
	}
	return nil
}

// Run resolves name, checks the argument count against its signature, and
// transfers control to the guest (spec.md §4.6 "run(name, args)").
func (inst *Instance) Run(ctx context.Context, name string, args []uint64) (RunResult, error) {
	desc, ok := inst.module.Export(name)
	if !ok {
		return RunResult{}, errFuncNotFound(name)
	}
	if desc.IsStart {
		return RunResult{}, &Error{Kind: KindInvalidArgument, Message: "cannot Run the start function directly; use RunStart"}
	}
	inst.mu.Lock()
	if _, isStart := inst.module.StartFunction(); isStart && inst.state.Name() == "NotStarted" {
		inst.mu.Unlock()
		return RunResult{}, &Error{Kind: KindInstanceNeedsStart}
	}
	if inst.state.Name() != "Ready" {
		inst.mu.Unlock()
		return RunResult{}, errInvalidArgument("illegal state %s for Run", inst.state.Name())
	}
	inst.mu.Unlock()

	if err := argWords(desc.Signature, args); err != nil {
		return RunResult{}, errInvalidArgument("%s", err)
	}
	return inst.enter(ctx, desc.Address, args)
}

// RunStart runs the module's start function exactly once (spec.md §4.6
// "run_start()").
func (inst *Instance) RunStart(ctx context.Context) (RunResult, error) {
	desc, ok := inst.module.StartFunction()
	if !ok {
		return RunResult{}, &Error{Kind: KindInvalidArgument, Message: "module has no start function"}
	}
	inst.mu.Lock()
	if inst.startRun {
		inst.mu.Unlock()
		return RunResult{}, &Error{Kind: KindStartAlreadyRun}
	}
	if inst.state.Name() != "NotStarted" {
		inst.mu.Unlock()
		return RunResult{}, errInvalidArgument("illegal state %s for RunStart", inst.state.Name())
	}
	inst.mu.Unlock()

	res, err := inst.enter(ctx, desc.Address, nil)
	if err == nil {
		inst.mu.Lock()
		inst.startRun = true
		inst.mu.Unlock()
	}
	return res, err
}

// enter is the shared swap machinery behind Run/RunStart/Resume: it builds
// the guest Context, flips the kill-state domain, swaps, and classifies the
// result (spec.md §4.6 steps 3-8).
func (inst *Instance) enter(ctx context.Context, entry uintptr, args []uint64) (RunResult, error) {
	ctx, span := obs.StartRun(ctx, inst.ID, fmt.Sprintf("%#x", entry))
	defer span.End()

	inst.mu.Lock()
	inst.setState(Running)
	inst.mu.Unlock()

	inst.guestCtx = ctxswitch.New()
	inst.hostCtx = ctxswitch.New()

	stack := inst.handle.Slot.Stack()
	if err := ctxswitch.Init(inst.guestCtx, stack, entry, args, 0, nil); err != nil {
		return RunResult{}, errInvalidArgument("%s", err)
	}

	signalcore.Acquire()
	defer signalcore.Release()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	pid, tid := killswitch.CurrentThreadIDs()
	inst.ks.Schedule(pid, tid)
	defer inst.ks.Deschedule()

	// The "activator" of spec.md §4.6 step 4 flips the domain to Guest
	// before control reaches the entrypoint. Unlike the Rust original,
	// where the activator runs as part of the guest's initial frame, this
	// host performs the flip here, immediately before the swap: Go cannot
	// safely call back into the runtime's mutex machinery from the raw
	// native frame ctxswitch.Swap jumps into, so the activation happens on
	// the host side of the boundary instead.
	if cancelled := inst.ks.EnterGuest(); cancelled {
		inst.mu.Lock()
		inst.setState(Terminated)
		inst.mu.Unlock()
		obs.RecordTermination(ctx, inst.ID, CauseRemote.String())
		return RunResult{}, errRuntimeTerminated(CauseRemote)
	}

	result := signalcore.RunGuarded(func() {
		ctxswitch.Swap(inst.hostCtx, inst.guestCtx)
	}, inst.module, inst.ks, inst.cfg.SignalHandler)

	return inst.classify(ctx, result)
}

// classify turns one signalcore.GuestResult into a RunResult/Error pair and
// advances inst.state, enforcing the legal-transition table of spec.md
// §4.7.
func (inst *Instance) classify(ctx context.Context, result signalcore.GuestResult) (RunResult, error) {
	switch {
	case result.Faulted:
		inst.mu.Lock()
		inst.setState(Faulted(result.Details))
		inst.mu.Unlock()
		obs.RecordFault(ctx, inst.ID, result.Details.TrapCode.String(), result.Details.Fatal)
		if result.Details.Fatal {
			inst.ks.MarkTerminated()
			if inst.cfg.FatalHandler != nil {
				inst.cfg.FatalHandler(inst, result.Details)
			}
			os.Exit(2) // DESIGN.md Open Question #1: deterministic termination after the fatal handler returns.
		}
		return RunResult{}, errRuntimeFault(result.Details)

	case result.Terminated:
		inst.mu.Lock()
		inst.setState(Terminated)
		inst.mu.Unlock()
		inst.ks.MarkTerminated()
		obs.RecordTermination(ctx, inst.ID, CauseRemote.String())
		return RunResult{}, errRuntimeTerminated(CauseRemote)

	default:
		// The guest returned normally. Race with a concurrently-committed
		// termination before reporting success (spec.md §4.5 "Exiting the
		// guest region").
		if inst.ks.ExitGuestRegion() {
			inst.ks.WaitForAlarm()
			inst.mu.Lock()
			inst.setState(Terminated)
			inst.mu.Unlock()
			obs.RecordTermination(ctx, inst.ID, CauseRemote.String())
			return RunResult{}, errRuntimeTerminated(CauseRemote)
		}
		inst.mu.Lock()
		inst.setState(Ready)
		inst.ks = killswitch.New() // outstanding switches now report Invalid.
		inst.mu.Unlock()
		return RunResult{
			Returned:      true,
			ReturnValueGP: inst.hostCtx.RetvalGP,
			ReturnValueFP: inst.hostCtx.RetvalFP,
		}, nil
	}
}

// Resume re-enters a Yielded instance, installing v as the hostcall's
// received value (spec.md §4.6 "resume() / resume_with_val(v)").
func (inst *Instance) Resume(ctx context.Context, v any) (RunResult, error) {
	inst.mu.Lock()
	y, ok := inst.state.(stateYielded)
	if !ok {
		inst.mu.Unlock()
		return RunResult{}, &Error{Kind: KindInstanceNotYielded}
	}
	if y.ExpectingType != nil {
		if !typeMatches(v, *y.ExpectingType) {
			inst.mu.Unlock()
			return RunResult{}, errInvalidArgument("resume value does not match expected type")
		}
	}
	inst.resumeValue = v
	inst.setState(Running)
	inst.mu.Unlock()

	if tor := inst.ks.ExitHostcall(); tor {
		inst.mu.Lock()
		inst.setState(Terminated)
		inst.mu.Unlock()
		inst.ks.MarkTerminated()
		obs.RecordTermination(ctx, inst.ID, CauseRemote.String())
		return RunResult{}, errRuntimeTerminated(CauseRemote)
	}

	// Resuming re-swaps into the same guest Context the yielding hostcall
	// suspended inside; there is no new entrypoint/argument list to build.
	ctx, span := obs.StartRun(ctx, inst.ID, "<resume>")
	defer span.End()

	signalcore.Acquire()
	defer signalcore.Release()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	pid, tid := killswitch.CurrentThreadIDs()
	inst.ks.Schedule(pid, tid)
	defer inst.ks.Deschedule()

	result := signalcore.RunGuarded(func() {
		ctxswitch.Swap(inst.hostCtx, inst.guestCtx)
	}, inst.module, inst.ks, inst.cfg.SignalHandler)

	return inst.classify(ctx, result)
}

func typeMatches(v any, t api.ValueType) bool {
	switch t {
	case api.ValueTypeI32, api.ValueTypeI64:
		switch v.(type) {
		case int32, int64, uint32, uint64, int:
			return true
		}
	case api.ValueTypeF32, api.ValueTypeF64:
		switch v.(type) {
		case float32, float64:
			return true
		}
	}
	return v == nil
}

// RecordYield is called from the hostcall boundary (vmctx.Yield) to record
// a cooperative suspension; it does not itself perform the swap back to
// host, which happens via the same Swap the enclosing Run/Resume call is
// blocked in, since Yield runs on the guest's own stack, still inside that
// swap.
func (inst *Instance) RecordYield(value any, expecting *api.ValueType) {
	inst.mu.Lock()
	inst.setState(Yielded(expecting))
	inst.mu.Unlock()
}

// Reset zeroes the heap back to the module's sparse-init image,
// reinitializes globals, resets State to Ready (or NotStarted if the
// module has a start function), and replaces the KillState, invalidating
// every outstanding KillSwitch (spec.md §4.6 "reset()").
func (inst *Instance) Reset() error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	name := inst.state.Name()
	if name != "Faulted" && name != "Terminated" && name != "Ready" && name != "NotStarted" {
		return errInvalidArgument("illegal state %s for Reset", name)
	}

	r := inst.handle.Slot.Region()
	if r == nil {
		return &Error{Kind: KindUnsupported, Message: "region has been dropped"}
	}
	if err := r.Backend.ResetHeap(inst.handle.Slot, inst.module.HeapSpec(), inst.module.SparsePages()); err != nil {
		return err
	}
	resetGlobals(inst.handle.Slot.Globals(), inst.module.Globals())

	inst.ks = killswitch.New()
	inst.startRun = false
	if _, ok := inst.module.StartFunction(); ok {
		inst.state = NotStarted
	} else {
		inst.state = Ready
	}
	return nil
}

func resetGlobals(buf []byte, specs []api.GlobalSpec) {
	for i, g := range specs {
		off := i * 8
		if off+8 > len(buf) {
			return
		}
		for b := 0; b < 8; b++ {
			buf[off+b] = byte(g.Initial >> (8 * b))
		}
	}
}

// GrowMemory grows the committed heap by n wasm pages, returning the
// previous page count (spec.md §4.6 "grow_memory(n)").
func (inst *Instance) GrowMemory(n uint32) (uint32, error) {
	return inst.growMemory(context.Background(), n, false)
}

// GrowMemoryFromHostcall is GrowMemory's hostcall variant: it first
// consults any installed MemoryLimiter and rejects if denied (spec.md
// §4.6).
func (inst *Instance) GrowMemoryFromHostcall(ctx context.Context, n uint32) (uint32, error) {
	return inst.growMemory(ctx, n, true)
}

func (inst *Instance) growMemory(ctx context.Context, n uint32, fromHostcall bool) (uint32, error) {
	slot := inst.handle.Slot
	spec := slot.HeapSpec()
	prevPages := uint32(slot.HeapCommitted() / api.WasmPageSize)
	newSize := slot.HeapCommitted() + uint64(n)*api.WasmPageSize

	max := spec.ReservedSize
	if spec.MaxSize != nil && *spec.MaxSize < max {
		max = *spec.MaxSize
	}
	if r := slot.Region(); r != nil && r.Limits.HeapMemorySize < max {
		max = r.Limits.HeapMemorySize
	}
	if newSize > max {
		return 0, &Error{Kind: KindLimitsExceeded, Message: "grow_memory would exceed the heap's max size"}
	}

	if fromHostcall && inst.cfg.Limiter != nil {
		if !inst.cfg.Limiter.MemoryGrowing(ctx, slot.HeapCommitted(), newSize) {
			return 0, &Error{Kind: KindLimitsExceeded, Message: "memory limiter denied growth"}
		}
	}

	r := slot.Region()
	if r == nil {
		return 0, &Error{Kind: KindUnsupported, Message: "region has been dropped"}
	}
	if err := r.Backend.ExpandHeap(slot, newSize); err != nil {
		return 0, err
	}
	return prevPages, nil
}

// HeapBase returns the vmctx pointer: the address of byte 0 of the guest's
// heap (spec.md §6 "Guest→host ABI contract").
func (inst *Instance) HeapBase() uintptr {
	return inst.handle.Slot.HeapBase()
}

// Release returns the instance's slot to its region's freelist.
func (inst *Instance) Release() error {
	return inst.handle.Release()
}
