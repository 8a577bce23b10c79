// Package vmctx implements the guest-visible context pointer: the value
// every guest-exported function receives as its first argument, equal to
// the Slot's heap base (spec.md §6 "Guest→host ABI contract"). It exposes
// the hostcall-boundary operations compiled code and hand-written hostcalls
// call through: heap growth, indirect-call table lookup, and cooperative
// yield.
package vmctx

import (
	"context"
	"fmt"

	"github.com/aotwasm/sandboxrt/api"
	"github.com/aotwasm/sandboxrt/instance"
	"github.com/aotwasm/sandboxrt/internal/moduledata"
)

// Vmctx is the guest-visible context: a thin handle bundling the Instance
// it belongs to with the module's indirect-call table, grounded on
// wazevoapi.ModuleContextOffsetData's TableOffset/GlobalInstanceOffset
// pattern for resolving (type_id, address) pairs (DESIGN.md "vmctx").
type Vmctx struct {
	inst  *instance.Instance
	table []moduledata.TableEntry
}

// New wraps inst for hostcall use. Real compiled code never calls this: it
// receives a raw vmctx pointer and the AOT-generated glue resolves it back
// to the owning Instance via the fixed negative offset spec.md §6
// specifies. This constructor is the Go-native entry point hand-written
// hostcalls and tests use instead.
func New(inst *instance.Instance, mod moduledata.Module) *Vmctx {
	return &Vmctx{inst: inst, table: mod.Table()}
}

// Instance returns the owning Instance.
func (v *Vmctx) Instance() *instance.Instance { return v.inst }

// ErrIndirectCallToNull is returned by CallIndirect when idx names an empty
// table slot (spec.md §6 trap code IndirectCallToNull).
var ErrIndirectCallToNull = fmt.Errorf("vmctx: indirect call to null")

// ErrBadSignature is returned by CallIndirect when the table entry's type
// does not match the expected signature id (trap code BadSignature).
var ErrBadSignature = fmt.Errorf("vmctx: call_indirect signature mismatch")

// ErrTableOutOfBounds is returned by CallIndirect when idx is out of range
// (trap code TableOutOfBounds).
var ErrTableOutOfBounds = fmt.Errorf("vmctx: call_indirect index out of bounds")

// CallIndirect resolves idx against the module's indirect-call table and
// checks its type id against expectedSigID, returning the callee's address
// on success. The actual call is made by the compiled caller (out of
// scope: that's native code this host never interprets); this just
// performs the bounds/type check spec.md §4.3/§6 specify.
func (v *Vmctx) CallIndirect(idx uint32, expectedSigID uint32) (uintptr, error) {
	if int(idx) >= len(v.table) {
		return 0, ErrTableOutOfBounds
	}
	entry := v.table[idx]
	if entry.Address == 0 {
		return 0, ErrIndirectCallToNull
	}
	if entry.TypeID != expectedSigID {
		return 0, ErrBadSignature
	}
	return entry.Address, nil
}

// GrowMemory grows the guest's heap from within a hostcall, consulting any
// installed MemoryLimiter (spec.md §4.6 "grow_memory_from_hostcall").
func (v *Vmctx) GrowMemory(ctx context.Context, pages uint32) (uint32, error) {
	return v.inst.GrowMemoryFromHostcall(ctx, pages)
}

// Yield suspends the guest cooperatively, the spec.md §5 "(c) a hostcall
// invoking Vmctx::yield_*" suspension point. It records the Yielded state
// with the expected resume value type so a subsequent Instance.Resume can
// typecheck against it (spec.md §4.6 "resume_with_val(v) ... Dynamically
// typechecks v against expecting").
//
// Yield does not itself return control to the host: that happens when the
// enclosing Run/Resume's ctxswitch.Swap call returns, which is driven by
// the backstop/trap machinery, not by this call directly — Yield only
// records the intent so the classify step on the host side knows to report
// Yielded instead of Returned. Hand-written hostcalls that call Yield are
// expected to return immediately afterward so the guest's own call stack
// unwinds back to the point the embedder resumes into.
func (v *Vmctx) Yield(value any, expecting *api.ValueType) {
	v.inst.RecordYield(value, expecting)
}

// HeapBase returns the vmctx pointer itself: the address of byte 0 of the
// guest's heap.
func (v *Vmctx) HeapBase() uintptr {
	return v.inst.HeapBase()
}
