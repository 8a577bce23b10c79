// Package ctxswitch implements the stackful coroutine context-switching
// engine: one Context per guest call, a swap primitive that moves control
// between the host coroutine and exactly one guest coroutine while
// preserving the amd64 System V ABI, and bootstrap/backstop thunks that
// bridge an initialized Context's first swap into a call to an arbitrary
// guest entry point.
package ctxswitch

import "unsafe"

// Context is the saved machine state of one suspended coroutine. Its field
// order and types are load-bearing: asm_amd64.s indexes into it by byte
// offset (mirrored by the offset variables in offsets.go), so field order,
// not field name, is what the assembly reads.
//
// Contexts must not move after Init: Rsp points into the stack buffer
// supplied at Init time, and ParentCtx in another Context may point at this
// one. Callers hold a Context behind a pointer obtained from New and never
// copy the value.
type Context struct {
	// Callee-saved general purpose registers, System V AMD64 ABI.
	Rbx, Rbp, R12, R13, R14, R15 uint64
	Rsp                          uint64

	// Callee-saved XMM low 64 bits, saved and restored by swap, set and the
	// backstop thunk. Init leaves them zero: it places only general-purpose
	// arguments and does not pass floating-point arguments in XMM registers.
	Xmm6, Xmm7, Xmm8, Xmm9, Xmm10, Xmm11, Xmm12, Xmm13, Xmm14, Xmm15 uint64

	// RetvalGP and RetvalFP are scratch slots the backstop thunk writes the
	// guest's return value into before switching back to ParentCtx.
	RetvalGP uint64
	RetvalFP uint64

	// ParentCtx is set by swap on every switch into this Context, so that
	// the eventual backstop return knows where to switch back to.
	ParentCtx *Context

	// Backstop, if non-nil, is invoked by the backstop thunk with
	// BackstopData before the guest's return value is harvested and control
	// returns to ParentCtx.
	Backstop     uintptr // func(data unsafe.Pointer), called via the backstop trampoline.
	BackstopData unsafe.Pointer

	// SigMask is the signal mask snapshot captured at Init time, restored
	// by SetSignalSafe before jumping into this Context from a signal
	// handler.
	SigMask [2]uint64 // opaque sigset_t storage, sized for Linux's 128-bit set.
}

// New allocates a zeroed Context. Contexts are always heap-allocated behind
// a pointer; there is no value constructor, so a Context can never be
// field-replaced after Init without going through New again.
func New() *Context {
	return &Context{}
}
