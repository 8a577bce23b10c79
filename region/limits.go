// Package region implements the Region and Slot allocator: a large virtual
// reservation carved into fixed-size per-instance slots, handed out and
// recycled without ever touching backing memory that the embedder didn't
// ask for. See spec.md §4.1.
package region

import (
	"fmt"

	"github.com/aotwasm/sandboxrt/internal/platform"
)

// Debug, when true, enforces the stricter signal-stack minimum spec.md §3
// calls out for debug builds. Mirrors the teacher's own pattern of a single
// package-level knob (buildoptions) rather than a build tag, since the
// choice is a runtime policy, not a compile-time one.
var Debug = false

// minSignalStackSize is the platform minimum alternate-signal-stack size.
// Linux exposes MINSIGSTKSZ as a runtime value on some architectures but the
// historical constant (2 pages) is a safe floor for amd64.
const minSignalStackSize = 8192

// debugMinSignalStackSize is the stricter floor spec.md §3 requires when
// Debug is set, to leave headroom for the extra frames a debug build's
// handler prologue pushes before it can recognize stack overflow.
const debugMinSignalStackSize = 12 * 1024

// Limits are the process- or region-wide tunables shared by every Slot
// carved from a Region (spec.md §3 "Limits").
type Limits struct {
	// HeapAddressSpaceSize is the virtual reservation made for the heap,
	// including its guard region.
	HeapAddressSpaceSize uint64
	// HeapMemorySize is the RSS cap: the largest number of heap bytes that
	// may ever be committed (readwrite) at once.
	HeapMemorySize uint64
	// StackSize is the guest stack's committed size.
	StackSize uint64
	// GlobalsSize is the committed size of the globals region.
	GlobalsSize uint64
	// SignalStackSize is the committed size of the per-instance alternate
	// signal stack.
	SignalStackSize uint64
	// HostcallStackReservation is the headroom compiled code must find
	// between the guest stack pointer and the stack guard before entering
	// a hostcall (spec.md §4.5 "Hostcall stack reservation").
	HostcallStackReservation uint64
}

// DefaultLimits returns a conservative set of Limits suitable for tests and
// small guests: 4 MiB heap address space, 4 MiB heap memory, 1 MiB stack,
// 4 KiB globals, and 8 KiB of signal stack.
func DefaultLimits() Limits {
	return Limits{
		HeapAddressSpaceSize:     4 * 1024 * 1024,
		HeapMemorySize:           4 * 1024 * 1024,
		StackSize:                1024 * 1024,
		GlobalsSize:              4096,
		SignalStackSize:          uint64(minSignalStackSize),
		HostcallStackReservation: 4096,
	}
}

// Validate checks the invariants spec.md §3 lists for Limits.
func (l Limits) Validate() error {
	for name, v := range map[string]uint64{
		"HeapAddressSpaceSize": l.HeapAddressSpaceSize,
		"StackSize":            l.StackSize,
		"GlobalsSize":          l.GlobalsSize,
		"SignalStackSize":      l.SignalStackSize,
	} {
		if !platform.IsPageMultiple(v) {
			return fmt.Errorf("region: %s (%d) must be a positive multiple of the host page size (%d)", name, v, platform.HostPageSize)
		}
	}
	if l.HeapMemorySize > 0 && !platform.IsPageMultiple(l.HeapMemorySize) {
		return fmt.Errorf("region: HeapMemorySize (%d) must be a positive multiple of the host page size", l.HeapMemorySize)
	}
	if l.HeapMemorySize > l.HeapAddressSpaceSize {
		return fmt.Errorf("region: HeapMemorySize (%d) must not exceed HeapAddressSpaceSize (%d)", l.HeapMemorySize, l.HeapAddressSpaceSize)
	}
	min := uint64(minSignalStackSize)
	if Debug {
		min = debugMinSignalStackSize
	}
	if l.SignalStackSize < min {
		return fmt.Errorf("region: SignalStackSize (%d) below platform minimum (%d)", l.SignalStackSize, min)
	}
	return nil
}
