package region

import (
	"weak"

	"github.com/aotwasm/sandboxrt/internal/platform"
)

// instancePageSize is the size of the Instance metadata page placed
// immediately before the heap (spec.md §3 "Slot"). It is always exactly one
// host page: compiled code reads the globals pointer from its last 8 bytes
// at a fixed negative offset from the heap base, so it cannot vary between
// regions.
var instancePageSize = uint64(platform.HostPageSize)

// layout is the fixed offset template of one Slot, computed once per Region
// from its Limits. Every offset is relative to the start of the slot's
// reservation (the first byte of the Instance page).
//
// Grounded on the struct-of-regions offset-accumulation algorithm in the
// teacher's wazevoapi.NewModuleContextOffsetData: walk the sections in
// order, record each one's starting offset, then add its size.
//
//	[ Instance page | reserved heap | heap guard | stack guard | stack | globals | sigstack guard | sigstack ]
type layout struct {
	instancePageOffset  uint64
	heapOffset          uint64
	heapGuardOffset     uint64
	stackGuardOffset    uint64
	stackOffset         uint64
	globalsOffset       uint64
	sigstackGuardOffset uint64
	sigstackOffset      uint64
	totalSize           uint64
}

func newLayout(limits Limits) layout {
	var l layout
	var off uint64

	l.instancePageOffset = off
	off += instancePageSize

	l.heapOffset = off
	off += limits.HeapAddressSpaceSize

	l.heapGuardOffset = off
	// The heap guard and the stack guard are adjacent, isolating the heap
	// from the stack with a single inaccessible span; each is one page.
	off += uint64(platform.HostPageSize)

	l.stackGuardOffset = off
	off += uint64(platform.HostPageSize)

	l.stackOffset = off
	off += limits.StackSize

	l.globalsOffset = off
	off += limits.GlobalsSize

	l.sigstackGuardOffset = off
	off += uint64(platform.HostPageSize)

	l.sigstackOffset = off
	off += limits.SignalStackSize

	l.totalSize = off
	return l
}

// Slot is one instance's virtual-address reservation within a Region
// (spec.md §3 "Slot"). It carries a weak reference back to its Region so
// that the Region and its Slots do not form a reference cycle that never
// collects (spec.md §9 "Cyclic ownership"). The Region's reservation is not
// unmapped when its last instance is dropped; nothing in this package
// frees it after a successful Create.
type Slot struct {
	region weak.Pointer[Region]
	index  int
	layout layout
	limits Limits
	mem    []byte // the slot's [instancePageOffset, totalSize) window into the region's reservation.

	heapSpec      HeapSpec
	heapCommitted uint64 // bytes of the heap sub-region currently readwrite, always a multiple of api.WasmPageSize.
}

// HeapBase returns the address of byte 0 of the heap — the value every
// guest-exported function receives as its `vmctx` argument (spec.md §6
// "Guest→host ABI contract").
func (s *Slot) HeapBase() uintptr {
	return memAddr(s.mem, s.layout.heapOffset)
}

// InstancePage returns the Instance metadata page, where the Instance
// struct and its trailing InstanceRuntimeData live.
func (s *Slot) InstancePage() []byte {
	return s.mem[s.layout.instancePageOffset : s.layout.instancePageOffset+instancePageSize]
}

// Heap returns the currently committed heap bytes.
func (s *Slot) Heap() []byte {
	return s.mem[s.layout.heapOffset : s.layout.heapOffset+s.heapCommitted]
}

// HeapCommitted is the number of heap bytes currently readwrite.
func (s *Slot) HeapCommitted() uint64 { return s.heapCommitted }

// HeapSpec is the HeapSpec this slot was instantiated with.
func (s *Slot) HeapSpec() HeapSpec { return s.heapSpec }

// HeapReservation returns the full reserved (but not necessarily committed)
// heap address range, for bounds classification of a faulting address.
func (s *Slot) HeapReservation() []byte {
	return s.mem[s.layout.heapOffset : s.layout.heapOffset+s.heapSpec.ReservedSize]
}

// HeapGuard returns the guard page immediately after the reserved heap.
func (s *Slot) HeapGuard() []byte {
	return s.mem[s.layout.heapGuardOffset : s.layout.heapGuardOffset+uint64(platform.HostPageSize)]
}

// Stack returns the guest stack's committed bytes. The guest stack pointer
// starts at the high end of this slice and grows down.
func (s *Slot) Stack() []byte {
	return s.mem[s.layout.stackOffset : s.layout.stackOffset+s.limits.StackSize]
}

// Globals returns the globals sub-region.
func (s *Slot) Globals() []byte {
	return s.mem[s.layout.globalsOffset : s.layout.globalsOffset+s.limits.GlobalsSize]
}

// SignalStack returns the per-instance alternate signal stack.
func (s *Slot) SignalStack() []byte {
	return s.mem[s.layout.sigstackOffset : s.layout.sigstackOffset+s.limits.SignalStackSize]
}

// Region upgrades the Slot's weak back-reference. It returns nil if the
// Region has since been dropped, which cannot normally happen while any
// Slot is outstanding since the Region holds strong references to its
// Slots, but is checked defensively at teardown.
func (s *Slot) Region() *Region {
	return s.region.Value()
}

// Index is the slot's position within its Region's address reservation.
func (s *Slot) Index() int { return s.index }
