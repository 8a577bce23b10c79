package region

import (
	"fmt"

	"github.com/aotwasm/sandboxrt/api"
)

// HeapSpec describes the heap a particular Module needs, validated against
// the Limits of the Region a Slot is carved from (spec.md §3 "HeapSpec").
type HeapSpec struct {
	// ReservedSize is the virtual address space reserved for the heap,
	// excluding the guard that follows it.
	ReservedSize uint64
	// GuardSize is the inaccessible region immediately after ReservedSize.
	GuardSize uint64
	// InitialSize is the committed, readwrite size at instantiation.
	InitialSize uint64
	// MaxSize, when non-nil, caps grow_memory (spec.md §4.6).
	MaxSize *uint64
}

// Validate checks HeapSpec against limits per spec.md §3.
func (h HeapSpec) Validate(limits Limits) error {
	for name, v := range map[string]uint64{
		"ReservedSize": h.ReservedSize,
		"GuardSize":    h.GuardSize,
		"InitialSize":  h.InitialSize,
	} {
		if v%api.WasmPageSize != 0 {
			return fmt.Errorf("region: HeapSpec.%s (%d) must be a multiple of the wasm page size (%d)", name, v, api.WasmPageSize)
		}
	}
	if h.ReservedSize+h.GuardSize > limits.HeapAddressSpaceSize {
		return fmt.Errorf("region: HeapSpec reserved+guard (%d) exceeds region heap address space (%d)",
			h.ReservedSize+h.GuardSize, limits.HeapAddressSpaceSize)
	}
	if h.InitialSize > h.ReservedSize {
		return fmt.Errorf("region: HeapSpec.InitialSize (%d) exceeds ReservedSize (%d)", h.InitialSize, h.ReservedSize)
	}
	if h.MaxSize != nil {
		if *h.MaxSize%api.WasmPageSize != 0 {
			return fmt.Errorf("region: HeapSpec.MaxSize (%d) must be a multiple of the wasm page size", *h.MaxSize)
		}
		if *h.MaxSize > limits.HeapMemorySize {
			return fmt.Errorf("region: HeapSpec.MaxSize (%d) exceeds region HeapMemorySize (%d)", *h.MaxSize, limits.HeapMemorySize)
		}
	}
	return nil
}

// InitialPages returns the number of wasm pages InitialSize represents.
func (h HeapSpec) InitialPages() uint32 {
	return uint32(h.InitialSize / api.WasmPageSize)
}
