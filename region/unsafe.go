package region

import "unsafe"

// memAddr returns the address of mem[off], used only to compute the vmctx
// pointer handed to compiled guest code. The Slot's backing array is pinned
// for the process's lifetime (it is an mmap reservation, never managed by
// the Go allocator), so this address remains valid for as long as the Slot
// does.
func memAddr(mem []byte, off uint64) uintptr {
	return uintptr(unsafe.Pointer(&mem[off]))
}
