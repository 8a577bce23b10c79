package ctxswitch

import "unsafe"

// memAddr returns the address of byte off within mem. mem is always backed
// by a pinned allocation (a Slot's mmap reservation or a plain heap
// byte slice never reallocated after Init), never a slice the GC is free
// to move.
func memAddr(mem []byte, off uint64) uintptr {
	return uintptr(unsafe.Pointer(&mem[off]))
}
