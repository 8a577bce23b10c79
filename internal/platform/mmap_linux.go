//go:build linux

package platform

import (
	"golang.org/x/sys/unix"
)

func mmapCodeSegment(code []byte, size int) ([]byte, error) {
	mmapped, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, &mmapError{"mmap", err}
	}
	copy(mmapped, code)
	return mmapped, nil
}

func munmapCodeSegment(code []byte) error {
	if err := unix.Munmap(code); err != nil {
		return &mmapError{"munmap", err}
	}
	return nil
}

// MmapReserve reserves size bytes of address space with no backing memory
// committed (PROT_NONE), the basis of a Region's single large virtual
// reservation (spec.md §4.1).
func MmapReserve(size int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, &mmapError{"mmap(reserve)", err}
	}
	return b, nil
}

// MmapFree releases a reservation made by MmapReserve.
func MmapFree(b []byte) error {
	if err := unix.Munmap(b); err != nil {
		return &mmapError{"munmap(reserve)", err}
	}
	return nil
}

// Mprotect changes the protection of b in place.
func Mprotect(b []byte, prot Protection) error {
	var p int
	switch prot {
	case ProtNone:
		p = unix.PROT_NONE
	case ProtRead:
		p = unix.PROT_READ
	case ProtReadWrite:
		p = unix.PROT_READ | unix.PROT_WRITE
	}
	if err := unix.Mprotect(b, p); err != nil {
		return &mmapError{"mprotect", err}
	}
	return nil
}

// MadviseDontNeed advises the kernel that b's backing pages may be dropped,
// releasing RSS without changing the virtual mapping — used by
// Instance.reset and by Slot release to give back committed heap memory
// (spec.md §4.1 "reset_heap ... via madvise").
func MadviseDontNeed(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if err := unix.Madvise(b, unix.MADV_DONTNEED); err != nil {
		return &mmapError{"madvise(dontneed)", err}
	}
	return nil
}
