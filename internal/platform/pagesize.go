package platform

import "os"

// HostPageSize is the host's native page size, used to validate that every
// Limits and HeapSpec field is a multiple of it (spec.md §3 "Limits").
var HostPageSize = os.Getpagesize()

// RoundUpToPage rounds n up to the next multiple of the host page size.
func RoundUpToPage(n uint64) uint64 {
	ps := uint64(HostPageSize)
	return (n + ps - 1) &^ (ps - 1)
}

// IsPageMultiple reports whether n is a positive multiple of the host page
// size.
func IsPageMultiple(n uint64) bool {
	return n > 0 && n%uint64(HostPageSize) == 0
}
