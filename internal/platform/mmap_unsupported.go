//go:build !linux

package platform

import "errors"

// ErrUnsupported is returned by every platform primitive on hosts other than
// Linux. The ABI and signal model are specified for 64-bit x86 on
// POSIX-like hosts (spec.md §1 "Non-goals"); this build keeps the package
// importable elsewhere (e.g. for `go vet` on a developer's macOS laptop)
// without pretending to support it.
var ErrUnsupported = errors.New("platform: unsupported on this GOOS")

func mmapCodeSegment([]byte, int) ([]byte, error) { return nil, ErrUnsupported }
func munmapCodeSegment([]byte) error              { return ErrUnsupported }

func MmapReserve(int) ([]byte, error)         { return nil, ErrUnsupported }
func MmapFree([]byte) error                   { return ErrUnsupported }
func Mprotect([]byte, Protection) error       { return ErrUnsupported }
func MadviseDontNeed([]byte) error            { return ErrUnsupported }
