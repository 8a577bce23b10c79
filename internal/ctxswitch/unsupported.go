//go:build !(linux && amd64)

package ctxswitch

import (
	"errors"
	"unsafe"
)

// ErrUnsupported is returned by every operation on platforms other than
// linux/amd64, where the hand-written swap/set primitives and the
// generated bootstrap/backstop thunks do not exist.
var ErrUnsupported = errors.New("ctxswitch: context switching is only supported on linux/amd64")

func Init(child *Context, stack []byte, fn uintptr, args []uint64, backstop uintptr, backstopData unsafe.Pointer) error {
	return ErrUnsupported
}

func Swap(from, to *Context) { panic(ErrUnsupported) }

func Set(to *Context) { panic(ErrUnsupported) }

func SetSignalSafe(to *Context) error { return ErrUnsupported }
