//go:build linux && amd64

package ctxswitch

import (
	"errors"
	"fmt"
	"unsafe"
)

// ErrUnalignedStack is returned by Init when the high end of the supplied
// stack buffer is not 16-byte aligned, as the System V ABI requires for any
// call frame.
var ErrUnalignedStack = errors.New("ctxswitch: stack is not 16-byte aligned")

// Init prepares child so that the first Swap or Set targeting it transfers
// control to fn, called as a System V ABI C function with args as its
// integer arguments (up to 6 register arguments; any beyond that are
// spilled to the stack in reverse order, as the ABI requires for
// overflow).
//
// backstop, if non-zero, is a raw native function pointer invoked with
// backstopData after fn returns and before control switches back to
// child's eventual ParentCtx; it must not be a Go function value.
func Init(child *Context, stack []byte, fn uintptr, args []uint64, backstop uintptr, backstopData unsafe.Pointer) error {
	if err := ensureTrampoline(); err != nil {
		return fmt.Errorf("ctxswitch: %w", err)
	}
	if len(stack) == 0 || (memAddr(stack, 0)+uintptr(len(stack)))%16 != 0 {
		return ErrUnalignedStack
	}

	*child = Context{Backstop: backstop, BackstopData: backstopData}

	const maxRegArgs = 6
	var padded [maxRegArgs]uint64
	var spilled []uint64
	copy(padded[:], args)
	if len(args) > maxRegArgs {
		spilled = append([]uint64(nil), args[maxRegArgs:]...)
		reverse(spilled) // the ABI pushes overflow arguments in reverse order.
	}

	// Frame layout, lowest address first (this is where Rsp ends up
	// pointing, and where bootstrap lands after the first Swap/Set):
	//
	//	[ bootstrap addr | gp_args[0..6) | fn | backstop addr | spilled args... | pad? ]
	//
	// fn's RET pops "backstop addr" as its own return address, so no code
	// runs between fn returning and the generated backstop thunk.
	frameWords := 1 /*bootstrap*/ + maxRegArgs + 1 /*fn*/ + 1 /*backstop*/ + len(spilled)
	if frameWords%2 != 0 {
		frameWords++ // keep fn's call frame 16-byte aligned.
	}
	padWords := frameWords - (1 + maxRegArgs + 1 + 1 + len(spilled))

	top := len(stack) - frameWords*8
	if top < 0 {
		return fmt.Errorf("ctxswitch: stack too small for %d argument words", frameWords)
	}
	view := unsafe.Slice((*uint64)(unsafe.Pointer(&stack[top])), frameWords)

	i := 0
	view[i] = uint64(bootstrapAddr)
	i++
	for _, w := range padded {
		view[i] = w
		i++
	}
	view[i] = uint64(fn)
	i++
	view[i] = uint64(backstopAddr)
	i++
	for _, w := range spilled {
		view[i] = w
		i++
	}
	for k := 0; k < padWords; k++ {
		view[i] = 0
		i++
	}

	child.Rsp = uint64(memAddr(stack, uint64(top)))
	child.Rbp = uint64(uintptr(unsafe.Pointer(child))) // self-pointer, read by the backstop thunk.
	return captureSigMask(child)
}

func reverse(s []uint64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// Swap saves the caller's state into from and transfers control to to.
func Swap(from, to *Context) { swap(from, to) }

// Set transfers control to to without saving the caller's state.
func Set(to *Context) { set(to) }
