//go:build linux && amd64

package ctxswitch

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func alignedStack(t *testing.T, size int) []byte {
	t.Helper()
	buf := make([]byte, size+16)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	pad := (16 - int(addr%16)) % 16
	return buf[pad : pad+size]
}

func TestInit_UnalignedStack(t *testing.T) {
	stack := alignedStack(t, 4096)
	child := New()
	err := Init(child, stack[:len(stack)-1], 0, nil, 0, nil)
	require.ErrorIs(t, err, ErrUnalignedStack)
}

func TestInit_TooSmallStack(t *testing.T) {
	stack := alignedStack(t, 16)
	child := New()
	err := Init(child, stack, 0, []uint64{1, 2, 3, 4, 5, 6, 7, 8}, 0, nil)
	require.Error(t, err)
}

func TestInit_SetsSelfPointerAndStackPointer(t *testing.T) {
	stack := alignedStack(t, 4096)
	child := New()
	require.NoError(t, Init(child, stack, 0, []uint64{1, 2, 3}, 0, nil))
	require.Equal(t, uint64(uintptr(unsafe.Pointer(child))), child.Rbp)
	require.NotZero(t, child.Rsp)
	require.GreaterOrEqual(t, child.Rsp, uint64(uintptr(unsafe.Pointer(&stack[0]))))
}
