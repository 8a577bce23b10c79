package platform

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMmapCodeSegment(t *testing.T) {
	buf, err := io.ReadAll(io.LimitReader(rand.Reader, 4096))
	require.NoError(t, err)

	mapped, err := MmapCodeSegment(buf, len(buf))
	require.NoError(t, err)
	defer func() { require.NoError(t, MunmapCodeSegment(mapped)) }()

	require.True(t, bytes.Equal(buf, mapped))
}

func TestMmapReserveAndMprotect(t *testing.T) {
	const size = 4 * 4096
	b, err := MmapReserve(size)
	require.NoError(t, err)
	defer func() { require.NoError(t, MmapFree(b)) }()
	require.Len(t, b, size)

	require.NoError(t, Mprotect(b[:4096], ProtReadWrite))
	b[0] = 0xAB
	require.Equal(t, byte(0xAB), b[0])

	require.NoError(t, Mprotect(b[:4096], ProtNone))
	require.NoError(t, MadviseDontNeed(b[:4096]))
}

func TestIsPageMultiple(t *testing.T) {
	require.True(t, IsPageMultiple(uint64(HostPageSize)))
	require.True(t, IsPageMultiple(uint64(HostPageSize)*3))
	require.False(t, IsPageMultiple(0))
	require.False(t, IsPageMultiple(1))
}

func TestRoundUpToPage(t *testing.T) {
	require.Equal(t, uint64(HostPageSize), RoundUpToPage(1))
	require.Equal(t, uint64(HostPageSize), RoundUpToPage(uint64(HostPageSize)))
	require.Equal(t, uint64(HostPageSize)*2, RoundUpToPage(uint64(HostPageSize)+1))
}
