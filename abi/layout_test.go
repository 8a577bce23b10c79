package abi

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func le64(vs ...uint64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(b[i*8:], v)
	}
	return b
}

func TestParseArtifactDescriptor(t *testing.T) {
	b := le64(1, 0x1000, 256, 0x2000, 64, 0x3000, 128)
	d, err := ParseArtifactDescriptor(b)
	require.NoError(t, err)
	require.Equal(t, ArtifactDescriptor{
		Version:             1,
		ModuleDataPtr:       0x1000,
		ModuleDataLen:       256,
		TablesPtr:           0x2000,
		TablesLen:           64,
		FunctionManifestPtr: 0x3000,
		FunctionManifestLen: 128,
	}, d)

	_, err = ParseArtifactDescriptor(b[:10])
	require.Error(t, err)
}

func TestParseFunctionManifest(t *testing.T) {
	b := make([]byte, functionSpecSize*2)
	binary.LittleEndian.PutUint64(b[0:8], 0x1000)
	binary.LittleEndian.PutUint64(b[8:16], 64)
	binary.LittleEndian.PutUint32(b[16:20], 1)
	binary.LittleEndian.PutUint32(b[20:24], 0)
	binary.LittleEndian.PutUint64(b[24:32], 0x2000)
	binary.LittleEndian.PutUint64(b[32:40], 128)
	binary.LittleEndian.PutUint32(b[40:44], 2)
	binary.LittleEndian.PutUint32(b[44:48], 1)

	specs, err := ParseFunctionManifest(b)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	require.Equal(t, FunctionSpec{Addr: 0x1000, CodeLen: 64, SigID: 1}, specs[0])
	require.Equal(t, FunctionSpec{Addr: 0x2000, CodeLen: 128, SigID: 2, TrapManifestRef: 1}, specs[1])

	_, err = ParseFunctionManifest(b[:functionSpecSize-1])
	require.Error(t, err)
}

func TestParseTables(t *testing.T) {
	b := le64(7, 0x4000, 9, 0x5000)
	entries, err := ParseTables(b)
	require.NoError(t, err)
	require.Equal(t, []TableEntry{
		{TypeID: 7, CodeAddr: 0x4000},
		{TypeID: 9, CodeAddr: 0x5000},
	}, entries)

	_, err = ParseTables(b[:tableEntrySize+1])
	require.Error(t, err)
}

func TestErrorCodeString(t *testing.T) {
	require.Equal(t, "ok", ErrorCodeOk.String())
	require.Equal(t, "runtime_fault", ErrorCodeRuntimeFault.String())
	require.Equal(t, "internal", ErrorCode(999).String())
}
