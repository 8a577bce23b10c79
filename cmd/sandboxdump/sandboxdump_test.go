package main

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aotwasm/sandboxrt/api"
	"github.com/aotwasm/sandboxrt/internal/moduledata"
	"github.com/aotwasm/sandboxrt/region"
)

// writeTestArtifact assembles a file laid out as an ArtifactDescriptor
// header followed by the module_data (gob), tables, and function-manifest
// sections, mirroring the on-disk format loadModuleForDump expects.
func writeTestArtifact(t *testing.T, data moduledata.ModuleData, tables, manifest []byte) string {
	t.Helper()

	var moduleData bytes.Buffer
	require.NoError(t, gob.NewEncoder(&moduleData).Encode(data))

	const headerSize = 56
	moduleDataPtr := uint64(headerSize)
	tablesPtr := moduleDataPtr + uint64(moduleData.Len())
	manifestPtr := tablesPtr + uint64(len(tables))

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint64(header[0:8], 1)
	binary.LittleEndian.PutUint64(header[8:16], moduleDataPtr)
	binary.LittleEndian.PutUint64(header[16:24], uint64(moduleData.Len()))
	binary.LittleEndian.PutUint64(header[24:32], tablesPtr)
	binary.LittleEndian.PutUint64(header[32:40], uint64(len(tables)))
	binary.LittleEndian.PutUint64(header[40:48], manifestPtr)
	binary.LittleEndian.PutUint64(header[48:56], uint64(len(manifest)))

	var out bytes.Buffer
	out.Write(header)
	out.Write(moduleData.Bytes())
	out.Write(tables)
	out.Write(manifest)

	path := filepath.Join(t.TempDir(), "artifact.bin")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
	return path
}

func TestDoMainDumpsArtifact(t *testing.T) {
	data := moduledata.ModuleData{
		Exports: map[string]api.FunctionDescriptor{
			"onetwothree": {Name: "onetwothree", Address: 0x1000, Signature: api.Signature{Results: []api.ValueType{api.ValueTypeI32}}},
		},
		Heap: region.HeapSpec{
			ReservedSize: 2 * api.WasmPageSize,
			GuardSize:    api.WasmPageSize,
			InitialSize:  api.WasmPageSize,
		},
	}
	path := writeTestArtifact(t, data, nil, nil)

	var stdOut, stdErr bytes.Buffer
	code := doMain([]string{path}, &stdOut, &stdErr)
	require.Equal(t, 0, code)
	require.Contains(t, stdOut.String(), "onetwothree")
	require.Contains(t, stdOut.String(), "heap spec")
}

func TestDoMainMissingFile(t *testing.T) {
	var stdOut, stdErr bytes.Buffer
	code := doMain([]string{"/nonexistent/path"}, &stdOut, &stdErr)
	require.Equal(t, 1, code)
	require.Contains(t, stdErr.String(), "sandboxdump:")
}

func TestDoMainUsage(t *testing.T) {
	var stdOut, stdErr bytes.Buffer
	code := doMain([]string{"-h"}, &stdOut, &stdErr)
	require.Equal(t, 0, code)
	require.Contains(t, stdErr.String(), "usage:")
}

func TestDoMainWrongArgCount(t *testing.T) {
	var stdOut, stdErr bytes.Buffer
	code := doMain(nil, &stdOut, &stdErr)
	require.Equal(t, 1, code)
}
