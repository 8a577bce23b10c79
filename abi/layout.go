// Package abi defines the external, C-compatible surfaces of the sandbox
// host: the little-endian artifact descriptor layout an AOT-compiled shared
// object exposes under the symbol lucet_module, and (behind a cgo build
// tag) a C-ABI shim mirroring the original lucet-runtime C API (spec.md
// §6).
package abi

import (
	"encoding/binary"
	"fmt"
)

// descriptorFields is the number of little-endian uint64 fields in the
// serialized ArtifactDescriptor header, in the order spec.md §6 specifies:
// version info, module_data_ptr, module_data_len, tables_ptr, tables_len,
// function_manifest_ptr, function_manifest_len.
const descriptorFields = 7

// descriptorSize is the on-disk/in-memory size of the header in bytes.
const descriptorSize = descriptorFields * 8

// ArtifactDescriptor is the parsed form of the header a native artifact
// exposes under its lucet_module symbol (spec.md §6 "Artifact layout").
type ArtifactDescriptor struct {
	Version              uint64
	ModuleDataPtr        uint64
	ModuleDataLen        uint64
	TablesPtr            uint64
	TablesLen            uint64
	FunctionManifestPtr  uint64
	FunctionManifestLen  uint64
}

// ParseArtifactDescriptor decodes the fixed-width little-endian header from
// the bytes found at the artifact's lucet_module symbol.
func ParseArtifactDescriptor(b []byte) (ArtifactDescriptor, error) {
	if len(b) < descriptorSize {
		return ArtifactDescriptor{}, fmt.Errorf("abi: artifact descriptor too short: %d bytes, need %d", len(b), descriptorSize)
	}
	var d ArtifactDescriptor
	d.Version = binary.LittleEndian.Uint64(b[0:8])
	d.ModuleDataPtr = binary.LittleEndian.Uint64(b[8:16])
	d.ModuleDataLen = binary.LittleEndian.Uint64(b[16:24])
	d.TablesPtr = binary.LittleEndian.Uint64(b[24:32])
	d.TablesLen = binary.LittleEndian.Uint64(b[32:40])
	d.FunctionManifestPtr = binary.LittleEndian.Uint64(b[40:48])
	d.FunctionManifestLen = binary.LittleEndian.Uint64(b[48:56])
	return d, nil
}

// FunctionSpec is one packed entry of the function manifest section
// (spec.md §6 "FunctionSpec{addr, code_len, sig_id, trap_manifest_ref}").
type FunctionSpec struct {
	Addr           uint64
	CodeLen        uint64
	SigID          uint32
	TrapManifestRef uint32
}

const functionSpecSize = 8 + 8 + 4 + 4

// ParseFunctionManifest decodes a packed array of FunctionSpec entries.
func ParseFunctionManifest(b []byte) ([]FunctionSpec, error) {
	if len(b)%functionSpecSize != 0 {
		return nil, fmt.Errorf("abi: function manifest length %d is not a multiple of %d", len(b), functionSpecSize)
	}
	n := len(b) / functionSpecSize
	out := make([]FunctionSpec, n)
	for i := 0; i < n; i++ {
		off := i * functionSpecSize
		out[i] = FunctionSpec{
			Addr:            binary.LittleEndian.Uint64(b[off : off+8]),
			CodeLen:         binary.LittleEndian.Uint64(b[off+8 : off+16]),
			SigID:           binary.LittleEndian.Uint32(b[off+16 : off+20]),
			TrapManifestRef: binary.LittleEndian.Uint32(b[off+20 : off+24]),
		}
	}
	return out, nil
}

// TableEntry is one (type_id, code_addr) pair of the indirect-call table
// section (spec.md §6 "Tables are arrays of (type_id:u64, code_addr:u64)
// pairs").
type TableEntry struct {
	TypeID   uint64
	CodeAddr uint64
}

const tableEntrySize = 16

// ParseTables decodes the packed table section.
func ParseTables(b []byte) ([]TableEntry, error) {
	if len(b)%tableEntrySize != 0 {
		return nil, fmt.Errorf("abi: tables length %d is not a multiple of %d", len(b), tableEntrySize)
	}
	n := len(b) / tableEntrySize
	out := make([]TableEntry, n)
	for i := 0; i < n; i++ {
		off := i * tableEntrySize
		out[i] = TableEntry{
			TypeID:   binary.LittleEndian.Uint64(b[off : off+8]),
			CodeAddr: binary.LittleEndian.Uint64(b[off+8 : off+16]),
		}
	}
	return out, nil
}

// ErrorCode mirrors the original lucet_error C enum: a small set of
// stable integer codes the cgo shim returns across the C boundary instead
// of a Go error value (spec.md §6 "Errors map to an enum lucet_error").
type ErrorCode int32

const (
	ErrorCodeOk ErrorCode = iota
	ErrorCodeInvalidArgument
	ErrorCodeRegionFull
	ErrorCodeLimitsExceeded
	ErrorCodeSymbolNotFound
	ErrorCodeRuntimeFault
	ErrorCodeRuntimeTerminated
	ErrorCodeInstanceNeedsStart
	ErrorCodeStartAlreadyRun
	ErrorCodeUnsupported
	ErrorCodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeOk:
		return "ok"
	case ErrorCodeInvalidArgument:
		return "invalid_argument"
	case ErrorCodeRegionFull:
		return "region_full"
	case ErrorCodeLimitsExceeded:
		return "limits_exceeded"
	case ErrorCodeSymbolNotFound:
		return "symbol_not_found"
	case ErrorCodeRuntimeFault:
		return "runtime_fault"
	case ErrorCodeRuntimeTerminated:
		return "runtime_terminated"
	case ErrorCodeInstanceNeedsStart:
		return "instance_needs_start"
	case ErrorCodeStartAlreadyRun:
		return "start_already_run"
	case ErrorCodeUnsupported:
		return "unsupported"
	default:
		return "internal"
	}
}
