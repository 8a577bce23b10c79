//go:build cgo

// This file is the optional C-ABI shim of spec.md §6: a thin layer exporting
// part of the original lucet-runtime C API (region create/release, instance
// new/release/run/reset, and heap access). It exports no module load or
// release, no run-by-function-index, no resume and no signal or fatal
// handler registration; nothing registers a module handle, so
// lucet_instance_new finds no module to instantiate. It is gated behind the cgo
// build tag so the pure-Go module still builds without a C toolchain
// (SPEC_FULL.md "C-ABI shim build tag"), matching how the teacher keeps
// platform-conditional code behind build tags in config_supported.go /
// config_unsupported.go.
package abi

/*
#include <stdint.h>
#include <stddef.h>

typedef int32_t lucet_error;
*/
import "C"

import (
	"context"
	"sync"
	"unsafe"

	"github.com/aotwasm/sandboxrt/instance"
	"github.com/aotwasm/sandboxrt/internal/moduledata"
	"github.com/aotwasm/sandboxrt/region"
)

// handles maps the opaque uintptr handles returned across the cgo boundary
// to their Go objects. cgo callers may not hold a Go pointer across calls,
// so every region/module/instance is registered here and addressed by an
// integer key instead, the same indirection the teacher's own cgo-adjacent
// surfaces use when they must hand a stable token to non-Go code.
var handles struct {
	mu   sync.Mutex
	next uintptr
	regions   map[uintptr]*region.Region
	modules   map[uintptr]moduledata.Module
	instances map[uintptr]*instance.Instance
}

func init() {
	handles.next = 1
	handles.regions = map[uintptr]*region.Region{}
	handles.modules = map[uintptr]moduledata.Module{}
	handles.instances = map[uintptr]*instance.Instance{}
}

func allocHandle() uintptr {
	handles.mu.Lock()
	defer handles.mu.Unlock()
	h := handles.next
	handles.next++
	return h
}

func kindToErrorCode(k instance.Kind) ErrorCode {
	switch k {
	case instance.KindInvalidArgument:
		return ErrorCodeInvalidArgument
	case instance.KindRegionFull:
		return ErrorCodeRegionFull
	case instance.KindLimitsExceeded:
		return ErrorCodeLimitsExceeded
	case instance.KindSymbolNotFound, instance.KindFuncNotFound:
		return ErrorCodeSymbolNotFound
	case instance.KindRuntimeFault:
		return ErrorCodeRuntimeFault
	case instance.KindRuntimeTerminated:
		return ErrorCodeRuntimeTerminated
	case instance.KindInstanceNeedsStart:
		return ErrorCodeInstanceNeedsStart
	case instance.KindStartAlreadyRun:
		return ErrorCodeStartAlreadyRun
	case instance.KindUnsupported:
		return ErrorCodeUnsupported
	default:
		return ErrorCodeInternal
	}
}

//export lucet_region_create
func lucet_region_create(capacity C.int, heapAddressSpace, heapMemory, stackSize C.uint64_t) C.uintptr_t {
	limits := region.DefaultLimits()
	limits.HeapAddressSpaceSize = uint64(heapAddressSpace)
	limits.HeapMemorySize = uint64(heapMemory)
	limits.StackSize = uint64(stackSize)
	r, err := region.Create(int(capacity), limits, nil)
	if err != nil {
		return 0
	}
	h := allocHandle()
	handles.mu.Lock()
	handles.regions[h] = r
	handles.mu.Unlock()
	return C.uintptr_t(h)
}

//export lucet_region_release
func lucet_region_release(h C.uintptr_t) {
	handles.mu.Lock()
	delete(handles.regions, uintptr(h))
	handles.mu.Unlock()
}

//export lucet_instance_new
func lucet_instance_new(regionHandle, moduleHandle C.uintptr_t) C.uintptr_t {
	handles.mu.Lock()
	r := handles.regions[uintptr(regionHandle)]
	mod := handles.modules[uintptr(moduleHandle)]
	handles.mu.Unlock()
	if r == nil || mod == nil {
		return 0
	}
	inst, err := instance.Open(r, mod, instance.NewConfig())
	if err != nil {
		return 0
	}
	h := allocHandle()
	handles.mu.Lock()
	handles.instances[h] = inst
	handles.mu.Unlock()
	return C.uintptr_t(h)
}

//export lucet_instance_release
func lucet_instance_release(h C.uintptr_t) {
	handles.mu.Lock()
	inst := handles.instances[uintptr(h)]
	delete(handles.instances, uintptr(h))
	handles.mu.Unlock()
	if inst != nil {
		_ = inst.Release()
	}
}

//export lucet_instance_run
func lucet_instance_run(h C.uintptr_t, name *C.char) C.lucet_error {
	handles.mu.Lock()
	inst := handles.instances[uintptr(h)]
	handles.mu.Unlock()
	if inst == nil {
		return C.lucet_error(ErrorCodeInvalidArgument)
	}
	_, err := inst.Run(context.Background(), C.GoString(name), nil)
	if err != nil {
		if e, ok := err.(*instance.Error); ok {
			return C.lucet_error(kindToErrorCode(e.Kind))
		}
		return C.lucet_error(ErrorCodeInternal)
	}
	return C.lucet_error(ErrorCodeOk)
}

//export lucet_instance_reset
func lucet_instance_reset(h C.uintptr_t) C.lucet_error {
	handles.mu.Lock()
	inst := handles.instances[uintptr(h)]
	handles.mu.Unlock()
	if inst == nil {
		return C.lucet_error(ErrorCodeInvalidArgument)
	}
	if err := inst.Reset(); err != nil {
		return C.lucet_error(ErrorCodeInternal)
	}
	return C.lucet_error(ErrorCodeOk)
}

//export lucet_instance_heap_ptr
func lucet_instance_heap_ptr(h C.uintptr_t) unsafe.Pointer {
	handles.mu.Lock()
	inst := handles.instances[uintptr(h)]
	handles.mu.Unlock()
	if inst == nil {
		return nil
	}
	return unsafe.Pointer(inst.HeapBase())
}
