package instance

import (
	"encoding/binary"
)

// runtimeDataSize is the fixed size, in bytes, of the InstanceRuntimeData
// blob compiled guest code reads at hardcoded negative offsets from the
// heap base (spec.md §3 "Instance" / §6 "Guest→host ABI contract"). Field
// order here is the ABI: globals pointer (8), instruction_count_bound (8),
// instruction_count_adj (8), stack_limit (8).
const runtimeDataSize = 32

const (
	rtOffGlobalsPtr           = 0
	rtOffInstructionCountBound = 8
	rtOffInstructionCountAdj   = 16
	rtOffStackLimit            = 24
)

// runtimeData is a thin view over the trailing bytes of a Slot's Instance
// page holding the ABI-mandated InstanceRuntimeData fields. Compiled guest
// code addresses these fields directly by byte offset from the heap base,
// so the layout here must stay byte-for-byte in sync with whatever the AOT
// compiler was told to emit (out of scope for this host, spec.md §1).
type runtimeData struct {
	buf []byte // exactly runtimeDataSize bytes, the tail of the Instance page.
}

func newRuntimeData(instancePage []byte) runtimeData {
	n := len(instancePage)
	return runtimeData{buf: instancePage[n-runtimeDataSize : n]}
}

func (r runtimeData) GlobalsPtr() uint64 { return binary.LittleEndian.Uint64(r.buf[rtOffGlobalsPtr:]) }
func (r runtimeData) SetGlobalsPtr(v uint64) {
	binary.LittleEndian.PutUint64(r.buf[rtOffGlobalsPtr:], v)
}

func (r runtimeData) InstructionCountBound() uint64 {
	return binary.LittleEndian.Uint64(r.buf[rtOffInstructionCountBound:])
}
func (r runtimeData) SetInstructionCountBound(v uint64) {
	binary.LittleEndian.PutUint64(r.buf[rtOffInstructionCountBound:], v)
}

// InstructionCountAdj is read with a plain load, not an atomic one, even
// though spec.md §9 notes the exact update moment is compiler-controlled:
// the field is only ever written by guest code between suspension points
// and only ever read by the host after the guest has suspended, so there is
// no concurrent access to synchronize (DESIGN.md Open Question #2).
func (r runtimeData) InstructionCountAdj() uint64 {
	return binary.LittleEndian.Uint64(r.buf[rtOffInstructionCountAdj:])
}
func (r runtimeData) SetInstructionCountAdj(v uint64) {
	binary.LittleEndian.PutUint64(r.buf[rtOffInstructionCountAdj:], v)
}

func (r runtimeData) StackLimit() uint64 { return binary.LittleEndian.Uint64(r.buf[rtOffStackLimit:]) }
func (r runtimeData) SetStackLimit(v uint64) {
	binary.LittleEndian.PutUint64(r.buf[rtOffStackLimit:], v)
}
