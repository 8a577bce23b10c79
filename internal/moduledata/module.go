// Package moduledata defines the Module interface a loaded artifact
// exposes to the rest of the sandbox host: exports, the indexed function
// table, signatures, the sparse heap initialization image, and the trap-site
// table used to classify a faulting instruction pointer (spec.md §4.3).
package moduledata

import (
	"sort"

	"github.com/aotwasm/sandboxrt/api"
	"github.com/aotwasm/sandboxrt/region"
)

// TableEntry is one slot of the module's single indirect-call table,
// addressed by the call_indirect argument (spec.md §3 "indexed function
// table entries").
type TableEntry struct {
	TypeID  uint32
	Address uintptr
}

// Module is the read-only view of a loaded artifact every other component
// depends on. It is implemented by Loaded (parsed from an artifact image)
// and by Mock (literal Go data, for tests that never touch an actual
// AOT-compiled binary) — the interface/mock split mirrors the teacher's own
// wasm.Engine interface with interpreter and jit as dual implementations.
type Module interface {
	// Export resolves name to its function descriptor. ok is false if no
	// such export exists.
	Export(name string) (api.FunctionDescriptor, bool)

	// ExportNames lists every export, for the CLI and for iteration.
	ExportNames() []string

	// Table returns the indexed function table, for call_indirect lookups.
	Table() []TableEntry

	// Signatures returns every signature referenced by the module, indexed
	// by signature id.
	Signatures() []api.Signature

	// HeapSpec returns the module's required heap shape.
	HeapSpec() region.HeapSpec

	// Globals returns the module's global variable specs, in declaration
	// order.
	Globals() []api.GlobalSpec

	// GlobalsSize is the total committed size the module's globals need, in
	// bytes (spec.md §4.1 "NewInstance ... mod.GlobalsSize()").
	GlobalsSize() uint64

	// SparsePages returns the heap's sparse initialization image.
	SparsePages() []region.SparsePage

	// LookupTrap classifies a native instruction pointer into a TrapCode,
	// or reports ok=false if ip is not a recognized trap site belonging to
	// this module.
	LookupTrap(ip uintptr) (code api.TrapCode, ok bool)

	// StartFunction returns the module's start function, if any.
	StartFunction() (api.FunctionDescriptor, bool)

	// SymbolAt resolves ip to a best-effort (file, symbol, inModuleCode)
	// triple for fault-detail enrichment (spec.md §4.3 "symbol→address
	// resolution").
	SymbolAt(ip uintptr) (file, symbol string, inModuleCode bool)
}

// TrapSite associates one compiled instruction with the trap it raises,
// keyed by (FuncBase, Offset) so the table can be binary-searched by a
// faulting IP within a known function (spec.md §4.3 "trap-site table sorted
// by (function-base, offset)").
type TrapSite struct {
	FuncBase uintptr
	Offset   uint32
	Code     api.TrapCode
}

// TrapTable is a sorted slice of TrapSite supporting O(log n) classification
// of a faulting instruction pointer.
type TrapTable []TrapSite

// Sort orders t in place by (FuncBase, Offset), the precondition for Lookup.
func (t TrapTable) Sort() {
	sort.Slice(t, func(i, j int) bool {
		if t[i].FuncBase != t[j].FuncBase {
			return t[i].FuncBase < t[j].FuncBase
		}
		return t[i].Offset < t[j].Offset
	})
}

// addr is the absolute instruction address a TrapSite describes.
func (s TrapSite) addr() uintptr { return s.FuncBase + uintptr(s.Offset) }

// Lookup classifies ip into a TrapCode by exact address match against t. It
// reports ok=false if ip does not fall on a known trap site — "not a guest
// trap" in spec.md §4.3's phrasing. t must already be sorted (Sort orders by
// (FuncBase, Offset), which is also address order since Offset is relative
// to FuncBase within one function and functions never overlap).
func (t TrapTable) Lookup(ip uintptr) (api.TrapCode, bool) {
	i := sort.Search(len(t), func(i int) bool { return t[i].addr() >= ip })
	if i < len(t) && t[i].addr() == ip {
		return t[i].Code, true
	}
	return api.TrapCodeUnknown, false
}
