package moduledata

import (
	"github.com/aotwasm/sandboxrt/api"
	"github.com/aotwasm/sandboxrt/region"
)

// Mock is a literal, in-memory Module used by tests so the S1–S6 scenarios
// in spec.md §8 never depend on an actual AOT-compiled artifact — the same
// role the teacher's interpreter engine plays relative to its jit engine in
// config.go's dual-engine split.
type Mock struct {
	Exports       map[string]api.FunctionDescriptor
	TableEntries  []TableEntry
	SignatureList []api.Signature
	Heap          region.HeapSpec
	GlobalList    []api.GlobalSpec
	Sparse        []region.SparsePage
	Traps         TrapTable
	Start         *api.FunctionDescriptor

	// Symbols maps an address to a (file, symbol) pair for SymbolAt; any
	// address not present is reported as not-in-module-code.
	Symbols map[uintptr]struct{ File, Symbol string }
}

var _ Module = (*Mock)(nil)

// NewMock returns a Mock with its maps initialized and its trap table
// sorted, ready for use.
func NewMock() *Mock {
	m := &Mock{Exports: map[string]api.FunctionDescriptor{}, Symbols: map[uintptr]struct{ File, Symbol string }{}}
	return m
}

// WithExport registers a named export and returns m, for fluent test setup.
func (m *Mock) WithExport(name string, addr uintptr, sig api.Signature) *Mock {
	m.Exports[name] = api.FunctionDescriptor{Name: name, Address: addr, Signature: sig}
	return m
}

// WithTrap registers a trap site and returns m.
func (m *Mock) WithTrap(funcBase uintptr, offset uint32, code api.TrapCode) *Mock {
	m.Traps = append(m.Traps, TrapSite{FuncBase: funcBase, Offset: offset, Code: code})
	m.Traps.Sort()
	return m
}

func (m *Mock) Export(name string) (api.FunctionDescriptor, bool) {
	d, ok := m.Exports[name]
	return d, ok
}

func (m *Mock) ExportNames() []string {
	names := make([]string, 0, len(m.Exports))
	for n := range m.Exports {
		names = append(names, n)
	}
	return names
}

func (m *Mock) Table() []TableEntry           { return m.TableEntries }
func (m *Mock) Signatures() []api.Signature   { return m.SignatureList }
func (m *Mock) HeapSpec() region.HeapSpec     { return m.Heap }
func (m *Mock) Globals() []api.GlobalSpec     { return m.GlobalList }
func (m *Mock) SparsePages() []region.SparsePage { return m.Sparse }

func (m *Mock) GlobalsSize() uint64 {
	var total uint64
	for range m.GlobalList {
		total += 8 // every global is stored as a fixed 8-byte slot, regardless of value type.
	}
	return total
}

func (m *Mock) LookupTrap(ip uintptr) (api.TrapCode, bool) { return m.Traps.Lookup(ip) }

func (m *Mock) StartFunction() (api.FunctionDescriptor, bool) {
	if m.Start == nil {
		return api.FunctionDescriptor{}, false
	}
	return *m.Start, true
}

func (m *Mock) SymbolAt(ip uintptr) (string, string, bool) {
	if s, ok := m.Symbols[ip]; ok {
		return s.File, s.Symbol, true
	}
	return "", "", false
}
