package moduledata

import (
	"fmt"

	"github.com/aotwasm/sandboxrt/abi"
	"github.com/aotwasm/sandboxrt/api"
	"github.com/aotwasm/sandboxrt/region"
)

// ModuleData is the self-describing block an artifact's module_data section
// decodes to: heap spec, globals, signatures, function metadata, export
// map, sparse-page index, and (optionally) sparse-page payloads (spec.md §6
// "module_data is a self-describing block..."). The wire encoding is left
// to the AOT compiler's own serializer (out of scope, spec.md §1); Go
// callers that already have a decoded ModuleData value (e.g. produced by a
// test fixture or cmd/sandboxdump's encoding/gob-based loader) construct a Loaded
// directly with NewLoaded rather than parsing bytes here.
type ModuleData struct {
	Exports     map[string]api.FunctionDescriptor
	Start       *api.FunctionDescriptor
	Signatures  []api.Signature
	Heap        region.HeapSpec
	Globals     []api.GlobalSpec
	SparsePages []region.SparsePage
	Symbols     map[uintptr]struct{ File, Symbol string }
}

// Loaded is a Module view over a parsed artifact: the decoded ModuleData
// plus the function manifest and table sections parsed separately per
// spec.md §6 (each is a flat packed array, not part of the
// self-describing module_data block).
type Loaded struct {
	data  ModuleData
	table []TableEntry
	traps TrapTable
}

var _ Module = (*Loaded)(nil)

// NewLoaded assembles a Loaded Module from an already-decoded ModuleData
// plus the raw function-manifest and table byte sections of an
// ArtifactDescriptor (spec.md §6).
func NewLoaded(data ModuleData, functionManifest, tables []byte) (*Loaded, error) {
	manifest, err := abi.ParseFunctionManifest(functionManifest)
	if err != nil {
		return nil, fmt.Errorf("moduledata: %w", err)
	}
	rawTables, err := abi.ParseTables(tables)
	if err != nil {
		return nil, fmt.Errorf("moduledata: %w", err)
	}

	l := &Loaded{data: data}
	l.table = make([]TableEntry, len(rawTables))
	for i, t := range rawTables {
		l.table[i] = TableEntry{TypeID: uint32(t.TypeID), Address: uintptr(t.CodeAddr)}
	}
	for _, fn := range manifest {
		l.traps = append(l.traps, trapSitesFor(fn)...)
	}
	l.traps.Sort()
	return l, nil
}

// trapSitesFor is a placeholder decode of one FunctionSpec's
// trap_manifest_ref into individual TrapSite entries. The real AOT compiler
// emits a per-function sub-table at that reference (out of scope, spec.md
// §1); callers that need real trap sites populate them via
// Loaded.SetTrapTable after construction, e.g. once a richer manifest
// decoder lands.
func trapSitesFor(fn abi.FunctionSpec) []TrapSite { return nil }

// SetTrapTable overrides the trap table, used by loaders that decode trap
// sites from a section this package does not yet parse.
func (l *Loaded) SetTrapTable(t TrapTable) {
	t.Sort()
	l.traps = t
}

func (l *Loaded) Export(name string) (api.FunctionDescriptor, bool) {
	d, ok := l.data.Exports[name]
	return d, ok
}

func (l *Loaded) ExportNames() []string {
	names := make([]string, 0, len(l.data.Exports))
	for n := range l.data.Exports {
		names = append(names, n)
	}
	return names
}

func (l *Loaded) Table() []TableEntry              { return l.table }
func (l *Loaded) Signatures() []api.Signature       { return l.data.Signatures }
func (l *Loaded) HeapSpec() region.HeapSpec         { return l.data.Heap }
func (l *Loaded) Globals() []api.GlobalSpec         { return l.data.Globals }
func (l *Loaded) SparsePages() []region.SparsePage  { return l.data.SparsePages }

func (l *Loaded) GlobalsSize() uint64 {
	return uint64(len(l.data.Globals)) * 8
}

func (l *Loaded) LookupTrap(ip uintptr) (api.TrapCode, bool) { return l.traps.Lookup(ip) }

func (l *Loaded) StartFunction() (api.FunctionDescriptor, bool) {
	if l.data.Start == nil {
		return api.FunctionDescriptor{}, false
	}
	return *l.data.Start, true
}

func (l *Loaded) SymbolAt(ip uintptr) (string, string, bool) {
	if s, ok := l.data.Symbols[ip]; ok {
		return s.File, s.Symbol, true
	}
	return "", "", false
}
