package region

// Backend commits, expands, and releases the sub-regions of a Slot. The two
// implementations (Mmap, Userfault) share this contract so that Region
// itself never has to know which paging policy is in effect (spec.md §4.1
// "Two backends with identical external contracts").
type Backend interface {
	// Name identifies the backend for logging and the CLI.
	Name() string

	// Init prepares the whole region's reservation (e.g. registering it
	// with a userfaultfd) before any slot is handed out.
	Init(reservation []byte, limits Limits) error

	// InstantiateSlot commits whatever the backend commits eagerly for a
	// freshly allocated slot: the Instance page, the initial heap image,
	// the stack, globals, and signal stack, and leaves the guard pages
	// inaccessible.
	InstantiateSlot(s *Slot, spec HeapSpec, sparse []SparsePage) error

	// ExpandHeap grows the committed heap to newSize bytes (a multiple of
	// the wasm page size), returning an error if the backend cannot
	// satisfy it.
	ExpandHeap(s *Slot, newSize uint64) error

	// ResetHeap restores the heap to spec's sparse initialization image
	// and shrinks any grown pages back to the initial size.
	ResetHeap(s *Slot, spec HeapSpec, sparse []SparsePage) error

	// ReleaseSlot returns a slot's committed memory to the OS (e.g. via
	// madvise(MADV_DONTNEED)) without unmapping the reservation, so the
	// slot can be handed out again.
	ReleaseSlot(s *Slot) error
}

// SparsePage is one optional 64 KiB initialization payload for the heap,
// indexed by Wasm-page offset (spec.md §3 "Module (trait)").
type SparsePage struct {
	PageIndex uint32
	Data      []byte // nil means "zero page" rather than "copy this payload".
}
