package region

import (
	"errors"
	"fmt"
	"sync"
	"weak"

	"github.com/google/uuid"

	"github.com/aotwasm/sandboxrt/internal/platform"
)

// ModuleInfo is the subset of the Module trait (spec.md §4.3) the allocator
// needs to validate and instantiate a Slot. It is defined locally, rather
// than importing the module package's richer Module interface, so that
// region and module can each be imported independently of the other — the
// module package is free to depend on region's HeapSpec/SparsePage types
// without creating an import cycle.
type ModuleInfo interface {
	HeapSpec() HeapSpec
	GlobalsSize() uint64
	SparsePages() []SparsePage
}

// Region reserves one large virtual area covering capacity × per-instance
// slot-size bytes with no backing memory committed, carves it into
// equal-sized slots, hands slots out via NewInstance, and reclaims them on
// InstanceHandle release (spec.md §4.1).
type Region struct {
	ID       string
	Limits   Limits
	Capacity int
	Backend  Backend

	slotSize    uint64
	reservation []byte
	layout      layout
	strategy    Strategy

	mu       sync.Mutex
	freelist []int
	slots    []*Slot // one *Slot per capacity index, nil when free.
}

// ErrRegionFull is returned by NewInstance when the freelist is empty.
var ErrRegionFull = errors.New("region: capacity exhausted")

// Create reserves a new Region. It fails with an error wrapping
// ErrInvalidArgument if capacity is zero or limits fail validation
// (spec.md §4.1 "create(capacity, limits)").
func Create(capacity int, limits Limits, backend Backend) (*Region, error) {
	if capacity == 0 {
		return nil, fmt.Errorf("%w: capacity must be > 0", ErrInvalidArgument)
	}
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if backend == nil {
		backend = MmapBackend{}
	}

	l := newLayout(limits)
	total := l.totalSize * uint64(capacity)
	reservation, err := platform.MmapReserve(int(total))
	if err != nil {
		return nil, err
	}
	if err := backend.Init(reservation, limits); err != nil {
		_ = platform.MmapFree(reservation)
		return nil, err
	}

	r := &Region{
		ID:          uuid.NewString(),
		Limits:      limits,
		Capacity:    capacity,
		Backend:     backend,
		slotSize:    l.totalSize,
		reservation: reservation,
		layout:      l,
		strategy:    LinearStrategy{},
		slots:       make([]*Slot, capacity),
	}
	r.freelist = make([]int, capacity)
	for i := range r.freelist {
		r.freelist[i] = i // ascending, so index 0 is handed out first under LinearStrategy.
	}
	return r, nil
}

// WithStrategy overrides the default LinearStrategy. Must be called before
// the first NewInstance.
func (r *Region) WithStrategy(s Strategy) *Region {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategy = s
	return r
}

// NewInstance validates mod's HeapSpec against the slot's Limits, carves a
// free slot, and commits it via the Region's backend. On any failure the
// slot is returned to the freelist untouched — a bad spec must not consume
// capacity (spec.md §4.1).
func (r *Region) NewInstance(mod ModuleInfo, perInstanceHeapCap *uint64) (*InstanceHandle, error) {
	spec := mod.HeapSpec()
	if err := spec.Validate(r.Limits); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLimitsExceeded, err)
	}
	if perInstanceHeapCap != nil {
		if *perInstanceHeapCap > r.Limits.HeapMemorySize {
			return nil, fmt.Errorf("%w: per-instance heap cap %d exceeds region cap %d", ErrLimitsExceeded, *perInstanceHeapCap, r.Limits.HeapMemorySize)
		}
		spec.MaxSize = perInstanceHeapCap
	}
	if mod.GlobalsSize() > r.Limits.GlobalsSize {
		return nil, fmt.Errorf("%w: globals size %d exceeds region limit %d", ErrLimitsExceeded, mod.GlobalsSize(), r.Limits.GlobalsSize)
	}

	idx, err := r.acquireSlotIndex()
	if err != nil {
		return nil, err
	}

	s := &Slot{
		index:  idx,
		layout: r.layout,
		limits: r.Limits,
		mem:    r.reservation[uint64(idx)*r.slotSize : (uint64(idx)+1)*r.slotSize],
	}
	s.region = weak.Make(r)

	if err := r.Backend.InstantiateSlot(s, spec, mod.SparsePages()); err != nil {
		r.releaseSlotIndex(idx)
		return nil, err
	}

	r.mu.Lock()
	r.slots[idx] = s
	r.mu.Unlock()

	return &InstanceHandle{Slot: s, region: r}, nil
}

func (r *Region) acquireSlotIndex() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.freelist) == 0 {
		return 0, ErrRegionFull
	}
	pos := r.strategy.Next(r.freelist)
	idx := r.freelist[pos]
	r.freelist = append(r.freelist[:pos], r.freelist[pos+1:]...)
	return idx, nil
}

func (r *Region) releaseSlotIndex(idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.freelist = append(r.freelist, idx)
	r.slots[idx] = nil
}

// InstanceHandle owns one Slot carved from a Region. Dropping it (Release)
// resets the slot's committed memory and returns it to the Region's
// freelist (spec.md §4.1 "Drop of an InstanceHandle" / §5 "Resource
// release").
type InstanceHandle struct {
	Slot   *Slot
	region *Region

	mu       sync.Mutex
	released bool
}

// Release reclaims the slot. It is safe to call more than once.
func (h *InstanceHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true
	if err := h.region.Backend.ReleaseSlot(h.Slot); err != nil {
		return err
	}
	h.region.releaseSlotIndex(h.Slot.index)
	return nil
}
