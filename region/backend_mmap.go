package region

import (
	"fmt"

	"github.com/aotwasm/sandboxrt/api"
	"github.com/aotwasm/sandboxrt/internal/platform"
)

// MmapBackend commits the Instance page, heap, stack, globals, and sigstack
// eagerly with the right protections; ExpandHeap changes protection on
// additional pages to readwrite; ResetHeap zeroes the heap region via
// madvise and drops any grown pages back to inaccessible (spec.md §4.1
// "Mmap backend").
type MmapBackend struct{}

var _ Backend = MmapBackend{}

func (MmapBackend) Name() string { return "mmap" }

func (MmapBackend) Init(reservation []byte, limits Limits) error {
	// Nothing to do up front: the reservation is already PROT_NONE from
	// MmapReserve, and each slot is committed lazily on InstantiateSlot.
	return nil
}

func (MmapBackend) InstantiateSlot(s *Slot, spec HeapSpec, sparse []SparsePage) error {
	s.heapSpec = spec

	if err := platform.Mprotect(s.InstancePage(), platform.ProtReadWrite); err != nil {
		return fmt.Errorf("region: commit instance page: %w", err)
	}
	if spec.InitialSize > 0 {
		if err := platform.Mprotect(s.mem[s.layout.heapOffset:s.layout.heapOffset+spec.InitialSize], platform.ProtReadWrite); err != nil {
			return fmt.Errorf("region: commit heap: %w", err)
		}
	}
	s.heapCommitted = spec.InitialSize
	if err := applySparsePages(s.Heap(), sparse); err != nil {
		return err
	}
	if err := platform.Mprotect(s.Stack(), platform.ProtReadWrite); err != nil {
		return fmt.Errorf("region: commit stack: %w", err)
	}
	if err := platform.Mprotect(s.Globals(), platform.ProtReadWrite); err != nil {
		return fmt.Errorf("region: commit globals: %w", err)
	}
	if err := platform.Mprotect(s.SignalStack(), platform.ProtReadWrite); err != nil {
		return fmt.Errorf("region: commit sigstack: %w", err)
	}
	return nil
}

func (MmapBackend) ExpandHeap(s *Slot, newSize uint64) error {
	if newSize <= s.heapCommitted {
		return nil
	}
	grow := s.mem[s.layout.heapOffset+s.heapCommitted : s.layout.heapOffset+newSize]
	if err := platform.Mprotect(grow, platform.ProtReadWrite); err != nil {
		return fmt.Errorf("region: expand heap: %w", err)
	}
	s.heapCommitted = newSize
	return nil
}

func (MmapBackend) ResetHeap(s *Slot, spec HeapSpec, sparse []SparsePage) error {
	// Drop every grown page back to inaccessible, then recommit exactly
	// the initial image.
	if s.heapCommitted > 0 {
		if err := platform.MadviseDontNeed(s.mem[s.layout.heapOffset : s.layout.heapOffset+s.heapCommitted]); err != nil {
			return fmt.Errorf("region: reset heap (madvise): %w", err)
		}
	}
	if s.heapCommitted > spec.InitialSize {
		if err := platform.Mprotect(s.mem[s.layout.heapOffset+spec.InitialSize:s.layout.heapOffset+s.heapCommitted], platform.ProtNone); err != nil {
			return fmt.Errorf("region: reset heap (shrink): %w", err)
		}
	} else if s.heapCommitted < spec.InitialSize {
		if err := platform.Mprotect(s.mem[s.layout.heapOffset+s.heapCommitted:s.layout.heapOffset+spec.InitialSize], platform.ProtReadWrite); err != nil {
			return fmt.Errorf("region: reset heap (grow to initial): %w", err)
		}
	}
	s.heapCommitted = spec.InitialSize
	s.heapSpec = spec
	clearBytes(s.Heap())
	return applySparsePages(s.Heap(), sparse)
}

func (MmapBackend) ReleaseSlot(s *Slot) error {
	if s.heapCommitted > 0 {
		if err := platform.MadviseDontNeed(s.mem[s.layout.heapOffset : s.layout.heapOffset+s.heapCommitted]); err != nil {
			return err
		}
	}
	if err := platform.Mprotect(s.mem[s.layout.heapOffset:s.layout.heapOffset+s.heapCommitted], platform.ProtNone); err != nil {
		return err
	}
	s.heapCommitted = 0
	return nil
}

func applySparsePages(heap []byte, sparse []SparsePage) error {
	for _, p := range sparse {
		start := uint64(p.PageIndex) * api.WasmPageSize
		end := start + api.WasmPageSize
		if end > uint64(len(heap)) {
			return fmt.Errorf("region: sparse page %d out of range of %d-byte heap", p.PageIndex, len(heap))
		}
		if p.Data == nil {
			clearBytes(heap[start:end])
			continue
		}
		copy(heap[start:end], p.Data)
	}
	return nil
}

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
