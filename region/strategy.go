package region

import "math/rand/v2"

// Strategy picks the next free slot index out of a region's freelist,
// spreading allocations across the address range so that stale pointers
// into a reused slot are more likely to be noticed (spec.md §4.1
// "Allocation strategy").
type Strategy interface {
	// Next returns the index into freelist of the slot to hand out next.
	Next(freelist []int) int
}

// LinearStrategy always hands out the first free slot — the cheapest
// strategy, useful for deterministic tests.
type LinearStrategy struct{}

func (LinearStrategy) Next(freelist []int) int { return 0 }

// RandomStrategy spreads allocations uniformly across the freelist.
type RandomStrategy struct {
	rand *rand.Rand
}

// NewRandomStrategy returns a RandomStrategy seeded from a fixed seed pair,
// so allocation order is reproducible within a single process run even
// though it is not predictable by inspection.
func NewRandomStrategy(seed1, seed2 uint64) *RandomStrategy {
	return &RandomStrategy{rand: rand.New(rand.NewPCG(seed1, seed2))}
}

func (s *RandomStrategy) Next(freelist []int) int {
	return s.rand.IntN(len(freelist))
}

// FuncStrategy adapts a plain function to Strategy, for embedders who want a
// custom policy without defining a named type.
type FuncStrategy func(freelist []int) int

func (f FuncStrategy) Next(freelist []int) int { return f(freelist) }
