package instance

import (
	"context"

	"github.com/aotwasm/sandboxrt/internal/signalcore"
)

// MemoryLimiter is consulted by grow_memory_from_hostcall before a heap
// growth request from inside a hostcall is honored (spec.md §4.6
// "grow_memory_from_hostcall ... first consults any installed memory
// limiter asynchronously and rejects if denied").
type MemoryLimiter interface {
	// MemoryGrowing is called with the current and requested new size in
	// bytes; returning false denies the growth.
	MemoryGrowing(ctx context.Context, current, desired uint64) bool
}

// FatalHandler is invoked when a fault is classified Fatal, before the
// error is returned to the embedder (spec.md §7 "fatal variants
// additionally invoke the registered fatal handler"). Per DESIGN.md's
// resolution of the corresponding Open Question, the host terminates the
// process deterministically after this returns, regardless of what it
// does, since the handler's Rust analogue is typed `!` (never returns) and
// Go has no equivalent type-level guarantee.
type FatalHandler func(inst *Instance, details signalcore.FaultDetails)

// Config carries the per-instance overrides spec.md §3 lists on Instance:
// an optional per-instance heap cap, a memory limiter, a fatal handler, and
// a signal-classification callback — builder-style, grounded on the
// teacher's RuntimeConfig clone-and-override pattern (SPEC_FULL.md
// "Region and instance configuration").
type Config struct {
	HeapCap       *uint64
	Limiter       MemoryLimiter
	FatalHandler  FatalHandler
	SignalHandler signalcore.Callback
}

// NewConfig returns a Config with no heap cap, no limiter and no fatal
// handler (a fatal fault then exits the process directly), and with
// SignalHandler set to signalcore.DefaultCallback.
func NewConfig() Config {
	return Config{SignalHandler: signalcore.DefaultCallback}
}

// WithHeapCap overrides the module's HeapSpec.MaxSize for this instance.
func (c Config) WithHeapCap(bytes uint64) Config {
	c.HeapCap = &bytes
	return c
}

// WithLimiter installs a MemoryLimiter.
func (c Config) WithLimiter(l MemoryLimiter) Config {
	c.Limiter = l
	return c
}

// WithFatalHandler installs a FatalHandler.
func (c Config) WithFatalHandler(h FatalHandler) Config {
	c.FatalHandler = h
	return c
}

// WithSignalHandler installs a signal classification callback.
func (c Config) WithSignalHandler(cb signalcore.Callback) Config {
	c.SignalHandler = cb
	return c
}
