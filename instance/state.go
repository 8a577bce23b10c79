// Package instance composes the region allocator, the context-switching
// engine, the module interface, the signal core, and the kill-switch state
// machine into the Instance lifecycle: run/resume/reset, the State sum
// type, and the hostcall boundary (spec.md §4.6/§4.7).
package instance

import (
	"github.com/aotwasm/sandboxrt/api"
	"github.com/aotwasm/sandboxrt/internal/signalcore"
)

// State is the sum type of spec.md §3 "State". It is modeled as an
// interface with an unexported marker method and one struct per variant,
// rather than a plain enum, because several variants carry a payload
// (Faulted carries FaultDetails, Yielding/Yielded carry a value type) —
// see DESIGN.md's "instance" grounding entry.
type State interface {
	state()
	// Name returns the variant's name, for logging, String(), and the
	// transition table.
	Name() string
}

type stateNotStarted struct{}
type stateReady struct{}
type stateRunning struct{}
type stateYielding struct {
	Value         any
	ExpectingType *api.ValueType
}
type stateYielded struct {
	ExpectingType *api.ValueType
}

// TerminationCause names why an instance is Terminating or was Terminated
// (spec.md §3 "Terminating{details}").
type TerminationCause int

const (
	CauseSignal TerminationCause = iota
	CauseRemote
	CauseProvided
	CauseBorrowError
	CauseYieldTypeMismatch
	CauseCtxNotFound
	CauseOtherPanic
)

func (c TerminationCause) String() string {
	switch c {
	case CauseSignal:
		return "signal"
	case CauseRemote:
		return "remote"
	case CauseProvided:
		return "provided"
	case CauseBorrowError:
		return "borrow_error"
	case CauseYieldTypeMismatch:
		return "yield_type_mismatch"
	case CauseCtxNotFound:
		return "ctx_not_found"
	default:
		return "other_panic"
	}
}

type stateTerminating struct{ Cause TerminationCause }
type stateTerminated struct{}
type stateFaulted struct{ Details signalcore.FaultDetails }
type stateBoundExpired struct{}
type stateTransitioning struct{}

func (stateNotStarted) state()    {}
func (stateReady) state()         {}
func (stateRunning) state()       {}
func (stateYielding) state()      {}
func (stateYielded) state()       {}
func (stateTerminating) state()   {}
func (stateTerminated) state()    {}
func (stateFaulted) state()       {}
func (stateBoundExpired) state()  {}
func (stateTransitioning) state() {}

func (stateNotStarted) Name() string    { return "NotStarted" }
func (stateReady) Name() string         { return "Ready" }
func (stateRunning) Name() string       { return "Running" }
func (stateYielding) Name() string      { return "Yielding" }
func (stateYielded) Name() string       { return "Yielded" }
func (stateTerminating) Name() string   { return "Terminating" }
func (stateTerminated) Name() string    { return "Terminated" }
func (stateFaulted) Name() string       { return "Faulted" }
func (stateBoundExpired) Name() string  { return "BoundExpired" }
func (stateTransitioning) Name() string { return "Transitioning" }

var (
	NotStarted    State = stateNotStarted{}
	Ready         State = stateReady{}
	Running       State = stateRunning{}
	Terminated    State = stateTerminated{}
	BoundExpired  State = stateBoundExpired{}
	Transitioning State = stateTransitioning{}
)

func Yielding(v any, expecting *api.ValueType) State {
	return stateYielding{Value: v, ExpectingType: expecting}
}
func Yielded(expecting *api.ValueType) State { return stateYielded{ExpectingType: expecting} }
func TerminatingState(cause TerminationCause) State {
	return stateTerminating{Cause: cause}
}
func Faulted(d signalcore.FaultDetails) State { return stateFaulted{Details: d} }

// legalTransitions is the normative table of spec.md §4.7: from[to] is true
// iff the edge is allowed. Origins not named in the table (Transitioning,
// Terminating) have no legal outgoing edge: transition() reports false for
// them.
var legalTransitions = map[string]map[string]bool{
	"NotStarted":   {"Running": true},
	"Ready":        {"Running": true},
	"Running":      {"Ready": true, "Yielded": true, "BoundExpired": true, "Faulted": true, "Terminated": true},
	"Yielded":      {"Running": true, "Terminated": true},
	"BoundExpired": {"Running": true},
	"Faulted":      {"Ready": true, "Running": true, "NotStarted": true}, // reset(); only ever reachable from a non-fatal fault.
	"Terminated":   {"Ready": true, "NotStarted": true},                 // reset().
}

// transition reports whether moving from `from` to `to` is legal per spec.md
// §4.7. It compares variant names, not payloads: e.g. any Faulted->Ready is
// legal regardless of FaultDetails, since the table is about control flow,
// not data.
func transition(from, to State) bool {
	edges, ok := legalTransitions[from.Name()]
	if !ok {
		return false
	}
	return edges[to.Name()]
}
