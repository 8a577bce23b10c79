package instance

import (
	"fmt"

	"github.com/aotwasm/sandboxrt/api"
	"github.com/aotwasm/sandboxrt/internal/signalcore"
)

// Kind is the closed set of error causes a call into Instance can report
// (spec.md §7 "Error kinds").
type Kind int

const (
	KindInvalidArgument Kind = iota
	KindRegionFull
	KindLimitsExceeded
	KindSymbolNotFound
	KindFuncNotFound
	KindRuntimeFault
	KindRuntimeTerminated
	KindInstanceNeedsStart
	KindStartAlreadyRun
	KindStartYielded
	KindInstanceNotReturned
	KindInstanceNotYielded
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindRegionFull:
		return "region_full"
	case KindLimitsExceeded:
		return "limits_exceeded"
	case KindSymbolNotFound:
		return "symbol_not_found"
	case KindFuncNotFound:
		return "func_not_found"
	case KindRuntimeFault:
		return "runtime_fault"
	case KindRuntimeTerminated:
		return "runtime_terminated"
	case KindInstanceNeedsStart:
		return "instance_needs_start"
	case KindStartAlreadyRun:
		return "start_already_run"
	case KindStartYielded:
		return "start_yielded"
	case KindInstanceNotReturned:
		return "instance_not_returned"
	case KindInstanceNotYielded:
		return "instance_not_yielded"
	default:
		return "unsupported"
	}
}

// Error is the one error type every Instance operation returns, carrying a
// Kind and, for the two causes that need one, a details payload — grounded
// on the teacher's sys.ExitError pattern of one error type callers inspect
// a field on, rather than one Go error type per Kind (DESIGN.md "instance").
type Error struct {
	Kind    Kind
	Fault   *signalcore.FaultDetails // set iff Kind == KindRuntimeFault.
	Cause   TerminationCause         // meaningful iff Kind == KindRuntimeTerminated.
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("instance: %s: %s", e.Kind, e.Message)
	}
	switch e.Kind {
	case KindRuntimeFault:
		return fmt.Sprintf("instance: runtime fault: %s", e.Fault)
	case KindRuntimeTerminated:
		return fmt.Sprintf("instance: runtime terminated: %s", e.Cause)
	default:
		return fmt.Sprintf("instance: %s", e.Kind)
	}
}

func errInvalidArgument(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

func errFuncNotFound(name string) *Error {
	return &Error{Kind: KindFuncNotFound, Message: fmt.Sprintf("no such export %q", name)}
}

func errRuntimeFault(d signalcore.FaultDetails) *Error {
	return &Error{Kind: KindRuntimeFault, Fault: &d}
}

func errRuntimeTerminated(cause TerminationCause) *Error {
	return &Error{Kind: KindRuntimeTerminated, Cause: cause}
}

// RunResult is the success-path return value of Run/Resume (spec.md §7; the
// error path returns *Error instead).
type RunResult struct {
	// Returned is set when the guest's entrypoint ran to completion.
	Returned     bool
	ReturnValueGP uint64
	ReturnValueFP uint64

	// Yielded is set when a hostcall suspended the guest cooperatively.
	Yielded       bool
	YieldedValue  any
	ExpectingType *api.ValueType
}
