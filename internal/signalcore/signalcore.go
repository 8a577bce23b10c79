// Package signalcore is the Go-native realization of spec.md §4.4's signal
// subsystem. Go does not let user code install a raw sigaction handler for
// SIGSEGV/SIGBUS/SIGFPE/SIGILL without unsupported runtime surgery, since
// the Go runtime itself owns those signals for stack-growth and
// nil-pointer-panic purposes; this package uses the documented idiomatic
// substitute instead (see DESIGN.md "internal/signalcore"):
// runtime/debug.SetPanicOnFault around the guest swap plus recover() of the
// resulting runtime.Error, reconstructing FaultDetails from its Addr()
// method. SIGALRM, the remote-termination channel, needs no such
// workaround: it is a plain deliverable POSIX signal, handled with
// os/signal.Notify and delivered with unix.Tgkill.
package signalcore

import (
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/aotwasm/sandboxrt/api"
	"github.com/aotwasm/sandboxrt/internal/killswitch"
	"github.com/aotwasm/sandboxrt/internal/moduledata"
)

// Outcome is the user signal callback's verdict (spec.md §4.4
// "Classification"): Continue records neither a fault nor a termination
// (the guest frame is already unwound, so the faulting code is not
// resumed and the run is reported as a normal return), Terminate
// transitions to Terminating{Signal}, Default builds a FaultDetails and
// transitions to Faulted.
type Outcome int

const (
	Default Outcome = iota
	Continue
	Terminate
)

// Callback is the user-installable signal handler hook. Its default
// implementation always returns Default.
type Callback func(code api.TrapCode, addr uintptr) Outcome

// DefaultCallback is used when an Instance installs no SignalHandler.
func DefaultCallback(api.TrapCode, uintptr) Outcome { return Default }

// FaultDetails is the reconstructed description of a guest fault (spec.md
// §7 "RuntimeFault(details)").
type FaultDetails struct {
	Fatal        bool
	TrapCode     api.TrapCode
	RipAddr      uintptr
	Symbol       string
	File         string
	InModuleCode bool
}

func (d FaultDetails) String() string {
	return fmt.Sprintf("fault at %#x: %s (fatal=%v, symbol=%s)", d.RipAddr, d.TrapCode, d.Fatal, d.Symbol)
}

// faultAddr is satisfied by the runtime.Error values runtime/debug's
// panic-on-fault conversion produces; not exported by the runtime package,
// so detected by method set.
type faultAddr interface {
	Addr() uintptr
}

// state is the process-wide refcounted installation state (spec.md §4.4
// "Installation"): incremented on every Acquire, decremented on every
// Release, with the actual OS-level work (here: SetPanicOnFault / SIGALRM
// notification) happening only on the 0->1 and 1->0 transitions.
var state struct {
	mu       sync.Mutex
	refcount int
	alarmCh  chan os.Signal
	prevFault bool
}

// Acquire installs process-wide fault handling on the first caller and
// increments the refcount on every caller (spec.md §4.4 "the refcount is
// incremented; if it transitions 0→1, the runtime installs its own
// sigaction").
func Acquire() {
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.refcount == 0 {
		state.prevFault = true // SetPanicOnFault has no query API; we always restore to disabled on last release.
		debug.SetPanicOnFault(true)
		state.alarmCh = make(chan os.Signal, 4)
		signal.Notify(state.alarmCh, unix.SIGALRM)
	}
	state.refcount++
}

// Release decrements the refcount, restoring the prior disposition on the
// last release.
func Release() {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.refcount--
	if state.refcount == 0 {
		debug.SetPanicOnFault(false)
		signal.Stop(state.alarmCh)
		close(state.alarmCh)
		state.alarmCh = nil
	}
}

// GuestResult is what RunGuarded reports about one guest swap.
type GuestResult struct {
	Faulted      bool
	Details      FaultDetails
	Terminated   bool // SIGALRM observed and classified as a remote termination.
}

// RunGuarded invokes swap (expected to be the Context.Swap call that
// transfers control into the guest and blocks until it returns to host by
// any path) under panic-on-fault protection, classifying any recovered
// fault against mod's trap table exactly as spec.md §4.4 "Classification"
// describes, and consulting ks for the SIGALRM remote-termination race.
func RunGuarded(swap func(), mod moduledata.Module, ks *killswitch.State, cb Callback) (result GuestResult) {
	if cb == nil {
		cb = DefaultCallback
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		fa, ok := r.(faultAddr)
		if !ok {
			panic(r) // not a fault we understand; a genuine Go bug, re-raise.
		}
		addr := fa.Addr()
		code, known := mod.LookupTrap(addr)
		switch cb(code, addr) {
		case Continue:
			// The caller asked us to pretend nothing happened; since the
			// guest's native frame is already unwound by the Go panic by
			// the time we observe this, Continue is only meaningful for
			// test callbacks that want to assert classification without
			// resuming real guest code (spec.md §4.4 notes Continue is
			// "used by tests").
			return
		case Terminate:
			result.Terminated = true
			return
		default:
			file, symbol, inModule := mod.SymbolAt(addr)
			fatal := !known || (code == api.TrapCodeHeapOutOfBounds && !inModule)
			result.Faulted = true
			result.Details = FaultDetails{
				Fatal:        fatal,
				TrapCode:     code,
				RipAddr:      addr,
				Symbol:       symbol,
				File:         file,
				InModuleCode: inModule,
			}
		}
	}()

	swap()
	return checkAlarm(ks, result)
}

// checkAlarm drains any pending SIGALRM notification and classifies it per
// spec.md §4.4 "SIGALRM is the remote-termination channel": if the kill
// state's alarm is active, this is a real remote termination; otherwise it
// is a stale alarm (already silenced, or arrived after the window closed)
// and is dropped.
func checkAlarm(ks *killswitch.State, result GuestResult) GuestResult {
	state.mu.Lock()
	ch := state.alarmCh
	state.mu.Unlock()
	if ch == nil {
		return result
	}
	select {
	case <-ch:
		if ks.TakeAlarmSilenced() {
			return result
		}
		if ks.AlarmActive() {
			result.Terminated = true
			ks.AcknowledgeAlarm()
		}
	default:
	}
	return result
}
