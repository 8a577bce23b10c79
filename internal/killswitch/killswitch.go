// Package killswitch implements the remote-termination state machine
// described in spec.md §4.5: a per-instance KillState shared by strong
// reference from the Instance and by weak reference from every outstanding
// KillSwitch, coordinating the guest thread, a firing KillSwitch, the
// scheduler, and the signal handler without corrupting the host.
package killswitch

import (
	"os"
	"sync"
	"weak"

	"golang.org/x/sys/unix"

	"github.com/aotwasm/sandboxrt/api"
)

// Result is the outcome of one KillSwitch.Terminate call (spec.md §4.5
// "KillSwitch.terminate() returns one of").
type Result int

const (
	// Cancelled means the instance had never entered its entrypoint; the
	// scheduled run will return RuntimeTerminated(Remote) immediately.
	Cancelled Result = iota
	// Signalled means a SIGALRM was delivered to the guest thread while it
	// was in the Guest domain.
	Signalled
	// Pending means the instance is yielded or in a hostcall; it will
	// terminate at the next resume/return from the hostcall.
	Pending
	// NotTerminable means another switch already won the permit, or this
	// switch observed the instance between domains in a way that admits no
	// termination effect.
	NotTerminable
	// Invalid means the weak reference to the KillState is no longer
	// upgradable: the instance was dropped or reset, or a run returned
	// normally.
	Invalid
)

func (r Result) String() string {
	switch r {
	case Cancelled:
		return "cancelled"
	case Signalled:
		return "signalled"
	case Pending:
		return "pending"
	case NotTerminable:
		return "not_terminable"
	default:
		return "invalid"
	}
}

// State is the KillState of spec.md §3: process-wide in the sense that its
// fields are touched from multiple OS threads (the scheduled guest thread,
// a firing KillSwitch, and the signal-delivery path), but scoped to one
// Instance for its lifetime.
type State struct {
	mu     sync.Mutex
	domain api.ExecutionDomain

	// terminable is the termination permit: at most one party may CAS it
	// from true to false, and the winner owns the right to cause a
	// termination effect (spec.md §3 "Termination permit").
	terminableMu sync.Mutex
	terminable   bool

	pid, tid int // the scheduled guest's process/thread id, valid only in DomainGuest.

	alarmActive       bool
	alarmSilenced     bool
	terminateOnReturn bool
	hostcallDepth     int

	exitCond *sync.Cond // parked on by exit-guest-region while a committed termination effect is in flight.
}

// New returns a fresh State in DomainPending with its termination permit
// armed.
func New() *State {
	s := &State{terminable: true, domain: api.DomainPending}
	s.exitCond = sync.NewCond(&s.mu)
	return s
}

// Domain reports the current execution domain, for logging and tests.
func (s *State) Domain() api.ExecutionDomain {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.domain
}

// Schedule records the OS thread the instance is about to run on. Must be
// called before EnterGuest.
func (s *State) Schedule(pid, tid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pid, s.tid = pid, tid
}

// Deschedule clears the scheduled thread once a run/resume returns to host.
func (s *State) Deschedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pid, s.tid = 0, 0
}

// EnterGuest flips Pending->Guest under the domain lock (spec.md §4.5
// "Entering the guest"). It reports cancelled=true if the domain was
// already Cancelled, meaning the guest must drop straight back to host with
// Terminating{Remote} instead of proceeding.
func (s *State) EnterGuest() (cancelled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.domain == api.DomainCancelled {
		return true
	}
	s.domain = api.DomainGuest
	return false
}

// EnterHostcall flips Guest->Hostcall (spec.md §4.5 "Entering a hostcall").
// A racing SIGALRM that observes Hostcall, or observes the lock held, is
// ignored by the signal handler.
func (s *State) EnterHostcall() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domain = api.DomainHostcall
	s.hostcallDepth++
}

// ExitHostcall flips Hostcall->Guest and reports whether "terminate on
// return" was set while in the hostcall, in which case the caller must
// transition to Terminating{Remote} instead of resuming guest code (spec.md
// §4.5 "Returning from a hostcall").
func (s *State) ExitHostcall() (terminateOnReturn bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostcallDepth--
	terminateOnReturn = s.terminateOnReturn
	s.terminateOnReturn = false
	if !terminateOnReturn {
		s.domain = api.DomainGuest
	}
	return terminateOnReturn
}

// ExitGuestRegion attempts to disable termination as the guest returns to
// host (spec.md §4.5 "Exiting the guest region"). If it fails because a
// KillSwitch already committed a termination effect, the caller must not
// report "returned" to the embedder; instead it parks on WaitForAlarm until
// the expected signal has been observed.
func (s *State) ExitGuestRegion() (mustWaitForAlarm bool) {
	if s.disableTerminable() {
		return false
	}
	return true
}

// WaitForAlarm blocks until the in-flight alarm has been observed
// (AcknowledgeAlarm), so the host never reports "returned" while a
// termination effect is still in flight.
func (s *State) WaitForAlarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.alarmActive {
		s.exitCond.Wait()
	}
}

// AcknowledgeAlarm is called by the signal handler (or its Go-idiomatic
// substitute, see internal/signalcore) once the pending SIGALRM has been
// classified, waking any ExitGuestRegion caller parked in WaitForAlarm.
func (s *State) AcknowledgeAlarm() {
	s.mu.Lock()
	s.alarmActive = false
	s.mu.Unlock()
	s.exitCond.Broadcast()
}

// AlarmActive reports whether a KillSwitch has committed a termination
// effect that the signal path must still observe and acknowledge.
func (s *State) AlarmActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alarmActive
}

// SilenceAlarm records that a later-arriving SIGALRM should be treated as a
// no-op: used when the exiting guest's own race-with-termination disable
// lost to a KillSwitch that had already committed (spec.md §4.4 "Race with
// termination").
func (s *State) SilenceAlarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarmSilenced = true
}

// TakeAlarmSilenced reports and clears the alarm-silenced flag.
func (s *State) TakeAlarmSilenced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.alarmSilenced
	s.alarmSilenced = false
	return v
}

// MarkTerminated records that the instance has fully exited via a
// termination path (fatal fault or completed remote kill), so that any
// KillSwitch racing in afterward sees DomainTerminated rather than Guest.
func (s *State) MarkTerminated() {
	s.mu.Lock()
	s.domain = api.DomainTerminated
	s.mu.Unlock()
}

// disableTerminable is the CAS on the termination permit: true->false wins
// the right to cause a termination effect, or in this context, to return
// normally without racing a KillSwitch.
func (s *State) disableTerminable() bool {
	s.terminableMu.Lock()
	defer s.terminableMu.Unlock()
	if !s.terminable {
		return false
	}
	s.terminable = false
	return true
}

// Reenable resets the termination permit and domain back to a fresh state,
// called by Instance.reset (spec.md §4.6 "replaces the kill state with a
// fresh one"). It is simpler, and matches spec, to just construct a new
// State and discard the old one; Reenable exists for callers that want to
// keep using the same *State value (e.g. to avoid re-wiring observers).
func (s *State) Reenable() {
	s.terminableMu.Lock()
	s.terminable = true
	s.terminableMu.Unlock()
	s.mu.Lock()
	s.domain = api.DomainPending
	s.terminateOnReturn = false
	s.mu.Unlock()
}

// Switch holds only a weak reference to a State (spec.md §3 "KillSwitch").
// terminate() may be called at most once per Switch.
type Switch struct {
	state weak.Pointer[State]
	once  sync.Once
	fired bool
	mu    sync.Mutex
}

// NewSwitch creates a KillSwitch holding a weak reference to s.
func NewSwitch(s *State) *Switch {
	return &Switch{state: weak.Make(s)}
}

// Terminate implements the algorithm of spec.md §4.5 "Algorithm for
// terminate()". It is safe to call only once per Switch; a second call
// always returns NotTerminable without touching any shared state, per
// spec.md §8 invariant 5 ("a switch can be fired at most once").
func (k *Switch) Terminate() Result {
	k.mu.Lock()
	if k.fired {
		k.mu.Unlock()
		return NotTerminable
	}
	k.fired = true
	k.mu.Unlock()

	s := k.state.Value()
	if s == nil {
		return Invalid
	}

	// The domain lock is held across the whole inspect -> CAS-the-permit ->
	// commit-the-effect sequence for each branch (spec.md §4.5's algorithm),
	// not just the read of s.domain: releasing it in between would let
	// EnterGuest/EnterHostcall flip the domain underneath this switch after
	// it has already decided which branch to take, so the decision and the
	// effect it commits could end up describing two different domains.
	s.mu.Lock()
	switch s.domain {
	case api.DomainPending:
		if !s.disableTerminable() {
			s.mu.Unlock()
			return NotTerminable
		}
		s.domain = api.DomainCancelled
		s.mu.Unlock()
		return Cancelled

	case api.DomainGuest:
		pid, tid := s.pid, s.tid
		if !s.disableTerminable() {
			s.mu.Unlock()
			return NotTerminable
		}
		s.alarmActive = true
		s.mu.Unlock()
		if err := unix.Tgkill(pid, tid, unix.SIGALRM); err != nil {
			// The thread is gone or the signal could not be delivered; treat
			// this as a lost race rather than panicking the caller.
			s.AcknowledgeAlarm()
			return NotTerminable
		}
		return Signalled

	case api.DomainHostcall:
		s.terminateOnReturn = true
		s.mu.Unlock()
		return Pending

	default: // DomainTerminated, DomainCancelled.
		s.mu.Unlock()
		return NotTerminable
	}
}

// CurrentThreadIDs returns the calling OS thread's pid/tid pair, for
// Schedule. Requires the caller to have called runtime.LockOSThread so the
// reported tid remains meaningful for the lifetime of the run (spec.md §4.4
// "obtained via runtime.LockOSThread + unix.Gettid()").
func CurrentThreadIDs() (pid, tid int) {
	return os.Getpid(), unix.Gettid()
}
