//go:build linux && amd64

package ctxswitch

import "golang.org/x/sys/unix"

// SetSignalSafe restores to's captured signal mask via sigprocmask and then
// jumps to it without saving the caller. It is used from within a signal
// handler to escape the guest back to the host context captured at Init
// time, so that returning from the handler resumes with the host's own
// signal mask rather than whatever mask was active when the fault arrived.
func SetSignalSafe(to *Context) error {
	var set unix.Sigset_t
	set.Val[0] = to.SigMask[0]
	set.Val[1] = to.SigMask[1]
	if err := unix.RtSigprocmask(unix.SIG_SETMASK, &set, nil, 8); err != nil {
		return err
	}
	set1(to)
	return nil
}

// set1 forwards to the package-private one-way switch primitive; kept as a
// thin wrapper so the exported entry point is always SetSignalSafe, never
// the bare primitive, since jumping into a guest Context with the wrong
// signal mask restored is a correctness bug, not a recoverable error.
func set1(to *Context) { set(to) }

// captureSigMask snapshots the calling thread's current signal mask into
// ctx.SigMask, per the context-switching engine's initialization contract.
func captureSigMask(ctx *Context) error {
	var cur unix.Sigset_t
	if err := unix.RtSigprocmask(unix.SIG_SETMASK, nil, &cur, 8); err != nil {
		return err
	}
	ctx.SigMask[0] = cur.Val[0]
	ctx.SigMask[1] = cur.Val[1]
	return nil
}
