//go:build amd64

package ctxswitch

// swap saves the caller's callee-saved state into from, sets
// to.ParentCtx = from, and resumes execution at to.Rsp. It returns when some
// later swap targets from again.
//
//go:noescape
func swap(from, to *Context)

// set is the one-way variant of swap: it does not save the caller's state,
// it only resumes execution at to.Rsp. Used from signal handlers to escape
// the guest without a valid Context to save into.
//
//go:noescape
func set(to *Context)
