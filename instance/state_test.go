package instance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aotwasm/sandboxrt/api"
	"github.com/aotwasm/sandboxrt/internal/signalcore"
)

func zeroFault() signalcore.FaultDetails { return signalcore.FaultDetails{} }

// The legal-transition table of spec.md §4.7 is normative; this exercises
// every edge it names plus a representative sample of forbidden ones.
func TestTransitionLegalEdges(t *testing.T) {
	cases := []struct {
		from, to State
	}{
		{NotStarted, Running},
		{Ready, Running},
		{Running, Ready},
		{Running, Yielded(nil)},
		{Running, BoundExpired},
		{Running, Faulted(zeroFault())},
		{Running, Terminated},
		{Yielded(nil), Running},
		{Yielded(nil), Terminated},
		{BoundExpired, Running},
		{Faulted(zeroFault()), Ready},
		{Faulted(zeroFault()), Running},
		{Faulted(zeroFault()), NotStarted},
		{Terminated, Ready},
		{Terminated, NotStarted},
	}
	for _, c := range cases {
		require.True(t, transition(c.from, c.to), "%s -> %s should be legal", c.from.Name(), c.to.Name())
	}
}

func TestTransitionForbiddenEdges(t *testing.T) {
	cases := []struct {
		from, to State
	}{
		{NotStarted, Terminated},
		{Ready, Yielded(nil)},
		{Yielded(nil), Ready},
		{Terminated, Running},
		{BoundExpired, Terminated},
		{Faulted(zeroFault()), Terminated},
	}
	for _, c := range cases {
		require.False(t, transition(c.from, c.to), "%s -> %s should be illegal", c.from.Name(), c.to.Name())
	}
}

// Yielding/Yielded carry a payload but transition() only ever compares
// variant names, so two Yielded values with different ExpectingType are
// equally legal successors of Running.
func TestTransitionIgnoresPayload(t *testing.T) {
	require.True(t, transition(Running, Yielded(nil)))
	typ := api.ValueTypeI32
	require.True(t, transition(Running, Yielded(&typ)))
}

func TestTerminationCauseString(t *testing.T) {
	require.Equal(t, "signal", CauseSignal.String())
	require.Equal(t, "remote", CauseRemote.String())
	require.Equal(t, "provided", CauseProvided.String())
	require.Equal(t, "borrow_error", CauseBorrowError.String())
	require.Equal(t, "yield_type_mismatch", CauseYieldTypeMismatch.String())
	require.Equal(t, "ctx_not_found", CauseCtxNotFound.String())
	require.Equal(t, "other_panic", TerminationCause(99).String())
}
