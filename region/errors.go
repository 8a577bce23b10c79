package region

import "errors"

// ErrInvalidArgument is returned when a caller-supplied argument is
// structurally invalid (a zero capacity, limits that fail their own
// invariants) rather than rejected for resource reasons.
var ErrInvalidArgument = errors.New("region: invalid argument")

// ErrLimitsExceeded is returned when a Module's HeapSpec, globals size, or a
// caller-supplied per-instance heap cap would exceed the Region's Limits.
var ErrLimitsExceeded = errors.New("region: limits exceeded")
