package process

import "github.com/pkg/errors"

// Sentinel errors a caller can compare with errors.Is. These mirror the
// error kinds spec.md §6 requires the core to surface.
var (
	// ErrInvalidState is returned when an operation is attempted from a
	// state the state machine forbids it in (spec.md §4.1).
	ErrInvalidState = errors.New("process: invalid state for operation")
)
