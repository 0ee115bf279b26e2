package group

import "github.com/pkg/errors"

// Sentinel errors surfaced by SpawnChildren and the per-child controls,
// matching spec.md §6's error kinds.
var (
	ErrMissingCommand = errors.New("group: cmd is empty")
	ErrMissingArgv    = errors.New("group: argv is unset")
	ErrMissingEnvp    = errors.New("group: envp is unset")
	ErrNoProcesses    = errors.New("group: numprocs is zero")
	ErrInvalidChildID = errors.New("group: child id out of range")
)
