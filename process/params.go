package process

// Params is the per-spawn parameter contract from spec.md §6
// (ProcessParams). A Child is started with a fresh Params every time:
// the group layer rebuilds it from its own config for every child.
type Params struct {
	// Path is the executable to exec. Required.
	Path string
	// Argv is the null-sentinel argument vector (argv[0] convention is
	// the caller's choice; it need not equal Path). Required.
	Argv []string
	// Envp is the process environment, POSIX envp shape. Required (may
	// be empty, but must be non-nil at the group layer — see
	// group.ErrMissingEnvp).
	Envp []string

	// StdoutPath/StderrPath name a file the corresponding stream is
	// redirected to. Nil means "the null device".
	StdoutPath *string
	StderrPath *string

	// RedirectStdout/RedirectStderr gate whether the stream is touched
	// at all. false leaves the descriptor as inherited from the parent.
	RedirectStdout bool
	RedirectStderr bool

	// WorkingDirectory is chdir'd into before exec, best-effort (spec.md
	// §4.1 step 3: absence/non-dir errors are tolerated).
	WorkingDirectory string

	// Umask, if non-nil, is applied to the child before exec.
	Umask *uint16
}

// DefaultParams returns a Params with the defaults from spec.md §6.
func DefaultParams() Params {
	return Params{
		RedirectStdout: true,
		RedirectStderr: true,
	}
}
