package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/kornnellio/gosv-core/clock"
	"github.com/kornnellio/gosv-core/internal/argv"
)

// umaskMu serializes the umask set/restore bracket around fork, since
// umask is process-wide state, not Child-local. Multiple Groups may spawn
// concurrently from different goroutines (spec.md §5); this is the one
// place that concurrency must be backstopped by a process-wide lock.
var umaskMu sync.Mutex

const devNull = os.DevNull

// Start implements spec.md §4.1 Start. Precondition: State() == stopped.
func (c *Child) Start(p Params) error {
	c.mu.Lock()
	if c.state != StateStopped {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.mu.Unlock()

	argvOut, err := argv.BuildArgv(p.Path, p.Argv)
	if err != nil {
		return errors.Wrap(err, "process: build argv")
	}
	envOut, err := argv.BuildEnviron(p.Envp)
	if err != nil {
		return errors.Wrap(err, "process: build envp")
	}

	cmd := &exec.Cmd{
		Path: p.Path,
		Args: argvOut,
		Env:  envOut,
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}

	// §4.1 step 3: chdir, best effort. Go's os/exec cannot continue past
	// a failed in-child chdir (it aborts the fork/exec with an error
	// instead of falling back to the parent's cwd), so tolerance is
	// realized on the parent side: pre-validate and simply omit Dir if
	// it doesn't check out. Observably identical to "chdir failed,
	// continue in inherited cwd" (see DESIGN.md Open Question O1).
	if p.WorkingDirectory != "" {
		if fi, statErr := os.Stat(p.WorkingDirectory); statErr == nil && fi.IsDir() {
			cmd.Dir = p.WorkingDirectory
		} else {
			c.log.WithField("dir", p.WorkingDirectory).Debug("working directory unusable, inheriting parent cwd")
		}
	}

	stdin, err := os.Open(devNull)
	if err != nil {
		return errors.Wrap(err, "process: open null device for stdin")
	}
	cmd.Stdin = stdin

	stdout, closeStdout, err := c.openStream(p.RedirectStdout, p.StdoutPath, os.Stdout)
	if err != nil {
		stdin.Close()
		return errors.Wrap(err, "process: prepare stdout")
	}
	cmd.Stdout = stdout

	stderr, closeStderr, err := c.openStream(p.RedirectStderr, p.StderrPath, os.Stderr)
	if err != nil {
		stdin.Close()
		if closeStdout != nil {
			closeStdout.Close()
		}
		return errors.Wrap(err, "process: prepare stderr")
	}
	cmd.Stderr = stderr

	now := c.clk.NowNS()

	startErr := c.startWithUmask(cmd, p.Umask)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.exitCode = nil
	c.exitSignal = nil
	c.failedStart = false
	c.sentKill = false
	c.stdinF = stdin
	c.stdoutF = closeStdout
	c.stderrF = closeStderr
	c.cmd = cmd

	if startErr != nil {
		var lookErr *exec.Error
		if errors.As(startErr, &lookErr) {
			// Parent-side failure: no fork ever happened. A true OS
			// error, propagated unchanged per spec.md §7.
			c.closeStreamsLocked()
			c.cmd = nil
			return errors.Wrap(startErr, "process: start")
		}
		// Any other Start() failure means fork already happened and
		// execve failed inside the child; Go's runtime already
		// implements the "exec-error pipe" strict improvement spec.md
		// §9 calls out, reaping the child itself. We flatten that to
		// the spec's baseline observable: a child that reached exited
		// with failed_start and exit_code 1, one tick earlier than a
		// literal waitpid(WNOHANG) would have shown it.
		exitCode := uint8(1)
		c.exitCode = &exitCode
		c.failedStart = true
		c.state = StateExited
		c.startTimeNS = now
		c.pid = 0
		c.closeStreamsLocked()
		c.cmd = nil
		return nil
	}

	c.pid = cmd.Process.Pid
	c.state = StateStarting
	c.startTimeNS = now
	c.startGateBeganNS = now
	return nil
}

// startWithUmask brackets cmd.Start() with a process-wide umask set/restore
// when Params.Umask is set. fork() copies the umask atomically, so setting
// it immediately before Start and restoring immediately after is race-free
// with respect to the forked child; umaskMu only protects against two
// goroutines racing the parent-side umask value against each other.
func (c *Child) startWithUmask(cmd *exec.Cmd, mask *uint16) error {
	if mask == nil {
		return cmd.Start()
	}
	umaskMu.Lock()
	defer umaskMu.Unlock()
	old := unix.Umask(int(*mask))
	defer unix.Umask(old)
	return cmd.Start()
}

// openStream implements §4.1 step 5 for one of stdout/stderr: if
// redirection is enabled and a path is given, ensure the parent directory
// exists (best effort) and open the file for append-style writing at mode
// 0o644; if redirection is enabled but no path is given, redirect to the
// null device; if redirection is disabled, leave the descriptor unchanged
// (inherit the parent's own stream).
func (c *Child) openStream(redirect bool, path *string, inherit *os.File) (*os.File, afero.File, error) {
	if !redirect {
		return inherit, nil, nil
	}
	if path == nil {
		f, err := os.OpenFile(devNull, os.O_WRONLY, 0)
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	}

	if dir := filepath.Dir(*path); dir != "." {
		_ = c.fs.MkdirAll(dir, 0o755)
	}
	f, err := c.fs.OpenFile(*path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	osFile, ok := f.(*os.File)
	if !ok {
		// Non-OS afero backend (e.g. MemMapFs in tests): can't be
		// dup2'd into a real child, but exercises the creation logic.
		return nil, f, nil
	}
	return osFile, f, nil
}

// closeStreamsLocked releases the file handles opened for the most recent
// spawn. Called with c.mu held.
func (c *Child) closeStreamsLocked() {
	if c.stdinF != nil {
		c.stdinF.Close()
		c.stdinF = nil
	}
	if c.stdoutF != nil {
		c.stdoutF.Close()
		c.stdoutF = nil
	}
	if c.stderrF != nil {
		c.stderrF.Close()
		c.stderrF = nil
	}
}

// deliverSignal implements the pid→pgid fallback spec.md §9 describes: try
// the direct pid first, and if that comes back ESRCH (already reaped by
// something else, or never existed), retry against the process group so
// any grandchildren the child spawned (shell wrappers, etc.) still receive
// the signal. Failure of the fallback is tolerated.
func deliverSignal(pid int, sig syscall.Signal) error {
	err := unix.Kill(pid, sig)
	if err == nil || !errors.Is(err, unix.ESRCH) {
		return err
	}
	_ = unix.Kill(-pid, sig)
	return nil
}

// Stop implements spec.md §4.1 Stop. Precondition: State() ∈ {running,
// starting}.
func (c *Child) Stop(sig syscall.Signal, timeoutSeconds float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning && c.state != StateStarting {
		return ErrInvalidState
	}

	_ = deliverSignal(c.pid, sig)

	now := c.clk.NowNS()
	c.state = StateStopping
	c.stopDeadlineNS = now + clock.FromSeconds(timeoutSeconds)
	return nil
}

// SendSignal implements spec.md §4.1 SendSignal. Precondition: State() ==
// running.
func (c *Child) SendSignal(sig syscall.Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		return ErrInvalidState
	}
	return deliverSignal(c.pid, sig)
}

// Kill implements spec.md §4.1 Kill. Precondition: State() ∉ {exited,
// killed}.
func (c *Child) Kill() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.killLocked()
}

func (c *Child) killLocked() error {
	if c.state == StateExited || c.state == StateKilled {
		return ErrInvalidState
	}
	if c.pid != 0 {
		_ = deliverSignal(c.pid, syscall.SIGKILL)
	}
	c.state = StateKilled
	return nil
}

// Monitor implements spec.md §4.1 Monitor, the non-blocking event pump.
// It must be called repeatedly by the owner; every invocation performs at
// most the sequence: starting-probe → stopping-deadline-kill →
// waitpid-reap, matching the ordering spec.md §4.2 describes for a single
// pass.
func (c *Child) Monitor() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.NowNS()

	if c.state == StateStarting {
		if err := unix.Kill(c.pid, 0); err != nil {
			if errors.Is(err, unix.ESRCH) {
				c.failedStart = true
				c.state = StateExited
				c.pid = 0
				c.closeStreamsLocked()
				return nil
			}
		} else if clock.Elapsed(now, c.startGateBeganNS) >= clock.FromSeconds(c.StartGateSeconds) {
			c.state = StateRunning
			c.successfullyStartedNS = now
		}
	}

	// A reap below only counts as a failed start if the child is still
	// in starting at this point: if the grace period already elapsed
	// this same pass (the branch above promoted it to running), a
	// near-simultaneous exit is a normal, successful exit, not a failure
	// to start.
	stillStarting := c.state == StateStarting

	if c.state == StateStopping && now >= c.stopDeadlineNS && !c.sentKill {
		_ = c.killLocked()
		c.sentKill = true
	}

	if c.pid != 0 {
		var wstatus unix.WaitStatus
		wpid, err := unix.Wait4(c.pid, &wstatus, unix.WNOHANG, nil)
		if err == nil && wpid == c.pid && wpid != 0 {
			if wstatus.Exited() {
				code := uint8(wstatus.ExitStatus())
				c.exitCode = &code
			} else if wstatus.Signaled() {
				sig := uint8(wstatus.Signal())
				c.exitSignal = &sig
			}
			if stillStarting {
				c.failedStart = true
			}
			if c.state != StateKilled {
				c.state = StateExited
			}
			c.pid = 0
			c.closeStreamsLocked()
		}
	}

	return nil
}
