package process

import (
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/kornnellio/gosv-core/clock"
)

// Child is the Child Supervisor of spec.md §3.1/§4.1: a value object
// owning one subprocess's pid, state, timing marks, and exit disposition.
// It has no hidden collaborators beyond the injected Clock and filesystem,
// and a logrus entry on the standard logger.
type Child struct {
	// ID is the stable per-group index (0..N-1). Set once at
	// construction, never mutated.
	ID int

	// StartGateSeconds, StartSecs, and BackoffDelaySeconds are the
	// per-child copies of the group's timing policy (spec.md §4.2
	// SpawnChildren: "each initialized with id=i, start_gate_s=start_time,
	// backoff_delay_s=group.backoff_delay_s, startsecs=group.startsecs").
	// They are configuration, not runtime state: set once before Start
	// and never mutated by Child itself.
	StartGateSeconds    float64
	StartSecs           float64
	BackoffDelaySeconds float64

	clk clock.Clock
	fs  afero.Fs
	log *logrus.Entry

	mu sync.Mutex

	pid                   int
	state                 State
	startTimeNS           uint64
	startGateBeganNS      uint64
	successfullyStartedNS uint64
	stopDeadlineNS        uint64
	backoffUntilNS        uint64
	exitCode              *uint8
	exitSignal            *uint8
	failedStart           bool
	sentKill              bool
	retriesCount          int

	cmd      *exec.Cmd
	stdoutF  afero.File
	stderrF  afero.File
	stdinF   afero.File
}

// New returns a Child bound to clk, using the real OS filesystem for
// output-file creation and logrus's standard logger.
func New(id int, clk clock.Clock) *Child {
	return NewWithFS(id, clk, afero.NewOsFs())
}

// NewWithFS is New with an injectable afero.Fs, so tests can exercise the
// directory-creation/file-opening logic (spec.md §4.1 step 5) against an
// in-memory filesystem without touching disk. Actual process spawning
// still requires a real OS file (see spawn.go) — fs only governs the
// mkdir/open half of that step.
func NewWithFS(id int, clk clock.Clock, fs afero.Fs) *Child {
	return &Child{
		ID:    id,
		clk:   clk,
		fs:    fs,
		log:   logrus.WithField("child_id", id),
		state: StateStopped,
	}
}

// State returns the current state-machine discriminant.
func (c *Child) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PID returns the tracked pid, or 0 if none (spec.md §3.1 pid is Optional).
func (c *Child) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid
}

// IsAlive reports state ∈ {starting, running, stopping}.
func (c *Child) IsAlive() bool {
	return c.State().IsAlive()
}

// IsRunning reports state == running.
func (c *Child) IsRunning() bool {
	return c.State() == StateRunning
}

// HasExited reports state ∈ {exited, killed}.
func (c *Child) HasExited() bool {
	return c.State().HasExited()
}

// ExitCode returns the recorded exit code and whether one was recorded.
func (c *Child) ExitCode() (uint8, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exitCode == nil {
		return 0, false
	}
	return *c.exitCode, true
}

// ExitSignal returns the recorded exit signal and whether one was recorded.
func (c *Child) ExitSignal() (uint8, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exitSignal == nil {
		return 0, false
	}
	return *c.exitSignal, true
}

// FailedStart reports whether the child disappeared before ever reaching
// running.
func (c *Child) FailedStart() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failedStart
}

// SentKill reports whether SIGKILL escalation has already fired for this
// child's current stopping/killed episode.
func (c *Child) SentKill() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sentKill
}

// RetriesCount returns the number of restart attempts consumed.
func (c *Child) RetriesCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retriesCount
}

// Uptime returns how long the child has been alive as of now, or 0 if it
// isn't running.
func (c *Child) Uptime(now uint64) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return 0
	}
	return time.Duration(clock.Elapsed(now, c.startTimeNS))
}

// StartSecsElapsed reports whether StartSecs has elapsed since the
// starting→running transition. This is purely a query (spec.md §9's
// Open Question resolution 1: startsecs has no automatic effect inside
// this package; see group.ResetStableRetries for the opt-in policy).
func (c *Child) StartSecsElapsed(now uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return false
	}
	return clock.Elapsed(now, c.successfullyStartedNS) >= clock.FromSeconds(c.StartSecs)
}

// IsBackoffExpired reports whether the child's backoff cooldown has
// elapsed as of now.
func (c *Child) IsBackoffExpired(now uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateBackoff && now >= c.backoffUntilNS
}

// Reset clears all mutable fields to their initial values, including
// RetriesCount (spec.md §4.1).
func (c *Child) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked(true)
}

// ResetForRestart is Reset but preserves RetriesCount (spec.md §4.1,
// §9 "reset vs reset_for_restart").
func (c *Child) ResetForRestart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked(false)
}

func (c *Child) resetLocked(zeroRetries bool) {
	c.pid = 0
	c.state = StateStopped
	c.startTimeNS = 0
	c.startGateBeganNS = 0
	c.successfullyStartedNS = 0
	c.stopDeadlineNS = 0
	c.backoffUntilNS = 0
	c.exitCode = nil
	c.exitSignal = nil
	c.failedStart = false
	c.sentKill = false
	if zeroRetries {
		c.retriesCount = 0
	}
	c.closeStreamsLocked()
	c.cmd = nil
}

// DemoteToStopped transitions a child out of backoff once its cooldown
// has expired, without otherwise touching retries, exit info, or timing
// marks (spec.md §4.2 step 2: "demote to stopped (restart eligibility)").
// The group coordinator calls ResetForRestart immediately before the
// following re-Start, per spec.md §4.2 step 4.
func (c *Child) DemoteToStopped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateBackoff {
		c.state = StateStopped
	}
}

// ResetRetries zeroes RetriesCount without otherwise touching state, pid,
// or timing marks. Used by a caller that has decided a long-stable run
// (see StartSecsElapsed) earns a clean restart budget, without forcing a
// full Reset of an otherwise-healthy running child.
func (c *Child) ResetRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retriesCount = 0
}

// EnterBackoff transitions the child into backoff, to expire
// BackoffDelaySeconds from now.
func (c *Child) EnterBackoff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clk.NowNS()
	c.state = StateBackoff
	c.backoffUntilNS = now + clock.FromSeconds(c.BackoffDelaySeconds)
}

// IncrementRetries increments RetriesCount by one, returning the new
// value. Called by the group coordinator, which owns the
// retries < start_retries comparison (spec.md §4.2).
func (c *Child) IncrementRetries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retriesCount++
	return c.retriesCount
}
