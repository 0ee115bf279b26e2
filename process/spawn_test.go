package process

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kornnellio/gosv-core/clock"
)

// pollUntilExited drives Monitor in a loop against a real OS process,
// since exit timing is real wall-clock time even though every other
// timing gate in this package is driven off clock.Manual.
func pollUntilExited(t *testing.T, c *Child, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		require.NoError(t, c.Monitor())
		if c.HasExited() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("child did not exit within %s, state=%s", timeout, c.State())
}

func TestStart_HappyPath_BinTrue(t *testing.T) {
	clk := clock.NewManual(0)
	c := New(0, clk)
	c.StartGateSeconds = 0

	params := Params{
		Path:           "/bin/true",
		RedirectStdout: true,
		RedirectStderr: true,
	}
	require.NoError(t, c.Start(params))
	assert.Equal(t, StateStarting, c.State())
	assert.NotZero(t, c.PID())

	// clk never advances: the grace-period comparison in Monitor uses
	// FromSeconds(0), so it is satisfied on the very first poll once the
	// process is still alive.
	pollUntilExited(t, c, 2*time.Second)

	code, ok := c.ExitCode()
	require.True(t, ok)
	assert.Equal(t, uint8(0), code)
	assert.False(t, c.FailedStart())
}

func TestStart_BinFalse_NonZeroExit(t *testing.T) {
	clk := clock.NewManual(0)
	c := New(0, clk)

	require.NoError(t, c.Start(Params{Path: "/bin/false"}))
	pollUntilExited(t, c, 2*time.Second)

	code, ok := c.ExitCode()
	require.True(t, ok)
	assert.Equal(t, uint8(1), code)
}

func TestStart_NonexistentBinary_FlattensToFailedStart(t *testing.T) {
	clk := clock.NewManual(0)
	c := New(0, clk)

	err := c.Start(Params{Path: "/nonexistent/binary-does-not-exist"})
	require.NoError(t, err, "exec failure inside the forked child is not a Start() error")

	assert.Equal(t, StateExited, c.State())
	assert.True(t, c.FailedStart())
	code, ok := c.ExitCode()
	require.True(t, ok)
	assert.Equal(t, uint8(1), code)
	assert.Equal(t, 0, c.PID())
}

func TestStop_GraceThenKill_BinSleep(t *testing.T) {
	clk := clock.NewManual(0)
	c := New(0, clk)
	c.StartGateSeconds = 0

	require.NoError(t, c.Start(Params{Path: "/bin/sleep", Argv: []string{"sleep", "30"}}))
	require.NoError(t, c.Monitor())
	require.Equal(t, StateRunning, c.State())

	// A short timeout means the stop deadline is already in the past by
	// the time Monitor next runs, forcing the SIGKILL escalation path.
	require.NoError(t, c.Stop(syscall.SIGTERM, 0))
	assert.Equal(t, StateStopping, c.State())

	pollUntilExited(t, c, 2*time.Second)
	assert.True(t, c.SentKill())
}

func TestKill_TerminalStatePreservedThroughReap(t *testing.T) {
	clk := clock.NewManual(0)
	c := New(0, clk)

	require.NoError(t, c.Start(Params{Path: "/bin/sleep", Argv: []string{"sleep", "30"}}))
	require.NoError(t, c.Monitor())

	require.NoError(t, c.Kill())
	assert.Equal(t, StateKilled, c.State())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, c.Monitor())
		if c.PID() == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	// Reap must not overwrite the killed state with exited.
	assert.Equal(t, StateKilled, c.State())
}

func TestStart_RejectsFromNonStoppedState(t *testing.T) {
	clk := clock.NewManual(0)
	c := New(0, clk)
	require.NoError(t, c.Start(Params{Path: "/bin/sleep", Argv: []string{"sleep", "30"}}))

	err := c.Start(Params{Path: "/bin/true"})
	assert.ErrorIs(t, err, ErrInvalidState)

	_ = c.Kill()
}

func TestSendSignal_RequiresRunning(t *testing.T) {
	clk := clock.NewManual(0)
	c := New(0, clk)
	err := c.SendSignal(syscall.SIGHUP)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestOpenStream_MemMapFs_CreatesParentDirAndFile(t *testing.T) {
	clk := clock.NewManual(0)
	fs := afero.NewMemMapFs()
	c := NewWithFS(0, clk, fs)

	path := "/var/log/gosv/child-0.out"
	osFile, afFile, err := c.openStream(true, &path, os.Stdout)
	require.NoError(t, err)
	require.NotNil(t, afFile)
	// MemMapFs files aren't *os.File, so the real-dup2 handle stays nil;
	// only the afero.File half is usable here, which is exactly the
	// directory-creation/file-opening logic this test exercises.
	assert.Nil(t, osFile)
	defer afFile.Close()

	exists, err := afero.Exists(fs, path)
	require.NoError(t, err)
	assert.True(t, exists, "openStream must create the file at path")

	info, err := fs.Stat("/var/log/gosv")
	require.NoError(t, err)
	assert.True(t, info.IsDir(), "openStream must create the parent directory")
}

func TestOpenStream_RedirectDisabled_ReturnsInheritedUnchanged(t *testing.T) {
	clk := clock.NewManual(0)
	fs := afero.NewMemMapFs()
	c := NewWithFS(0, clk, fs)

	osFile, afFile, err := c.openStream(false, nil, os.Stderr)
	require.NoError(t, err)
	assert.Same(t, os.Stderr, osFile)
	assert.Nil(t, afFile)
}
