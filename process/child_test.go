package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kornnellio/gosv-core/clock"
)

func TestNew_InitialState(t *testing.T) {
	clk := clock.NewManual(1000)
	c := New(0, clk)

	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, 0, c.PID())
	assert.False(t, c.IsAlive())
	assert.False(t, c.HasExited())
	assert.Equal(t, 0, c.RetriesCount())
	_, ok := c.ExitCode()
	assert.False(t, ok)
}

func TestReset_ZeroesRetries(t *testing.T) {
	clk := clock.NewManual(1000)
	c := New(1, clk)

	c.IncrementRetries()
	c.IncrementRetries()
	require.Equal(t, 2, c.RetriesCount())

	c.Reset()
	assert.Equal(t, 0, c.RetriesCount())
	assert.Equal(t, StateStopped, c.State())
}

func TestResetForRestart_PreservesRetries(t *testing.T) {
	clk := clock.NewManual(1000)
	c := New(1, clk)

	c.IncrementRetries()
	require.Equal(t, 1, c.RetriesCount())

	c.ResetForRestart()
	assert.Equal(t, 1, c.RetriesCount())
	assert.Equal(t, StateStopped, c.State())
}

func TestEnterBackoff_SetsBackoffUntil(t *testing.T) {
	clk := clock.NewManual(0)
	c := New(0, clk)
	c.BackoffDelaySeconds = 1

	c.EnterBackoff()
	assert.Equal(t, StateBackoff, c.State())
	assert.False(t, c.IsBackoffExpired(clk.NowNS()))

	clk.AdvanceSeconds(1.1)
	assert.True(t, c.IsBackoffExpired(clk.NowNS()))
}

func TestDemoteToStopped_OnlyFromBackoff(t *testing.T) {
	clk := clock.NewManual(0)
	c := New(0, clk)

	// A no-op from any other state.
	c.DemoteToStopped()
	assert.Equal(t, StateStopped, c.State())

	c.BackoffDelaySeconds = 1
	c.EnterBackoff()
	c.IncrementRetries()
	require.Equal(t, 1, c.RetriesCount())

	c.DemoteToStopped()
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, 1, c.RetriesCount(), "DemoteToStopped must not touch retries")
}

func TestResetRetries_OnlyClearsRetryCounter(t *testing.T) {
	clk := clock.NewManual(0)
	c := New(0, clk)
	c.IncrementRetries()
	c.IncrementRetries()

	c.ResetRetries()
	assert.Equal(t, 0, c.RetriesCount())
	assert.Equal(t, StateStopped, c.State())
}

func TestStartSecsElapsed_FalseUntilRunningLongEnough(t *testing.T) {
	clk := clock.NewManual(0)
	c := New(0, clk)
	c.StartSecs = 2

	assert.False(t, c.StartSecsElapsed(clk.NowNS()), "not running yet")
}
