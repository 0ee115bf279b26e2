package argv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildArgv_DefaultsToName(t *testing.T) {
	out, err := BuildArgv("/bin/true", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/true"}, out)
}

func TestBuildArgv_PreservesGivenVector(t *testing.T) {
	out, err := BuildArgv("/bin/sh", []string{"sh", "-c", "exit 0"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sh", "-c", "exit 0"}, out)
}

func TestBuildArgv_RejectsEmbeddedNUL(t *testing.T) {
	_, err := BuildArgv("/bin/sh", []string{"sh", "-c\x00rm -rf /"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddedNUL)
}

func TestBuildEnviron_NilIsValid(t *testing.T) {
	out, err := BuildEnviron(nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestBuildEnviron_RejectsEmbeddedNUL(t *testing.T) {
	_, err := BuildEnviron([]string{"PATH=/usr/bin", "EVIL=foo\x00bar"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddedNUL)
}
