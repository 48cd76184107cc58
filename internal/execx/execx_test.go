package execx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/relkit/internal/fault"
)

func TestRun_CapturesStdout(t *testing.T) {
	r := NewRunner(nil)

	res, err := r.Run(context.Background(), Request{
		Name: "sh",
		Args: []string{"-c", "printf 'hello'"},
	})

	require.NoError(t, err)
	assert.Equal(t, "hello", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
}

func TestRun_NonZeroExitIsProcessFailure(t *testing.T) {
	r := NewRunner(nil)

	res, err := r.Run(context.Background(), Request{
		Name: "sh",
		Args: []string{"-c", "printf 'bad ref' >&2; exit 3"},
	})

	require.Error(t, err)
	assert.Equal(t, fault.ProcessFailed, fault.KindOf(err))
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, err.Error(), "bad ref")
	assert.Equal(t, "bad ref", res.Stderr)
}

func TestRun_MissingProgramFailsToStart(t *testing.T) {
	r := NewRunner(nil)

	res, err := r.Run(context.Background(), Request{Name: "definitely-not-a-real-binary"})

	require.Error(t, err)
	assert.Equal(t, fault.ProcessFailed, fault.KindOf(err))
	assert.Equal(t, -1, res.ExitCode)
}

func TestRun_TimeoutReported(t *testing.T) {
	r := NewRunner(nil)

	_, err := r.Run(context.Background(), Request{
		Name:    "sh",
		Args:    []string{"-c", "sleep 5"},
		Timeout: 50 * time.Millisecond,
	})

	require.Error(t, err)
	assert.Equal(t, fault.ProcessFailed, fault.KindOf(err))
	assert.Contains(t, err.Error(), "timed out")
}

func TestRun_EmptyNameRejected(t *testing.T) {
	r := NewRunner(nil)

	_, err := r.Run(context.Background(), Request{})

	require.Error(t, err)
	assert.Equal(t, fault.ProcessFailed, fault.KindOf(err))
}

func TestRun_WorkingDirectoryApplied(t *testing.T) {
	r := NewRunner(nil)
	dir := t.TempDir()

	res, err := r.Run(context.Background(), Request{
		Name: "sh",
		Args: []string{"-c", "pwd"},
		Dir:  dir,
	})

	require.NoError(t, err)
	assert.Contains(t, res.Stdout, dir)
}
