package toolchain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Success(t *testing.T) {
	inv := NewInvoker(10 * time.Second)

	res, err := inv.Run(context.Background(), t.TempDir(), "sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
}

func TestRun_NonZeroExit(t *testing.T) {
	inv := NewInvoker(10 * time.Second)

	res, err := inv.Run(context.Background(), t.TempDir(), "sh", "-c", "echo broken >&2; exit 3")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolchain)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Stderr, "broken")
	assert.Contains(t, err.Error(), "broken")
}

func TestRun_Timeout(t *testing.T) {
	inv := NewInvoker(100 * time.Millisecond)

	_, err := inv.Run(context.Background(), t.TempDir(), "sh", "-c", "sleep 5")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolchain)
	assert.Contains(t, err.Error(), "timed out")
}

func TestRun_MissingBinary(t *testing.T) {
	inv := NewInvoker(time.Second)

	res, err := inv.Run(context.Background(), t.TempDir(), "definitely-not-a-real-binary-xyz")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolchain)
	assert.Equal(t, -1, res.ExitCode)
}

func TestRun_UsesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	inv := NewInvoker(10 * time.Second)

	res, err := inv.Run(context.Background(), dir, "pwd")
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, dir)
}
