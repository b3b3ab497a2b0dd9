package lockfile

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	dir := t.TempDir()
	lock := New(dir)

	require.NoError(t, lock.TryAcquire("127.0.0.1:7420"))
	assert.True(t, lock.Locked())
	assert.Equal(t, os.Getpid(), lock.Holder().PID)

	holder, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7420", holder.ListenAddr)

	require.NoError(t, lock.Release())
	assert.False(t, lock.Locked())
	_, err = os.Stat(lock.Path())
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, lock.TryAcquire(""))
	require.NoError(t, lock.Release())
}

func TestAcquireReportsRunningHolder(t *testing.T) {
	dir := t.TempDir()
	// The parent of the test binary is alive for the whole test.
	writeHolder(t, dir, Holder{PID: os.Getppid(), ListenAddr: "127.0.0.1:9000"})

	err := New(dir).TryAcquire("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
	assert.Contains(t, err.Error(), "127.0.0.1:9000")
}

func TestAcquireTakesOverStaleLock(t *testing.T) {
	dir := t.TempDir()
	writeHolder(t, dir, Holder{PID: 0})

	lock := New(dir)
	require.NoError(t, lock.TryAcquire(""))
	defer lock.Release()

	holder, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), holder.PID)
}

func TestAcquireReplacesCorruptLock(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("garbage"), 0644))

	lock := New(dir)
	require.NoError(t, lock.TryAcquire(""))
	require.NoError(t, lock.Release())
}

func TestReleaseWithoutAcquire(t *testing.T) {
	assert.NoError(t, New(t.TempDir()).Release())
}

func writeHolder(t *testing.T, dir string, holder Holder) {
	t.Helper()
	data, err := json.Marshal(holder)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), data, 0644))
}
