package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "registry.json"))
}

func TestStartRegistersNewEntry(t *testing.T) {
	r := newTestRegistry(t)
	entry, err := r.Start("/repo/a", Entry{PID: os.Getpid(), Port: 7777})
	require.NoError(t, err)
	assert.Equal(t, "/repo/a", entry.Path)

	got, ok, err := r.Get("/repo/a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), got.PID)
}

func TestStartRejectsDuplicateWhileLive(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Start("/repo/a", Entry{PID: os.Getpid()})
	require.NoError(t, err)

	_, err = r.Start("/repo/a", Entry{PID: os.Getpid()})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestStartEvictsStaleEntry(t *testing.T) {
	r := newTestRegistry(t)
	// A PID essentially guaranteed not to be running.
	const deadPID = 999999
	_, err := r.Start("/repo/a", Entry{PID: deadPID})
	require.NoError(t, err)

	entry, err := r.Start("/repo/a", Entry{PID: os.Getpid()})
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), entry.PID)
}

func TestStopRemovesOnlyTargetedEntry(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Start("/repo/a", Entry{PID: os.Getpid()})
	require.NoError(t, err)
	_, err = r.Start("/repo/b", Entry{PID: os.Getpid()})
	require.NoError(t, err)

	require.NoError(t, r.Stop("/repo/a"))

	_, ok, err := r.Get("/repo/a")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = r.Get("/repo/b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListReturnsAllEntries(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Start("/repo/a", Entry{PID: os.Getpid()})
	require.NoError(t, err)
	_, err = r.Start("/repo/b", Entry{PID: os.Getpid()})
	require.NoError(t, err)

	entries, err := r.List()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestIsLiveReflectsProcessState(t *testing.T) {
	assert.True(t, IsLive(Entry{PID: os.Getpid()}))
	assert.False(t, IsLive(Entry{PID: 999999}))
}
