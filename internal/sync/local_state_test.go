package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmined/syftbus/internal/syftsdk"
)

func TestLocalStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), localStateFile)

	state := NewLocalState(path)
	require.NoError(t, state.Load())
	assert.Equal(t, 0, state.Count())

	state.Set("a@example.com/file.txt", &SyncEntry{
		LastSynced: &syftsdk.FileMetadata{Path: "a@example.com/file.txt", Hash: "h1"},
		Status:     StatusSynced,
		Action:     ActionCreateRemote.String(),
	})
	require.NoError(t, state.Save())

	reloaded := NewLocalState(path)
	require.NoError(t, reloaded.Load())
	require.Equal(t, 1, reloaded.Count())

	entry := reloaded.Get("a@example.com/file.txt")
	require.NotNil(t, entry)
	assert.Equal(t, StatusSynced, entry.Status)
	assert.Equal(t, "h1", entry.LastSynced.Hash)
	assert.False(t, entry.UpdatedAt.IsZero())
}

func TestLocalStateCorrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), localStateFile)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	state := NewLocalState(path)
	err := state.Load()
	require.Error(t, err)

	var envErr *SyncEnvironmentError
	assert.ErrorAs(t, err, &envErr)
}

func TestLocalStateDeletedAfterSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), localStateFile)

	state := NewLocalState(path)
	require.NoError(t, state.Load())
	require.NoError(t, state.Save())
	require.NoError(t, state.Validate())

	require.NoError(t, os.Remove(path))

	var envErr *SyncEnvironmentError
	assert.ErrorAs(t, state.Validate(), &envErr)
	assert.ErrorAs(t, state.Load(), &envErr)
}

func TestLocalStateDelete(t *testing.T) {
	state := NewLocalState(filepath.Join(t.TempDir(), localStateFile))
	state.Set("p1", &SyncEntry{Status: StatusSynced})
	state.Set("p2", &SyncEntry{Status: StatusPending})

	state.Delete("p1")
	assert.Nil(t, state.Get("p1"))
	assert.ElementsMatch(t, []string{"p2"}, state.Paths())
}
