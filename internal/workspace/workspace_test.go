package workspace

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmined/syftbus/internal/perm"
)

const owner = "alice@example.com"

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir(), owner)
	require.NoError(t, err)
	return ws
}

func TestNewWorkspace_InvalidOwner(t *testing.T) {
	_, err := NewWorkspace(t.TempDir(), "not-an-email")
	assert.Error(t, err)
}

func TestSetup_CreatesLayout(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, ws.Setup())
	defer ws.Unlock()

	assert.DirExists(t, ws.DatasitesDir)
	assert.DirExists(t, ws.PluginsDir)
	assert.DirExists(t, ws.AppsDir)
	assert.DirExists(t, ws.UserPublicDir)

	assert.FileExists(t, filepath.Join(ws.UserDir, perm.PermFileName))
	assert.FileExists(t, filepath.Join(ws.UserPublicDir, perm.PermFileName))
}

func TestSetup_DefaultPermsParse(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, ws.Setup())
	defer ws.Unlock()

	rs, err := perm.LoadFile(filepath.Join(ws.UserDir, perm.PermFileName), ws.DatasitesDir)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1)
	assert.Equal(t, owner, rs.Rules[0].User)
	assert.True(t, rs.Rules[0].Has(perm.PermAdmin))

	pub, err := perm.LoadFile(filepath.Join(ws.UserPublicDir, perm.PermFileName), ws.DatasitesDir)
	require.NoError(t, err)
	require.Len(t, pub.Rules, 2)
	assert.Equal(t, perm.TokenEveryone, pub.Rules[1].User)
}

func TestLock_SecondInstanceRejected(t *testing.T) {
	dir := t.TempDir()
	ws1, err := NewWorkspace(dir, owner)
	require.NoError(t, err)
	require.NoError(t, ws1.Lock())
	defer ws1.Unlock()

	ws2, err := NewWorkspace(dir, owner)
	require.NoError(t, err)
	assert.ErrorIs(t, ws2.Lock(), ErrWorkspaceLocked)
}

func TestDatasitePaths(t *testing.T) {
	ws := newTestWorkspace(t)

	abs := ws.DatasiteAbsPath("bob@example.com/public/data.csv")
	rel, err := ws.DatasiteRelPath(abs)
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com/public/data.csv", rel)

	_, err = ws.DatasiteRelPath(filepath.Dir(ws.Root))
	assert.Error(t, err)
}

func TestPathOwner(t *testing.T) {
	ws := newTestWorkspace(t)

	assert.Equal(t, "bob@example.com", ws.PathOwner(ws.DatasiteAbsPath("bob@example.com/file.txt")))
	assert.Equal(t, "", ws.PathOwner(ws.Root))
	assert.Equal(t, "", ws.PathOwner(ws.DatasiteAbsPath("nodomain/file.txt")))
}
