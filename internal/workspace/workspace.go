package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/openmined/syftbus/internal/perm"
	"github.com/openmined/syftbus/internal/utils"
)

const (
	datasitesDir = "datasites"
	pluginsDir   = "plugins"
	appsDir      = "apps"
	publicDir    = "public"
	lockFile     = "syftbus.lock"
)

var (
	ErrWorkspaceLocked = errors.New("workspace locked by another process")
)

// Workspace is the per-client directory layout:
// data_dir/{datasites, plugins, apps}. datasites/<email>/... mirrors peer
// trees, plugins holds local engine state.
type Workspace struct {
	Owner         string
	Root          string
	DatasitesDir  string
	PluginsDir    string
	AppsDir       string
	UserDir       string
	UserPublicDir string

	flock *flock.Flock
}

func NewWorkspace(rootDir string, owner string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve path %q: %w", rootDir, err)
	}
	if err := utils.ValidateEmail(owner); err != nil {
		return nil, fmt.Errorf("workspace owner: %w", err)
	}

	datasites := filepath.Join(root, datasitesDir)
	plugins := filepath.Join(root, pluginsDir)

	return &Workspace{
		Owner:         owner,
		Root:          root,
		DatasitesDir:  datasites,
		PluginsDir:    plugins,
		AppsDir:       filepath.Join(root, appsDir),
		UserDir:       filepath.Join(datasites, owner),
		UserPublicDir: filepath.Join(datasites, owner, publicDir),
		flock:         flock.New(filepath.Join(plugins, lockFile)),
	}, nil
}

// Lock takes an exclusive lock so other client instances cannot use the
// same workspace.
func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.PluginsDir); err != nil {
		return fmt.Errorf("create directory %q: %w", w.PluginsDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}
	return nil
}

func (w *Workspace) Unlock() error {
	if !w.flock.Locked() {
		return nil
	}
	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock workspace: %w", err)
	}
	return os.Remove(w.flock.Path())
}

// Setup locks the workspace, creates the directory tree and writes the
// owner's default permission files if missing.
func (w *Workspace) Setup() error {
	if err := w.Lock(); err != nil {
		return err
	}

	slog.Info("workspace", "root", w.Root, "owner", w.Owner)

	dirs := []string{w.DatasitesDir, w.PluginsDir, w.AppsDir, w.UserPublicDir}
	for _, dir := range dirs {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return w.createDefaultPerms()
}

func (w *Workspace) createDefaultPerms() error {
	rootPerm := filepath.Join(w.UserDir, perm.PermFileName)
	if !utils.FileExists(rootPerm) {
		if err := perm.DatasiteDefault(w.Owner).Save(rootPerm); err != nil {
			return fmt.Errorf("write datasite permission file: %w", err)
		}
	}

	publicPerm := filepath.Join(w.UserPublicDir, perm.PermFileName)
	if !utils.FileExists(publicPerm) {
		publicRel := w.Owner + "/" + publicDir
		if err := perm.PublicReadDefault(w.Owner, publicRel).Save(publicPerm); err != nil {
			return fmt.Errorf("write public permission file: %w", err)
		}
	}

	return nil
}

// DatasiteAbsPath joins a datasites-relative path onto the local tree.
func (w *Workspace) DatasiteAbsPath(relPath string) string {
	return filepath.Join(w.DatasitesDir, filepath.FromSlash(relPath))
}

// DatasiteRelPath converts an absolute path back to its slash-separated
// datasites-relative form.
func (w *Workspace) DatasiteRelPath(absPath string) (string, error) {
	relPath, err := filepath.Rel(w.DatasitesDir, absPath)
	if err != nil {
		return "", err
	}
	relPath = utils.NormPath(relPath)
	if relPath == "." || strings.HasPrefix(relPath, "../") {
		return "", fmt.Errorf("path %q not under datasites", absPath)
	}
	return relPath, nil
}

// PathOwner returns the datasite owner of an absolute path, or "".
func (w *Workspace) PathOwner(absPath string) string {
	rel, err := w.DatasiteRelPath(absPath)
	if err != nil {
		return ""
	}
	owner, _, _ := strings.Cut(rel, "/")
	if !utils.IsValidEmail(owner) {
		return ""
	}
	return owner
}
