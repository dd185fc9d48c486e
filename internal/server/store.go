package server

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/openmined/syftbus/internal/perm"
	"github.com/openmined/syftbus/internal/sync"
	"github.com/openmined/syftbus/internal/syftsdk"
	"github.com/openmined/syftbus/internal/utils"
)

var (
	ErrFileNotFound = errors.New("file not found")
	ErrAccessDenied = errors.New("access denied")
	ErrHashMismatch = errors.New("hash mismatch after apply")
	ErrBadPath      = errors.New("invalid path")
)

// DatasiteStore is the server's file tree plus the permission index gating
// every access. Paths are slash-separated, relative to the datasites root,
// and always start with a datasite email.
type DatasiteStore struct {
	root  string
	perms *perm.Store
	log   *slog.Logger
}

func NewDatasiteStore(root string, perms *perm.Store, log *slog.Logger) (*DatasiteStore, error) {
	if err := utils.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("datasite store: %w", err)
	}
	s := &DatasiteStore{root: root, perms: perms, log: log.With("component", "store")}
	if err := s.Reindex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DatasiteStore) abs(relPath string) (string, error) {
	relPath = utils.NormPath(relPath)
	if relPath == "" || relPath == "." || strings.HasPrefix(relPath, "..") ||
		strings.Contains(relPath, "../") {
		return "", fmt.Errorf("%w: %q", ErrBadPath, relPath)
	}
	if err := utils.ValidateEmail(strings.SplitN(relPath, "/", 2)[0]); err != nil {
		return "", fmt.Errorf("%w: %q must start with a datasite email", ErrBadPath, relPath)
	}
	return filepath.Join(s.root, filepath.FromSlash(relPath)), nil
}

// Reindex rebuilds the permission index from the on-disk tree. Runs at
// startup; permission files that fail to parse are skipped.
func (s *DatasiteStore) Reindex() error {
	permFiles := make(map[string]*perm.RuleSet)
	var allFiles []string

	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, p)
		if relErr != nil {
			return nil
		}
		rel = utils.NormPath(rel)
		allFiles = append(allFiles, rel)

		if perm.IsPermFile(rel) {
			rs, loadErr := perm.LoadFile(p, s.root)
			if loadErr != nil {
				s.log.Warn("skipping invalid permission file", "path", rel, "error", loadErr)
				return nil
			}
			permFiles[rel] = rs
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reindex walk: %w", err)
	}

	if err := s.perms.IndexTree(permFiles, allFiles); err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	s.log.Info("permission index rebuilt", "files", len(allFiles), "permfiles", len(permFiles))
	return nil
}

func (s *DatasiteStore) metadataFor(relPath string, data []byte, info os.FileInfo) (*syftsdk.FileMetadata, error) {
	sig, err := sync.ComputeSignature(data)
	if err != nil {
		return nil, fmt.Errorf("signature %q: %w", relPath, err)
	}
	return &syftsdk.FileMetadata{
		Path:         utils.NormPath(relPath),
		Hash:         utils.HashBytes(data),
		Signature:    sig,
		FileSize:     int64(len(data)),
		LastModified: info.ModTime().UTC(),
	}, nil
}

// Metadata returns hash, signature and size of one file, gated on read
// permission.
func (s *DatasiteStore) Metadata(user string, relPath string) (*syftsdk.FileMetadata, error) {
	data, info, err := s.read(user, relPath)
	if err != nil {
		return nil, err
	}
	return s.metadataFor(relPath, data, info)
}

// Download returns the full content of one file, gated on read permission.
func (s *DatasiteStore) Download(user string, relPath string) ([]byte, error) {
	data, _, err := s.read(user, relPath)
	return data, err
}

func (s *DatasiteStore) read(user string, relPath string) ([]byte, os.FileInfo, error) {
	absPath, err := s.abs(relPath)
	if err != nil {
		return nil, nil, err
	}

	if err := s.checkAccess(user, relPath, perm.PermRead); err != nil {
		return nil, nil, err
	}

	info, err := os.Stat(absPath)
	if err != nil || !info.Mode().IsRegular() {
		return nil, nil, fmt.Errorf("%w: %q", ErrFileNotFound, relPath)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read %q: %w", relPath, err)
	}
	return data, info, nil
}

// DatasiteStates lists every file the user may read, grouped by datasite.
func (s *DatasiteStore) DatasiteStates(user string) (map[string][]*syftsdk.FileMetadata, error) {
	files, err := s.listFiles("")
	if err != nil {
		return nil, err
	}

	readable, err := s.perms.FilterReadable(user, files)
	if err != nil {
		return nil, fmt.Errorf("filter readable: %w", err)
	}

	states := make(map[string][]*syftsdk.FileMetadata)
	for _, rel := range readable {
		meta, err := s.statMetadata(rel)
		if err != nil {
			continue
		}
		datasite := strings.SplitN(rel, "/", 2)[0]
		states[datasite] = append(states[datasite], meta)
	}
	return states, nil
}

// DirState lists readable files under one directory.
func (s *DatasiteStore) DirState(user string, dir string) ([]*syftsdk.FileMetadata, error) {
	dir = utils.NormPath(dir)
	files, err := s.listFiles(dir)
	if err != nil {
		return nil, err
	}

	readable, err := s.perms.FilterReadable(user, files)
	if err != nil {
		return nil, fmt.Errorf("filter readable: %w", err)
	}

	state := make([]*syftsdk.FileMetadata, 0, len(readable))
	for _, rel := range readable {
		meta, err := s.statMetadata(rel)
		if err != nil {
			continue
		}
		state = append(state, meta)
	}
	return state, nil
}

func (s *DatasiteStore) listFiles(dir string) ([]string, error) {
	base := s.root
	if dir != "" {
		abs, err := s.abs(dir)
		if err != nil {
			return nil, err
		}
		base = abs
	}

	var files []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, p)
		if relErr != nil {
			return nil
		}
		files = append(files, utils.NormPath(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

func (s *DatasiteStore) statMetadata(relPath string) (*syftsdk.FileMetadata, error) {
	absPath, err := s.abs(relPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	return s.metadataFor(relPath, data, info)
}

// Create writes a whole file. New paths need create permission, existing
// ones write permission. Permission files are reindexed in place.
func (s *DatasiteStore) Create(user string, relPath string, data []byte) (*syftsdk.FileMetadata, error) {
	absPath, err := s.abs(relPath)
	if err != nil {
		return nil, err
	}

	needed := perm.PermCreate
	if utils.FileExists(absPath) {
		needed = perm.PermWrite
	}
	if err := s.checkAccess(user, relPath, needed); err != nil {
		return nil, err
	}

	if err := utils.EnsureParent(absPath); err != nil {
		return nil, fmt.Errorf("create %q: %w", relPath, err)
	}
	if err := utils.WriteFileAtomic(absPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("create %q: %w", relPath, err)
	}
	s.indexWrite(relPath, absPath)

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("create %q: %w", relPath, err)
	}
	return s.metadataFor(relPath, data, info)
}

// ApplyDiff patches a file with an rsync delta and verifies the result hash.
func (s *DatasiteStore) ApplyDiff(user string, relPath string, diff string, expectedHash string) (*syftsdk.FileMetadata, error) {
	absPath, err := s.abs(relPath)
	if err != nil {
		return nil, err
	}
	if err := s.checkAccess(user, relPath, perm.PermWrite); err != nil {
		return nil, err
	}

	base, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrFileNotFound, relPath)
	}
	baseSig, err := sync.ComputeSignature(base)
	if err != nil {
		return nil, fmt.Errorf("apply %q: %w", relPath, err)
	}

	patched, err := sync.ApplyDelta(base, baseSig, diff)
	if err != nil {
		return nil, fmt.Errorf("apply %q: %w", relPath, err)
	}
	if utils.HashBytes(patched) != expectedHash {
		return nil, fmt.Errorf("%w: %q", ErrHashMismatch, relPath)
	}

	if err := utils.WriteFileAtomic(absPath, patched, 0o644); err != nil {
		return nil, fmt.Errorf("apply %q: %w", relPath, err)
	}
	s.indexWrite(relPath, absPath)

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("apply %q: %w", relPath, err)
	}
	return s.metadataFor(relPath, patched, info)
}

// GetDiff builds the delta that patches a client copy (described by its
// signature) up to the server's content.
func (s *DatasiteStore) GetDiff(user string, relPath string, clientSig string) (*syftsdk.GetDiffResponse, error) {
	data, _, err := s.read(user, relPath)
	if err != nil {
		return nil, err
	}

	diff, err := sync.ComputeDelta(data, clientSig)
	if err != nil {
		return nil, fmt.Errorf("diff %q: %w", relPath, err)
	}
	return &syftsdk.GetDiffResponse{
		Path: utils.NormPath(relPath),
		Diff: diff,
		Hash: utils.HashBytes(data),
	}, nil
}

// Delete removes a file, gated on write permission.
func (s *DatasiteStore) Delete(user string, relPath string) error {
	absPath, err := s.abs(relPath)
	if err != nil {
		return err
	}
	if err := s.checkAccess(user, relPath, perm.PermWrite); err != nil {
		return err
	}
	if !utils.FileExists(absPath) {
		return fmt.Errorf("%w: %q", ErrFileNotFound, relPath)
	}

	if err := os.Remove(absPath); err != nil {
		return fmt.Errorf("delete %q: %w", relPath, err)
	}

	rel := utils.NormPath(relPath)
	if perm.IsPermFile(rel) {
		if err := s.perms.RemoveRuleSet(rel); err != nil {
			s.log.Error("could not unindex permission file", "path", rel, "error", err)
		}
	}
	if err := s.perms.UnlinkFile(rel); err != nil {
		s.log.Error("could not unlink file", "path", rel, "error", err)
	}
	return nil
}

func (s *DatasiteStore) checkAccess(user string, relPath string, p perm.PermType) error {
	ok, err := s.perms.HasPermission(user, utils.NormPath(relPath), p)
	if err != nil {
		return fmt.Errorf("permission check %q: %w", relPath, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s needs %s on %q", ErrAccessDenied, user, p, relPath)
	}
	return nil
}

// indexWrite keeps the permission index in step with a file write. Invalid
// permission files stay on disk but never enter the index.
func (s *DatasiteStore) indexWrite(relPath string, absPath string) {
	rel := utils.NormPath(relPath)

	if perm.IsPermFile(rel) {
		rs, err := perm.LoadFile(absPath, s.root)
		if err != nil {
			s.log.Warn("ignoring invalid permission file", "path", rel, "error", err)
			return
		}
		files, err := s.listFiles(rs.DirPath())
		if err != nil {
			s.log.Error("could not list rule files", "path", rel, "error", err)
			files = nil
		}
		if err := s.perms.SetRuleSet(rs, files); err != nil {
			s.log.Error("could not index permission file", "path", rel, "error", err)
		}
		return
	}

	if err := s.perms.LinkFile(rel); err != nil {
		s.log.Error("could not link file", "path", rel, "error", err)
	}
}
