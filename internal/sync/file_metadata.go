package sync

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/openmined/syftbus/internal/syftsdk"
	"github.com/openmined/syftbus/internal/utils"
)

// ComputeFileMetadata hashes and signs one local file.
func ComputeFileMetadata(absPath string, relPath string) (*syftsdk.FileMetadata, error) {
	info, err := os.Lstat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", absPath, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %q", absPath)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", absPath, err)
	}

	sig, err := ComputeSignature(data)
	if err != nil {
		return nil, fmt.Errorf("sign %q: %w", absPath, err)
	}

	return &syftsdk.FileMetadata{
		Path:         relPath,
		Hash:         utils.HashBytes(data),
		Signature:    sig,
		FileSize:     info.Size(),
		LastModified: info.ModTime().UTC(),
	}, nil
}

// ScanDatasites walks the local datasites tree and returns metadata for
// every non-ignored regular file, keyed by relative path. When cached
// metadata matches a file's size and mtime, its hash and signature are
// reused instead of re-reading the content.
func ScanDatasites(datasitesDir string, ignore *SyncIgnoreList, cache map[string]*syftsdk.FileMetadata) (map[string]*syftsdk.FileMetadata, error) {
	state := make(map[string]*syftsdk.FileMetadata)

	err := filepath.WalkDir(datasitesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, relErr := filepath.Rel(datasitesDir, path)
		if relErr != nil {
			return relErr
		}
		rel = utils.NormPath(rel)

		if d.IsDir() {
			if rel != "." && ignore.ShouldIgnore(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			// symlinks and specials never sync
			return nil
		}
		if ignore.ShouldIgnore(rel) {
			return nil
		}

		if cached, ok := cache[rel]; ok {
			info, infoErr := d.Info()
			if infoErr == nil && info.Size() == cached.FileSize &&
				info.ModTime().UTC().Equal(cached.LastModified) {
				state[rel] = cached
				return nil
			}
		}

		meta, metaErr := ComputeFileMetadata(path, rel)
		if metaErr != nil {
			// file vanished mid-walk, pick it up next pass
			return nil
		}
		state[rel] = meta
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}
