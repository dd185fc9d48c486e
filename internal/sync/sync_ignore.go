package sync

import (
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/openmined/syftbus/internal/utils"
)

var defaultIgnoreLines = []string{
	"syftignore",
	"**/*" + RejectedMarkerExt + "*",
	"logs/",
	".ipynb_checkpoints/",
	"__pycache__/",
	"*.py[cod]",
	"dist/",
	"venv/",
	".venv/",
	".DS_Store",
	"Thumbs.db",
	"Icon",
	"*.tmp",
	"*.swp",
}

// SyncIgnoreList filters paths the engine must never carry: gitignore-style
// patterns, dotfile segments and oversize files.
type SyncIgnoreList struct {
	ignore *gitignore.GitIgnore
}

func NewSyncIgnoreList(extraLines ...string) *SyncIgnoreList {
	lines := append([]string{}, defaultIgnoreLines...)
	lines = append(lines, extraLines...)
	return &SyncIgnoreList{
		ignore: gitignore.CompileIgnoreLines(lines...),
	}
}

// ShouldIgnore takes a datasites-relative slash path.
func (s *SyncIgnoreList) ShouldIgnore(relPath string) bool {
	if utils.IsHiddenPath(relPath) {
		return true
	}
	return s.ignore.MatchesPath(relPath)
}

// ShouldIgnoreUpload additionally enforces the upload invariants.
func (s *SyncIgnoreList) ShouldIgnoreUpload(relPath string, size int64, isSymlink bool) bool {
	if isSymlink || size > MaxFileSizeBytes {
		return true
	}
	return s.ShouldIgnore(relPath)
}
