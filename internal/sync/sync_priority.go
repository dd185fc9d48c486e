package sync

import (
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/openmined/syftbus/internal/perm"
)

var defaultPriorityFiles = []string{
	"**/*.request",
	"**/*.response",
}

// SyncPriorityList ranks queued items: permission files drain before
// everything, then RPC messages, then regular files smallest first.
type SyncPriorityList struct {
	priority *gitignore.GitIgnore
}

func NewSyncPriorityList(extraLines ...string) *SyncPriorityList {
	lines := append([]string{}, defaultPriorityFiles...)
	lines = append(lines, extraLines...)
	return &SyncPriorityList{
		priority: gitignore.CompileIgnoreLines(lines...),
	}
}

const (
	priorityPermFile = 0
	priorityMessage  = 1
	prioritySizeBase = 2
)

// Priority computes the queue rank of an item. Lower drains first.
func (s *SyncPriorityList) Priority(item *SyncItem) int {
	if perm.IsPermFile(item.RelPath) {
		return priorityPermFile
	}
	if s.priority.MatchesPath(item.RelPath) {
		return priorityMessage
	}

	var size int64
	if item.Local != nil {
		size = item.Local.FileSize
	} else if item.Remote != nil {
		size = item.Remote.FileSize
	}
	// bucket by 64 KiB so small files go ahead of big ones
	return prioritySizeBase + int(size/(64*1024))
}
