package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openmined/syftbus/internal/syftsdk"
)

func TestSyncIgnoreList(t *testing.T) {
	ignore := NewSyncIgnoreList()

	assert.True(t, ignore.ShouldIgnore("a@example.com/.hidden"))
	assert.True(t, ignore.ShouldIgnore("a@example.com/.venv/lib/mod.py"))
	assert.True(t, ignore.ShouldIgnore("a@example.com/public/file.txt"+RejectedMarkerExt))
	assert.True(t, ignore.ShouldIgnore("a@example.com/app/__pycache__/x.pyc"))
	assert.True(t, ignore.ShouldIgnore("a@example.com/notes.tmp"))

	assert.False(t, ignore.ShouldIgnore("a@example.com/public/file.txt"))
	assert.False(t, ignore.ShouldIgnore("a@example.com/syftperm.yaml"))
}

func TestSyncIgnoreListUpload(t *testing.T) {
	ignore := NewSyncIgnoreList()

	assert.True(t, ignore.ShouldIgnoreUpload("a@example.com/big.bin", MaxFileSizeBytes+1, false))
	assert.True(t, ignore.ShouldIgnoreUpload("a@example.com/link", 10, true))
	assert.False(t, ignore.ShouldIgnoreUpload("a@example.com/ok.bin", 10, false))
}

func TestSyncIgnoreListExtraLines(t *testing.T) {
	ignore := NewSyncIgnoreList("*.secret")
	assert.True(t, ignore.ShouldIgnore("a@example.com/keys.secret"))
}

func TestSyncPriorityOrder(t *testing.T) {
	priority := NewSyncPriorityList()

	permItem := &SyncItem{RelPath: "a@example.com/public/syftperm.yaml"}
	reqItem := &SyncItem{RelPath: "a@example.com/app_data/x/rpc/ep/abc.request"}
	smallItem := &SyncItem{
		RelPath: "a@example.com/small.txt",
		Local:   &syftsdk.FileMetadata{FileSize: 100},
	}
	bigItem := &SyncItem{
		RelPath: "a@example.com/big.bin",
		Remote:  &syftsdk.FileMetadata{FileSize: 5 * 1024 * 1024},
	}

	assert.Equal(t, priorityPermFile, priority.Priority(permItem))
	assert.Equal(t, priorityMessage, priority.Priority(reqItem))
	assert.Less(t, priority.Priority(reqItem), priority.Priority(smallItem))
	assert.Less(t, priority.Priority(smallItem), priority.Priority(bigItem))
}
