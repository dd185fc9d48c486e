package sync

import (
	"errors"
	"fmt"

	"github.com/openmined/syftbus/internal/syftsdk"
)

// MaxFileSizeBytes is the upload ceiling. Larger files are never enqueued
// and the server answers 413 for them.
const MaxFileSizeBytes = 10 * 1024 * 1024

// RejectedMarkerExt marks a path the server refused with 403.
const RejectedMarkerExt = ".syftrejected"

// SyncEnvironmentError is fatal: the workspace or the local state record
// was pulled out from under the running engine.
type SyncEnvironmentError struct {
	Reason string
}

func (e *SyncEnvironmentError) Error() string {
	return fmt.Sprintf("sync environment broken: %s", e.Reason)
}

var (
	ErrSyncAlreadyRunning = errors.New("sync already running")
)

// SyncAction is the outcome of the (local, previous, remote) decision.
type SyncAction uint8

const (
	ActionNoop SyncAction = iota
	ActionCreateRemote
	ActionCreateLocal
	ActionModifyRemote
	ActionModifyLocal
	ActionDeleteRemote
	ActionDeleteLocal
)

var actionNames = []string{
	"NOOP",
	"CREATE_REMOTE",
	"CREATE_LOCAL",
	"MODIFY_REMOTE",
	"MODIFY_LOCAL",
	"DELETE_REMOTE",
	"DELETE_LOCAL",
}

func (a SyncAction) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "UNKNOWN"
}

// SyncStatus is what the last pass did to a path.
type SyncStatus string

const (
	StatusSynced   SyncStatus = "SYNCED"
	StatusPending  SyncStatus = "PENDING"
	StatusError    SyncStatus = "ERROR"
	StatusRejected SyncStatus = "REJECTED"
)

// SyncItem is one queued unit of work.
type SyncItem struct {
	RelPath string
	Action  SyncAction
	Local   *syftsdk.FileMetadata
	Prev    *syftsdk.FileMetadata
	Remote  *syftsdk.FileMetadata
}
