package sync

import "github.com/openmined/syftbus/internal/syftsdk"

// DecideAction picks the sync action for one path from the triple
// (local, previously-synced, remote). Equality is hash equality.
//
// Conflicting concurrent edits resolve remote-wins: the server applied the
// first writer, everyone else converges onto that content.
func DecideAction(local, prev, remote *syftsdk.FileMetadata) SyncAction {
	switch {
	case local != nil && prev == nil && remote == nil:
		return ActionCreateRemote

	case local == nil && prev == nil && remote != nil:
		return ActionCreateLocal

	case local == nil && prev != nil && remote != nil:
		// deleted locally, propagate to the server
		return ActionDeleteRemote

	case local != nil && prev != nil && remote == nil:
		if local.Equal(prev) {
			// deleted remotely, drop the local copy
			return ActionDeleteLocal
		}
		// local changed after the remote delete, the change wins
		return ActionCreateRemote

	case local == nil && prev != nil && remote == nil:
		return ActionNoop

	case local != nil && prev == nil && remote != nil:
		// untracked local copy, take remote
		if local.Equal(remote) {
			return ActionNoop
		}
		return ActionModifyLocal

	case local != nil && prev != nil && remote != nil:
		localChanged := !local.Equal(prev)
		remoteChanged := !remote.Equal(prev)
		switch {
		case !localChanged && !remoteChanged:
			return ActionNoop
		case !localChanged && remoteChanged:
			return ActionModifyLocal
		case localChanged && !remoteChanged:
			return ActionModifyRemote
		default:
			return ActionModifyLocal
		}
	}

	return ActionNoop
}
