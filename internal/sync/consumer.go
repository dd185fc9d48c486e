package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/openmined/syftbus/internal/syftsdk"
	"github.com/openmined/syftbus/internal/utils"
)

// SyncConsumer executes one queued item at a time against the server and the
// local tree, recording the outcome in the local state.
type SyncConsumer struct {
	sdk          *syftsdk.SyftSDK
	datasitesDir string
	state        *LocalState
	log          *slog.Logger
}

func NewSyncConsumer(sdk *syftsdk.SyftSDK, datasitesDir string, state *LocalState, log *slog.Logger) *SyncConsumer {
	return &SyncConsumer{
		sdk:          sdk,
		datasitesDir: datasitesDir,
		state:        state,
		log:          log.With("component", "sync.consumer"),
	}
}

// Process runs one item. Per-file failures are recorded and returned, the
// caller decides whether to keep draining.
func (c *SyncConsumer) Process(ctx context.Context, item *SyncItem) error {
	var err error
	switch item.Action {
	case ActionNoop:
		c.markSynced(item, item.Local)
		return nil
	case ActionCreateRemote:
		err = c.upload(ctx, item, true)
	case ActionModifyRemote:
		err = c.upload(ctx, item, false)
	case ActionCreateLocal:
		err = c.download(ctx, item, true)
	case ActionModifyLocal:
		err = c.download(ctx, item, false)
	case ActionDeleteRemote:
		err = c.deleteRemote(ctx, item)
	case ActionDeleteLocal:
		err = c.deleteLocal(item)
	default:
		err = fmt.Errorf("unknown action %s", item.Action)
	}

	if err != nil {
		if errors.Is(err, syftsdk.ErrPermissionDenied) {
			return c.reject(item, err)
		}
		c.state.Set(item.RelPath, &SyncEntry{
			LastSynced: c.state.LastSynced(item.RelPath),
			Status:     StatusError,
			Action:     item.Action.String(),
			Message:    err.Error(),
		})
		return fmt.Errorf("%s %q: %w", item.Action, item.RelPath, err)
	}
	return nil
}

func (c *SyncConsumer) absPath(relPath string) string {
	return filepath.Join(c.datasitesDir, filepath.FromSlash(relPath))
}

func (c *SyncConsumer) markSynced(item *SyncItem, meta *syftsdk.FileMetadata) {
	c.state.Set(item.RelPath, &SyncEntry{
		LastSynced: meta,
		Status:     StatusSynced,
		Action:     item.Action.String(),
	})
}

// upload pushes local content to the server. Modifications go as rsync
// deltas against the server's signature; creations and delta failures fall
// back to a whole-file create.
func (c *SyncConsumer) upload(ctx context.Context, item *SyncItem, create bool) error {
	data, err := os.ReadFile(c.absPath(item.RelPath))
	if err != nil {
		return fmt.Errorf("read local: %w", err)
	}
	if int64(len(data)) > MaxFileSizeBytes {
		return fmt.Errorf("file exceeds %s limit", humanize.IBytes(MaxFileSizeBytes))
	}

	if !create && item.Remote != nil && item.Remote.Signature != "" {
		diff, err := ComputeDelta(data, item.Remote.Signature)
		if err == nil {
			res, err := c.sdk.Sync.ApplyDiff(ctx, &syftsdk.ApplyDiffParams{
				Path:         item.RelPath,
				Diff:         diff,
				ExpectedHash: utils.HashBytes(data),
			})
			if err == nil {
				meta := *item.Local
				meta.Hash = res.CurrentHash
				c.markSynced(item, &meta)
				return nil
			}
			if errors.Is(err, syftsdk.ErrPermissionDenied) {
				return err
			}
			c.log.Warn("delta upload failed, falling back to full upload",
				"path", item.RelPath, "error", err)
		}
	}

	meta, err := c.sdk.Sync.Create(ctx, item.RelPath, data)
	if err != nil {
		return err
	}
	c.markSynced(item, meta)
	return nil
}

// download pulls remote content. Modifications go as rsync deltas against
// the local signature; creations and delta failures fetch the whole file.
func (c *SyncConsumer) download(ctx context.Context, item *SyncItem, create bool) error {
	absPath := c.absPath(item.RelPath)

	if !create && item.Local != nil && item.Local.Signature != "" {
		base, err := os.ReadFile(absPath)
		if err == nil {
			res, diffErr := c.sdk.Sync.GetDiff(ctx, item.RelPath, item.Local.Signature)
			if diffErr == nil {
				patched, patchErr := ApplyDelta(base, item.Local.Signature, res.Diff)
				if patchErr == nil && utils.HashBytes(patched) == res.Hash {
					return c.writeLocal(item, absPath, patched)
				}
				c.log.Warn("delta download produced wrong content, refetching",
					"path", item.RelPath, "error", patchErr)
			} else if errors.Is(diffErr, syftsdk.ErrPermissionDenied) {
				return diffErr
			}
		}
	}

	data, err := c.sdk.Sync.Download(ctx, item.RelPath)
	if err != nil {
		return err
	}
	return c.writeLocal(item, absPath, data)
}

func (c *SyncConsumer) writeLocal(item *SyncItem, absPath string, data []byte) error {
	if err := utils.EnsureParent(absPath); err != nil {
		return err
	}
	if err := utils.WriteFileAtomic(absPath, data, 0o644); err != nil {
		return fmt.Errorf("write local: %w", err)
	}
	meta, err := ComputeFileMetadata(absPath, item.RelPath)
	if err != nil {
		return err
	}
	c.markSynced(item, meta)
	return nil
}

func (c *SyncConsumer) deleteRemote(ctx context.Context, item *SyncItem) error {
	if err := c.sdk.Sync.Delete(ctx, item.RelPath); err != nil && !errors.Is(err, syftsdk.ErrNotFound) {
		return err
	}
	c.state.Delete(item.RelPath)
	return nil
}

func (c *SyncConsumer) deleteLocal(item *SyncItem) error {
	if err := os.Remove(c.absPath(item.RelPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove local: %w", err)
	}
	c.state.Delete(item.RelPath)
	return nil
}

// reject handles a server 403. Uploads leave a rejection marker beside the
// local file so the owner sees why their write never landed; the path stops
// being retried until the local content changes again.
func (c *SyncConsumer) reject(item *SyncItem, cause error) error {
	c.log.Warn("server rejected sync", "path", item.RelPath, "action", item.Action.String())

	if item.Action == ActionCreateRemote || item.Action == ActionModifyRemote {
		absPath := c.absPath(item.RelPath)
		if err := os.Rename(absPath, absPath+RejectedMarkerExt); err != nil && !os.IsNotExist(err) {
			c.log.Error("could not write rejection marker", "path", item.RelPath, "error", err)
		}
	}

	c.state.Set(item.RelPath, &SyncEntry{
		LastSynced: c.state.LastSynced(item.RelPath),
		Status:     StatusRejected,
		Action:     item.Action.String(),
		Message:    cause.Error(),
	})
	return nil
}
