package sync

import (
	"context"
	"path/filepath"

	"github.com/openmined/syftbus/internal/syftsdk"
	"github.com/openmined/syftbus/internal/utils"
)

// bootstrapMinFiles is the download count below which per-file fetches are
// cheaper than a bulk stream.
const bootstrapMinFiles = 10

// maybeBootstrap pulls a large initial download set as one NDJSON stream
// instead of many round trips. Applies only on a fresh client with nothing
// tracked yet. Files the stream misses fall back to per-file downloads and
// stay in the returned work list.
func (e *SyncEngine) maybeBootstrap(ctx context.Context, items []*SyncItem) []*SyncItem {
	if e.state.Count() > 0 {
		return items
	}

	var candidates []*SyncItem
	for _, item := range items {
		if item.Action == ActionCreateLocal {
			candidates = append(candidates, item)
		}
	}
	if len(candidates) < bootstrapMinFiles {
		return items
	}

	byPath := make(map[string]*SyncItem, len(candidates))
	paths := make([]string, 0, len(candidates))
	for _, item := range candidates {
		byPath[item.RelPath] = item
		paths = append(paths, item.RelPath)
	}

	e.log.Info("bootstrapping datasites", "files", len(paths))

	fetched := make(map[string]bool, len(paths))
	err := e.sdk.Sync.DownloadBulk(ctx, paths, func(record *syftsdk.BulkFileRecord) error {
		rel := utils.NormPath(record.Path)
		item, ok := byPath[rel]
		if !ok {
			return nil
		}
		absPath := filepath.Join(e.ws.DatasitesDir, filepath.FromSlash(rel))
		if err := e.consumer.writeLocal(item, absPath, record.Content); err != nil {
			e.log.Warn("bootstrap write failed", "path", rel, "error", err)
			return nil
		}
		fetched[rel] = true
		return nil
	})
	if err != nil {
		e.log.Warn("bulk download failed, falling back to per-file sync", "error", err)
		return items
	}

	remaining := items[:0]
	for _, item := range items {
		if item.Action == ActionCreateLocal && fetched[item.RelPath] {
			continue
		}
		remaining = append(remaining, item)
	}
	return remaining
}
