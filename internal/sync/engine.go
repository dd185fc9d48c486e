package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/openmined/syftbus/internal/queue"
	"github.com/openmined/syftbus/internal/syftsdk"
	"github.com/openmined/syftbus/internal/utils"
	"github.com/openmined/syftbus/internal/workspace"
)

// DefaultSyncInterval is the pause between full sync passes.
const DefaultSyncInterval = 5 * time.Second

// SyncEngine reconciles the local datasites tree with the server. Each pass
// fetches the remote state, scans the local tree, decides an action per path
// from the (local, previous, remote) triple, and drains the resulting work
// queue permission-files-first.
type SyncEngine struct {
	ws       *workspace.Workspace
	sdk      *syftsdk.SyftSDK
	state    *LocalState
	ignore   *SyncIgnoreList
	priority *SyncPriorityList
	consumer *SyncConsumer
	interval time.Duration
	log      *slog.Logger

	// serializes passes, a tick that lands mid-pass is skipped
	runMu sync.Mutex
}

type EngineOption func(*SyncEngine)

func WithSyncInterval(d time.Duration) EngineOption {
	return func(e *SyncEngine) { e.interval = d }
}

func WithIgnoreLines(lines ...string) EngineOption {
	return func(e *SyncEngine) { e.ignore = NewSyncIgnoreList(lines...) }
}

func NewSyncEngine(ws *workspace.Workspace, sdk *syftsdk.SyftSDK, log *slog.Logger, opts ...EngineOption) *SyncEngine {
	e := &SyncEngine{
		ws:       ws,
		sdk:      sdk,
		state:    NewLocalState(filepath.Join(ws.PluginsDir, localStateFile)),
		ignore:   NewSyncIgnoreList(),
		priority: NewSyncPriorityList(),
		interval: DefaultSyncInterval,
		log:      log.With("component", "sync.engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.consumer = NewSyncConsumer(sdk, ws.DatasitesDir, e.state, log)
	return e
}

// Start runs sync passes until ctx is cancelled. Environment errors are
// fatal and returned; everything else is logged and retried next tick.
func (e *SyncEngine) Start(ctx context.Context) error {
	if err := e.state.Load(); err != nil {
		return err
	}

	e.log.Info("sync engine started", "interval", e.interval)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		if err := e.RunOnce(ctx); err != nil {
			var envErr *SyncEnvironmentError
			if errors.As(err, &envErr) {
				return err
			}
			if errors.Is(err, ErrSyncAlreadyRunning) || errors.Is(err, context.Canceled) {
				// fine, next tick
			} else {
				e.log.Error("sync pass failed", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			e.log.Info("sync engine stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs one full reconciliation pass.
func (e *SyncEngine) RunOnce(ctx context.Context) error {
	if !e.runMu.TryLock() {
		return ErrSyncAlreadyRunning
	}
	defer e.runMu.Unlock()

	if err := e.validateEnvironment(); err != nil {
		return err
	}

	remote, err := e.fetchRemoteState(ctx)
	if err != nil {
		return fmt.Errorf("fetch remote state: %w", err)
	}

	local, err := ScanDatasites(e.ws.DatasitesDir, e.ignore, e.scanCache())
	if err != nil {
		return fmt.Errorf("scan local state: %w", err)
	}

	items := e.decide(local, remote)
	items = e.maybeBootstrap(ctx, items)

	pq := queue.NewPriorityQueue[*SyncItem]()
	for _, item := range items {
		pq.Enqueue(item, e.priority.Priority(item))
	}

	var failed int
	for pq.Len() > 0 {
		if ctx.Err() != nil {
			break
		}
		item, _ := pq.Dequeue()
		if err := e.consumer.Process(ctx, item); err != nil {
			failed++
			e.log.Warn("sync item failed", "error", err)
		}
	}

	if err := e.state.Save(); err != nil {
		return err
	}

	if len(items) > 0 {
		e.log.Info("sync pass complete", "items", len(items), "failed", failed)
	}
	return ctx.Err()
}

// validateEnvironment catches the workspace being pulled out from under us.
func (e *SyncEngine) validateEnvironment() error {
	if !utils.DirExists(e.ws.DatasitesDir) {
		return &SyncEnvironmentError{Reason: fmt.Sprintf("datasites dir %q missing", e.ws.DatasitesDir)}
	}
	return e.state.Validate()
}

// scanCache exposes the last-synced metadata so the walker can skip hashing
// files whose size and mtime are unchanged.
func (e *SyncEngine) scanCache() map[string]*syftsdk.FileMetadata {
	cache := make(map[string]*syftsdk.FileMetadata)
	for _, p := range e.state.Paths() {
		if meta := e.state.LastSynced(p); meta != nil {
			cache[p] = meta
		}
	}
	return cache
}

// fetchRemoteState flattens the per-datasite listing into one path-keyed map.
func (e *SyncEngine) fetchRemoteState(ctx context.Context) (map[string]*syftsdk.FileMetadata, error) {
	datasites, err := e.sdk.Sync.DatasiteStates(ctx)
	if err != nil {
		return nil, err
	}

	remote := make(map[string]*syftsdk.FileMetadata)
	for _, files := range datasites {
		for _, meta := range files {
			rel := utils.NormPath(meta.Path)
			if e.ignore.ShouldIgnore(rel) {
				continue
			}
			remote[rel] = meta
		}
	}
	return remote, nil
}

// decide builds the work list from the union of local, tracked and remote
// paths.
func (e *SyncEngine) decide(local, remote map[string]*syftsdk.FileMetadata) []*SyncItem {
	paths := mapset.NewThreadUnsafeSetWithSize[string](len(local) + len(remote))
	for p := range local {
		paths.Add(p)
	}
	for p := range remote {
		paths.Add(p)
	}
	paths.Append(e.state.Paths()...)

	var items []*SyncItem
	for p := range paths.Iter() {
		localMeta := local[p]
		remoteMeta := remote[p]
		prevMeta := e.state.LastSynced(p)

		// rejected paths stay parked until their local content changes
		if entry := e.state.Get(p); entry != nil && entry.Status == StatusRejected {
			if localMeta != nil && entry.LastSynced != nil && localMeta.Equal(entry.LastSynced) {
				continue
			}
		}

		action := DecideAction(localMeta, prevMeta, remoteMeta)
		if action == ActionNoop {
			if localMeta == nil && remoteMeta == nil {
				// tombstone fully propagated, forget the path
				e.state.Delete(p)
			} else if localMeta != nil {
				e.state.Set(p, &SyncEntry{
					LastSynced: localMeta,
					Status:     StatusSynced,
					Action:     ActionNoop.String(),
				})
			}
			continue
		}

		if action == ActionCreateRemote || action == ActionModifyRemote {
			if localMeta != nil && e.ignore.ShouldIgnoreUpload(p, localMeta.FileSize, false) {
				continue
			}
		}

		items = append(items, &SyncItem{
			RelPath: p,
			Action:  action,
			Local:   localMeta,
			Prev:    prevMeta,
			Remote:  remoteMeta,
		})
	}
	return items
}
