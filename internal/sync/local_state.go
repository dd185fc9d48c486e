package sync

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/openmined/syftbus/internal/syftsdk"
	"github.com/openmined/syftbus/internal/utils"
)

const localStateFile = "sync.state.json"

// SyncEntry is the per-path record of the last pass.
type SyncEntry struct {
	LastSynced *syftsdk.FileMetadata `json:"last_synced,omitempty"`
	Status     SyncStatus            `json:"status"`
	Action     string                `json:"action"`
	Message    string                `json:"message,omitempty"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// LocalState is the on-disk record of what the engine last synced. It is
// owned exclusively by the sync worker. Corruption or out-of-band deletion
// is a fatal environment error.
type LocalState struct {
	path    string
	entries map[string]*SyncEntry
	saved   bool
	mu      sync.RWMutex
}

func NewLocalState(path string) *LocalState {
	return &LocalState{
		path:    path,
		entries: make(map[string]*SyncEntry),
	}
}

// Load reads the state file. A missing file on first load means a fresh
// client; a missing file after a successful save is fatal.
func (ls *LocalState) Load() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	data, err := os.ReadFile(ls.path)
	if err != nil {
		if os.IsNotExist(err) {
			if ls.saved {
				return &SyncEnvironmentError{Reason: fmt.Sprintf("local state %q deleted", ls.path)}
			}
			ls.entries = make(map[string]*SyncEntry)
			return nil
		}
		return fmt.Errorf("read local state: %w", err)
	}

	var entries map[string]*SyncEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return &SyncEnvironmentError{Reason: fmt.Sprintf("local state %q corrupted: %v", ls.path, err)}
	}
	if entries == nil {
		entries = make(map[string]*SyncEntry)
	}
	ls.entries = entries
	return nil
}

func (ls *LocalState) Save() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	data, err := json.MarshalIndent(ls.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal local state: %w", err)
	}
	if err := utils.WriteFileAtomic(ls.path, data, 0o644); err != nil {
		return fmt.Errorf("write local state: %w", err)
	}
	ls.saved = true
	return nil
}

// Validate checks that the state file still exists once it has been saved.
func (ls *LocalState) Validate() error {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	if ls.saved && !utils.FileExists(ls.path) {
		return &SyncEnvironmentError{Reason: fmt.Sprintf("local state %q deleted", ls.path)}
	}
	return nil
}

func (ls *LocalState) Get(relPath string) *SyncEntry {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.entries[relPath]
}

// LastSynced returns the previously synced metadata, or nil.
func (ls *LocalState) LastSynced(relPath string) *syftsdk.FileMetadata {
	if entry := ls.Get(relPath); entry != nil {
		return entry.LastSynced
	}
	return nil
}

func (ls *LocalState) Set(relPath string, entry *SyncEntry) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	entry.UpdatedAt = time.Now().UTC()
	ls.entries[relPath] = entry
}

func (ls *LocalState) Delete(relPath string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	delete(ls.entries, relPath)
}

func (ls *LocalState) Count() int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return len(ls.entries)
}

// Paths returns every tracked path.
func (ls *LocalState) Paths() []string {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	paths := make([]string, 0, len(ls.entries))
	for p := range ls.entries {
		paths = append(paths, p)
	}
	return paths
}
