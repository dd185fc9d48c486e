package events

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

const janitorInterval = 1 * time.Second

// janitor sweeps registered endpoint directories for messages older than the
// message timeout. Permission files are spared.
func (e *Events) janitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep(time.Now())
		}
	}
}

func (e *Events) sweep(now time.Time) {
	e.mu.RLock()
	endpoints := make([]string, 0, len(e.handlers))
	for ep := range e.handlers {
		endpoints = append(endpoints, ep)
	}
	timeout := e.messageTimeout
	e.mu.RUnlock()

	for _, endpoint := range endpoints {
		epDir := filepath.Join(e.rpcRoot, filepath.FromSlash(endpoint))
		for _, stale := range sweepDir(epDir, timeout, now) {
			if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
				e.log.Warn("janitor could not remove file", "path", stale, "error", err)
				continue
			}
			e.log.Debug("janitor removed stale file", "path", stale)
		}
	}
}
