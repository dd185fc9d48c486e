package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/openmined/syftbus/internal/db"
	"github.com/openmined/syftbus/internal/events"
	"github.com/openmined/syftbus/internal/gateway"
	"github.com/openmined/syftbus/internal/rpc"
	"github.com/openmined/syftbus/internal/sync"
	"github.com/openmined/syftbus/internal/syftsdk"
	"github.com/openmined/syftbus/internal/workspace"
)

const futureSweepInterval = 1 * time.Minute

// Client is the daemon gluing the pieces together: the synced workspace,
// the server SDK, the sync engine, the event dispatcher and the local RPC
// gateway.
type Client struct {
	config *Config

	ws      *workspace.Workspace
	sdk     *syftsdk.SyftSDK
	engine  *sync.SyncEngine
	events  *events.Events
	gateway *gateway.Gateway
	futures *rpc.FutureStore
	rpc     *rpc.Client
}

func New(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ws, err := workspace.NewWorkspace(config.DataDir, config.Email)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	sdk, err := syftsdk.New(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	var engineOpts []sync.EngineOption
	if config.SyncInterval > 0 {
		engineOpts = append(engineOpts, sync.WithSyncInterval(config.SyncInterval))
	}

	dispatcher, err := events.NewEvents(ws, config.AppName)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	c := &Client{
		config: config,
		ws:     ws,
		sdk:    sdk,
		engine: sync.NewSyncEngine(ws, sdk, slog.Default(), engineOpts...),
		events: dispatcher,
		rpc:    rpc.NewClient(ws),
	}

	if config.GatewayAddr != "" {
		sqliteDB, err := db.NewSqliteDB(db.WithPath(config.FutureDBPath()))
		if err != nil {
			return nil, fmt.Errorf("client: open future db: %w", err)
		}
		c.futures, err = rpc.NewFutureStore(sqliteDB, ws.DatasitesDir)
		if err != nil {
			return nil, fmt.Errorf("client: %w", err)
		}
		c.gateway = gateway.New(config.GatewayAddr, ws, c.futures)
	}

	return c, nil
}

// Events exposes the built-in dispatcher so handlers can be registered
// before Start.
func (c *Client) Events() *events.Events {
	return c.events
}

// RPC exposes the file-based RPC client bound to this workspace.
func (c *Client) RPC() *rpc.Client {
	return c.rpc
}

// Workspace exposes the client's workspace paths.
func (c *Client) Workspace() *workspace.Workspace {
	return c.ws
}

// Start brings the daemon up and blocks until ctx is cancelled or a fatal
// error occurs. Sync environment errors are fatal.
func (c *Client) Start(ctx context.Context) error {
	slog.Info("client start",
		"session", uuid.NewString(),
		"data_dir", c.config.DataDir,
		"email", c.config.Email,
		"server", c.config.ServerURL,
	)

	if err := c.ws.Setup(); err != nil {
		return fmt.Errorf("client: workspace setup: %w", err)
	}
	defer c.ws.Unlock()

	if err := c.sdk.Login(c.config.Email); err != nil {
		return fmt.Errorf("client: login: %w", err)
	}
	if who, err := c.sdk.Auth.Whoami(ctx); err != nil {
		slog.Warn("server identity check failed", "error", err)
	} else if who.Email != c.config.Email {
		return fmt.Errorf("client: server sees %q, configured as %q", who.Email, c.config.Email)
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return c.engine.Start(egCtx)
	})

	eg.Go(func() error {
		return c.events.RunForever(egCtx)
	})

	if c.gateway != nil {
		eg.Go(func() error {
			return c.gateway.Start(egCtx)
		})
		eg.Go(func() error {
			c.sweepFutures(egCtx)
			return nil
		})
	}

	err := eg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("client failure", "error", err)
		return err
	}
	slog.Info("client stop")
	return nil
}

// sweepFutures drops expired future rows so status polls stay bounded.
func (c *Client) sweepFutures(ctx context.Context) {
	ticker := time.NewTicker(futureSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := c.futures.CleanupExpired(); err != nil {
				slog.Warn("future cleanup failed", "error", err)
			} else if n > 0 {
				slog.Debug("expired futures removed", "count", n)
			}
		}
	}
}
