package client

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/openmined/syftbus/internal/utils"
)

const (
	DefaultServerURL   = "https://syftbus.openmined.org"
	DefaultGatewayAddr = "localhost:7938"
	DefaultAppName     = "syftbus"
)

// Config holds everything a client daemon needs to run.
type Config struct {
	// Path is where this config was loaded from, if anywhere.
	Path string

	DataDir   string
	Email     string
	ServerURL string

	// GatewayAddr is the local RPC façade listen address. Empty disables
	// the gateway.
	GatewayAddr string
	// AppName namespaces the built-in dispatcher's rpc directory.
	AppName string

	SyncInterval time.Duration
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data dir required")
	}
	if !filepath.IsAbs(c.DataDir) {
		abs, err := filepath.Abs(c.DataDir)
		if err != nil {
			return fmt.Errorf("config: resolve data dir: %w", err)
		}
		c.DataDir = abs
	}
	if err := utils.ValidateEmail(c.Email); err != nil {
		return fmt.Errorf("config: email: %w", err)
	}
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.AppName == "" {
		c.AppName = DefaultAppName
	}
	return nil
}

// FutureDBPath is the sqlite file backing the gateway's future rows.
func (c *Config) FutureDBPath() string {
	return filepath.Join(c.DataDir, "plugins", "futures.db")
}
