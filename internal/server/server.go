package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openmined/syftbus/internal/db"
	"github.com/openmined/syftbus/internal/perm"
)

// DefaultAddr is where the server listens unless told otherwise.
const DefaultAddr = ":8080"

// Config holds the sync server settings.
type Config struct {
	// HTTPAddr is the listen address, e.g. ":8080".
	HTTPAddr string
	// DataDir is the root of the server-side datasites tree.
	DataDir string
	// DBPath is the sqlite file backing the permission index. Empty means
	// in-memory.
	DBPath string
	// CertFile/KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string
}

// Server hosts the sync API over one datasites tree.
type Server struct {
	config *Config
	server *http.Server
	store  *DatasiteStore
	log    *slog.Logger
}

func New(config *Config) (*Server, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("server: data dir required")
	}
	dbPath := config.DBPath
	if dbPath == "" {
		dbPath = ":memory:"
	}

	sqliteDB, err := db.NewSqliteDB(db.WithPath(dbPath))
	if err != nil {
		return nil, fmt.Errorf("server: open db: %w", err)
	}
	perms, err := perm.NewStore(sqliteDB)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	log := slog.Default().With("component", "server")
	store, err := NewDatasiteStore(config.DataDir, perms, log)
	if err != nil {
		return nil, err
	}

	return &Server{
		config: config,
		store:  store,
		log:    log,
		server: &http.Server{
			Addr:    config.HTTPAddr,
			Handler: SetupRoutes(store),
		},
	}, nil
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.runHTTPServer(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
		s.log.Info("shutdown signal")
		return s.Stop(context.Background())
	}
}

func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) runHTTPServer() error {
	if s.config.CertFile != "" && s.config.KeyFile != "" {
		s.log.Info("server start tls", "addr", s.config.HTTPAddr)
		return s.server.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
	}
	s.log.Info("server start http", "addr", s.config.HTTPAddr)
	return s.server.ListenAndServe()
}
