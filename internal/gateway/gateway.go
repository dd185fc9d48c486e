package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"

	"github.com/openmined/syftbus/internal/rpc"
	"github.com/openmined/syftbus/internal/workspace"
)

// DefaultBlockingTimeout bounds blocking /rpc calls so a stalled peer cannot
// pin a gateway worker forever.
const DefaultBlockingTimeout = 30 * time.Second

// Gateway is the local HTTP façade over file-based RPC. Non-participants
// send requests and poll futures through it without touching the datasites
// tree themselves.
type Gateway struct {
	ws        *workspace.Workspace
	rpcClient *rpc.Client
	futures   *rpc.FutureStore
	server    *http.Server
	log       *slog.Logger

	blockingTimeout time.Duration
	pollInterval    time.Duration
}

type Option func(*Gateway)

func WithBlockingTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.blockingTimeout = d }
}

func WithPollInterval(d time.Duration) Option {
	return func(g *Gateway) { g.pollInterval = d }
}

func New(addr string, ws *workspace.Workspace, futures *rpc.FutureStore, opts ...Option) *Gateway {
	g := &Gateway{
		ws:              ws,
		rpcClient:       rpc.NewClient(ws),
		futures:         futures,
		log:             slog.Default().With("component", "gateway"),
		blockingTimeout: DefaultBlockingTimeout,
		pollInterval:    rpc.DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.server = &http.Server{Addr: addr, Handler: g.setupRoutes()}
	return g
}

func (g *Gateway) setupRoutes() http.Handler {
	r := gin.New()
	r.Use(slogGin.New(slog.Default().WithGroup("gateway")))
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	r.POST("/rpc", g.SendRequest)
	r.GET("/rpc/status/:id", g.RequestStatus)
	r.GET("/rpc/schema/:app_name", g.AppSchema)
	return r
}

// Start serves until ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	g.log.Info("gateway start", "addr", g.server.Addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway: %w", err)
	case <-ctx.Done():
		return g.Stop(context.Background())
	}
}

func (g *Gateway) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return g.server.Shutdown(shutdownCtx)
}
