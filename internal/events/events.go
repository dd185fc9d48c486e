package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rjeczalik/notify"

	"github.com/openmined/syftbus/internal/perm"
	"github.com/openmined/syftbus/internal/rpc"
	"github.com/openmined/syftbus/internal/utils"
	"github.com/openmined/syftbus/internal/workspace"
)

// DefaultMessageTimeout is how long request files linger before the janitor
// sweeps them.
const DefaultMessageTimeout = 10 * time.Minute

const eventChanSize = 256

var (
	ErrEndpointWildcard   = errors.New("endpoint must not contain wildcards")
	ErrEndpointRegistered = errors.New("endpoint already registered")
	ErrAlreadyStarted     = errors.New("dispatcher already started")
)

// EventFilter selects which filesystem changes a watch handler sees.
type EventFilter uint8

const (
	EventCreate EventFilter = 1 << iota
	EventModify
	EventDelete
	EventRename
)

// DefaultEventFilter fires on file creation and modification.
const DefaultEventFilter = EventCreate | EventModify

func (f EventFilter) String() string {
	var parts []string
	for _, e := range []struct {
		bit  EventFilter
		name string
	}{
		{EventCreate, "create"},
		{EventModify, "modify"},
		{EventDelete, "delete"},
		{EventRename, "rename"},
	} {
		if f&e.bit != 0 {
			parts = append(parts, e.name)
		}
	}
	return strings.Join(parts, "|")
}

// FileEvent is one filesystem change delivered to a watch handler.
type FileEvent struct {
	// RelPath is slash-separated, relative to the datasites root.
	RelPath string
	AbsPath string
	Type    EventFilter
}

// RequestHandler serves one RPC endpoint.
type RequestHandler func(*RequestContext) (any, error)

// WatchHandler observes glob-matched file changes.
type WatchHandler func(*FileEvent)

type watchBinding struct {
	globs   []string
	filter  EventFilter
	handler WatchHandler
}

// Events binds handlers to an app's rpc directory and to glob-matched paths
// under the datasites root, and dispatches filesystem changes to them. One
// value owns one app's dispatch lifecycle.
type Events struct {
	AppName string

	ws        *workspace.Workspace
	rpcClient *rpc.Client
	// rpcRoot is <datasites>/<owner>/api_data/<app>/rpc
	rpcRoot        string
	messageTimeout time.Duration
	log            *slog.Logger

	mu       sync.RWMutex
	handlers map[string]RequestHandler
	watches  []*watchBinding
	schemas  map[string]*EndpointSchema

	notifyCh chan notify.EventInfo
	started  bool
	stop     context.CancelFunc
	done     chan struct{}
}

type Option func(*Events)

func WithMessageTimeout(d time.Duration) Option {
	return func(e *Events) { e.messageTimeout = d }
}

func WithLogger(log *slog.Logger) Option {
	return func(e *Events) { e.log = log }
}

func NewEvents(ws *workspace.Workspace, appName string, opts ...Option) (*Events, error) {
	if appName == "" {
		return nil, errors.New("events: app name required")
	}

	e := &Events{
		AppName:        appName,
		ws:             ws,
		rpcClient:      rpc.NewClient(ws),
		rpcRoot:        filepath.Join(ws.DatasitesDir, ws.Owner, "api_data", appName, "rpc"),
		messageTimeout: DefaultMessageTimeout,
		log:            slog.Default(),
		handlers:       make(map[string]RequestHandler),
		schemas:        make(map[string]*EndpointSchema),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("app", appName)
	return e, nil
}

// RPCRoot is the absolute path of this app's rpc directory.
func (e *Events) RPCRoot() string {
	return e.rpcRoot
}

// OnRequest binds handler to the endpoint directory
// <datasites>/<owner>/api_data/<app>/rpc/<endpoint>/. The directory is
// created, with a permission file letting anyone drop request files in.
func (e *Events) OnRequest(endpoint string, handler RequestHandler) error {
	if strings.ContainsAny(endpoint, "*?[]{}") {
		return fmt.Errorf("%w: %q", ErrEndpointWildcard, endpoint)
	}
	endpoint = cleanEndpoint(endpoint)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.handlers[endpoint]; ok {
		return fmt.Errorf("%w: %q", ErrEndpointRegistered, endpoint)
	}

	epDir := filepath.Join(e.rpcRoot, filepath.FromSlash(endpoint))
	if err := utils.EnsureDir(epDir); err != nil {
		return fmt.Errorf("events: create endpoint dir: %w", err)
	}
	if err := e.ensureRPCPerms(); err != nil {
		return err
	}

	e.handlers[endpoint] = handler
	e.log.Debug("endpoint registered", "endpoint", endpoint)
	return nil
}

// ensureRPCPerms drops a permission file at the rpc root so request files
// from other datasites sync in. Holds e.mu.
func (e *Events) ensureRPCPerms() error {
	permPath := filepath.Join(e.rpcRoot, perm.PermFileName)
	if utils.FileExists(permPath) {
		return nil
	}
	rel, err := e.ws.DatasiteRelPath(e.rpcRoot)
	if err != nil {
		return fmt.Errorf("events: %w", err)
	}
	if err := perm.RPCDefault(e.ws.Owner, rel).Save(permPath); err != nil {
		return fmt.Errorf("events: write rpc permissions: %w", err)
	}
	return nil
}

// Watch binds handler to file events whose datasites-relative path matches
// any of the globs. Globs may use {email}, {datasite} and {api_data}
// placeholders; {api_data} resolves to the app's own directory
// (<owner>/api_data/<app>). A glob without a `**/` prefix gets one
// prepended.
func (e *Events) Watch(globs []string, filter EventFilter, handler WatchHandler) error {
	if len(globs) == 0 {
		return errors.New("events: watch needs at least one glob")
	}
	if filter == 0 {
		filter = DefaultEventFilter
	}

	resolved := make([]string, 0, len(globs))
	for _, g := range globs {
		g = e.resolvePlaceholders(g)
		if !strings.HasPrefix(g, "**/") && !strings.HasPrefix(g, "/") {
			g = "**/" + g
		}
		g = strings.TrimPrefix(g, "/")
		if !doublestar.ValidatePattern(g) {
			return fmt.Errorf("events: invalid glob %q", g)
		}
		resolved = append(resolved, g)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.watches = append(e.watches, &watchBinding{globs: resolved, filter: filter, handler: handler})
	e.log.Debug("watch registered", "globs", resolved, "filter", filter.String())
	return nil
}

func (e *Events) resolvePlaceholders(glob string) string {
	r := strings.NewReplacer(
		"{email}", e.ws.Owner,
		"{datasite}", e.ws.Owner,
		"{api_data}", path.Join(e.ws.Owner, "api_data", e.AppName),
	)
	return r.Replace(glob)
}

// Start replays pending requests, then begins watching the datasites tree.
// Replay completes before the first live event is handled.
func (e *Events) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.mu.Unlock()

	e.processPendingRequests()

	e.notifyCh = make(chan notify.EventInfo, eventChanSize)
	watchPath := filepath.Join(e.ws.DatasitesDir, "...")
	if err := notify.Watch(watchPath, e.notifyCh, notify.Create, notify.Write, notify.Remove, notify.Rename); err != nil {
		return fmt.Errorf("events: watch %q: %w", e.ws.DatasitesDir, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.stop = cancel
	e.done = make(chan struct{})

	go e.loop(runCtx)
	go e.janitor(runCtx)

	e.log.Info("dispatcher started", "rpc_root", e.rpcRoot)
	return nil
}

// RunForever starts the dispatcher and blocks until ctx is cancelled.
func (e *Events) RunForever(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	e.Stop()
	return nil
}

// Stop halts event delivery. Safe to call more than once.
func (e *Events) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	e.started = false

	notify.Stop(e.notifyCh)
	if e.stop != nil {
		e.stop()
	}
	if e.done != nil {
		<-e.done
	}
	e.log.Info("dispatcher stopped")
}

// loop serializes all handler invocations on one goroutine.
func (e *Events) loop(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.notifyCh:
			if !ok {
				return
			}
			e.handleEvent(ev)
		}
	}
}

func cleanEndpoint(endpoint string) string {
	return strings.Trim(path.Clean("/"+endpoint), "/")
}
