package rpc

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/openmined/syftbus/internal/syftmsg"
	"github.com/openmined/syftbus/internal/syfturl"
	"github.com/openmined/syftbus/internal/utils"
)

// SystemSender marks synthetic responses fabricated by the resolver.
const SystemSender = "SYSTEM"

const DefaultPollInterval = 500 * time.Millisecond

var (
	ErrTimeout     = errors.New("timed out waiting for response")
	ErrInvalidWait = errors.New("timeout and poll interval must be greater than 0")
)

// State of a future. All states except StatePending are terminal.
type State int

const (
	StatePending State = iota
	StateCompleted
	StateRejected
	StateDeleted
	StateExpired
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	case StateRejected:
		return "rejected"
	case StateDeleted:
		return "deleted"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

func (s State) Terminal() bool {
	return s != StatePending
}

// Future tracks an in-flight request by the files next to it. Two futures
// are interchangeable iff their IDs match.
type Future struct {
	ID        string          `json:"id"`
	URL       syfturl.SyftURL `json:"url"`
	LocalPath string          `json:"path"`
	Expires   time.Time       `json:"expires"`

	Request *syftmsg.SyftRequest `json:"-"`
}

// FutureFromRequestFile rebuilds a future from a request file on disk, so
// in-flight calls survive a restart.
func FutureFromRequestFile(requestPath string) (*Future, error) {
	req, err := syftmsg.LoadRequestFile(requestPath)
	if err != nil {
		return nil, fmt.Errorf("recover future: %w", err)
	}
	return &Future{
		ID:        req.ID,
		URL:       req.URL,
		LocalPath: filepath.Dir(requestPath),
		Expires:   req.Expires,
		Request:   req,
	}, nil
}

func (f *Future) RequestPath() string {
	return filepath.Join(f.LocalPath, syftmsg.RequestFileName(f.ID))
}

func (f *Future) ResponsePath() string {
	return filepath.Join(f.LocalPath, syftmsg.ResponseFileName(f.ID))
}

func (f *Future) RejectedPath() string {
	return filepath.Join(f.LocalPath, syftmsg.RejectedFileName(f.ID))
}

func (f *Future) IsExpired() bool {
	return time.Now().UTC().After(f.Expires)
}

func (f *Future) Equal(other *Future) bool {
	return other != nil && f.ID == other.ID
}

// Resolve inspects the files next to the request and returns the response
// plus the observed state. Pending returns a nil response. Precedence:
// rejected > completed > deleted > expired > pending.
func (f *Future) Resolve() (*syftmsg.SyftResponse, State, error) {
	if utils.FileExists(f.RejectedPath()) {
		return f.systemResponse(syftmsg.StatusForbidden, nil), StateRejected, nil
	}

	if utils.FileExists(f.ResponsePath()) {
		return f.loadResponse()
	}

	if !utils.FileExists(f.RequestPath()) {
		// both sides gone, swept by an expiry janitor
		return f.systemResponse(syftmsg.StatusNotFound, nil), StateDeleted, nil
	}

	req, err := syftmsg.LoadRequestFile(f.RequestPath())
	if err != nil {
		return nil, StatePending, fmt.Errorf("resolve %s: %w", f.ID, err)
	}
	if req.IsExpired() {
		return f.systemResponse(syftmsg.StatusExpired, nil), StateExpired, nil
	}

	return nil, StatePending, nil
}

func (f *Future) loadResponse() (*syftmsg.SyftResponse, State, error) {
	res, err := syftmsg.LoadResponseFile(f.ResponsePath())
	if err != nil {
		// a broken response file still terminates the future
		return f.systemResponse(syftmsg.StatusServerError, []byte(err.Error())), StateCompleted, nil
	}
	if res.IsExpired() {
		res.StatusCode = syftmsg.StatusExpired
	}
	return res, StateCompleted, nil
}

func (f *Future) systemResponse(status syftmsg.SyftStatus, body []byte) *syftmsg.SyftResponse {
	now := time.Now().UTC()
	return &syftmsg.SyftResponse{
		ID:         f.ID,
		Sender:     SystemSender,
		URL:        f.URL,
		StatusCode: status,
		Headers:    map[string]string{},
		Body:       body,
		Timestamp:  now,
		Expires:    now.Add(syftmsg.DefaultExpiry),
	}
}

// Wait polls Resolve until a terminal state or the deadline.
func (f *Future) Wait(ctx context.Context, timeout time.Duration, pollInterval time.Duration) (*syftmsg.SyftResponse, error) {
	if timeout <= 0 || pollInterval <= 0 {
		return nil, ErrInvalidWait
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		res, state, err := f.Resolve()
		if err != nil {
			return nil, err
		}
		if state.Terminal() {
			return res, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, f.ID, timeout)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// BulkFuture fans one request out to many receivers.
type BulkFuture struct {
	Futures []*Future `json:"futures"`
}

// ID is deterministic over the member ids, so the same broadcast maps to
// the same bulk id everywhere.
func (b *BulkFuture) ID() string {
	h := sha256.New()
	for _, f := range b.Futures {
		h.Write([]byte(f.ID))
	}
	var id ulid.ULID
	copy(id[:], h.Sum(nil))
	return id.String()
}

// GatherCompleted waits for all futures concurrently and returns whatever
// resolved to a terminal state before the deadline. Futures that time out
// are dropped.
func (b *BulkFuture) GatherCompleted(ctx context.Context, timeout time.Duration, pollInterval time.Duration) ([]*syftmsg.SyftResponse, error) {
	if timeout <= 0 || pollInterval <= 0 {
		return nil, ErrInvalidWait
	}

	var mu sync.Mutex
	responses := make([]*syftmsg.SyftResponse, 0, len(b.Futures))

	g, gctx := errgroup.WithContext(ctx)
	for _, future := range b.Futures {
		g.Go(func() error {
			res, err := future.Wait(gctx, timeout, pollInterval)
			if err != nil {
				if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				return err
			}
			mu.Lock()
			responses = append(responses, res)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}
