package rpc

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/openmined/syftbus/internal/syftmsg"
	"github.com/openmined/syftbus/internal/syfturl"
	"github.com/openmined/syftbus/internal/utils"
	"github.com/openmined/syftbus/internal/workspace"
)

const DefaultExpiryStr = "1d"

// Client writes request and response files into the local datasites tree.
// The sync engine carries them to the other side.
type Client struct {
	Email        string
	DatasitesDir string
}

func NewClient(ws *workspace.Workspace) *Client {
	return &Client{
		Email:        ws.Owner,
		DatasitesDir: ws.DatasitesDir,
	}
}

// SendOpts configures a single send.
type SendOpts struct {
	URL     *syfturl.SyftURL
	Method  syftmsg.SyftMethod
	Headers map[string]string
	Body    []byte
	// Expiry is "Nd|Nh|Nm|Ns". Empty means DefaultExpiryStr.
	Expiry string
	// Cache derives the message id from the content hash so identical
	// calls collapse onto one pending request.
	Cache bool
}

// Send writes a request file and returns a Future over it.
func (c *Client) Send(opts *SendOpts) (*Future, error) {
	if opts == nil || opts.URL == nil {
		return nil, errors.New("send: missing url")
	}

	method := opts.Method
	if method == "" {
		method = syftmsg.MethodGET
	}
	if !method.Valid() {
		return nil, fmt.Errorf("send: invalid method %q", opts.Method)
	}

	expiryStr := opts.Expiry
	if expiryStr == "" {
		expiryStr = DefaultExpiryStr
	}
	expiry, err := ParseDuration(expiryStr)
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	req := syftmsg.NewSyftRequest(c.Email, *opts.URL, method, opts.Headers, opts.Body, expiry)

	localPath := opts.URL.ToLocalPath(c.DatasitesDir)
	if err := utils.EnsureDir(localPath); err != nil {
		return nil, fmt.Errorf("send: create %q: %w", localPath, err)
	}

	if opts.Cache {
		hash, err := req.MessageHash()
		if err != nil {
			return nil, fmt.Errorf("send: %w", err)
		}
		req.ID = hash

		future := c.futureFor(req, localPath)
		if existing, err := syftmsg.LoadRequestFile(future.RequestPath()); err == nil {
			if !existing.IsExpired() {
				slog.Debug("rpc send cached", "id", req.ID, "url", opts.URL.String())
				future.Expires = existing.Expires
				future.Request = existing
				return future, nil
			}
			// stale cached call, replace it
			if err := os.Remove(future.RequestPath()); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("send: remove expired request: %w", err)
			}
			_ = os.Remove(future.ResponsePath())
		}
	}

	future := c.futureFor(req, localPath)
	if err := req.DumpFile(future.RequestPath()); err != nil {
		return nil, fmt.Errorf("send: write request: %w", err)
	}

	slog.Debug("rpc send", "id", req.ID, "url", opts.URL.String(), "expires", req.Expires)
	return future, nil
}

func (c *Client) futureFor(req *syftmsg.SyftRequest, localPath string) *Future {
	return &Future{
		ID:        req.ID,
		URL:       req.URL,
		LocalPath: localPath,
		Expires:   req.Expires,
		Request:   req,
	}
}

// Broadcast sends the same payload to many receivers. Per-URL failures are
// isolated; the bulk future holds whatever succeeded.
func (c *Client) Broadcast(urls []*syfturl.SyftURL, opts *SendOpts) (*BulkFuture, error) {
	if len(urls) == 0 {
		return nil, errors.New("broadcast: no urls")
	}

	bulk := &BulkFuture{Futures: make([]*Future, 0, len(urls))}
	var errs []error
	for _, url := range urls {
		send := *opts
		send.URL = url
		future, err := c.Send(&send)
		if err != nil {
			slog.Warn("rpc broadcast", "url", url.String(), "error", err)
			errs = append(errs, err)
			continue
		}
		bulk.Futures = append(bulk.Futures, future)
	}

	if len(bulk.Futures) == 0 {
		return nil, fmt.Errorf("broadcast: all sends failed: %w", errors.Join(errs...))
	}
	return bulk, nil
}

// ReplyTo writes a response next to the request it answers. The response
// keeps the request's id, url and expiry.
func (c *Client) ReplyTo(req *syftmsg.SyftRequest, status syftmsg.SyftStatus, headers map[string]string, body []byte) (*syftmsg.SyftResponse, error) {
	res := syftmsg.NewSyftResponse(req, c.Email, status, headers, body)

	localPath := req.URL.ToLocalPath(c.DatasitesDir)
	if err := utils.EnsureDir(localPath); err != nil {
		return nil, fmt.Errorf("reply: create %q: %w", localPath, err)
	}

	resPath := filepath.Join(localPath, syftmsg.ResponseFileName(res.ID))
	if err := res.DumpFile(resPath); err != nil {
		return nil, fmt.Errorf("reply: write response: %w", err)
	}

	slog.Debug("rpc reply", "id", res.ID, "status", res.StatusCode)
	return res, nil
}
