package events

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-json"
	"github.com/rjeczalik/notify"

	"github.com/openmined/syftbus/internal/perm"
	"github.com/openmined/syftbus/internal/syftmsg"
	"github.com/openmined/syftbus/internal/syfturl"
	"github.com/openmined/syftbus/internal/utils"
)

const (
	contentTypeHeader = "content-type"
	contentTypeText   = "text/plain"
	contentTypeJSON   = "application/json"
	contentTypeBytes  = "application/octet-stream"
)

func eventType(ev notify.Event) EventFilter {
	var f EventFilter
	if ev&notify.Create != 0 {
		f |= EventCreate
	}
	if ev&notify.Write != 0 {
		f |= EventModify
	}
	if ev&notify.Remove != 0 {
		f |= EventDelete
	}
	if ev&notify.Rename != 0 {
		f |= EventRename
	}
	return f
}

func (e *Events) handleEvent(ev notify.EventInfo) {
	absPath := ev.Path()
	rel, err := filepath.Rel(e.ws.DatasitesDir, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	rel = utils.NormPath(rel)
	evType := eventType(ev.Event())

	if evType&EventCreate != 0 && strings.HasSuffix(rel, syftmsg.RequestExt) {
		if endpoint, ok := e.endpointFor(absPath); ok {
			e.dispatchRequest(endpoint, absPath)
		}
	}

	e.mu.RLock()
	watches := e.watches
	e.mu.RUnlock()

	for _, w := range watches {
		if w.filter&evType == 0 {
			continue
		}
		for _, g := range w.globs {
			if ok, _ := doublestar.Match(g, rel); ok {
				w.handler(&FileEvent{RelPath: rel, AbsPath: absPath, Type: evType})
				break
			}
		}
	}
}

// endpointFor maps a request file path back to its registered endpoint.
func (e *Events) endpointFor(absPath string) (string, bool) {
	rel, err := filepath.Rel(e.rpcRoot, filepath.Dir(absPath))
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	endpoint := utils.NormPath(rel)

	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.handlers[endpoint]
	return endpoint, ok
}

// processPendingRequests replays every request file that has no sibling
// response yet. Crash recovery: requests that arrived while the dispatcher
// was down are served before live events.
func (e *Events) processPendingRequests() {
	e.mu.RLock()
	endpoints := make([]string, 0, len(e.handlers))
	for ep := range e.handlers {
		endpoints = append(endpoints, ep)
	}
	e.mu.RUnlock()

	var replayed int
	for _, endpoint := range endpoints {
		epDir := filepath.Join(e.rpcRoot, filepath.FromSlash(endpoint))
		entries, err := filepath.Glob(filepath.Join(epDir, "*"+syftmsg.RequestExt))
		if err != nil {
			continue
		}
		for _, reqPath := range entries {
			resPath := strings.TrimSuffix(reqPath, syftmsg.RequestExt) + syftmsg.ResponseExt
			if utils.FileExists(resPath) {
				continue
			}
			e.dispatchRequest(endpoint, reqPath)
			replayed++
		}
	}
	if replayed > 0 {
		e.log.Info("replayed pending requests", "count", replayed)
	}
}

// dispatchRequest runs the full pipeline for one request file: load, expiry
// check, invoke, coerce, reply. Handler panics and errors become 500
// responses so the sender always hears back.
func (e *Events) dispatchRequest(endpoint string, reqPath string) {
	e.mu.RLock()
	handler := e.handlers[endpoint]
	e.mu.RUnlock()
	if handler == nil {
		return
	}

	req, err := syftmsg.LoadRequestFile(reqPath)
	if err != nil {
		e.log.Warn("malformed request", "path", reqPath, "error", err)
		e.writeOrphanError(reqPath, fmt.Sprintf("malformed request: %v", err))
		return
	}
	if req.IsExpired() {
		e.log.Debug("dropping expired request", "id", req.ID, "endpoint", endpoint)
		return
	}

	result, err := e.invoke(handler, &RequestContext{Request: req, Endpoint: endpoint})
	if err != nil {
		e.reply(req, syftmsg.StatusServerError, contentTypeText, []byte(err.Error()))
		return
	}

	body, contentType, err := coerceResult(result)
	if err != nil {
		e.reply(req, syftmsg.StatusServerError, contentTypeText, []byte(err.Error()))
		return
	}
	e.reply(req, syftmsg.StatusOK, contentType, body)
}

func (e *Events) invoke(handler RequestHandler, ctx *RequestContext) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx)
}

func (e *Events) reply(req *syftmsg.SyftRequest, status syftmsg.SyftStatus, contentType string, body []byte) {
	headers := map[string]string{contentTypeHeader: contentType}
	if _, err := e.rpcClient.ReplyTo(req, status, headers, body); err != nil {
		e.log.Error("could not write response", "id", req.ID, "error", err)
	}
}

// writeOrphanError answers a request file that would not even parse. The id
// comes from the filename, the url from the file's location.
func (e *Events) writeOrphanError(reqPath string, message string) {
	id := strings.TrimSuffix(filepath.Base(reqPath), syftmsg.RequestExt)
	url, err := syfturl.FromPath(filepath.Dir(reqPath), e.ws.DatasitesDir)
	if err != nil {
		return
	}

	res := &syftmsg.SyftResponse{
		ID:         id,
		Sender:     e.ws.Owner,
		URL:        *url,
		StatusCode: syftmsg.StatusServerError,
		Headers:    map[string]string{contentTypeHeader: contentTypeText},
		Body:       []byte(message),
		Timestamp:  time.Now().UTC(),
		Expires:    time.Now().UTC().Add(syftmsg.DefaultExpiry),
	}
	resPath := filepath.Join(filepath.Dir(reqPath), syftmsg.ResponseFileName(id))
	if err := res.DumpFile(resPath); err != nil {
		e.log.Error("could not write error response", "path", resPath, "error", err)
	}
}

// coerceResult normalizes a handler's return value onto the wire.
func coerceResult(result any) (body []byte, contentType string, err error) {
	switch v := result.(type) {
	case nil:
		return []byte{}, contentTypeText, nil
	case []byte:
		return v, contentTypeBytes, nil
	case string:
		return []byte(v), contentTypeText, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("encode response: %w", err)
		}
		return data, contentTypeJSON, nil
	}
}

// sweepDir is the janitor's unit of work: expired non-permission files in
// one endpoint directory.
func sweepDir(dir string, maxAge time.Duration, now time.Time) []string {
	var removed []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if perm.IsPermFile(p) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if now.Sub(info.ModTime()) > maxAge {
			removed = append(removed, p)
		}
		return nil
	})
	return removed
}
