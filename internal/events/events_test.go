package events

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmined/syftbus/internal/perm"
	"github.com/openmined/syftbus/internal/syftmsg"
	"github.com/openmined/syftbus/internal/syfturl"
	"github.com/openmined/syftbus/internal/utils"
	"github.com/openmined/syftbus/internal/workspace"
)

const (
	testOwner = "alice@example.com"
	testApp   = "pingpong"
)

func newTestEvents(t *testing.T, opts ...Option) (*Events, *workspace.Workspace) {
	t.Helper()

	ws, err := workspace.NewWorkspace(t.TempDir(), testOwner)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(ws.DatasitesDir, 0o755))

	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	events, err := NewEvents(ws, testApp, opts...)
	require.NoError(t, err)
	return events, ws
}

func writeRequest(t *testing.T, events *Events, endpoint, sender string, body []byte, expiry time.Duration) *syftmsg.SyftRequest {
	t.Helper()

	url := syfturl.RPCEndpoint(testOwner, testApp, endpoint)
	req := syftmsg.NewSyftRequest(sender, *url, syftmsg.MethodPOST, nil, body, expiry)
	if expiry < 0 {
		// a constructor never issues pre-expired requests, force one
		req.Expires = time.Now().UTC().Add(expiry)
	}

	epDir := filepath.Join(events.RPCRoot(), endpoint)
	require.NoError(t, utils.EnsureDir(epDir))
	require.NoError(t, req.DumpFile(filepath.Join(epDir, syftmsg.RequestFileName(req.ID))))
	return req
}

func loadResponse(t *testing.T, events *Events, endpoint, id string) *syftmsg.SyftResponse {
	t.Helper()
	resPath := filepath.Join(events.RPCRoot(), endpoint, syftmsg.ResponseFileName(id))
	res, err := syftmsg.LoadResponseFile(resPath)
	require.NoError(t, err)
	return res
}

func TestOnRequestRejectsWildcards(t *testing.T) {
	events, _ := newTestEvents(t)

	for _, endpoint := range []string{"ping/*", "p?ng", "[ping]", "{a,b}"} {
		err := events.OnRequest(endpoint, func(*RequestContext) (any, error) { return nil, nil })
		assert.ErrorIs(t, err, ErrEndpointWildcard, endpoint)
	}
}

func TestOnRequestRejectsDuplicates(t *testing.T) {
	events, _ := newTestEvents(t)
	handler := func(*RequestContext) (any, error) { return nil, nil }

	require.NoError(t, events.OnRequest("ping", handler))
	assert.ErrorIs(t, events.OnRequest("/ping", handler), ErrEndpointRegistered)
}

func TestOnRequestCreatesEndpointDirWithPerms(t *testing.T) {
	events, ws := newTestEvents(t)

	require.NoError(t, events.OnRequest("ping", func(*RequestContext) (any, error) { return nil, nil }))

	assert.DirExists(t, filepath.Join(events.RPCRoot(), "ping"))

	permPath := filepath.Join(events.RPCRoot(), perm.PermFileName)
	rs, err := perm.LoadFile(permPath, ws.DatasitesDir)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 2)
	assert.Equal(t, testOwner, rs.Rules[0].User)
	assert.Equal(t, perm.TokenEveryone, rs.Rules[1].User)
	assert.True(t, rs.Rules[1].Has(perm.PermCreate))
}

func TestWatchPlaceholdersAndPrefix(t *testing.T) {
	events, _ := newTestEvents(t)

	require.NoError(t, events.Watch(
		[]string{"{datasite}/public/*.txt", "{api_data}/inbox/**", "*.json"},
		0,
		func(*FileEvent) {},
	))

	require.Len(t, events.watches, 1)
	w := events.watches[0]
	assert.Equal(t, []string{
		testOwner + "/public/*.txt",
		// {api_data} is the app's own directory
		testOwner + "/api_data/" + testApp + "/inbox/**",
		"**/*.json",
	}, w.globs)
	assert.Equal(t, DefaultEventFilter, w.filter)
}

func TestCoerceResult(t *testing.T) {
	cases := []struct {
		name        string
		in          any
		wantBody    string
		wantContent string
	}{
		{"nil", nil, "", contentTypeText},
		{"string", "pong", "pong", contentTypeText},
		{"bytes", []byte{0x01, 0x02}, "\x01\x02", contentTypeBytes},
		{"map", map[string]string{"msg": "pong"}, `{"msg":"pong"}`, contentTypeJSON},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, contentType, err := coerceResult(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.wantBody, string(body))
			assert.Equal(t, tc.wantContent, contentType)
		})
	}
}

func TestPendingRequestReplay(t *testing.T) {
	events, _ := newTestEvents(t)

	var served int
	require.NoError(t, events.OnRequest("ping", func(ctx *RequestContext) (any, error) {
		served++
		return map[string]string{"msg": "pong", "echo": ctx.Text()}, nil
	}))

	req := writeRequest(t, events, "ping", "bob@example.com", []byte("hello"), time.Hour)
	events.processPendingRequests()

	assert.Equal(t, 1, served)
	res := loadResponse(t, events, "ping", req.ID)
	assert.Equal(t, syftmsg.StatusOK, res.StatusCode)
	assert.Equal(t, contentTypeJSON, res.Headers[contentTypeHeader])
	assert.JSONEq(t, `{"msg":"pong","echo":"hello"}`, string(res.Body))

	// answered requests are not replayed twice
	events.processPendingRequests()
	assert.Equal(t, 1, served)
}

func TestExpiredRequestDropped(t *testing.T) {
	events, _ := newTestEvents(t)

	require.NoError(t, events.OnRequest("ping", func(*RequestContext) (any, error) {
		t.Fatal("handler must not run for expired requests")
		return nil, nil
	}))

	req := writeRequest(t, events, "ping", "bob@example.com", nil, -time.Minute)
	events.processPendingRequests()

	resPath := filepath.Join(events.RPCRoot(), "ping", syftmsg.ResponseFileName(req.ID))
	assert.NoFileExists(t, resPath)
	// the request file stays for the janitor
	assert.FileExists(t, filepath.Join(events.RPCRoot(), "ping", syftmsg.RequestFileName(req.ID)))
}

func TestMalformedRequestGetsErrorResponse(t *testing.T) {
	events, _ := newTestEvents(t)

	require.NoError(t, events.OnRequest("ping", func(*RequestContext) (any, error) { return nil, nil }))

	epDir := filepath.Join(events.RPCRoot(), "ping")
	reqPath := filepath.Join(epDir, syftmsg.RequestFileName("broken"))
	require.NoError(t, os.WriteFile(reqPath, []byte("{not json"), 0o644))

	events.processPendingRequests()

	res := loadResponse(t, events, "ping", "broken")
	assert.Equal(t, syftmsg.StatusServerError, res.StatusCode)
	assert.Contains(t, string(res.Body), "malformed request")
}

func TestHandlerErrorBecomes500(t *testing.T) {
	events, _ := newTestEvents(t)

	require.NoError(t, events.OnRequest("boom", func(*RequestContext) (any, error) {
		return nil, assert.AnError
	}))
	require.NoError(t, events.OnRequest("panic", func(*RequestContext) (any, error) {
		panic("kaboom")
	}))

	errReq := writeRequest(t, events, "boom", "bob@example.com", nil, time.Hour)
	panicReq := writeRequest(t, events, "panic", "bob@example.com", nil, time.Hour)
	events.processPendingRequests()

	res := loadResponse(t, events, "boom", errReq.ID)
	assert.Equal(t, syftmsg.StatusServerError, res.StatusCode)
	assert.Equal(t, assert.AnError.Error(), string(res.Body))

	res = loadResponse(t, events, "panic", panicReq.ID)
	assert.Equal(t, syftmsg.StatusServerError, res.StatusCode)
	assert.Contains(t, string(res.Body), "kaboom")
}

func TestBindJSON(t *testing.T) {
	type pingBody struct {
		Msg string `json:"msg"`
	}

	ctx := &RequestContext{Request: &syftmsg.SyftRequest{Body: []byte(`{"msg":"hi"}`)}}
	body, err := BindJSON[pingBody](ctx)
	require.NoError(t, err)
	assert.Equal(t, "hi", body.Msg)

	ctx.Request.Body = []byte("nope")
	_, err = BindJSON[pingBody](ctx)
	assert.Error(t, err)
}

func TestLiveDispatch(t *testing.T) {
	events, _ := newTestEvents(t)

	require.NoError(t, events.OnRequest("ping", func(ctx *RequestContext) (any, error) {
		return "pong", nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, events.Start(ctx))
	defer events.Stop()

	req := writeRequest(t, events, "ping", "bob@example.com", []byte("hello"), time.Hour)

	resPath := filepath.Join(events.RPCRoot(), "ping", syftmsg.ResponseFileName(req.ID))
	require.Eventually(t, func() bool {
		return utils.FileExists(resPath)
	}, 5*time.Second, 20*time.Millisecond)

	res := loadResponse(t, events, "ping", req.ID)
	assert.Equal(t, syftmsg.StatusOK, res.StatusCode)
	assert.Equal(t, "pong", string(res.Body))
}

func TestLiveWatch(t *testing.T) {
	events, ws := newTestEvents(t)

	seen := make(chan *FileEvent, 8)
	require.NoError(t, events.Watch([]string{"{datasite}/public/*.txt"}, 0, func(ev *FileEvent) {
		seen <- ev
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, events.Start(ctx))
	defer events.Stop()

	target := filepath.Join(ws.DatasitesDir, testOwner, "public", "note.txt")
	require.NoError(t, utils.EnsureParent(target))
	require.NoError(t, os.WriteFile(target, []byte("hi"), 0o644))

	select {
	case ev := <-seen:
		assert.Equal(t, testOwner+"/public/note.txt", ev.RelPath)
	case <-time.After(5 * time.Second):
		t.Fatal("watch handler never fired")
	}
}

func TestJanitorSweep(t *testing.T) {
	events, _ := newTestEvents(t)

	require.NoError(t, events.OnRequest("ping", func(*RequestContext) (any, error) { return nil, nil }))

	epDir := filepath.Join(events.RPCRoot(), "ping")
	stale := filepath.Join(epDir, syftmsg.RequestFileName("old"))
	fresh := filepath.Join(epDir, syftmsg.RequestFileName("new"))
	permFile := filepath.Join(epDir, perm.PermFileName)
	require.NoError(t, os.WriteFile(stale, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(permFile, []byte("[]"), 0o644))

	old := time.Now().Add(-DefaultMessageTimeout - time.Minute)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(permFile, old, old))

	events.sweep(time.Now())

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.FileExists(t, permFile)
}
