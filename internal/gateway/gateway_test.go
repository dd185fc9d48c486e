package gateway

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmined/syftbus/internal/db"
	"github.com/openmined/syftbus/internal/events"
	"github.com/openmined/syftbus/internal/rpc"
	"github.com/openmined/syftbus/internal/syftmsg"
	"github.com/openmined/syftbus/internal/utils"
	"github.com/openmined/syftbus/internal/workspace"
)

const (
	gwOwner = "alice@example.com"
	gwPeer  = "bob@example.com"
)

func init() {
	gin.SetMode(gin.TestMode)
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestGateway(t *testing.T) (*Gateway, *httptest.Server, *workspace.Workspace) {
	t.Helper()

	ws, err := workspace.NewWorkspace(t.TempDir(), gwOwner)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(ws.DatasitesDir, 0o755))

	sqliteDB, err := db.NewSqliteDB(db.WithPath(":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { sqliteDB.Close() })

	futures, err := rpc.NewFutureStore(sqliteDB, ws.DatasitesDir)
	require.NoError(t, err)

	gw := New(":0", ws, futures, WithPollInterval(20*time.Millisecond), WithBlockingTimeout(3*time.Second))
	srv := httptest.NewServer(gw.setupRoutes())
	t.Cleanup(srv.Close)
	return gw, srv, ws
}

func postRPC(t *testing.T, srv *httptest.Server, params *SendParams) (*http.Response, *rpcResult) {
	t.Helper()
	body, err := json.Marshal(params)
	require.NoError(t, err)

	res, err := http.Post(srv.URL+"/rpc", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })

	var result rpcResult
	require.NoError(t, json.NewDecoder(res.Body).Decode(&result))
	return res, &result
}

func getStatus(t *testing.T, srv *httptest.Server, id string) (*http.Response, *rpcResult) {
	t.Helper()
	res, err := http.Get(srv.URL + "/rpc/status/" + id)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })

	var result rpcResult
	require.NoError(t, json.NewDecoder(res.Body).Decode(&result))
	return res, &result
}

func TestSendNonBlocking(t *testing.T) {
	_, srv, ws := newTestGateway(t)

	res, result := postRPC(t, srv, &SendParams{
		URL:    "syft://" + gwPeer + "/api_data/chat/rpc/message",
		Method: "POST",
		Body:   []byte("hello"),
		Expiry: "5m",
	})

	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.Equal(t, RPCPending, result.Status)
	require.NotEmpty(t, result.ID)
	require.NotNil(t, result.Request)
	assert.Equal(t, gwOwner, result.Request.Sender)

	reqPath := filepath.Join(ws.DatasitesDir, gwPeer, "api_data", "chat", "rpc", "message",
		syftmsg.RequestFileName(result.ID))
	assert.FileExists(t, reqPath)

	_, status := getStatus(t, srv, result.ID)
	assert.Equal(t, RPCPending, status.Status)
}

func TestSendInvalidParams(t *testing.T) {
	_, srv, _ := newTestGateway(t)

	res, result := postRPC(t, srv, &SendParams{URL: "https://not-syft.example.com/x"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, RPCError, result.Status)

	res, _ = postRPC(t, srv, &SendParams{URL: "syft://" + gwPeer + "/app_data/x/rpc/y", Expiry: "1w"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestStatusLifecycle(t *testing.T) {
	_, srv, ws := newTestGateway(t)

	_, result := postRPC(t, srv, &SendParams{
		URL:    "syft://" + gwPeer + "/api_data/chat/rpc/message",
		Method: "POST",
		Body:   []byte("ping"),
		Expiry: "5m",
	})

	// the peer answers via the synced tree
	epDir := filepath.Join(ws.DatasitesDir, gwPeer, "api_data", "chat", "rpc", "message")
	req, err := syftmsg.LoadRequestFile(filepath.Join(epDir, syftmsg.RequestFileName(result.ID)))
	require.NoError(t, err)
	peerRes := syftmsg.NewSyftResponse(req, gwPeer, syftmsg.StatusOK, nil, []byte("pong"))
	require.NoError(t, peerRes.DumpFile(filepath.Join(epDir, syftmsg.ResponseFileName(result.ID))))

	res, status := getStatus(t, srv, result.ID)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, RPCCompleted, status.Status)
	require.NotNil(t, status.Response)
	assert.Equal(t, syftmsg.StatusOK, status.Response.StatusCode)
	assert.Equal(t, []byte("pong"), status.Response.Body)

	// terminal rows are cleaned up
	res, status = getStatus(t, srv, result.ID)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, RPCNotFound, status.Status)
}

func TestStatusUnknownID(t *testing.T) {
	_, srv, _ := newTestGateway(t)

	res, status := getStatus(t, srv, "01JUNKNOWNID")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, RPCNotFound, status.Status)
}

func TestSendBlocking(t *testing.T) {
	_, srv, ws := newTestGateway(t)

	epDir := filepath.Join(ws.DatasitesDir, gwPeer, "api_data", "chat", "rpc", "echo")

	// a stand-in peer that answers the first request it sees
	go func() {
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			matches, _ := filepath.Glob(filepath.Join(epDir, "*"+syftmsg.RequestExt))
			if len(matches) > 0 {
				req, err := syftmsg.LoadRequestFile(matches[0])
				if err == nil {
					res := syftmsg.NewSyftResponse(req, gwPeer, syftmsg.StatusOK, nil, req.Body)
					_ = res.DumpFile(filepath.Join(epDir, syftmsg.ResponseFileName(req.ID)))
				}
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	res, result := postRPC(t, srv, &SendParams{
		URL:      "syft://" + gwPeer + "/api_data/chat/rpc/echo",
		Method:   "POST",
		Body:     []byte("echo me"),
		Expiry:   "5m",
		Blocking: true,
		Timeout:  "2s",
	})

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, RPCCompleted, result.Status)
	require.NotNil(t, result.Response)
	assert.Equal(t, []byte("echo me"), result.Response.Body)
}

func TestAppSchema(t *testing.T) {
	_, srv, ws := newTestGateway(t)

	res, err := http.Get(srv.URL + "/rpc/schema/chat")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	schemaPath := filepath.Join(ws.DatasitesDir, gwOwner, "api_data", "chat", "rpc", events.SchemaFileName)
	require.NoError(t, utils.EnsureParent(schemaPath))
	require.NoError(t, os.WriteFile(schemaPath, []byte(`{"app":"chat","endpoints":{}}`), 0o644))

	res, err = http.Get(srv.URL + "/rpc/schema/chat")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"app":"chat","endpoints":{}}`, string(data))
}

func TestStatusTerminalFailures(t *testing.T) {
	_, srv, ws := newTestGateway(t)
	epDir := filepath.Join(ws.DatasitesDir, gwPeer, "api_data", "chat", "rpc", "message")
	send := func(t *testing.T) *rpcResult {
		t.Helper()
		_, result := postRPC(t, srv, &SendParams{
			URL:    "syft://" + gwPeer + "/api_data/chat/rpc/message",
			Method: "POST",
			Body:   []byte("ping"),
			Expiry: "5m",
		})
		return result
	}

	t.Run("rejected", func(t *testing.T) {
		result := send(t)
		reqPath := filepath.Join(epDir, syftmsg.RequestFileName(result.ID))
		require.NoError(t, os.Rename(reqPath, filepath.Join(epDir, syftmsg.RejectedFileName(result.ID))))

		res, status := getStatus(t, srv, result.ID)
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, RPCError, status.Status)
		require.NotNil(t, status.Response)
		assert.Equal(t, syftmsg.StatusForbidden, status.Response.StatusCode)
	})

	t.Run("expired", func(t *testing.T) {
		result := send(t)
		reqPath := filepath.Join(epDir, syftmsg.RequestFileName(result.ID))
		req, err := syftmsg.LoadRequestFile(reqPath)
		require.NoError(t, err)
		req.Expires = time.Now().UTC().Add(-time.Minute)
		require.NoError(t, req.DumpFile(reqPath))

		_, status := getStatus(t, srv, result.ID)
		assert.Equal(t, RPCError, status.Status)
		require.NotNil(t, status.Response)
		assert.Equal(t, syftmsg.StatusExpired, status.Response.StatusCode)
	})

	t.Run("deleted", func(t *testing.T) {
		result := send(t)
		require.NoError(t, os.Remove(filepath.Join(epDir, syftmsg.RequestFileName(result.ID))))

		_, status := getStatus(t, srv, result.ID)
		assert.Equal(t, RPCError, status.Status)
		require.NotNil(t, status.Response)
		assert.Equal(t, syftmsg.StatusNotFound, status.Response.StatusCode)
	})

	t.Run("handler failure response", func(t *testing.T) {
		result := send(t)
		reqPath := filepath.Join(epDir, syftmsg.RequestFileName(result.ID))
		req, err := syftmsg.LoadRequestFile(reqPath)
		require.NoError(t, err)
		peerRes := syftmsg.NewSyftResponse(req, gwPeer, syftmsg.StatusServerError, nil, []byte("boom"))
		require.NoError(t, peerRes.DumpFile(filepath.Join(epDir, syftmsg.ResponseFileName(result.ID))))

		_, status := getStatus(t, srv, result.ID)
		assert.Equal(t, RPCError, status.Status)
	})
}
