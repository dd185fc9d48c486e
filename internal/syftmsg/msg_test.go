package syftmsg

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmined/syftbus/internal/syfturl"
)

func testURL(t *testing.T) syfturl.SyftURL {
	t.Helper()
	u, err := syfturl.Parse("syft://alice@example.com/api_data/pingpong/rpc/message")
	require.NoError(t, err)
	return *u
}

func TestNewSyftRequest(t *testing.T) {
	req := NewSyftRequest("bob@example.com", testURL(t), MethodPOST, nil, []byte(`{"msg":"ping"}`), time.Hour)

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, "bob@example.com", req.Sender)
	assert.Equal(t, MethodPOST, req.Method)
	assert.NotNil(t, req.Headers)
	assert.True(t, req.Expires.After(req.Timestamp))
	assert.False(t, req.IsExpired())
}

func TestRequestExpiry(t *testing.T) {
	req := NewSyftRequest("bob@example.com", testURL(t), MethodGET, nil, nil, time.Hour)
	req.Expires = time.Now().UTC().Add(-time.Minute)
	assert.True(t, req.IsExpired())
	assert.Greater(t, req.Age(), time.Duration(0))
}

func TestMessageHash_IgnoresVolatileFields(t *testing.T) {
	req1 := NewSyftRequest("bob@example.com", testURL(t), MethodPOST, map[string]string{"k": "v"}, []byte("body"), time.Hour)
	req2 := NewSyftRequest("bob@example.com", testURL(t), MethodPOST, map[string]string{"k": "v"}, []byte("body"), 2*time.Hour)

	h1, err := req1.MessageHash()
	require.NoError(t, err)
	h2, err := req2.MessageHash()
	require.NoError(t, err)

	assert.NotEqual(t, req1.ID, req2.ID)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestMessageHash_SensitiveToBody(t *testing.T) {
	req1 := NewSyftRequest("bob@example.com", testURL(t), MethodPOST, nil, []byte("a"), time.Hour)
	req2 := NewSyftRequest("bob@example.com", testURL(t), MethodPOST, nil, []byte("b"), time.Hour)

	h1, _ := req1.MessageHash()
	h2, _ := req2.MessageHash()
	assert.NotEqual(t, h1, h2)
}

func TestRequestDumpLoadFile(t *testing.T) {
	dir := t.TempDir()
	req := NewSyftRequest("bob@example.com", testURL(t), MethodPOST, map[string]string{"content-type": "application/json"}, []byte(`{"x":1}`), time.Hour)

	path := filepath.Join(dir, RequestFileName(req.ID))
	require.NoError(t, req.DumpFile(path))

	loaded, err := LoadRequestFile(path)
	require.NoError(t, err)
	assert.Equal(t, req.ID, loaded.ID)
	assert.Equal(t, req.URL, loaded.URL)
	assert.Equal(t, req.Body, loaded.Body)
	assert.True(t, req.Expires.Equal(loaded.Expires))
}

func TestLoadRequest_Malformed(t *testing.T) {
	_, err := LoadRequest([]byte("{not json"))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestNewSyftResponse_BindsToRequest(t *testing.T) {
	req := NewSyftRequest("bob@example.com", testURL(t), MethodPOST, nil, []byte("ping"), time.Hour)
	res := NewSyftResponse(req, "alice@example.com", StatusOK, nil, []byte("pong"))

	assert.Equal(t, req.ID, res.ID)
	assert.Equal(t, req.URL, res.URL)
	assert.True(t, req.Expires.Equal(res.Expires))
	assert.True(t, res.StatusCode.IsSuccess())
}

func TestStatusIsSuccess(t *testing.T) {
	assert.True(t, StatusOK.IsSuccess())
	assert.False(t, StatusForbidden.IsSuccess())
	assert.False(t, StatusExpired.IsSuccess())
	assert.False(t, StatusServerError.IsSuccess())
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, "abc.request", RequestFileName("abc"))
	assert.Equal(t, "abc.response", ResponseFileName("abc"))
	assert.Equal(t, "abc.syftrejected.request", RejectedFileName("abc"))
}
