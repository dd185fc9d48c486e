package syfturl

import (
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		u, err := Parse("syft://alice@example.com/api_data/pingpong/rpc/message")
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", u.Host)
		assert.Equal(t, "api_data/pingpong/rpc/message", u.Path)
	})

	t.Run("no path", func(t *testing.T) {
		u, err := Parse("syft://alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", u.Host)
		assert.Equal(t, "", u.Path)
	})

	t.Run("invalid", func(t *testing.T) {
		for _, s := range []string{
			"",
			"https://alice@example.com/x",
			"syft://not-an-email/x",
			"syft://alice@localhost/x",
		} {
			_, err := Parse(s)
			assert.ErrorIs(t, err, ErrInvalidURL, "input %q", s)
		}
	})
}

func TestRoundTrip(t *testing.T) {
	root := t.TempDir()
	local := filepath.Join(root, "alice@example.com", "api_data", "app", "rpc", "ep")

	u, err := FromPath(local, root)
	require.NoError(t, err)
	assert.Equal(t, local, u.ToLocalPath(root))
}

func TestFromPath_OutsideRoot(t *testing.T) {
	root := t.TempDir()
	_, err := FromPath(filepath.Join(filepath.Dir(root), "elsewhere"), root)
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestRPCEndpoint(t *testing.T) {
	u := RPCEndpoint("bob@example.com", "chat", "/send/")
	assert.Equal(t, "syft://bob@example.com/api_data/chat/rpc/send", u.String())
	assert.Equal(t, "chat", u.AppName())
}

func TestAsHTTPParams(t *testing.T) {
	u, err := Parse("syft://alice@example.com/api_data/app/rpc/ep")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"datasite": "alice@example.com",
		"path":     "api_data/app/rpc/ep",
	}, u.AsHTTPParams())
}

func TestJSONText(t *testing.T) {
	u, err := Parse("syft://alice@example.com/public/notes.txt")
	require.NoError(t, err)

	data, err := json.Marshal(u)
	require.NoError(t, err)
	assert.JSONEq(t, `"syft://alice@example.com/public/notes.txt"`, string(data))

	var back SyftURL
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, *u, back)
}
