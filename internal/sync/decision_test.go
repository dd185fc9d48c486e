package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openmined/syftbus/internal/syftsdk"
)

func meta(hash string) *syftsdk.FileMetadata {
	if hash == "" {
		return nil
	}
	return &syftsdk.FileMetadata{Path: "a@example.com/public/file.txt", Hash: hash}
}

func TestDecideAction(t *testing.T) {
	cases := []struct {
		name                string
		local, prev, remote string
		want                SyncAction
	}{
		{"new local file", "h1", "", "", ActionCreateRemote},
		{"new remote file", "", "", "h1", ActionCreateLocal},
		{"remote deleted unchanged local", "h1", "h1", "", ActionDeleteLocal},
		{"remote deleted changed local", "h2", "h1", "", ActionCreateRemote},
		{"local deleted", "", "h1", "h1", ActionDeleteRemote},
		{"both deleted", "", "h1", "", ActionNoop},
		{"untracked equal copies", "h1", "", "h1", ActionNoop},
		{"untracked diverged copies", "h1", "", "h2", ActionModifyLocal},
		{"all equal", "h1", "h1", "h1", ActionNoop},
		{"remote changed", "h1", "h1", "h2", ActionModifyLocal},
		{"local changed", "h2", "h1", "h1", ActionModifyRemote},
		{"conflict remote wins", "h2", "h1", "h3", ActionModifyLocal},
		{"all absent", "", "", "", ActionNoop},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DecideAction(meta(tc.local), meta(tc.prev), meta(tc.remote))
			assert.Equal(t, tc.want, got)
		})
	}
}
