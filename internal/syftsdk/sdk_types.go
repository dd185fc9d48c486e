package syftsdk

import (
	"fmt"
	"runtime"
	"time"

	"github.com/goccy/go-json"
	"github.com/imroc/req/v3"
	"github.com/shirou/gopsutil/v4/host"

	"github.com/openmined/syftbus/internal/utils"
	"github.com/openmined/syftbus/internal/version"
)

const (
	HeaderUserAgent    = "User-Agent"
	HeaderSyftVersion  = "X-Syft-Version"
	HeaderSyftUser     = "X-Syft-User"
	HeaderSyftDeviceId = "X-Syft-Device-Id"
)

var SyftBusUserAgent = fmt.Sprintf("SyftBus/%s (%s; %s/%s; %s)",
	version.Version, version.Revision, runtime.GOOS, runtime.GOARCH, osVersion())

// HTTPClient is a shared client with the common identification headers set.
var HTTPClient = req.C().
	SetCommonRetryCount(3).
	SetCommonRetryFixedInterval(1 * time.Second).
	SetUserAgent(SyftBusUserAgent).
	SetCommonHeader(HeaderSyftVersion, version.Version).
	SetCommonHeader(HeaderSyftDeviceId, utils.HWID).
	SetJsonMarshal(json.Marshal).
	SetJsonUnmarshal(json.Unmarshal)

func osVersion() string {
	info, err := host.Info()
	if err != nil {
		return runtime.GOOS
	}
	return fmt.Sprintf("%s/%s", info.Platform, info.PlatformVersion)
}

// FileMetadata is the wire description of one synced file.
type FileMetadata struct {
	Path         string    `json:"path"`
	Hash         string    `json:"hash"`
	Signature    string    `json:"signature"`
	FileSize     int64     `json:"file_size"`
	LastModified time.Time `json:"last_modified"`
}

// Equal follows the protocol rule: two files are the same iff their content
// hashes match.
func (m *FileMetadata) Equal(other *FileMetadata) bool {
	return m != nil && other != nil && m.Hash == other.Hash
}

// DatasiteStatesResponse maps datasite email to its file listing.
type DatasiteStatesResponse struct {
	Datasites map[string][]*FileMetadata `json:"datasites"`
}

type DirStateParams struct {
	Dir string `json:"dir"`
}

type PathParams struct {
	Path string `json:"path"`
}

type GetDiffParams struct {
	Path      string `json:"path"`
	Signature string `json:"signature"`
}

// GetDiffResponse carries an ascii85 encoded delta and the hash the file
// must have after applying it.
type GetDiffResponse struct {
	Path string `json:"path"`
	Diff string `json:"diff"`
	Hash string `json:"hash"`
}

type ApplyDiffParams struct {
	Path         string `json:"path"`
	Diff         string `json:"diff"`
	ExpectedHash string `json:"expected_hash"`
}

type ApplyDiffResponse struct {
	Path        string `json:"path"`
	CurrentHash string `json:"current_hash"`
}

type DeleteResponse struct {
	Path    string `json:"path"`
	Deleted bool   `json:"deleted"`
}

type BulkDownloadParams struct {
	Paths []string `json:"paths"`
}

// BulkFileRecord is one NDJSON frame of a bulk download stream.
type BulkFileRecord struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
}

type WhoamiResponse struct {
	Email string `json:"email"`
}
