package syftsdk

import (
	"bufio"
	"context"
	"fmt"
	"path"

	"github.com/goccy/go-json"
	"github.com/imroc/req/v3"
)

const (
	syncDatasites    = "/sync/datasites"
	syncDirState     = "/sync/dir_state"
	syncGetMetadata  = "/sync/get_metadata"
	syncGetDiff      = "/sync/get_diff"
	syncApplyDiff    = "/sync/apply_diff"
	syncCreate       = "/sync/create"
	syncDelete       = "/sync/delete"
	syncDownload     = "/sync/download"
	syncDownloadBulk = "/sync/download_bulk"
)

// SyncAPI is the rsync-style wire interface of the server.
type SyncAPI struct {
	client *req.Client
	// bulk streams are consumed incrementally, so this clone keeps the
	// response body unread
	streamClient *req.Client
}

func newSyncAPI(client *req.Client) *SyncAPI {
	return &SyncAPI{
		client:       client,
		streamClient: client.Clone().DisableAutoReadResponse(),
	}
}

// DatasiteStates lists every file of every datasite visible to this user.
func (s *SyncAPI) DatasiteStates(ctx context.Context) (map[string][]*FileMetadata, error) {
	var result DatasiteStatesResponse
	var apiErr APIError

	res, err := s.client.R().
		SetContext(ctx).
		SetSuccessResult(&result).
		SetErrorResult(&apiErr).
		Post(syncDatasites)

	if err := handleAPIError(res, err, "datasite states"); err != nil {
		return nil, err
	}
	return result.Datasites, nil
}

// DirState lists files under one directory.
func (s *SyncAPI) DirState(ctx context.Context, dir string) ([]*FileMetadata, error) {
	var result []*FileMetadata
	var apiErr APIError

	res, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("dir", dir).
		SetSuccessResult(&result).
		SetErrorResult(&apiErr).
		Get(syncDirState)

	if err := handleAPIError(res, err, "dir state"); err != nil {
		return nil, err
	}
	return result, nil
}

// GetMetadata returns hash, signature and size of one remote file.
func (s *SyncAPI) GetMetadata(ctx context.Context, path string) (*FileMetadata, error) {
	var result FileMetadata
	var apiErr APIError

	res, err := s.client.R().
		SetContext(ctx).
		SetBodyJsonMarshal(&PathParams{Path: path}).
		SetSuccessResult(&result).
		SetErrorResult(&apiErr).
		Post(syncGetMetadata)

	if err := handleAPIError(res, err, "get metadata"); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetDiff asks the server for a delta that patches the local file (described
// by signature) up to the remote content.
func (s *SyncAPI) GetDiff(ctx context.Context, path string, signature string) (*GetDiffResponse, error) {
	var result GetDiffResponse
	var apiErr APIError

	res, err := s.client.R().
		SetContext(ctx).
		SetBodyJsonMarshal(&GetDiffParams{Path: path, Signature: signature}).
		SetSuccessResult(&result).
		SetErrorResult(&apiErr).
		Post(syncGetDiff)

	if err := handleAPIError(res, err, "get diff"); err != nil {
		return nil, err
	}
	return &result, nil
}

// ApplyDiff pushes a delta; the server verifies the post-apply hash.
func (s *SyncAPI) ApplyDiff(ctx context.Context, params *ApplyDiffParams) (*ApplyDiffResponse, error) {
	var result ApplyDiffResponse
	var apiErr APIError

	res, err := s.client.R().
		SetContext(ctx).
		SetBodyJsonMarshal(params).
		SetSuccessResult(&result).
		SetErrorResult(&apiErr).
		Post(syncApplyDiff)

	if err := handleAPIError(res, err, "apply diff"); err != nil {
		return nil, err
	}
	return &result, nil
}

// Create uploads a whole file as multipart form data. The relative path
// rides in its own form field; multipart filenames are stripped to their
// basename in transit.
func (s *SyncAPI) Create(ctx context.Context, relPath string, data []byte) (*FileMetadata, error) {
	var result FileMetadata
	var apiErr APIError

	res, err := s.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{"path": relPath}).
		SetFileBytes("file", path.Base(relPath), data).
		SetSuccessResult(&result).
		SetErrorResult(&apiErr).
		Post(syncCreate)

	if err := handleAPIError(res, err, "create"); err != nil {
		return nil, err
	}
	return &result, nil
}

// Delete removes a remote file.
func (s *SyncAPI) Delete(ctx context.Context, path string) error {
	var result DeleteResponse
	var apiErr APIError

	res, err := s.client.R().
		SetContext(ctx).
		SetBodyJsonMarshal(&PathParams{Path: path}).
		SetSuccessResult(&result).
		SetErrorResult(&apiErr).
		Post(syncDelete)

	return handleAPIError(res, err, "delete")
}

// Download fetches the full content of one remote file.
func (s *SyncAPI) Download(ctx context.Context, path string) ([]byte, error) {
	var apiErr APIError

	res, err := s.client.R().
		SetContext(ctx).
		SetBodyJsonMarshal(&PathParams{Path: path}).
		SetErrorResult(&apiErr).
		Post(syncDownload)

	if err := handleAPIError(res, err, "download"); err != nil {
		return nil, err
	}
	return res.Bytes(), nil
}

// DownloadBulk streams many files as NDJSON frames of {path, content},
// invoking fn for each record as it arrives. An fn error stops the stream.
func (s *SyncAPI) DownloadBulk(ctx context.Context, paths []string, fn func(*BulkFileRecord) error) error {
	var apiErr APIError

	res, err := s.streamClient.R().
		SetContext(ctx).
		SetBodyJsonMarshal(&BulkDownloadParams{Paths: paths}).
		SetErrorResult(&apiErr).
		Post(syncDownloadBulk)

	if err := handleAPIError(res, err, "download bulk"); err != nil {
		return err
	}
	defer res.Body.Close()

	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 64*1024), 32*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record BulkFileRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return fmt.Errorf("download bulk: malformed frame: %w", err)
		}
		if err := fn(&record); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("download bulk: stream: %w", err)
	}
	return nil
}
