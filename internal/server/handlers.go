package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"github.com/openmined/syftbus/internal/sync"
	"github.com/openmined/syftbus/internal/syftsdk"
)

// SyncHandler serves the rsync-style wire API over a DatasiteStore.
type SyncHandler struct {
	store *DatasiteStore
}

func NewSyncHandler(store *DatasiteStore) *SyncHandler {
	return &SyncHandler{store: store}
}

// abortStoreError maps store failures onto the wire error envelope.
func abortStoreError(c *gin.Context, err error) {
	var apiErr *syftsdk.APIError
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, ErrFileNotFound):
		status = http.StatusNotFound
		apiErr = &syftsdk.APIError{Code: syftsdk.CodeNotFound, Message: err.Error()}
	case errors.Is(err, ErrAccessDenied):
		status = http.StatusForbidden
		apiErr = &syftsdk.APIError{Code: syftsdk.CodeAccessDenied, Message: err.Error()}
	case errors.Is(err, ErrHashMismatch):
		status = http.StatusBadRequest
		apiErr = &syftsdk.APIError{Code: syftsdk.CodeHashMismatch, Message: err.Error()}
	case errors.Is(err, ErrBadPath):
		status = http.StatusBadRequest
		apiErr = &syftsdk.APIError{Code: syftsdk.CodeInvalidRequest, Message: err.Error()}
	default:
		apiErr = &syftsdk.APIError{Code: syftsdk.CodeInternalError, Message: err.Error()}
	}
	c.AbortWithStatusJSON(status, apiErr)
}

func abortBadRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, &syftsdk.APIError{
		Code:    syftsdk.CodeInvalidRequest,
		Message: err.Error(),
	})
}

func (h *SyncHandler) Datasites(c *gin.Context) {
	states, err := h.store.DatasiteStates(requestUser(c))
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, &syftsdk.DatasiteStatesResponse{Datasites: states})
}

func (h *SyncHandler) DirState(c *gin.Context) {
	dir := c.Query("dir")
	if dir == "" {
		abortBadRequest(c, errors.New("dir query param required"))
		return
	}

	state, err := h.store.DirState(requestUser(c), dir)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *SyncHandler) GetMetadata(c *gin.Context) {
	var params syftsdk.PathParams
	if err := c.ShouldBindJSON(&params); err != nil {
		abortBadRequest(c, err)
		return
	}

	meta, err := h.store.Metadata(requestUser(c), params.Path)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (h *SyncHandler) GetDiff(c *gin.Context) {
	var params syftsdk.GetDiffParams
	if err := c.ShouldBindJSON(&params); err != nil {
		abortBadRequest(c, err)
		return
	}

	diff, err := h.store.GetDiff(requestUser(c), params.Path, params.Signature)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, diff)
}

func (h *SyncHandler) ApplyDiff(c *gin.Context) {
	var params syftsdk.ApplyDiffParams
	if err := c.ShouldBindJSON(&params); err != nil {
		abortBadRequest(c, err)
		return
	}

	meta, err := h.store.ApplyDiff(requestUser(c), params.Path, params.Diff, params.ExpectedHash)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, &syftsdk.ApplyDiffResponse{Path: meta.Path, CurrentHash: meta.Hash})
}

func (h *SyncHandler) Create(c *gin.Context) {
	// the destination path travels in its own field; the multipart
	// filename is basename-only by the time it arrives
	path := c.PostForm("path")
	if path == "" {
		abortBadRequest(c, errors.New("missing path field"))
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		abortBadRequest(c, err)
		return
	}
	if file.Size > sync.MaxFileSizeBytes {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, &syftsdk.APIError{
			Code:    syftsdk.CodeTooLarge,
			Message: "file exceeds size limit",
		})
		return
	}

	src, err := file.Open()
	if err != nil {
		abortBadRequest(c, err)
		return
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		abortBadRequest(c, err)
		return
	}

	meta, err := h.store.Create(requestUser(c), path, data)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (h *SyncHandler) Delete(c *gin.Context) {
	var params syftsdk.PathParams
	if err := c.ShouldBindJSON(&params); err != nil {
		abortBadRequest(c, err)
		return
	}

	if err := h.store.Delete(requestUser(c), params.Path); err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, &syftsdk.DeleteResponse{Path: params.Path, Deleted: true})
}

func (h *SyncHandler) Download(c *gin.Context) {
	var params syftsdk.PathParams
	if err := c.ShouldBindJSON(&params); err != nil {
		abortBadRequest(c, err)
		return
	}

	data, err := h.store.Download(requestUser(c), params.Path)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// DownloadBulk streams requested files as NDJSON frames. Unreadable or
// missing paths are silently skipped; the client falls back to per-file
// downloads for anything absent from the stream.
func (h *SyncHandler) DownloadBulk(c *gin.Context) {
	var params syftsdk.BulkDownloadParams
	if err := c.ShouldBindJSON(&params); err != nil {
		abortBadRequest(c, err)
		return
	}

	user := requestUser(c)
	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)

	enc := json.NewEncoder(c.Writer)
	for _, path := range params.Paths {
		data, err := h.store.Download(user, path)
		if err != nil {
			continue
		}
		if err := enc.Encode(&syftsdk.BulkFileRecord{Path: path, Content: data}); err != nil {
			return
		}
		c.Writer.Flush()
	}
}

// AuthHandler answers identity probes.
type AuthHandler struct{}

func (h *AuthHandler) Whoami(c *gin.Context) {
	c.JSON(http.StatusOK, &syftsdk.WhoamiResponse{Email: requestUser(c)})
}
