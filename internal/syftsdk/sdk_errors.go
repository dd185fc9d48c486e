package syftsdk

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/imroc/req/v3"
)

var (
	ErrNoServerURL      = errors.New("sdk: server url missing")
	ErrInvalidEmail     = errors.New("sdk: invalid email")
	ErrPermissionDenied = errors.New("sdk: permission denied")
	ErrNotFound         = errors.New("sdk: not found")
	ErrTooLarge         = errors.New("sdk: payload too large")
	ErrClientVersion    = errors.New("sdk: client version rejected, please upgrade")
	ErrHashMismatch     = errors.New("sdk: hash mismatch")
)

// APIError is the server's JSON error envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// handleAPIError folds transport errors and error-state responses into the
// sdk error taxonomy.
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("%s: http request: %w", operation, requestErr)
	}
	if !resp.IsErrorState() {
		return nil
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w", operation, ErrPermissionDenied)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", operation, ErrNotFound)
	case http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%s: %w", operation, ErrTooLarge)
	case http.StatusUpgradeRequired:
		return fmt.Errorf("%s: %w", operation, ErrClientVersion)
	case http.StatusBadRequest:
		if apiErr, ok := resp.ErrorResult().(*APIError); ok && apiErr.Code == CodeHashMismatch {
			return fmt.Errorf("%s: %w", operation, ErrHashMismatch)
		}
	}

	if apiErr, ok := resp.ErrorResult().(*APIError); ok {
		return fmt.Errorf("%s: %w", operation, apiErr)
	}
	return fmt.Errorf("%s: api error: %s", operation, resp.Status)
}

const (
	CodeInvalidRequest = "E_INVALID_REQUEST"
	CodeAccessDenied   = "E_ACCESS_DENIED"
	CodeNotFound       = "E_NOT_FOUND"
	CodeTooLarge       = "E_TOO_LARGE"
	CodeHashMismatch   = "E_HASH_MISMATCH"
	CodeInternalError  = "E_INTERNAL_ERROR"
)
