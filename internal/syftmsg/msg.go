package syftmsg

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"

	"github.com/openmined/syftbus/internal/syfturl"
	"github.com/openmined/syftbus/internal/utils"
)

// SyftMethod is the HTTP-style method of a request message.
type SyftMethod string

// SyftStatus is the status code of a response message.
type SyftStatus int

const (
	MethodGET    SyftMethod = "GET"
	MethodHEAD   SyftMethod = "HEAD"
	MethodPOST   SyftMethod = "POST"
	MethodPUT    SyftMethod = "PUT"
	MethodPATCH  SyftMethod = "PATCH"
	MethodDELETE SyftMethod = "DELETE"

	StatusOK          SyftStatus = 200
	StatusForbidden   SyftStatus = 403
	StatusNotFound    SyftStatus = 404
	StatusExpired     SyftStatus = 419
	StatusServerError SyftStatus = 500

	// DefaultExpiry is how long a message lives unless the sender says otherwise.
	DefaultExpiry = 24 * time.Hour

	RequestExt  = ".request"
	ResponseExt = ".response"
	RejectedExt = ".syftrejected.request"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
)

func (s SyftStatus) IsSuccess() bool {
	return s >= 200 && s < 300
}

func (m SyftMethod) Valid() bool {
	switch m {
	case MethodGET, MethodHEAD, MethodPOST, MethodPUT, MethodPATCH, MethodDELETE:
		return true
	}
	return false
}

// SyftRequest is a file-borne RPC request.
type SyftRequest struct {
	ID        string            `json:"id"`
	Sender    string            `json:"sender"`
	URL       syfturl.SyftURL   `json:"url"`
	Method    SyftMethod        `json:"method"`
	Headers   map[string]string `json:"headers"`
	Body      []byte            `json:"body,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Expires   time.Time         `json:"expires"`
}

// SyftResponse is a file-borne RPC response.
type SyftResponse struct {
	ID         string            `json:"id"`
	Sender     string            `json:"sender"`
	URL        syfturl.SyftURL   `json:"url"`
	StatusCode SyftStatus        `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Expires    time.Time         `json:"expires"`
}

// NewSyftRequest builds a request stamped now with the given lifetime.
func NewSyftRequest(sender string, url syfturl.SyftURL, method SyftMethod, headers map[string]string, body []byte, expiry time.Duration) *SyftRequest {
	if headers == nil {
		headers = map[string]string{}
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	now := time.Now().UTC()
	return &SyftRequest{
		ID:        NewMsgID(),
		Sender:    sender,
		URL:       url,
		Method:    method,
		Headers:   headers,
		Body:      body,
		Timestamp: now,
		Expires:   now.Add(expiry),
	}
}

// NewSyftResponse builds a response bound to a request's id, url and expiry.
func NewSyftResponse(req *SyftRequest, sender string, status SyftStatus, headers map[string]string, body []byte) *SyftResponse {
	if headers == nil {
		headers = map[string]string{}
	}
	return &SyftResponse{
		ID:         req.ID,
		Sender:     sender,
		URL:        req.URL,
		StatusCode: status,
		Headers:    headers,
		Body:       body,
		Timestamp:  time.Now().UTC(),
		Expires:    req.Expires,
	}
}

// NewMsgID returns a fresh ULID string.
func NewMsgID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

func (r *SyftRequest) Age() time.Duration {
	return time.Since(r.Timestamp)
}

func (r *SyftRequest) IsExpired() bool {
	return time.Now().UTC().After(r.Expires)
}

func (r *SyftResponse) Age() time.Duration {
	return time.Since(r.Timestamp)
}

func (r *SyftResponse) IsExpired() bool {
	return time.Now().UTC().After(r.Expires)
}

// MessageHash hashes the semantic fields only, so identical calls made at
// different times collapse to the same id when caching is on.
func (r *SyftRequest) MessageHash() (string, error) {
	return messageHash(r.URL, string(r.Method), r.Sender, r.Headers, r.Body)
}

func (r *SyftResponse) MessageHash() (string, error) {
	return messageHash(r.URL, "", r.Sender, r.Headers, r.Body)
}

func messageHash(url syfturl.SyftURL, method string, sender string, headers map[string]string, body []byte) (string, error) {
	payload := map[string]any{
		"url":     url,
		"method":  method,
		"sender":  sender,
		"headers": headers,
		"body":    body,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("hash message: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (r *SyftRequest) Dump() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func (r *SyftRequest) DumpFile(path string) error {
	data, err := r.Dump()
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, data, 0o644)
}

func (r *SyftResponse) Dump() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func (r *SyftResponse) DumpFile(path string) error {
	data, err := r.Dump()
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, data, 0o644)
}

// LoadRequest parses a request message from bytes.
func LoadRequest(data []byte) (*SyftRequest, error) {
	var req SyftRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return &req, nil
}

func LoadRequestFile(path string) (*SyftRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request %q: %w", path, err)
	}
	return LoadRequest(data)
}

// LoadResponse parses a response message from bytes.
func LoadResponse(data []byte) (*SyftResponse, error) {
	var res SyftResponse
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return &res, nil
}

func LoadResponseFile(path string) (*SyftResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read response %q: %w", path, err)
	}
	return LoadResponse(data)
}

// RequestFileName returns "<id>.request".
func RequestFileName(id string) string {
	return id + RequestExt
}

// ResponseFileName returns "<id>.response".
func ResponseFileName(id string) string {
	return id + ResponseExt
}

// RejectedFileName returns "<id>.syftrejected.request".
func RejectedFileName(id string) string {
	return id + RejectedExt
}
