package events

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/openmined/syftbus/internal/syftmsg"
	"github.com/openmined/syftbus/internal/syfturl"
)

// RequestContext is the handler's view of one incoming request. Body access
// is explicit: Bytes for raw payloads, Text for strings, BindJSON for typed
// records.
type RequestContext struct {
	Request  *syftmsg.SyftRequest
	Endpoint string
}

func (c *RequestContext) ID() string {
	return c.Request.ID
}

func (c *RequestContext) Sender() string {
	return c.Request.Sender
}

func (c *RequestContext) URL() syfturl.SyftURL {
	return c.Request.URL
}

func (c *RequestContext) Header(key string) string {
	return c.Request.Headers[key]
}

func (c *RequestContext) Headers() map[string]string {
	return c.Request.Headers
}

func (c *RequestContext) Bytes() []byte {
	return c.Request.Body
}

func (c *RequestContext) Text() string {
	return string(c.Request.Body)
}

// BindJSON parses the request body into T.
func BindJSON[T any](c *RequestContext) (T, error) {
	var v T
	if err := json.Unmarshal(c.Request.Body, &v); err != nil {
		return v, fmt.Errorf("bind request body: %w", err)
	}
	return v, nil
}
