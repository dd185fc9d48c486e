package gateway

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/openmined/syftbus/internal/events"
	"github.com/openmined/syftbus/internal/rpc"
	"github.com/openmined/syftbus/internal/syftmsg"
	"github.com/openmined/syftbus/internal/syfturl"
	"github.com/openmined/syftbus/internal/utils"
)

// RPC status strings reported to gateway callers.
const (
	RPCPending   = "RPC_PENDING"
	RPCCompleted = "RPC_COMPLETED"
	RPCNotFound  = "RPC_NOT_FOUND"
	RPCError     = "RPC_ERROR"
)

// SendParams is the POST /rpc body.
type SendParams struct {
	AppName  string            `json:"app_name"`
	URL      string            `json:"url" binding:"required"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers"`
	Body     []byte            `json:"body"`
	Expiry   string            `json:"expiry"`
	Cache    bool              `json:"cache"`
	Blocking bool              `json:"blocking"`
	// Timeout bounds a blocking call, "Nd|Nh|Nm|Ns". Capped at the
	// gateway's own limit.
	Timeout string `json:"timeout"`
}

type rpcResult struct {
	ID       string                `json:"id"`
	Status   string                `json:"status"`
	Request  *syftmsg.SyftRequest  `json:"request,omitempty"`
	Response *syftmsg.SyftResponse `json:"response,omitempty"`
	Error    string                `json:"error,omitempty"`
}

func (g *Gateway) SendRequest(c *gin.Context) {
	var params SendParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, rpcResult{Status: RPCError, Error: err.Error()})
		return
	}

	url, err := syfturl.Parse(params.URL)
	if err != nil {
		c.JSON(http.StatusBadRequest, rpcResult{Status: RPCError, Error: err.Error()})
		return
	}

	namespace := params.AppName
	if namespace == "" {
		namespace = url.AppName()
	}

	future, err := g.rpcClient.Send(&rpc.SendOpts{
		URL:     url,
		Method:  syftmsg.SyftMethod(params.Method),
		Headers: params.Headers,
		Body:    params.Body,
		Expiry:  params.Expiry,
		Cache:   params.Cache,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, rpcResult{Status: RPCError, Error: err.Error()})
		return
	}

	if err := g.futures.Save(future, namespace); err != nil {
		g.log.Error("could not persist future", "id", future.ID, "error", err)
	}

	if !params.Blocking {
		c.JSON(http.StatusAccepted, rpcResult{
			ID:      future.ID,
			Status:  RPCPending,
			Request: future.Request,
		})
		return
	}

	timeout := g.blockingTimeout
	if params.Timeout != "" {
		if d, err := rpc.ParseDuration(params.Timeout); err == nil && d < timeout {
			timeout = d
		}
	}

	res, err := future.Wait(c.Request.Context(), timeout, g.pollInterval)
	if err != nil {
		// still in flight, the caller can poll the status endpoint
		c.JSON(http.StatusAccepted, rpcResult{
			ID:      future.ID,
			Status:  RPCPending,
			Request: future.Request,
			Error:   err.Error(),
		})
		return
	}

	g.cleanupFuture(future.ID)
	c.JSON(http.StatusOK, terminalResult(future.ID, res))
}

func (g *Gateway) RequestStatus(c *gin.Context) {
	id := c.Param("id")

	future, err := g.futures.Get(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, rpcResult{ID: id, Status: RPCError, Error: err.Error()})
		return
	}
	if future == nil {
		c.JSON(http.StatusNotFound, rpcResult{ID: id, Status: RPCNotFound})
		return
	}

	res, state, err := future.Resolve()
	if err != nil {
		c.JSON(http.StatusInternalServerError, rpcResult{ID: id, Status: RPCError, Error: err.Error()})
		return
	}
	if !state.Terminal() {
		c.JSON(http.StatusOK, rpcResult{ID: id, Status: RPCPending})
		return
	}

	g.cleanupFuture(id)
	c.JSON(http.StatusOK, terminalResult(id, res))
}

// terminalResult maps a terminal response onto the reported status: non-2xx
// outcomes (rejected, deleted, expired, handler failures) surface as
// RPC_ERROR with the response preserved.
func terminalResult(id string, res *syftmsg.SyftResponse) rpcResult {
	status := RPCCompleted
	if res != nil && !res.StatusCode.IsSuccess() {
		status = RPCError
	}
	return rpcResult{ID: id, Status: status, Response: res}
}

// AppSchema serves the rpc.schema.json an app published into its rpc dir.
func (g *Gateway) AppSchema(c *gin.Context) {
	appName := c.Param("app_name")
	if appName == "" || appName != filepath.Base(appName) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid app name"})
		return
	}

	schemaPath := filepath.Join(
		g.ws.DatasitesDir, g.ws.Owner, "api_data", appName, "rpc", events.SchemaFileName,
	)
	if !utils.FileExists(schemaPath) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no schema published for " + appName})
		return
	}
	c.File(schemaPath)
}

func (g *Gateway) cleanupFuture(id string) {
	if err := g.futures.Delete(id); err != nil {
		g.log.Error("could not delete future row", "id", id, "error", err)
	}
}
