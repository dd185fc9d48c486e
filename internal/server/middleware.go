package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openmined/syftbus/internal/syftsdk"
	"github.com/openmined/syftbus/internal/utils"
	"github.com/openmined/syftbus/internal/version"
)

const userContextKey = "syft-user"

// MaxRequestBody bounds uploads: the file size limit plus encoding headroom.
const MaxRequestBody = 11 << 20

// RequireUser resolves the caller's identity from the X-Syft-User header or
// the user query param.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.GetHeader(syftsdk.HeaderSyftUser)
		if user == "" {
			user = c.Query("user")
		}
		if err := utils.ValidateEmail(user); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, &syftsdk.APIError{
				Code:    syftsdk.CodeInvalidRequest,
				Message: "missing or invalid user identity",
			})
			return
		}
		c.Set(userContextKey, user)
		c.Next()
	}
}

func requestUser(c *gin.Context) string {
	return c.GetString(userContextKey)
}

// CheckClientVersion refuses clients older than the minimum supported
// version. Requests without a version header pass through.
func CheckClientVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientVersion := c.GetHeader(syftsdk.HeaderSyftVersion)
		if clientVersion != "" && version.Compare(clientVersion, version.MinClientVersion) < 0 {
			c.AbortWithStatusJSON(http.StatusUpgradeRequired, &syftsdk.APIError{
				Code: syftsdk.CodeInvalidRequest,
				Message: fmt.Sprintf("client %s is older than minimum supported %s",
					clientVersion, version.MinClientVersion),
			})
			return
		}
		c.Next()
	}
}

// LimitBodySize caps request bodies. Oversize uploads fail with 413 instead
// of filling the disk.
func LimitBodySize(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, &syftsdk.APIError{
				Code:    syftsdk.CodeTooLarge,
				Message: fmt.Sprintf("request body exceeds %d bytes", limit),
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
