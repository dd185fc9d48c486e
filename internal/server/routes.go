package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"

	"github.com/openmined/syftbus/internal/version"
)

func SetupRoutes(store *DatasiteStore) http.Handler {
	r := gin.New()
	r.MaxMultipartMemory = 8 << 20 // 8 MiB

	httpLogger := slog.Default().WithGroup("http")
	r.Use(slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
	}))
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.BestSpeed))
	r.Use(cors.Default())

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)

	syncH := NewSyncHandler(store)
	authH := &AuthHandler{}

	api := r.Group("/", CheckClientVersion(), RequireUser(), LimitBodySize(MaxRequestBody))
	{
		api.GET("/auth/whoami", authH.Whoami)

		api.POST("/sync/datasites", syncH.Datasites)
		api.GET("/sync/dir_state", syncH.DirState)
		api.POST("/sync/get_metadata", syncH.GetMetadata)
		api.POST("/sync/get_diff", syncH.GetDiff)
		api.POST("/sync/apply_diff", syncH.ApplyDiff)
		api.POST("/sync/create", syncH.Create)
		api.POST("/sync/delete", syncH.Delete)
		api.POST("/sync/download", syncH.Download)
		api.POST("/sync/download_bulk", syncH.DownloadBulk)
	}

	return r
}

func IndexHandler(c *gin.Context) {
	c.String(http.StatusOK, "%s %s", version.AppName, version.Version)
}

func HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Version})
}
