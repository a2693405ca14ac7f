package diag

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hgartemis3515/Las-Gambusinas-sub000/internal/syncer"
)

// StatusSource provides the diagnostics snapshot; the sync controller
// implements it.
type StatusSource interface {
	Status(ctx *gin.Context) syncer.Status
}

type controllerSource struct {
	controller *syncer.Controller
}

func (s controllerSource) Status(ctx *gin.Context) syncer.Status {
	return s.controller.Status(ctx.Request.Context())
}

// NewRouter builds the read-only debug overlay endpoint: connection phase,
// reconnect attempt, queue depth and joined rooms.
func NewRouter(controller *syncer.Controller, logger *zap.Logger) *gin.Engine {
	return newRouter(controllerSource{controller: controller}, logger)
}

func newRouter(source StatusSource, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, source.Status(ctx))
	})
	logger.Debug("diagnostics router ready")
	return router
}
