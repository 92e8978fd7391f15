package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/BioAnnotator/internal/interfaces/http/handlers"
	"github.com/turtacn/BioAnnotator/internal/interfaces/http/middleware"
)

// RouterConfig aggregates the dependencies of the ops route tree.
type RouterConfig struct {
	// Mode is the gin mode: debug, release or test.
	Mode string

	HealthHandler    *handlers.HealthHandler
	MetricsCollector prometheus.MetricsCollector
	Logger           logging.Logger
	Logging          middleware.LoggingConfig
}

// NewRouter builds the ops route tree.
//
//	GET /healthz         liveness
//	GET /readyz          readiness, 503 when a dependency is down
//	GET /healthz/detail  per-component status and latency
//	GET /metrics         Prometheus exposition
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger, cfg.Logging))

	if cfg.HealthHandler != nil {
		cfg.HealthHandler.RegisterRoutes(r)
	}
	if cfg.MetricsCollector != nil {
		r.GET("/metrics", gin.WrapH(cfg.MetricsCollector.Handler()))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "path": c.Request.URL.Path})
	})
	return r
}
