package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioAnnotator/internal/config"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/BioAnnotator/internal/interfaces/http/handlers"
	"github.com/turtacn/BioAnnotator/internal/interfaces/http/middleware"
)

func newOpsRouter(t *testing.T) http.Handler {
	t.Helper()
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "bioannot"}, logging.NewNopLogger())
	require.NoError(t, err)
	metrics := prometheus.NewAnnotationMetrics(collector)

	health := handlers.NewHealthHandler("test", metrics, handlers.CheckFunc("redis", func(context.Context) error { return nil }))
	return NewRouter(RouterConfig{
		Mode:             gin.TestMode,
		HealthHandler:    health,
		MetricsCollector: collector,
		Logging:          middleware.DefaultLoggingConfig(),
	})
}

func TestRouter_Routes(t *testing.T) {
	r := newOpsRouter(t)

	for _, path := range []string{"/healthz", "/readyz", "/healthz/detail"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	// The readiness probe has populated the health gauge.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `component="redis"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/annotate", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_StopBeforeStart(t *testing.T) {
	s := NewServer(config.ServerConfig{Port: 9191}, newOpsRouter(t), nil)
	assert.Equal(t, ":9191", s.Addr())
	require.NoError(t, s.Stop(context.Background()))
	assert.NoError(t, s.Start(), "Start after Stop returns immediately")
}
