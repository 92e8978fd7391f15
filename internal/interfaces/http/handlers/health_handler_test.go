package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu     sync.Mutex
	health map[string]bool
}

func (r *recordingReporter) SetHealth(component string, up bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.health == nil {
		r.health = map[string]bool{}
	}
	r.health[component] = up
}

func serve(h *HealthHandler, path string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func ok(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func TestLiveness(t *testing.T) {
	w := serve(NewHealthHandler("v1.2.3", nil, CheckFunc("redis", down)), "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp LivenessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "alive", resp.Status)
	assert.Equal(t, "v1.2.3", resp.Version)
}

func TestReadiness_NoCheckers(t *testing.T) {
	w := serve(NewHealthHandler("dev", nil), "/readyz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ready"}`, w.Body.String())
}

func TestReadiness_AllHealthy(t *testing.T) {
	reporter := &recordingReporter{}
	h := NewHealthHandler("dev", reporter, Checkers(map[string]func(context.Context) error{
		"postgres": ok,
		"redis":    ok,
	})...)

	w := serve(h, "/readyz")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Len(t, resp.Components, 2)
	assert.Equal(t, map[string]bool{"postgres": true, "redis": true}, reporter.health)
}

func TestReadiness_OneDown(t *testing.T) {
	reporter := &recordingReporter{}
	h := NewHealthHandler("dev", reporter, CheckFunc("postgres", ok), CheckFunc("opensearch", down))

	w := serve(h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not_ready", resp.Status)
	assert.Equal(t, "unhealthy", resp.Components["opensearch"].Status)
	assert.Equal(t, "connection refused", resp.Components["opensearch"].Error)
	assert.False(t, reporter.health["opensearch"])
	assert.True(t, reporter.health["postgres"])
}

func TestDetailed(t *testing.T) {
	w := serve(NewHealthHandler("dev", nil, CheckFunc("minio", down)), "/healthz/detail")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp DetailedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "dev", resp.Version)
	assert.NotEmpty(t, resp.Components["minio"].Latency)
}

func TestCheckers_SortedByName(t *testing.T) {
	got := Checkers(map[string]func(context.Context) error{"redis": ok, "minio": ok, "neo4j": ok})
	require.Len(t, got, 3)
	assert.Equal(t, []string{"minio", "neo4j", "redis"}, []string{got[0].Name(), got[1].Name(), got[2].Name()})
}
