package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/sgaflow/api"
	"github.com/BaSui01/sgaflow/internal/cache"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedisCheck(t *testing.T) (*miniredis.Miniredis, *PingCheck) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := cache.DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 0
	cfg.DialTimeout = 200 * time.Millisecond
	mgr, err := cache.NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	return mr, NewPingCheck("redis", mgr.Ping)
}

func getReady(t *testing.T, h *HealthHandler) (int, ServiceHealthResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var status ServiceHealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	return w.Code, status
}

func TestHealthHandler_HandleHealth(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	_, redisCheck := newRedisCheck(t)
	h.RegisterCheck(redisCheck)

	w := httptest.NewRecorder()
	h.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var status ServiceHealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.False(t, status.Timestamp.IsZero())
	// Liveness never runs readiness checks.
	assert.Empty(t, status.Checks)
}

func TestHealthHandler_HandleReady_NoChecks(t *testing.T) {
	// HTTP-only intake registers no Redis check.
	code, status := getReady(t, NewHealthHandler(nil))

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", status.Status)
	assert.Empty(t, status.Checks)
}

func TestHealthHandler_HandleReady_RedisReachable(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	_, redisCheck := newRedisCheck(t)
	h.RegisterCheck(redisCheck)

	code, status := getReady(t, h)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", status.Status)
	require.Contains(t, status.Checks, "redis")
	assert.Equal(t, "pass", status.Checks["redis"].Status)
	assert.NotEmpty(t, status.Checks["redis"].Latency)
}

func TestHealthHandler_HandleReady_RedisDown(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	mr, redisCheck := newRedisCheck(t)
	h.RegisterCheck(redisCheck)

	mr.Close()
	code, status := getReady(t, h)

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "fail", status.Checks["redis"].Status)
	assert.NotEmpty(t, status.Checks["redis"].Message)
}

func TestHealthHandler_HandleReady_ChecksRunUnderDeadline(t *testing.T) {
	h := NewHealthHandler(nil)
	h.RegisterCheck(NewPingCheck("deadline", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return nil
	}))

	code, _ := getReady(t, h)
	assert.Equal(t, http.StatusOK, code)
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleVersion("1.2.0", "2026-10-01T00:00:00Z", "5e1f9a0")(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool            `json:"success"`
		Data    api.VersionInfo `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, api.VersionInfo{Version: "1.2.0", BuildTime: "2026-10-01T00:00:00Z", GitCommit: "5e1f9a0"}, resp.Data)
}

func TestHealthHandler_ConcurrentReadyAndRegister(t *testing.T) {
	h := NewHealthHandler(nil)
	_, redisCheck := newRedisCheck(t)
	h.RegisterCheck(redisCheck)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}()
		go func() {
			defer wg.Done()
			h.RegisterCheck(NewPingCheck("noop", func(context.Context) error { return nil }))
		}()
	}
	wg.Wait()
}
