package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth(t *testing.T) {
	t.Helper()
	healthChecker = newHealthChecker()
}

func TestUpdateComponent(t *testing.T) {
	resetHealth(t)

	UpdateComponent("test-component", true, "running")
	require.Len(t, healthChecker.components, 1)

	comp := healthChecker.components["test-component"]
	assert.True(t, comp.Healthy)
	assert.Equal(t, "running", comp.Message)

	UpdateComponent("test-component", false, "stopped")
	assert.False(t, healthChecker.components["test-component"].Healthy)
}

func TestGetHealth(t *testing.T) {
	resetHealth(t)
	SetVersion("1.0.0")

	UpdateComponent(ComponentAPI, true, "")
	UpdateComponent(ComponentStorage, true, "")

	health := GetHealth()
	assert.Equal(t, "healthy", health.Status)
	assert.Len(t, health.Components, 2)
	assert.Equal(t, "1.0.0", health.Version)

	UpdateComponent(ComponentRuntime, false, "socket missing")
	health = GetHealth()
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "unhealthy: socket missing", health.Components[ComponentRuntime])
}

func TestGetReadiness(t *testing.T) {
	resetHealth(t)

	UpdateComponent(ComponentAPI, true, "")
	readiness := GetReadiness()
	assert.Equal(t, "not_ready", readiness.Status)
	assert.Equal(t, "not registered", readiness.Components[ComponentRuntime])

	UpdateComponent(ComponentRuntime, true, "")
	UpdateComponent(ComponentStorage, true, "")
	assert.Equal(t, "ready", GetReadiness().Status)

	SetCriticalComponents(ComponentAPI, ComponentConfig)
	assert.Equal(t, "not_ready", GetReadiness().Status)
}

func TestCheckRecordsOutcome(t *testing.T) {
	resetHealth(t)

	err := Check(context.Background(), ComponentRuntime, func(context.Context) error {
		return errors.New("connection refused")
	})
	assert.Error(t, err)
	assert.Equal(t, "connection refused", healthChecker.components[ComponentRuntime].Message)

	err = Check(context.Background(), ComponentRuntime, func(context.Context) error { return nil })
	assert.NoError(t, err)
	assert.True(t, healthChecker.components[ComponentRuntime].Healthy)
}

func TestHealthHandlers(t *testing.T) {
	resetHealth(t)
	UpdateComponent(ComponentAPI, true, "")

	rec := httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var health HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)

	rec = httptest.NewRecorder()
	ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	UpdateComponent(ComponentRuntime, true, "")
	UpdateComponent(ComponentStorage, true, "")
	rec = httptest.NewRecorder()
	ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	UpdateComponent(ComponentStorage, false, "closed")
	rec = httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
