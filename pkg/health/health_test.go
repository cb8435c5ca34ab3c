package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"daa-assistant/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, c *Checker) (int, map[string]any) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", c.Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestHealthyChecker(t *testing.T) {
	c := NewChecker(logger.Nop(), time.Minute)
	c.RegisterDatabaseCheck(func() error { return nil })
	c.RunChecks(context.Background())

	code, body := serve(t, c)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Len(t, body["components"], 2)
}

func TestNonCriticalFailureIsDegraded(t *testing.T) {
	c := NewChecker(logger.Nop(), time.Minute)
	c.RegisterDatabaseCheck(func() error { return nil })
	c.RegisterPingCheck("sensor-bus", func(context.Context) error { return errors.New("broker down") })
	c.RunChecks(context.Background())

	code, body := serve(t, c)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", body["status"])

	for _, comp := range c.GetStatus() {
		if comp.Name == "sensor-bus" {
			assert.Equal(t, StatusDown, comp.Status)
			assert.Equal(t, "broker down", comp.Error)
		}
	}
}

func TestCriticalFailureIsUnavailable(t *testing.T) {
	c := NewChecker(logger.Nop(), time.Minute)
	c.RegisterDatabaseCheck(func() error { return errors.New("locked") })
	c.RunChecks(context.Background())

	assert.False(t, c.IsSystemHealthy())
	code, body := serve(t, c)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", body["status"])
}

func TestAPICheck(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))
	defer up.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) }))
	defer broken.Close()

	c := NewChecker(logger.Nop(), time.Minute)
	c.RegisterAPICheck("ollama", up.URL, nil)
	c.RegisterAPICheck("smhi", broken.URL, nil)
	c.RunChecks(context.Background())

	status := map[string]Status{}
	for _, comp := range c.GetStatus() {
		status[comp.Name] = comp.Status
	}
	assert.Equal(t, StatusUp, status["api-ollama"])
	assert.Equal(t, StatusDegraded, status["api-smhi"])
	assert.True(t, c.IsSystemHealthy())
}
