package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"daa-assistant/backend/pkg/config"
	"daa-assistant/backend/pkg/di"
	"daa-assistant/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) *Router {
	t.Helper()
	gin.SetMode(gin.TestMode)
	for _, key := range []string{"GOOGLE_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY"} {
		t.Setenv(key, "")
	}

	cfg := config.Load()
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(t.TempDir(), "history.db")
	cfg.HomeAssistant.BaseURL = ""
	cfg.Calendar.ServiceAccountFile = ""
	cfg.Vault.Enabled = false

	container, err := di.New(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(container.Close)

	r := New(container)
	t.Cleanup(r.Close)
	r.SetupRoutes()
	return r
}

func TestLiveness(t *testing.T) {
	r := newRouter(t)
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "session", body["memory_mode"])
	assert.Equal(t, []any{"ollama"}, body["providers"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHistoryRouteIsEmptyForNewSession(t *testing.T) {
	r := newRouter(t)
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/history/kitchen", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Messages []any `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.Messages)
}

func TestChatIsRateLimited(t *testing.T) {
	r := newRouter(t)
	codes := map[int]int{}
	for i := 0; i < r.Container.Config.Server.ChatRateBurst+1; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[]}`))
		req.Header.Set("Content-Type", "application/json")
		r.Engine.ServeHTTP(w, req)
		codes[w.Code]++
	}
	assert.Equal(t, 1, codes[http.StatusTooManyRequests])
}

func TestEmptyChatIsRejected(t *testing.T) {
	r := newRouter(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[]}`))
	req.Header.Set("Content-Type", "application/json")
	r.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_REQUEST")
}
