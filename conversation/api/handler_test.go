package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"daa-assistant/backend/pkg/chat"
	apperrors "daa-assistant/backend/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	gotSession string
	gotLimit   int
}

func (f *fakeHistory) Retrieve(_ context.Context, sessionID string, limit int) []chat.Message {
	f.gotSession, f.gotLimit = sessionID, limit
	return []chat.Message{{Role: chat.RoleUser, Content: "Hej"}}
}

func (f *fakeHistory) MemoryMode() string { return "session" }

func setup(h HistoryReader) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(apperrors.ErrorHandler())
	RegisterHistoryRoutes(r.Group("/api"), NewHistoryHandler(h))
	return r
}

func TestGetHistory(t *testing.T) {
	fake := &fakeHistory{}
	w := httptest.NewRecorder()
	setup(fake).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/history/kitchen?limit=5", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "kitchen", fake.gotSession)
	assert.Equal(t, 5, fake.gotLimit)

	var body struct {
		Messages []chat.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "Hej", body.Messages[0].Content)
}

func TestGetHistoryRejectsBadLimit(t *testing.T) {
	w := httptest.NewRecorder()
	setup(&fakeHistory{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/history/kitchen?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
