package api

import (
	"context"
	"net/http"
	"strconv"

	"daa-assistant/backend/pkg/chat"
	apperrors "daa-assistant/backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

// HistoryReader is the read side of the history store.
type HistoryReader interface {
	Retrieve(ctx context.Context, sessionID string, limit int) []chat.Message
	MemoryMode() string
}

type HistoryHandler struct {
	history HistoryReader
}

func NewHistoryHandler(history HistoryReader) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// GetHistory returns the most recent messages of a session, oldest first.
func (h *HistoryHandler) GetHistory(c *gin.Context) {
	sessionID := c.Param("session_id")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			_ = c.Error(apperrors.NewBadRequestError(apperrors.CodeInvalidRequest, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	messages := h.history.Retrieve(c.Request.Context(), sessionID, limit)
	c.JSON(http.StatusOK, gin.H{
		"session_id":  sessionID,
		"memory_mode": h.history.MemoryMode(),
		"messages":    messages,
	})
}
