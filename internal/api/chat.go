package api

import (
	"context"
	"net/http"

	"daa-assistant/backend/ai"
	"daa-assistant/backend/internal/service"
	apperrors "daa-assistant/backend/pkg/errors"
	"daa-assistant/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ChatService is the part of the orchestrator the HTTP layer needs.
type ChatService interface {
	HandleChat(ctx context.Context, req service.ChatRequest) (<-chan string, error)
	ListModels(ctx context.Context) []ai.ModelDescriptor
}

type ChatHandler struct {
	chat ChatService
	log  *logger.Logger
}

func NewChatHandler(chat ChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, log: log.WithComponent("api")}
}

// Chat streams the response as chunked text/plain. Provider failures arrive
// as text inside the stream, so the status is always 200 once streaming starts.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req service.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewBadRequestError(apperrors.CodeInvalidRequest, "invalid chat request").WithDetails(err.Error()))
		return
	}

	stream, err := h.chat.HandleChat(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	for frag := range stream {
		if _, err := c.Writer.WriteString(frag); err != nil {
			logger.FromContext(c.Request.Context(), h.log).Debug("client went away mid-stream", "error", err.Error())
			// keep draining; the orchestrator stops once the request context ends
			continue
		}
		c.Writer.Flush()
	}
}

// Models lists every model offered by the configured providers.
func (h *ChatHandler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.chat.ListModels(c.Request.Context())})
}

// RegisterChatRoutes mounts the chat routes; limit runs before POST /chat.
func RegisterChatRoutes(r gin.IRouter, handler *ChatHandler, limit ...gin.HandlerFunc) {
	r.POST("/chat", append(limit, handler.Chat)...)
	r.GET("/models", handler.Models)
}
