package api

import "github.com/gin-gonic/gin"

func RegisterHistoryRoutes(r gin.IRouter, handler *HistoryHandler) {
	r.GET("/history/:session_id", handler.GetHistory)
}
