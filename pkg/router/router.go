package router

import (
	"time"

	"daa-assistant/backend/conversation/api"
	chatapi "daa-assistant/backend/internal/api"
	"daa-assistant/backend/internal/ws"
	"daa-assistant/backend/pkg/di"
	"daa-assistant/backend/pkg/errors"
	"daa-assistant/backend/pkg/logger"
	"daa-assistant/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Track server start time for uptime calculations
var startTime = time.Now()

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Limiter   *middleware.RateLimiter
}

// New creates the gin engine with logging, error and recovery middleware.
func New(container *di.Container) *Router {
	logger.SetGlobal(container.Logger)

	if container.Config.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())

	limiter := middleware.NewRateLimiter(container.Logger, middleware.RateLimiterOptions{
		Limit: rate.Limit(container.Config.Server.ChatRateLimit),
		Burst: container.Config.Server.ChatRateBurst,
	})

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Limiter:   limiter,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	c := r.Container

	apiGroup := r.Engine.Group("/api")
	limit := r.Limiter.Middleware()
	chatapi.RegisterChatRoutes(apiGroup, chatapi.NewChatHandler(c.Chat, r.Logger), limit)
	api.RegisterHistoryRoutes(apiGroup, api.NewHistoryHandler(c.History))

	r.Engine.GET("/health", c.Health.Handler())
	r.Engine.GET("/health/live", r.liveness)

	r.Engine.GET("/ws/chat", limit, func(ctx *gin.Context) {
		ws.ServeWs(c.Hub, ctx)
	})
}

// Close stops background work owned by the router.
func (r *Router) Close() {
	r.Limiter.Close()
}

func (r *Router) liveness(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":             "ok",
		"env":                r.Container.Config.Server.Env,
		"uptime_seconds":     int(time.Since(startTime).Seconds()),
		"memory_mode":        r.Container.History.MemoryMode(),
		"providers":          r.Container.Router.Providers(),
		"active_connections": r.Container.Hub.ActiveConnections(),
	})
}
