package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/soulline/backend/config"
	"github.com/soulline/backend/internal/api/handlers"
	"github.com/soulline/backend/internal/api/middleware"
)

type Deps struct {
	Session *handlers.SessionHandler
	Wallet  *handlers.WalletHandler
	WS      *handlers.WSHandler

	RateLimit *config.RateLimitConfig
	Redis     *redis.Client
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// WebSocket gateway authenticates itself via the join_session frame
	r.GET("/ws", d.WS.Session)

	// Protected routes (JWT)
	auth := r.Group("/")
	auth.Use(middleware.JWTAuth())

	// polling surface sits behind the token bucket
	polled := auth.Group("/")
	polled.Use(middleware.RateLimit(d.RateLimit, d.Redis))
	polled.GET("/sessions/:request_id", d.Session.Get)
	polled.GET("/sessions/:request_id/messages", d.Session.Messages)

	auth.PUT("/sessions/:request_id/upgrade-to-video", d.Session.UpgradeToVideo)
	auth.GET("/wallet", d.Wallet.Me)

	admin := auth.Group("/")
	admin.Use(middleware.RequireAdmin())
	admin.POST("/sessions", d.Session.Create)
	admin.POST("/sessions/:request_id/force-close", d.Session.ForceClose)
	admin.POST("/wallet/adjust", d.Wallet.Adjust)
}
