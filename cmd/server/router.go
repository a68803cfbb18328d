package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/thereayou/roomkit/internal/config"
	"github.com/thereayou/roomkit/internal/handlers"
	"github.com/thereayou/roomkit/internal/logger"
	"github.com/thereayou/roomkit/internal/middleware"
	"github.com/thereayou/roomkit/pkg/auth"
)

type Handlers struct {
	Auth      *handlers.AuthHandler
	Room      *handlers.RoomHandler
	User      *handlers.UserHandler
	WebSocket *handlers.WebSocketHandler
}

func NewRouter(cfg *config.Config, l *slog.Logger, jwtMgr *auth.JWTManager, blacklist *auth.Blacklist, h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.GinMiddleware(l), corsMiddleware(cfg))

	APIEndpoints(r, middleware.AuthMiddleware(jwtMgr, blacklist, l), middleware.WSAuthMiddleware(jwtMgr, blacklist, l), h)
	return r
}

func APIEndpoints(r *gin.Engine, requireAuth, requireSocketAuth gin.HandlerFunc, h Handlers) {
	authGroup := r.Group("/auth")
	{
		authGroup.GET("/google/start", h.Auth.GoogleStart)
		authGroup.GET("/google/callback", h.Auth.GoogleCallback)
		authGroup.GET("/success", h.Auth.Success)
		authGroup.POST("/logout", requireAuth, h.Auth.Logout)
	}

	api := r.Group("/api")
	{
		api.GET("/health", handlers.Health)
		api.GET("/time", h.Room.Time)
		api.POST("/room.create", requireAuth, h.Room.CreateRoom)
		api.DELETE("/rooms/:code", requireAuth, h.Room.DeleteRoom)
		api.GET("/me", requireAuth, h.User.GetMe)
		api.GET("/users/:id/presence", requireAuth, h.User.GetPresence)
	}

	r.GET("/ws", requireSocketAuth, h.WebSocket.HandleWebSocket)
}

func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if cfg.AllowAllOrigins() {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = cfg.CORSOrigins
		cc.AllowCredentials = true
	}
	return cors.New(cc)
}
