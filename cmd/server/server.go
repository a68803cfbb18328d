package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/thereayou/roomkit/internal/config"
	"github.com/thereayou/roomkit/internal/database"
	"github.com/thereayou/roomkit/internal/handlers"
	"github.com/thereayou/roomkit/internal/logger"
	"github.com/thereayou/roomkit/internal/oauth"
	"github.com/thereayou/roomkit/internal/presence"
	"github.com/thereayou/roomkit/internal/rooms"
	"github.com/thereayou/roomkit/internal/tasks"
	"github.com/thereayou/roomkit/internal/telemetry"
	"github.com/thereayou/roomkit/internal/websocket"
	"github.com/thereayou/roomkit/pkg/auth"
)

const shutdownTimeout = 30 * time.Second

type Server struct {
	Config      *config.Config
	Router      *gin.Engine
	HTTP        *http.Server
	DB          *database.Database
	Redis       redis.UniversalClient
	Hub         *websocket.Hub
	Runner      *tasks.Runner
	JWTManager  *auth.JWTManager
	Coordinator *rooms.Coordinator

	log               *slog.Logger
	telemetryShutdown telemetry.Shutdown
}

func NewServer(ctx context.Context, cfg *config.Config, l *slog.Logger) (*Server, error) {
	otelShutdown, err := telemetry.Init(ctx, cfg.OTLPEndpoint, cfg.OTelServiceName)
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg.DatabaseURL, logger.Gorm(l))
	if err != nil {
		return nil, err
	}

	rdb, err := connectRedis(ctx, cfg, l)
	if err != nil {
		return nil, err
	}

	var relay websocket.Relay
	if cfg.BroadcastRelayURL != "" {
		relay, err = websocket.NewRelay(cfg.BroadcastRelayURL, l)
		if err != nil {
			return nil, err
		}
		l.Info("broadcast relay enabled", "url", redactURL(cfg.BroadcastRelayURL))
	}

	hub := websocket.NewHub(
		websocket.WithPongWait(cfg.PongTimeout),
		websocket.WithRelay(relay),
		websocket.WithLogger(l),
	)

	registry := presence.NewRegistry(rdb, cfg.RedisTimeout, l)
	verification := presence.NewVerificationStore(rdb, cfg.RedisTimeout, l)
	blacklist := auth.NewBlacklist(rdb, cfg.RedisTimeout)
	runner := tasks.NewRunner(l)

	coordinator := rooms.NewCoordinator(rooms.Deps{
		Store:        db,
		Transport:    hub,
		Registry:     registry,
		Verification: verification,
		Members:      presence.NewRoomMembers(rdb, cfg.RedisTimeout, l),
		Runner:       runner,
		GracePeriod:  cfg.PresenceGracePeriod,
		Logger:       l,
	})

	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.AccessTokenExpires)

	var provider oauth.Provider
	if cfg.GoogleEnabled() {
		google, err := oauth.NewGoogle(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.BackendBaseURL+"/auth/google/callback")
		if err != nil {
			l.Warn("google login disabled", "error", err)
		} else {
			provider = google
		}
	}

	secureCookies := strings.HasPrefix(cfg.BackendBaseURL, "https://")
	h := Handlers{
		Auth:      handlers.NewAuthHandler(db, jwtMgr, blacklist, provider, secureCookies, l),
		Room:      handlers.NewRoomHandler(db, l),
		User:      handlers.NewUserHandler(db, registry, verification),
		WebSocket: handlers.NewWebSocketHandler(hub, coordinator, cfg.CORSOrigins, l),
	}

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	router := NewRouter(cfg, l, jwtMgr, blacklist, h)

	return &Server{
		Config:      cfg,
		Router:      router,
		HTTP:        &http.Server{Addr: ":" + cfg.Port, Handler: router, ReadHeaderTimeout: 10 * time.Second},
		DB:          db,
		Redis:       rdb,
		Hub:         hub,
		Runner:      runner,
		JWTManager:  jwtMgr,
		Coordinator: coordinator,

		log:               l,
		telemetryShutdown: otelShutdown,
	}, nil
}

// connectRedis returns a nil client when REDIS_URL is unset; presence then runs degraded.
func connectRedis(ctx context.Context, cfg *config.Config, l *slog.Logger) (redis.UniversalClient, error) {
	if cfg.RedisURL == "" {
		l.Warn("REDIS_URL not set, connection tracking disabled")
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.RedisTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// Calls keep degrading until Redis comes back.
		l.Warn("redis unreachable at startup", "error", err)
	}
	return client, nil
}

// Run serves until a termination signal and returns the process exit code.
func (s *Server) Run() int {
	go s.Hub.Run()

	go func() {
		s.log.Info("server starting", "port", s.Config.Port)
		if err := s.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server run error", "error", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(context.Background(), shutdownTimeout, map[string]gfshutdown.Operation{
		"http": func(ctx context.Context) error {
			return s.HTTP.Shutdown(ctx)
		},
		"realtime": func(ctx context.Context) error {
			// Sockets first, so disconnect handlers still reach Redis and the runner.
			s.Hub.Stop()
			return s.Runner.Stop(ctx)
		},
		"telemetry": func(ctx context.Context) error {
			return s.telemetryShutdown(ctx)
		},
	})

	code := <-wait

	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if err := s.DB.Close(); err != nil {
		s.log.Warn("closing database", "error", err)
	}

	s.log.Info("server exited", "code", code)
	return code
}

func redactURL(raw string) string {
	if i := strings.Index(raw, "@"); i >= 0 {
		if j := strings.Index(raw, "://"); j >= 0 && j < i {
			return raw[:j+3] + "***" + raw[i:]
		}
	}
	return raw
}
