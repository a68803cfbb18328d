package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/thereayou/roomkit/internal/config"
	"github.com/thereayou/roomkit/internal/logger"
)

func main() {
	config.LoadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	l := logger.Init(cfg.LogLevel, cfg.LogFormat)

	srv, err := NewServer(context.Background(), cfg, l)
	if err != nil {
		l.Error("server setup failed", "error", err)
		os.Exit(1)
	}

	os.Exit(srv.Run())
}
