package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/signaldesk/signaldesk/pkg/config"
	"github.com/signaldesk/signaldesk/pkg/db"
	"github.com/signaldesk/signaldesk/pkg/utils"
)

func main() {
	// Initialize logging system
	utils.InitLogger()
	logger := utils.GetLogger()

	if path, err := config.EnsureDefaultConfig(); err != nil {
		logger.Warn("Failed to write default config", "path", path, "error", err)
	}

	cfg, path, err := config.Load()
	if err != nil {
		logger.Warn("Failed to load config; falling back to defaults", "path", path, "error", err)
		cfg = &config.AppConfig{}
	}

	store, err := db.Open(cfg.DatabasePath())
	if err != nil {
		logger.Error("Failed to open database", "path", cfg.DatabasePath(), "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := NewServer(cfg, store)
	if err := server.Start(ctx); err != nil {
		logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}

	// Block until a shutdown signal arrives.
	<-ctx.Done()
	logger.Info("shutting down")
}
