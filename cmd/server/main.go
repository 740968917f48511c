package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"fleetmon/internal/app"
	"fleetmon/internal/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load("")
	if err != nil {
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}
	logger.Info("starting fleetmon",
		"addr", cfg.Server.Addr(),
		"services", len(cfg.Services),
		"check_interval", cfg.Monitoring.CheckInterval().String())

	a := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := a.Run(ctx); err != nil {
		logger.Error("shutdown with error", "err", err)
		os.Exit(1)
	}
}
