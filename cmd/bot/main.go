package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"mcbridge/internal/app"
	"mcbridge/internal/config"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if cfg.DiscordToken == "" {
		logger.Error("DISCORD_TOKEN is not set")
		os.Exit(1)
	}
	logger.Info("starting mcbridge", "container", cfg.ContainerName, "rcon", cfg.RCONAddr, "db", cfg.DBPath)

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("init failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := a.Run(ctx); err != nil {
		logger.Error("shutdown with error", "err", err)
		os.Exit(1)
	}
}
