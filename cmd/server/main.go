package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AdityaNittala03/gonews-auth/internal/app"
	"github.com/AdityaNittala03/gonews-auth/internal/config"
	"github.com/AdityaNittala03/gonews-auth/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		slog.Error("auth service exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New("auth-service", cfg.LogLevel)
	log.Info("starting auth service",
		slog.String("environment", cfg.Environment),
		slog.Int("http_port", cfg.HTTPPort),
	)

	application, err := app.NewApp(cfg, log)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Blocks until the context is canceled or a fatal server error occurs.
	if err := application.Run(ctx); err != nil {
		return err
	}

	log.Info("auth service stopped")
	return nil
}
