package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ride-dispatch/internal/dispatch/app"
	"ride-dispatch/pkg/config"
	"ride-dispatch/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log := logger.NewLogger("dispatch")
	log.Info("service_starting", fmt.Sprintf("Dispatch engine starting on port %d", cfg.HTTP.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup_failed", err)
		os.Exit(1)
	}

	if err := engine.Run(ctx); err != nil {
		log.Error("runtime_failed", err)
		os.Exit(1)
	}

	log.Info("service_stopped", "Dispatch engine shut down")
}
