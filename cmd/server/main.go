package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/iris-ckd-mcp-server/internal/api"
	"github.com/iris-ckd-mcp-server/internal/app"
	"github.com/iris-ckd-mcp-server/internal/config"
	"github.com/iris-ckd-mcp-server/internal/domain"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := app.New(ctx, cfg, logger,
		app.WithInputParser(&domain.InputParser{RequireKidneyMarker: true}))
	if err != nil {
		logger.WithError(err).Fatal("Failed to assemble consultation service")
	}
	defer components.Close()

	server := api.NewServer(configManager, logger, api.Dependencies{
		Service: components.Service,
		Audit:   components.Audit,
		Metrics: components.Metrics,
		Checks:  components.Checks,
	})

	logger.WithField("port", cfg.Server.Port).Info("Starting IRIS CKD staging server")
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		return
	}

	logger.Info("Server stopped")
}
