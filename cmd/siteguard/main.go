package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/config"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/orchestrator"
)

// main is the entry point for the SiteGuard service.
//
// SiteGuard is responsible for:
//   - Receiving camera frames from NATS (frames.<camera>)
//   - Turning sustained hazards into violations with open/update/resolve lifecycles
//   - Fanning lifecycle events out to live viewers and NATS subscribers
//   - Persisting violations to the configured store
//   - Serving the operator HTTP API, the gRPC client API and /health
func main() {
	log.Printf("SiteGuard starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Configuration loaded successfully")
	log.Printf("  Cameras: %v", cfg.Cameras)
	log.Printf("  Tick Interval: %s", cfg.TickInterval)
	log.Printf("  Alert Threshold: %s (proximity %s)", cfg.Detection.AlertThreshold, cfg.Detection.ProximityAlertThreshold)
	log.Printf("  Absence Timeout: %s", cfg.Detection.AbsenceTimeout)
	log.Printf("  Store Backend: %s", cfg.Store.Backend)
	log.Printf("  NATS URL: %s", cfg.NatsURL)
	log.Printf("  gRPC Port: %s", cfg.GRPCPort)
	log.Printf("  HTTP Port: %s", cfg.HTTPPort)
	log.Printf("  Health Port: %s", cfg.HealthPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch := orchestrator.NewOrchestrator(cfg)
	if err := orch.Start(ctx); err != nil {
		log.Fatalf("Failed to start orchestrator: %v", err)
	}

	// Listen for shutdown signals (Ctrl+C, Docker stop, k8s termination)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	runErr := make(chan error, 1)
	go func() {
		runErr <- orch.Run(ctx)
	}()

	select {
	case <-sigChan:
		log.Printf("Shutdown signal received, initiating graceful shutdown...")
	case err := <-runErr:
		if err != nil && err != context.Canceled {
			log.Printf("Orchestrator error: %v", err)
		}
	}

	cancel()

	// Cameras resolve their ongoing violations before the store closes
	if err := orch.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Printf("SiteGuard stopped successfully")
}
