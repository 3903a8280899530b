package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventmesh-be/internal/bootstrap"
	"eventmesh-be/internal/config"
	"eventmesh-be/internal/server"
	"eventmesh-be/internal/tracer"
)

func main() {
	// 1. Load & validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Panicf("Invalid configuration: %v", err)
	}

	// 2. Tracer (no-op unless OTEL_ENABLED=true)
	shutdownTracer := tracer.InitTracer(cfg.App.ServiceName)
	defer shutdownTracer(context.Background())

	// 3. Bootstrap dependencies (Container)
	container := bootstrap.NewContainer(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initial connect failures are fatal: no serving without the backbone.
	if err := container.Init(ctx); err != nil {
		log.Panicf("Startup failed: %v", err)
	}

	// 4. Join the configured consumer group on every domain topic
	if err := container.StartDefaultConsumer(ctx); err != nil {
		log.Panicf("Consumer startup failed: %v", err)
	}

	// 5. Ops server
	srv := server.New(cfg, container)
	go func() {
		if err := srv.Run(); err != nil {
			log.Printf("Ops server stopped: %v", err)
		}
	}()

	// 6. Wait for termination, then shut down gracefully with a hard timeout.
	<-ctx.Done()
	log.Println("Shutdown signal received, draining...")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Shutdown(); err != nil {
			log.Printf("Ops server shutdown: %v", err)
		}
		container.Shutdown()
	}()

	select {
	case <-done:
		log.Println("Shutdown complete")
	case <-time.After(time.Duration(cfg.App.ShutdownTimeoutSec) * time.Second):
		log.Println("Shutdown timed out, forcing exit")
		os.Exit(1)
	}
}
