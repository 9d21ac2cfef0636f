package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/not-nullexception/ziply/config"
	"github.com/not-nullexception/ziply/internal/app"
	"github.com/not-nullexception/ziply/internal/logger"
	"github.com/not-nullexception/ziply/internal/metrics"
	"github.com/not-nullexception/ziply/internal/queue/rabbitmq"
	"github.com/not-nullexception/ziply/internal/tracing"
	"github.com/not-nullexception/ziply/internal/worker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Setup(&cfg.Log)

	shutdownTracing, err := tracing.Init(ctx, &cfg.Tracing)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}
	defer shutdownTracing()

	if cfg.Metrics.Enabled {
		metrics.Init()
	}

	lib, err := app.OpenLibrary(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open photo library")
	}
	defer lib.Close()

	queueClient, err := rabbitmq.NewClient(ctx, &cfg.RabbitMQ)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create RabbitMQ client")
	}
	defer queueClient.Close()

	w := worker.New(lib, queueClient, cfg)

	if err := w.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start worker")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info().Msg("Shutting down worker...")

	// in-flight runs stop at the next asset boundary
	cancel()

	w.Stop()

	log.Info().Msg("Worker stopped")
}
