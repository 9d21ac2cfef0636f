package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/not-nullexception/ziply/config"
	"github.com/not-nullexception/ziply/internal/api/router"
	"github.com/not-nullexception/ziply/internal/app"
	"github.com/not-nullexception/ziply/internal/logger"
	"github.com/not-nullexception/ziply/internal/metrics"
	"github.com/not-nullexception/ziply/internal/queue"
	"github.com/not-nullexception/ziply/internal/queue/rabbitmq"
	"github.com/not-nullexception/ziply/internal/tracing"
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

	pipeline := app.NewPipeline(lib, cfg)

	// Queued runs are optional; in-process runs work without a broker
	var queueClient queue.Client
	if rabbitClient, err := rabbitmq.NewClient(ctx, &cfg.RabbitMQ); err != nil {
		log.Warn().Err(err).Msg("RabbitMQ unavailable, queued runs disabled")
	} else {
		queueClient = rabbitClient
		defer queueClient.Close()
	}

	r := router.Setup(cfg, pipeline, queueClient)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("address", server.Addr).Msg("Starting API server")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("API server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info().Msg("Shutting down API server...")

	pipeline.Selection.Cancel()
	pipeline.Orchestrator.Cancel()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("API server forced to shutdown")
	}
	if _, err := pipeline.Orchestrator.Wait(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("Compression run did not finish cleanly")
	}

	log.Info().Msg("API server stopped")
}
