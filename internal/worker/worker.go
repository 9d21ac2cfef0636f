package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/not-nullexception/ziply/config"
	"github.com/not-nullexception/ziply/internal/compression"
	"github.com/not-nullexception/ziply/internal/library"
	"github.com/not-nullexception/ziply/internal/library/models"
	"github.com/not-nullexception/ziply/internal/logger"
	"github.com/not-nullexception/ziply/internal/metrics"
	imgproc "github.com/not-nullexception/ziply/internal/processor/image"
	"github.com/not-nullexception/ziply/internal/progress"
	"github.com/not-nullexception/ziply/internal/queue"
	"github.com/rs/zerolog"
)

// ErrStopped is returned for tasks delivered after Stop; they are requeued
var ErrStopped = errors.New("worker is stopping")

type Worker struct {
	lib          library.Library
	queueClient  queue.Client
	orchestrator *compression.Orchestrator
	logger       zerolog.Logger
	config       *config.Config

	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup
}

func New(lib library.Library, queueClient queue.Client, cfg *config.Config) *Worker {
	processor := imgproc.New(lib, imgproc.ConfigFrom(&cfg.Compression))

	return &Worker{
		lib:          lib,
		queueClient:  queueClient,
		orchestrator: compression.New(lib, processor, compression.OptionsFrom(cfg)),
		logger:       logger.GetLogger("worker"),
		config:       cfg,
	}
}

// Start starts consuming run tasks. The queue delivers them one at a time.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info().Dur("lock_retry_delay", w.config.Worker.LockRetryDelay).Msg("Starting worker")

	err := w.queueClient.Consume(ctx, w.processTask)
	if err != nil {
		return fmt.Errorf("error consuming messages: %w", err)
	}

	return nil
}

// Stop refuses new tasks and waits for the in-flight run
func (w *Worker) Stop() {
	w.logger.Info().Msg("Stopping worker")
	w.mu.Lock()
	w.stopping = true
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info().Msg("Worker stopped")
}

func (w *Worker) processTask(ctx context.Context, task queue.Task) error {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return ErrStopped
	}
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	metrics.UpdateWorkerUtilization(1, 1)
	defer metrics.UpdateWorkerUtilization(0, 1)

	w.logger.Info().
		Str("task_id", task.ID).
		Str("task_type", task.Type).
		Msg("Processing task")

	switch task.Type {
	case queue.TaskTypeCompressRun:
		return w.processCompressRun(ctx, task.Run)
	default:
		return fmt.Errorf("%w: unknown task type: %s", queue.ErrInvalidTask, task.Type)
	}
}

func (w *Worker) processCompressRun(ctx context.Context, run *queue.CompressRun) error {
	policy, err := compression.ParsePolicy(run.Policy)
	if err != nil {
		return fmt.Errorf("%w: %w", queue.ErrInvalidTask, err)
	}

	log := w.logger.With().Str("run_id", run.RunID.String()).Str("policy", string(policy)).Logger()
	ctx = logger.ToContext(ctx, log)

	assets := make([]*models.Asset, 0, len(run.AssetIDs))
	for _, id := range run.AssetIDs {
		asset, err := w.lib.GetAsset(ctx, id)
		if errors.Is(err, library.ErrNotFound) {
			log.Warn().Str("asset_id", id.String()).Msg("Asset no longer exists, skipping")
			continue
		}
		if err != nil {
			return fmt.Errorf("error loading asset %s: %w", id, err)
		}
		assets = append(assets, asset)
	}

	summary, err := w.runWhenUnlocked(ctx, log, policy, assets)
	var batchErr *compression.BatchError
	switch {
	case errors.As(err, &batchErr):
		// every asset failed; redelivery would fail the same way
		log.Error().Err(err).Int("failed", summary.FailedPhotos).Msg("Compression run failed")
		return nil
	case err != nil:
		return fmt.Errorf("error running compression: %w", err)
	}
	if summary.Cancelled {
		// written assets are not rolled back, so the task is not redelivered
		log.Warn().Int("processed", summary.Processed).Int("skipped", summary.Skipped).Msg("Compression run cancelled")
		return nil
	}

	log.Info().
		Int("successful", summary.SuccessfulPhotos).
		Int("failed", summary.FailedPhotos).
		Str("space_saved", summary.FormattedSpaceSaved()).
		Msg("Compression run processed successfully")
	return nil
}

// runWhenUnlocked retries while a run elsewhere, such as the API's, holds the
// library. The delivery stays unacknowledged meanwhile.
func (w *Worker) runWhenUnlocked(ctx context.Context, log zerolog.Logger, policy compression.Policy, assets []*models.Asset) (progress.Summary, error) {
	delay := max(w.config.Worker.LockRetryDelay, 10*time.Millisecond)
	for {
		summary, err := w.orchestrator.Run(ctx, policy, assets)
		if !errors.Is(err, compression.ErrRunInProgress) {
			return summary, err
		}

		log.Info().Dur("retry_delay", delay).Msg("Library is busy with another run, waiting")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return progress.Summary{}, ctx.Err()
		}
	}
}
