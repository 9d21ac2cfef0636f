package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/not-nullexception/ziply/internal/compression"
	"github.com/not-nullexception/ziply/internal/library"
	"github.com/not-nullexception/ziply/internal/library/models"
	"github.com/not-nullexception/ziply/internal/logger"
	"github.com/not-nullexception/ziply/internal/queue"
	"github.com/not-nullexception/ziply/internal/selection"
)

type RunHandler struct {
	lib          library.AssetReader
	engine       *selection.Engine
	orchestrator *compression.Orchestrator
	queueClient  queue.Client
}

// RunRequest starts a run. Without asset IDs the current search result is used.
type RunRequest struct {
	Policy   string      `json:"policy" binding:"required"`
	AssetIDs []uuid.UUID `json:"asset_ids"`
}

type RunResponse struct {
	RunID  uuid.UUID `json:"run_id"`
	Policy string    `json:"policy"`
	Assets int       `json:"assets"`
	Queued bool      `json:"queued"`
}

// NewRunHandler builds the run handler. queueClient may be nil, which
// disables queued runs.
func NewRunHandler(lib library.AssetReader, engine *selection.Engine, orchestrator *compression.Orchestrator, queueClient queue.Client) *RunHandler {
	return &RunHandler{
		lib:          lib,
		engine:       engine,
		orchestrator: orchestrator,
		queueClient:  queueClient,
	}
}

// StartRun starts a compression run in-process, or publishes it to the
// worker queue with ?queue=true
func (h *RunHandler) StartRun(c *gin.Context) {
	ctx := c.Request.Context()
	reqLogger := logger.FromContext(ctx)

	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	policy, err := compression.ParsePolicy(req.Policy)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if c.Query("queue") == "true" {
		h.enqueue(c, policy, req.AssetIDs)
		return
	}

	assets, err := h.resolveAssets(ctx, req.AssetIDs)
	if err != nil {
		writeLibraryError(c, err, "Failed to load assets")
		return
	}
	if len(assets) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No assets selected"})
		return
	}

	runID, err := h.orchestrator.Start(context.WithoutCancel(ctx), policy, assets)
	if errors.Is(err, compression.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		reqLogger.Error().Err(err).Msg("Failed to start run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start run"})
		return
	}

	reqLogger.Info().Str("run_id", runID.String()).Int("assets", len(assets)).Msg("Compression run started")
	c.JSON(http.StatusAccepted, RunResponse{RunID: runID, Policy: string(policy), Assets: len(assets)})
}

func (h *RunHandler) enqueue(c *gin.Context, policy compression.Policy, ids []uuid.UUID) {
	ctx := c.Request.Context()
	reqLogger := logger.FromContext(ctx)

	if h.queueClient == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Run queue is not configured"})
		return
	}
	if len(ids) == 0 {
		for _, asset := range h.engine.Current().Assets {
			ids = append(ids, asset.ID)
		}
	}
	if len(ids) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No assets selected"})
		return
	}

	task := queue.NewCompressRunTask(string(policy), ids)
	if err := h.queueClient.Publish(ctx, task); err != nil {
		reqLogger.Error().Err(err).Str("run_id", task.Run.RunID.String()).Msg("Failed to queue run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue run"})
		return
	}

	reqLogger.Info().Str("run_id", task.Run.RunID.String()).Int("assets", len(ids)).Msg("Compression run queued")
	c.JSON(http.StatusAccepted, RunResponse{RunID: task.Run.RunID, Policy: string(policy), Assets: len(ids), Queued: true})
}

func (h *RunHandler) resolveAssets(ctx context.Context, ids []uuid.UUID) ([]*models.Asset, error) {
	if len(ids) == 0 {
		return h.engine.Current().Assets, nil
	}
	assets := make([]*models.Asset, 0, len(ids))
	for _, id := range ids {
		asset, err := h.lib.GetAsset(ctx, id)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

// GetCurrentRun returns the state of the active or last run
func (h *RunHandler) GetCurrentRun(c *gin.Context) {
	state := h.orchestrator.State()
	if state.ID == uuid.Nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No run has been started"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run":                      state,
		"progress_percentage":      state.Progress.ProgressPercentage(),
		"formatted_space_freed":    state.Progress.FormattedSpaceFreed(),
		"formatted_time_remaining": state.Progress.FormattedTimeRemaining(),
	})
}

// CancelRun stops the active run at the next asset boundary
func (h *RunHandler) CancelRun(c *gin.Context) {
	if !h.orchestrator.Cancel() {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active run"})
		return
	}
	logger.FromContext(c.Request.Context()).Info().Msg("Compression run cancellation requested")
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}
