package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/not-nullexception/ziply/config"
	"github.com/not-nullexception/ziply/internal/library"
	"github.com/not-nullexception/ziply/internal/library/models"
	"github.com/not-nullexception/ziply/internal/logger"
	imgproc "github.com/not-nullexception/ziply/internal/processor/image"
	"github.com/not-nullexception/ziply/internal/progress"
	"github.com/not-nullexception/ziply/internal/selection"
)

type SearchHandler struct {
	engine *selection.Engine
	config *config.SelectionConfig
}

type SearchRequest struct {
	Preset    selection.Preset `json:"preset"`
	Start     time.Time        `json:"start"`
	End       time.Time        `json:"end"`
	MinimumMB float64          `json:"minimum_mb"`
}

type SearchResponse struct {
	Count              int    `json:"count"`
	TotalSize          int64  `json:"total_size"`
	FormattedTotalSize string `json:"formatted_total_size"`
	// EstimatedSavings assumes the typical compression ratio
	EstimatedSavings          int64           `json:"estimated_savings"`
	FormattedEstimatedSavings string          `json:"formatted_estimated_savings"`
	Searching                 bool            `json:"searching"`
	Assets                    []*models.Asset `json:"assets"`
	Error                     string          `json:"error,omitempty"`
}

func NewSearchHandler(engine *selection.Engine, cfg *config.SelectionConfig) *SearchHandler {
	return &SearchHandler{engine: engine, config: cfg}
}

// StartSearch supersedes any running search. With ?wait=true it responds with
// the final result, otherwise with 202 and the first snapshot.
func (h *SearchHandler) StartSearch(c *gin.Context) {
	reqLogger := logger.FromContext(c.Request.Context())

	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if req.Preset == "" {
		req.Preset = selection.PresetLastMonth
	}

	criteria, err := selection.NewCriteria(req.Preset, selection.DateRange{Start: req.Start, End: req.End},
		req.MinimumMB, time.Now(), h.config)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reqLogger.Info().
		Str("preset", string(req.Preset)).
		Int64("minimum_size", criteria.MinimumSize).
		Msg("Starting search")

	// the search outlives the request
	handle := h.engine.Start(context.WithoutCancel(c.Request.Context()), criteria)

	if c.Query("wait") != "true" {
		c.JSON(http.StatusAccepted, newSearchResponse(h.engine.Current(), nil))
		return
	}

	result, err := handle.Wait()
	switch {
	case errors.Is(err, library.ErrAccessDenied):
		c.JSON(http.StatusForbidden, newSearchResponse(result, err))
	case errors.Is(err, selection.ErrSuperseded):
		c.JSON(http.StatusConflict, newSearchResponse(h.engine.Current(), err))
	case err != nil && !errors.Is(err, context.Canceled):
		reqLogger.Error().Err(err).Msg("Search failed")
		c.JSON(http.StatusInternalServerError, newSearchResponse(result, err))
	default:
		c.JSON(http.StatusOK, newSearchResponse(result, nil))
	}
}

// GetSearch returns the last committed result
func (h *SearchHandler) GetSearch(c *gin.Context) {
	c.JSON(http.StatusOK, newSearchResponse(h.engine.Current(), nil))
}

// CancelSearch stops the running search, keeping its partial result
func (h *SearchHandler) CancelSearch(c *gin.Context) {
	h.engine.Cancel()
	c.JSON(http.StatusOK, newSearchResponse(h.engine.Current(), nil))
}

func newSearchResponse(result selection.Result, err error) SearchResponse {
	savings := imgproc.EstimateSavings(result.TotalSize)
	resp := SearchResponse{
		Count:                     result.Count(),
		TotalSize:                 result.TotalSize,
		FormattedTotalSize:        progress.FormatBytes(result.TotalSize),
		EstimatedSavings:          savings,
		FormattedEstimatedSavings: progress.FormatBytes(savings),
		Searching:                 result.Searching,
		Assets:                    result.Assets,
	}
	if resp.Assets == nil {
		resp.Assets = []*models.Asset{}
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}
