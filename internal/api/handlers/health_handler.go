package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/not-nullexception/ziply/internal/logger"
	"github.com/not-nullexception/ziply/internal/metrics"
	"github.com/not-nullexception/ziply/internal/queue"
)

// Pinger is satisfied by the library
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	lib         Pinger
	queueClient queue.Client
	version     string
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Library   string    `json:"library"`
	Queue     string    `json:"queue,omitempty"`
}

// NewHealthHandler builds the health handler. queueClient may be nil.
func NewHealthHandler(lib Pinger, queueClient queue.Client, version string) *HealthHandler {
	return &HealthHandler{
		lib:         lib,
		queueClient: queueClient,
		version:     version,
	}
}

// Check handles health check requests
func (h *HealthHandler) Check(c *gin.Context) {
	reqLogger := logger.FromContext(c.Request.Context())
	reqLogger.Debug().Msg("Processing health check request")

	response := HealthResponse{
		Status:    "UP",
		Timestamp: time.Now(),
		Version:   h.version,
		Library:   "UP",
	}

	if err := h.lib.Ping(c.Request.Context()); err != nil {
		reqLogger.Error().Err(err).Msg("Library health check failed")
		response.Status = "DEGRADED"
		response.Library = "DOWN"
	}

	if h.queueClient != nil {
		response.Queue = "UP"
		depth, err := h.queueClient.Depth()
		if err != nil {
			reqLogger.Error().Err(err).Msg("Queue health check failed")
			response.Status = "DEGRADED"
			response.Queue = "DOWN"
		} else {
			metrics.UpdateQueueDepth(depth)
		}
	}

	c.JSON(http.StatusOK, response)
}
