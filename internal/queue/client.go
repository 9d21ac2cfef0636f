package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const TaskTypeCompressRun = "compress_run"

var ErrInvalidTask = errors.New("invalid task")

// CompressRun asks a worker to compress the listed assets under a policy
type CompressRun struct {
	RunID    uuid.UUID   `json:"run_id"`
	Policy   string      `json:"policy"`
	AssetIDs []uuid.UUID `json:"asset_ids"`
}

type Task struct {
	ID        string       `json:"id"`
	Type      string       `json:"type"`
	CreatedAt time.Time    `json:"created_at"`
	Run       *CompressRun `json:"run,omitempty"`
}

// NewCompressRunTask builds a task for a queued run
func NewCompressRunTask(policy string, assetIDs []uuid.UUID) Task {
	runID := uuid.New()
	return Task{
		ID:        runID.String(),
		Type:      TaskTypeCompressRun,
		CreatedAt: time.Now().UTC(),
		Run: &CompressRun{
			RunID:    runID,
			Policy:   policy,
			AssetIDs: assetIDs,
		},
	}
}

// Decode parses and validates a task body
func Decode(body []byte) (Task, error) {
	var task Task
	if err := json.Unmarshal(body, &task); err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	switch task.Type {
	case TaskTypeCompressRun:
		if task.Run == nil {
			return Task{}, fmt.Errorf("%w: %s task without run", ErrInvalidTask, task.Type)
		}
	default:
		return Task{}, fmt.Errorf("%w: unknown type %q", ErrInvalidTask, task.Type)
	}
	return task, nil
}

// ProcessFunc is a function that processes a task
type ProcessFunc func(ctx context.Context, task Task) error

// Client defines the interface for RabbitMQ operations
type Client interface {
	Publish(ctx context.Context, task Task) error
	Consume(ctx context.Context, processFunc ProcessFunc) error

	// Depth returns the number of messages waiting in the queue
	Depth() (int, error)

	// Close closes the RabbitMQ connection
	Close() error
}
