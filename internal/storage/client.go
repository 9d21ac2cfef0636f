package storage

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
)

// ErrIncompleteUpload is returned when a stored object's size differs from what was sent
var ErrIncompleteUpload = errors.New("stored object size does not match upload")

// Client defines the interface for blob storage holding encoded asset bytes
type Client interface {
	UploadObject(ctx context.Context, reader io.Reader, size int64, objectName string, contentType string) error
	GetObject(ctx context.Context, objectName string) (io.ReadCloser, error)
	DeleteObject(ctx context.Context, objectName string) error
	// StatObject returns the stored size of an object
	StatObject(ctx context.Context, objectName string) (int64, error)
	GenerateObjectName(id uuid.UUID, fileName string) string

	// Close closes the storage client connection
	Close() error
}
