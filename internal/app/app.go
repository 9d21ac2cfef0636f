// Package app wires the configured library, storage and pipeline components
// shared by the binaries.
package app

import (
	"context"
	"fmt"

	"github.com/not-nullexception/ziply/config"
	"github.com/not-nullexception/ziply/internal/compression"
	"github.com/not-nullexception/ziply/internal/library"
	"github.com/not-nullexception/ziply/internal/library/models"
	"github.com/not-nullexception/ziply/internal/library/postgres"
	imgproc "github.com/not-nullexception/ziply/internal/processor/image"
	"github.com/not-nullexception/ziply/internal/selection"
	"github.com/not-nullexception/ziply/internal/storage"
	"github.com/not-nullexception/ziply/internal/storage/minio"
	"github.com/not-nullexception/ziply/internal/storage/s3"
)

// OpenStorage returns the blob client selected by cfg.Driver
func OpenStorage(ctx context.Context, cfg *config.StorageConfig) (storage.Client, error) {
	switch cfg.Driver {
	case "minio":
		return minio.NewClient(ctx, &cfg.MinIO)
	case "s3":
		return s3.NewClient(ctx, &cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

// OpenLibrary connects the postgres catalog and blob storage
func OpenLibrary(ctx context.Context, cfg *config.Config) (library.Library, error) {
	blobs, err := OpenStorage(ctx, &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	pool, err := postgres.NewPool(ctx, &cfg.Database)
	if err != nil {
		blobs.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	grant := models.ParseAuthorizationStatus(cfg.Library.GrantOnRequest)
	return postgres.New(pool, blobs, grant), nil
}

// Pipeline bundles the selection engine and compression orchestrator over one library
type Pipeline struct {
	Library      library.Library
	Selection    *selection.Engine
	Orchestrator *compression.Orchestrator
}

func NewPipeline(lib library.Library, cfg *config.Config, opts ...selection.Option) *Pipeline {
	processor := imgproc.New(lib, imgproc.ConfigFrom(&cfg.Compression))
	return &Pipeline{
		Library:      lib,
		Selection:    selection.NewEngine(lib, opts...),
		Orchestrator: compression.New(lib, processor, compression.OptionsFrom(cfg)),
	}
}
