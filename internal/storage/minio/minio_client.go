package minio

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	minioLib "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/not-nullexception/ziply/config"
	"github.com/not-nullexception/ziply/internal/logger"
	"github.com/not-nullexception/ziply/internal/storage"
	"github.com/rs/zerolog"
)

type MinioClient struct {
	client     *minioLib.Client
	bucketName string
	logger     zerolog.Logger
	config     *config.MinIOConfig
}

func NewClient(ctx context.Context, cfg *config.MinIOConfig) (storage.Client, error) {
	log := logger.GetLogger("minio-client")

	// Initialize MinIO client
	client, err := minioLib.New(cfg.Endpoint, &minioLib.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.SSL,
	})
	if err != nil {
		return nil, fmt.Errorf("error initializing MinIO client: %w", err)
	}

	mc := &MinioClient{
		client:     client,
		bucketName: cfg.Bucket,
		logger:     log,
		config:     cfg,
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("error checking if bucket exists: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.Bucket, minioLib.MakeBucketOptions{Region: cfg.Location})
		if err != nil {
			return nil, fmt.Errorf("error creating bucket: %w", err)
		}
		log.Info().Str("bucket", cfg.Bucket).Msg("Bucket created")
	} else {
		log.Info().Str("bucket", cfg.Bucket).Msg("Bucket already exists")
	}

	return mc, nil
}

// UploadObject uploads asset bytes to MinIO
func (m *MinioClient) UploadObject(ctx context.Context, reader io.Reader, size int64, objectName string, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucketName, objectName, reader, size,
		minioLib.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("error uploading object: %w", err)
	}

	m.logger.Debug().Str("object", objectName).Int64("size", size).Msg("Object uploaded successfully")
	return nil
}

// GetObject retrieves asset bytes from MinIO
func (m *MinioClient) GetObject(ctx context.Context, objectName string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.bucketName, objectName, minioLib.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("error getting object: %w", err)
	}

	m.logger.Debug().Str("object", objectName).Msg("Object retrieved successfully")
	return obj, nil
}

// DeleteObject deletes an object from MinIO
func (m *MinioClient) DeleteObject(ctx context.Context, objectName string) error {
	err := m.client.RemoveObject(ctx, m.bucketName, objectName, minioLib.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("error deleting object: %w", err)
	}

	m.logger.Debug().Str("object", objectName).Msg("Object deleted successfully")
	return nil
}

// StatObject returns the stored size of an object
func (m *MinioClient) StatObject(ctx context.Context, objectName string) (int64, error) {
	info, err := m.client.StatObject(ctx, m.bucketName, objectName, minioLib.StatObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("error stating object: %w", err)
	}
	return info.Size, nil
}

// GenerateObjectName generates a unique object name
func (m *MinioClient) GenerateObjectName(id uuid.UUID, fileName string) string {
	return storage.ObjectName("", id, fileName)
}

// Close closes the MinIO client connection
func (m *MinioClient) Close() error {
	return nil
}
