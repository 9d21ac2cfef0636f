package s3

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/not-nullexception/ziply/config"
	"github.com/not-nullexception/ziply/internal/logger"
	"github.com/not-nullexception/ziply/internal/storage"
	"github.com/rs/zerolog"
)

// S3Client stores asset bytes in an AWS S3 bucket
type S3Client struct {
	client *s3.Client
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewClient creates an S3 storage client from the default AWS credential chain
func NewClient(ctx context.Context, cfg *config.S3Config) (storage.Client, error) {
	log := logger.GetLogger("s3-client")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)

	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)})
	if err != nil {
		return nil, fmt.Errorf("error checking bucket %s: %w", cfg.Bucket, err)
	}

	log.Info().Str("bucket", cfg.Bucket).Str("region", cfg.Region).Msg("S3 storage initialized")

	return &S3Client{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: log,
	}, nil
}

// UploadObject uploads asset bytes to S3
func (c *S3Client) UploadObject(ctx context.Context, reader io.Reader, size int64, objectName string, contentType string) error {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(objectName),
		Body:          reader,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("error uploading object: %w", err)
	}

	c.logger.Debug().Str("object", objectName).Int64("size", size).Msg("Object uploaded successfully")
	return nil
}

// GetObject retrieves asset bytes from S3
func (c *S3Client) GetObject(ctx context.Context, objectName string) (io.ReadCloser, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectName),
	})
	if err != nil {
		return nil, fmt.Errorf("error getting object: %w", err)
	}
	return out.Body, nil
}

// DeleteObject deletes an object from S3
func (c *S3Client) DeleteObject(ctx context.Context, objectName string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectName),
	})
	if err != nil {
		return fmt.Errorf("error deleting object: %w", err)
	}
	return nil
}

// StatObject returns the stored size of an object
func (c *S3Client) StatObject(ctx context.Context, objectName string) (int64, error) {
	out, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectName),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
			return 0, fmt.Errorf("object %s not found: %w", objectName, err)
		}
		return 0, fmt.Errorf("error stating object: %w", err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// GenerateObjectName generates a unique object name under the configured prefix
func (c *S3Client) GenerateObjectName(id uuid.UUID, fileName string) string {
	return storage.ObjectName(c.prefix, id, fileName)
}

func (c *S3Client) Close() error {
	return nil
}
