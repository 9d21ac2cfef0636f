package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"time"

	"github.com/disintegration/imaging"
	"github.com/not-nullexception/ziply/config"
	"github.com/not-nullexception/ziply/internal/library"
	"github.com/not-nullexception/ziply/internal/library/models"
	"github.com/not-nullexception/ziply/internal/logger"
	"github.com/not-nullexception/ziply/internal/metadata"
	"github.com/not-nullexception/ziply/internal/metrics"
	"github.com/not-nullexception/ziply/internal/tracing"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const ContentTypeJPEG = "image/jpeg"

var (
	// ErrImageLoadFailed is returned when the image or its bytes cannot be loaded
	ErrImageLoadFailed = errors.New("failed to load image")
	// ErrDecodeFailed is returned when the stored bytes are not a decodable image
	ErrDecodeFailed = errors.New("failed to decode image")
	// ErrNoImageBacking is returned when the library returns no pixel data
	ErrNoImageBacking = errors.New("asset has no image backing")
	// ErrEncodeFailed is returned when the encoder produced no output
	ErrEncodeFailed = errors.New("failed to encode compressed image")
)

// Config holds the transform constants
type Config struct {
	MaxDimension int
	// Quality in [0,1]
	Quality float64
	// StripSensitive drops GPS, user comments and maker notes from the output
	StripSensitive bool
}

// ConfigFrom maps the compression section of the application config
func ConfigFrom(cfg *config.CompressionConfig) Config {
	return Config{
		MaxDimension:   cfg.MaxDimension,
		Quality:        cfg.Quality,
		StripSensitive: cfg.StripSensitive,
	}
}

// JPEGQuality maps Quality onto the encoder's 1-100 scale
func (c Config) JPEGQuality() int {
	q := int(math.Round(c.Quality * 100))
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}

// TransformResult is the output of one transform. It is consumed by the
// persistence step and then discarded.
type TransformResult struct {
	Asset            *models.Asset
	OriginalSize     int64
	CompressedSize   int64
	CompressionRatio float64
	Data             []byte
	Metadata         *metadata.Metadata
	// Properties is the extracted property set merged with the new pixel
	// dimensions and orientation
	Properties map[string]any
	Width      int
	Height     int
}

// SpaceSaved is negative when the compressed file grew
func (r *TransformResult) SpaceSaved() int64 {
	return r.OriginalSize - r.CompressedSize
}

// CompressionPercentage returns (1 - ratio) * 100
func (r *TransformResult) CompressionPercentage() float64 {
	return (1 - r.CompressionRatio) * 100
}

type Processor struct {
	assets library.AssetReader
	config Config
	logger zerolog.Logger
}

func New(assets library.AssetReader, cfg Config) *Processor {
	return &Processor{
		assets: assets,
		config: cfg,
		logger: logger.GetLogger("image-processor"),
	}
}

// Transform resizes and re-encodes one asset
func (p *Processor) Transform(ctx context.Context, asset *models.Asset) (result *TransformResult, err error) {
	ctx, span := tracing.StartAssetSpan(ctx, "processor.Transform", asset.ID)
	defer span.End()

	startTime := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "failed"
			tracing.RecordError(ctx, err)
		}
		metrics.RecordTransformTime(ctx, status, startTime)
	}()

	var (
		img  image.Image
		data []byte
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		img, err = p.assets.LoadImage(gctx, asset.ID)
		return err
	})
	g.Go(func() error {
		var err error
		data, err = p.assets.LoadImageData(gctx, asset.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, library.ErrDecode) {
			return nil, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrImageLoadFailed, err)
	}
	if img == nil {
		return nil, ErrNoImageBacking
	}

	md, err := metadata.Extract(data)
	if err != nil {
		// unreadable metadata does not block compression
		p.logger.Warn().
			Err(err).
			Str("asset_id", asset.ID.String()).
			Msg("Failed to extract metadata")
		md = nil
	}
	if p.config.StripSensitive {
		md = md.Sanitize(true)
	}

	bounds := img.Bounds()
	width, height := TargetSize(bounds.Dx(), bounds.Dy(), p.config.MaxDimension)
	if width != bounds.Dx() || height != bounds.Dy() {
		img = imaging.Resize(img, width, height, imaging.Lanczos)
		p.logger.Debug().
			Str("asset_id", asset.ID.String()).
			Int("original_width", bounds.Dx()).
			Int("original_height", bounds.Dy()).
			Int("new_width", width).
			Int("new_height", height).
			Msg("Image resized")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.config.JPEGQuality()}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	if buf.Len() == 0 {
		return nil, ErrEncodeFailed
	}

	md = md.WithDimensions(width, height)
	encoded, err := metadata.Embed(buf.Bytes(), md)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding metadata: %v", ErrEncodeFailed, err)
	}

	result = &TransformResult{
		Asset:          asset,
		OriginalSize:   int64(len(data)),
		CompressedSize: int64(len(encoded)),
		Data:           encoded,
		Metadata:       md,
		Properties:     md.Merge(p.outputProperties(asset, md, width, height)),
		Width:          width,
		Height:         height,
	}
	if result.OriginalSize > 0 {
		result.CompressionRatio = float64(result.CompressedSize) / float64(result.OriginalSize)
	}

	tracing.SetSizes(ctx, result.OriginalSize, result.CompressedSize)

	p.logger.Info().
		Str("asset_id", asset.ID.String()).
		Int64("original_size", result.OriginalSize).
		Int64("compressed_size", result.CompressedSize).
		Float64("reduction_percentage", result.CompressionPercentage()).
		Msg("Asset transformed")

	return result, nil
}

// outputProperties are the values the re-encoded image replaces. A source
// without a GPS block takes one from the asset's location.
func (p *Processor) outputProperties(asset *models.Asset, md *metadata.Metadata, width, height int) map[string]any {
	props := map[string]any{
		metadata.KeyPixelWidth:  width,
		metadata.KeyPixelHeight: height,
	}
	if md != nil && len(md.Exif) > 0 {
		props[metadata.KeyExif] = map[string]any{
			"PixelXDimension": width,
			"PixelYDimension": height,
		}
	}
	if md != nil && md.Orientation != 0 {
		props[metadata.KeyOrientation] = md.Orientation
	}
	if asset.Location != nil && !p.config.StripSensitive && (md == nil || len(md.GPS) == 0) {
		props[metadata.KeyGPS] = map[string]any(metadata.GPSFromLocation(*asset.Location))
	}
	return props
}

// TargetSize returns the output dimensions: unchanged when both sides fit
// within maxDimension, otherwise the larger side becomes maxDimension.
func TargetSize(width, height, maxDimension int) (int, int) {
	if maxDimension <= 0 || (width <= maxDimension && height <= maxDimension) {
		return width, height
	}

	if width >= height {
		h := int(math.Round(float64(height) * float64(maxDimension) / float64(width)))
		return maxDimension, max(h, 1)
	}
	w := int(math.Round(float64(width) * float64(maxDimension) / float64(height)))
	return max(w, 1), maxDimension
}

// TypicalRatio is the compressed to original size ratio assumed for estimates
const TypicalRatio = 0.25

// EstimateCompressedSize predicts the output size for a typical ratio.
// A non-positive ratio falls back to TypicalRatio.
func EstimateCompressedSize(originalSize int64, ratio float64) int64 {
	if ratio <= 0 {
		ratio = TypicalRatio
	}
	return int64(float64(originalSize) * ratio)
}

// EstimateSavings predicts the bytes compressing originalSize would free
func EstimateSavings(originalSize int64) int64 {
	return originalSize - EstimateCompressedSize(originalSize, TypicalRatio)
}
