package library

import (
	"context"

	"github.com/google/uuid"
	"github.com/not-nullexception/ziply/internal/library/models"
	"github.com/not-nullexception/ziply/internal/logger"
	"github.com/not-nullexception/ziply/internal/metadata"
)

// AssetDetail is an asset with its stored size and what its metadata says
// about the camera
type AssetDetail struct {
	*models.Asset
	Size             int64          `json:"size"`
	CameraInfo       string         `json:"camera_info,omitempty"`
	ShootingSettings string         `json:"shooting_settings,omitempty"`
	Properties       map[string]any `json:"properties"`
}

// Describe loads an asset with its size and metadata summary. Metadata that
// cannot be read leaves the summary empty.
func Describe(ctx context.Context, reader AssetReader, id uuid.UUID) (*AssetDetail, error) {
	asset, err := reader.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	size, err := reader.ResourceSize(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := reader.LoadImageData(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &AssetDetail{Asset: asset, Size: size, Properties: map[string]any{}}
	md, err := metadata.Extract(data)
	if err != nil {
		logger.FromContext(ctx).Debug().Err(err).Str("asset_id", id.String()).Msg("No readable metadata")
		return detail, nil
	}
	detail.CameraInfo = md.CameraInfo()
	detail.ShootingSettings = md.ShootingSettings()
	detail.Properties = md.Properties()
	return detail, nil
}
