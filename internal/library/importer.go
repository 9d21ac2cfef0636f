package library

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/not-nullexception/ziply/internal/library/models"
	"github.com/not-nullexception/ziply/internal/logger"
	"github.com/not-nullexception/ziply/internal/metadata"
)

// Importer is the part of a library that ingests files
type Importer interface {
	AssetWriter
	AlbumStore
}

// Import ingests one image file. Creation date and location come from the
// file's EXIF data when present, otherwise from its modification time.
func Import(ctx context.Context, lib Importer, path string, albumIDs ...uuid.UUID) (*models.Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return ImportBytes(ctx, lib, filepath.Base(path), data, info.ModTime(), albumIDs...)
}

// ImportBytes ingests encoded image bytes. fallbackDate is used when the
// data carries no capture date.
func ImportBytes(ctx context.Context, lib Importer, filename string, data []byte, fallbackDate time.Time, albumIDs ...uuid.UUID) (*models.Asset, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", filename, ErrDecode, err)
	}

	req := models.CreateAssetRequest{
		Data:             data,
		ContentType:      "image/" + format,
		OriginalFilename: filename,
		CreationDate:     fallbackDate,
		PixelWidth:       cfg.Width,
		PixelHeight:      cfg.Height,
		AlbumIDs:         albumIDs,
	}

	md, err := metadata.Extract(data)
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("filename", filename).Msg("Failed to read metadata")
	}
	if md != nil {
		if created, ok := md.CaptureDate(); ok {
			req.CreationDate = created
		}
		req.Location = md.Location()
		req.Properties = md.Properties()
	}

	return lib.CreateAsset(ctx, req)
}

// ImportDir ingests every supported image under root. Files inside a
// subdirectory are added to an album named after it.
func ImportDir(ctx context.Context, lib Importer, root string) ([]*models.Asset, error) {
	log := logger.FromContext(ctx)
	albums := make(map[string]uuid.UUID)
	imported := make([]*models.Asset, 0)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !Supported(path) {
			return nil
		}

		var albumIDs []uuid.UUID
		if dir := filepath.Dir(path); dir != filepath.Clean(root) {
			title := filepath.Base(dir)
			id, ok := albums[title]
			if !ok {
				album, err := FindOrCreateAlbum(ctx, lib, title)
				if err != nil {
					return err
				}
				id = album.ID
				albums[title] = id
			}
			albumIDs = append(albumIDs, id)
		}

		asset, err := Import(ctx, lib, path, albumIDs...)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Skipping file")
			return nil
		}
		imported = append(imported, asset)
		return nil
	})
	if err != nil {
		return imported, fmt.Errorf("error importing %s: %w", root, err)
	}

	log.Info().Str("root", root).Int("assets", len(imported)).Int("albums", len(albums)).Msg("Import finished")
	return imported, nil
}

// Supported reports whether path has an importable image extension
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png":
		return true
	default:
		return false
	}
}
