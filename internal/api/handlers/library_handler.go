package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/not-nullexception/ziply/internal/library"
	"github.com/not-nullexception/ziply/internal/library/models"
	"github.com/not-nullexception/ziply/internal/logger"
	"github.com/not-nullexception/ziply/internal/progress"
)

const maxUploadSize = 50 * 1024 * 1024

type LibraryHandler struct {
	lib library.Library
}

type AuthorizationResponse struct {
	Status  models.AuthorizationStatus `json:"status"`
	Granted bool                       `json:"granted"`
}

type AlbumResponse struct {
	*models.Album
	Count int `json:"count"`
}

type AssetDetailResponse struct {
	*library.AssetDetail
	FormattedSize string `json:"formatted_size"`
}

func NewLibraryHandler(lib library.Library) *LibraryHandler {
	return &LibraryHandler{lib: lib}
}

// GetAuthorization returns the current library grant
func (h *LibraryHandler) GetAuthorization(c *gin.Context) {
	status, err := h.lib.AuthorizationStatus(c.Request.Context())
	if err != nil {
		logger.FromContext(c.Request.Context()).Error().Err(err).Msg("Failed to read authorization")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read authorization"})
		return
	}
	c.JSON(http.StatusOK, AuthorizationResponse{Status: status, Granted: status.Granted()})
}

// RequestAuthorization resolves an undetermined grant
func (h *LibraryHandler) RequestAuthorization(c *gin.Context) {
	status, err := h.lib.RequestAuthorization(c.Request.Context())
	if err != nil {
		logger.FromContext(c.Request.Context()).Error().Err(err).Msg("Failed to request authorization")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to request authorization"})
		return
	}
	c.JSON(http.StatusOK, AuthorizationResponse{Status: status, Granted: status.Granted()})
}

// ListAlbums lists visible albums with their asset counts
func (h *LibraryHandler) ListAlbums(c *gin.Context) {
	reqLogger := logger.FromContext(c.Request.Context())

	albums, err := h.lib.FetchAlbums(c.Request.Context())
	if err != nil {
		reqLogger.Error().Err(err).Msg("Failed to list albums")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list albums"})
		return
	}

	response := make([]AlbumResponse, 0, len(albums))
	for _, album := range albums {
		ids, err := h.lib.AlbumAssets(c.Request.Context(), album.ID)
		if err != nil {
			reqLogger.Error().Err(err).Str("album_id", album.ID.String()).Msg("Failed to count album assets")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list albums"})
			return
		}
		response = append(response, AlbumResponse{Album: album, Count: len(ids)})
	}
	c.JSON(http.StatusOK, gin.H{"albums": response, "total": len(response)})
}

// GetAsset returns one asset with its size and camera summary
func (h *LibraryHandler) GetAsset(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid asset ID"})
		return
	}

	detail, err := library.Describe(c.Request.Context(), h.lib, id)
	if err != nil {
		writeLibraryError(c, err, "Failed to load asset")
		return
	}
	c.JSON(http.StatusOK, AssetDetailResponse{
		AssetDetail:   detail,
		FormattedSize: progress.FormatBytes(detail.Size),
	})
}

// UploadAsset ingests a multipart "image" file, optionally into the album
// named by the "album" form field
func (h *LibraryHandler) UploadAsset(c *gin.Context) {
	ctx := c.Request.Context()
	reqLogger := logger.FromContext(ctx)

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to get image from request"})
		return
	}
	defer file.Close()

	if header.Size > maxUploadSize {
		reqLogger.Warn().Str("filename", header.Filename).Int64("size", header.Size).Msg("File too large")
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large, max 50MB"})
		return
	}
	if !library.Supported(header.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported file format, only JPG and PNG are supported"})
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		reqLogger.Error().Err(err).Str("filename", header.Filename).Msg("Failed to read upload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
		return
	}

	var albumIDs []uuid.UUID
	if title := c.PostForm("album"); title != "" {
		album, err := library.FindOrCreateAlbum(ctx, h.lib, title)
		if err != nil {
			writeLibraryError(c, err, "Failed to resolve album")
			return
		}
		albumIDs = append(albumIDs, album.ID)
	}

	asset, err := library.ImportBytes(ctx, h.lib, header.Filename, data, time.Now(), albumIDs...)
	if err != nil {
		writeLibraryError(c, err, "Failed to import image")
		return
	}

	reqLogger.Info().Str("asset_id", asset.ID.String()).Str("filename", header.Filename).Msg("Asset uploaded")
	c.JSON(http.StatusCreated, asset)
}

func writeLibraryError(c *gin.Context, err error, msg string) {
	reqLogger := logger.FromContext(c.Request.Context())
	switch {
	case errors.Is(err, library.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, library.ErrDecode):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image: " + err.Error()})
	case errors.Is(err, library.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		reqLogger.Error().Err(err).Msg(msg)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
