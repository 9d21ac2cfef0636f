package library

import (
	"context"
	"errors"
	"image"

	"github.com/google/uuid"
	"github.com/not-nullexception/ziply/internal/library/models"
)

var (
	// ErrNotFound is returned when an asset or album does not exist
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied is returned when the library grant does not allow the operation
	ErrAccessDenied = errors.New("photo library access denied")
	// ErrDecode is returned when stored bytes cannot be decoded as an image
	ErrDecode = errors.New("image could not be decoded")
	// ErrRunLocked is returned when another compression run holds the library
	ErrRunLocked = errors.New("library is locked by another compression run")
)

// AuthorizationObserver receives authorization status changes.
type AuthorizationObserver func(status models.AuthorizationStatus)

// Authorizer defines the interface for library authorization
type Authorizer interface {
	AuthorizationStatus(ctx context.Context) (models.AuthorizationStatus, error)
	// RequestAuthorization resolves an undetermined status and returns the result
	RequestAuthorization(ctx context.Context) (models.AuthorizationStatus, error)
	// Subscribe registers an observer for status changes and returns its cancel function
	Subscribe(observer AuthorizationObserver) (unsubscribe func())
}

// AssetReader defines the interface for reading assets
type AssetReader interface {
	// FetchAssets returns assets matching the query, newest first
	FetchAssets(ctx context.Context, query models.AssetQuery) ([]*models.Asset, error)
	GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	// ResourceSize returns the summed size of every resource backing the asset
	ResourceSize(ctx context.Context, id uuid.UUID) (int64, error)
	// LoadImage returns the highest quality decoded representation
	LoadImage(ctx context.Context, id uuid.UUID) (image.Image, error)
	// LoadImageData returns the original encoded bytes
	LoadImageData(ctx context.Context, id uuid.UUID) ([]byte, error)
}

// AssetWriter defines the interface for library writes
type AssetWriter interface {
	CreateAsset(ctx context.Context, req models.CreateAssetRequest) (*models.Asset, error)
	ReplaceAsset(ctx context.Context, req models.ReplaceRequest) (*models.Asset, error)
}

// AlbumStore defines the interface for album operations
type AlbumStore interface {
	FetchAlbums(ctx context.Context) ([]*models.Album, error)
	FindAlbum(ctx context.Context, title string) (*models.Album, error)
	// CreateAlbum creates the album titled title. Titles are unique; when the
	// album already exists it is returned instead.
	CreateAlbum(ctx context.Context, title string) (*models.Album, error)
	AlbumsContaining(ctx context.Context, assetID uuid.UUID) ([]*models.Album, error)
	AlbumAssets(ctx context.Context, albumID uuid.UUID) ([]uuid.UUID, error)
}

// RunLocker serialises compression runs over one library, across every
// process sharing it.
type RunLocker interface {
	// TryLockRun takes the run lock without waiting and returns its release
	// function. It fails with ErrRunLocked while another run holds it.
	TryLockRun(ctx context.Context) (release func(), err error)
}

// Library is the photo library the application reads from and writes to
type Library interface {
	Authorizer
	AssetReader
	AssetWriter
	AlbumStore
	RunLocker

	// Ping checks the backing stores
	Ping(ctx context.Context) error

	// Close releases the library's connections
	Close() error
}

// FindOrCreateAlbum returns the album titled title, creating it when absent.
func FindOrCreateAlbum(ctx context.Context, albums AlbumStore, title string) (*models.Album, error) {
	album, err := albums.FindAlbum(ctx, title)
	if err == nil {
		return album, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return albums.CreateAlbum(ctx, title)
}

// EnsureAuthorized requests access when undetermined and fails unless granted.
func EnsureAuthorized(ctx context.Context, auth Authorizer) (models.AuthorizationStatus, error) {
	status, err := auth.AuthorizationStatus(ctx)
	if err != nil {
		return status, err
	}
	if status == models.AuthorizationNotDetermined {
		status, err = auth.RequestAuthorization(ctx)
		if err != nil {
			return status, err
		}
	}
	if !status.Granted() {
		return status, ErrAccessDenied
	}
	return status, nil
}
