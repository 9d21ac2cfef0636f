package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// AuthorizationStatus mirrors the grant a user gave the application over the library.
type AuthorizationStatus string

const (
	AuthorizationNotDetermined AuthorizationStatus = "not_determined"
	AuthorizationRestricted    AuthorizationStatus = "restricted"
	AuthorizationDenied        AuthorizationStatus = "denied"
	AuthorizationAuthorized    AuthorizationStatus = "authorized"
	AuthorizationLimited       AuthorizationStatus = "limited"
)

// Granted reports whether the status allows reading and writing the library.
func (s AuthorizationStatus) Granted() bool {
	return s == AuthorizationAuthorized || s == AuthorizationLimited
}

// ParseAuthorizationStatus returns the status named by s, or not_determined.
func ParseAuthorizationStatus(s string) AuthorizationStatus {
	switch AuthorizationStatus(s) {
	case AuthorizationRestricted, AuthorizationDenied, AuthorizationAuthorized, AuthorizationLimited:
		return AuthorizationStatus(s)
	default:
		return AuthorizationNotDetermined
	}
}

// Location is a geolocation sample attached to an asset.
type Location struct {
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	Altitude           float64   `json:"altitude"`
	VerticalAccuracy   float64   `json:"vertical_accuracy"`
	Speed              float64   `json:"speed"`
	Course             float64   `json:"course"`
	Timestamp          time.Time `json:"timestamp"`
	HorizontalAccuracy float64   `json:"horizontal_accuracy"`
}

// Asset is a library-managed photo record. Its bytes live in blob storage
// and are only reachable through the library.
type Asset struct {
	ID               uuid.UUID `json:"id" db:"id"`
	MediaType        MediaType `json:"media_type" db:"media_type"`
	OriginalFilename string    `json:"original_filename" db:"original_filename"`
	CreationDate     time.Time `json:"creation_date" db:"creation_date"`
	ModificationDate time.Time `json:"modification_date" db:"modification_date"`
	Favorite         bool      `json:"favorite" db:"favorite"`
	Location         *Location `json:"location,omitempty" db:"location"`
	PixelWidth       int       `json:"pixel_width" db:"pixel_width"`
	PixelHeight      int       `json:"pixel_height" db:"pixel_height"`
}

// Dimensions returns the pixel size as "W × H".
func (a *Asset) Dimensions() string {
	return fmt.Sprintf("%d × %d", a.PixelWidth, a.PixelHeight)
}

// Resource is one stored representation backing an asset.
type Resource struct {
	AssetID     uuid.UUID `json:"asset_id" db:"asset_id"`
	Kind        string    `json:"kind" db:"kind"`
	ObjectName  string    `json:"object_name" db:"object_name"`
	ContentType string    `json:"content_type" db:"content_type"`
	Size        int64     `json:"size" db:"size"`
}

const (
	ResourcePhoto     = "photo"
	ResourceFullPhoto = "full_size_photo"
)

type AlbumKind string

const (
	AlbumUser  AlbumKind = "album"
	AlbumSmart AlbumKind = "smart_album"
)

// Album is a named collection of assets.
type Album struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	Kind      AlbumKind `json:"kind" db:"kind"`
	Hidden    bool      `json:"hidden" db:"hidden"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AssetQuery selects assets of a media type created in [Start, End].
type AssetQuery struct {
	MediaType MediaType
	Start     time.Time
	End       time.Time
}

// CreateAssetRequest describes a new asset built from encoded bytes.
type CreateAssetRequest struct {
	Data             []byte
	ContentType      string
	OriginalFilename string
	CreationDate     time.Time
	Location         *Location
	Favorite         bool
	PixelWidth       int
	PixelHeight      int
	AlbumIDs         []uuid.UUID
	Properties       map[string]any
}

// ReplaceRequest creates a compressed copy of Original inside every album that
// holds the original, and tags the original with the marker album. The
// library applies it as one transaction.
type ReplaceRequest struct {
	Original      *Asset
	Data          []byte
	ContentType   string
	PixelWidth    int
	PixelHeight   int
	Properties    map[string]any
	MarkerAlbumID uuid.UUID
}
