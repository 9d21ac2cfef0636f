// Package postgres implements the photo library on a pgx catalog with asset
// bytes kept in blob storage.
package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/not-nullexception/ziply/config"
	"github.com/not-nullexception/ziply/internal/library"
	"github.com/not-nullexception/ziply/internal/library/models"
	"github.com/not-nullexception/ziply/internal/logger"
	"github.com/not-nullexception/ziply/internal/metrics"
	"github.com/not-nullexception/ziply/internal/storage"
	"github.com/rs/zerolog"
)

// runLockKey is the advisory lock a compression run holds for its duration
const runLockKey int64 = 0x7a69706c79

const assetColumns = `a.id, a.media_type, a.original_filename, a.creation_date, a.modification_date,
	a.favorite, a.location, a.pixel_width, a.pixel_height`

type Library struct {
	pool      *pgxpool.Pool
	blobs     storage.Client
	grant     models.AuthorizationStatus
	observers library.Observers
	logger    zerolog.Logger
}

var _ library.Library = (*Library)(nil)

// NewPool creates and checks the connection pool, applying migrations when enabled
func NewPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	initLogger := logger.GetLogger("postgres-library")

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	initLogger.Info().Msg("Connected to Postgres database")

	if cfg.Migrate {
		if err := Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return pool, nil
}

// New returns a library over pool and blobs. grant is the status an
// undetermined authorization resolves to when requested.
func New(pool *pgxpool.Pool, blobs storage.Client, grant models.AuthorizationStatus) *Library {
	return &Library{
		pool:   pool,
		blobs:  blobs,
		grant:  grant,
		logger: logger.GetLogger("postgres-library"),
	}
}

func (l *Library) AuthorizationStatus(ctx context.Context) (models.AuthorizationStatus, error) {
	var status string
	err := l.pool.QueryRow(ctx, `SELECT status FROM library_authorization WHERE id = 1`).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.AuthorizationNotDetermined, nil
		}
		return models.AuthorizationNotDetermined, fmt.Errorf("error reading authorization: %w", err)
	}
	return models.ParseAuthorizationStatus(status), nil
}

func (l *Library) RequestAuthorization(ctx context.Context) (models.AuthorizationStatus, error) {
	reqLogger := logger.FromContext(ctx)

	var status string
	err := l.pool.QueryRow(ctx, `
		UPDATE library_authorization
		SET status = $1, updated_at = NOW()
		WHERE id = 1 AND status = $2
		RETURNING status
	`, string(l.grant), string(models.AuthorizationNotDetermined)).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		// already determined
		return l.AuthorizationStatus(ctx)
	}
	if err != nil {
		return models.AuthorizationNotDetermined, fmt.Errorf("error requesting authorization: %w", err)
	}

	resolved := models.ParseAuthorizationStatus(status)
	reqLogger.Info().Str("status", string(resolved)).Msg("Library authorization resolved")
	l.observers.Notify(resolved)
	return resolved, nil
}

func (l *Library) Subscribe(observer library.AuthorizationObserver) func() {
	return l.observers.Subscribe(observer)
}

func (l *Library) FetchAssets(ctx context.Context, query models.AssetQuery) ([]*models.Asset, error) {
	reqLogger := logger.FromContext(ctx)
	if err := l.checkAccess(ctx); err != nil {
		return nil, err
	}

	sql := `SELECT ` + assetColumns + `
		FROM assets a
		WHERE ($1 = '' OR a.media_type = $1)
			AND a.creation_date >= $2 AND a.creation_date <= $3
		ORDER BY a.creation_date DESC`

	reqLogger.Debug().
		Time("start", query.Start).
		Time("end", query.End).
		Msg("Executing FetchAssets query")

	rows, err := l.pool.Query(ctx, sql, string(query.MediaType), query.Start, query.End)
	if err != nil {
		return nil, fmt.Errorf("error querying assets: %w", err)
	}
	defer rows.Close()

	assets := make([]*models.Asset, 0)
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning asset row: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over asset rows: %w", err)
	}
	return assets, nil
}

func (l *Library) GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	row := l.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets a WHERE a.id = $1`, id)
	asset, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("asset %s: %w", id, library.ErrNotFound)
		}
		return nil, fmt.Errorf("error querying asset: %w", err)
	}
	return asset, nil
}

func (l *Library) ResourceSize(ctx context.Context, id uuid.UUID) (int64, error) {
	var size int64
	err := l.pool.QueryRow(ctx, `
		SELECT COALESCE((SELECT SUM(r.size) FROM resources r WHERE r.asset_id = a.id), 0)
		FROM assets a
		WHERE a.id = $1
	`, id).Scan(&size)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("asset %s: %w", id, library.ErrNotFound)
		}
		return 0, fmt.Errorf("error querying resource size: %w", err)
	}
	return size, nil
}

func (l *Library) LoadImage(ctx context.Context, id uuid.UUID) (image.Image, error) {
	data, err := l.LoadImageData(ctx, id)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w: %v", id, library.ErrDecode, err)
	}
	return img, nil
}

func (l *Library) LoadImageData(ctx context.Context, id uuid.UUID) ([]byte, error) {
	var objectName string
	err := l.pool.QueryRow(ctx, `
		SELECT object_name FROM resources
		WHERE asset_id = $1
		ORDER BY CASE kind WHEN $2 THEN 0 ELSE 1 END
		LIMIT 1
	`, id, models.ResourceFullPhoto).Scan(&objectName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("asset %s: %w", id, library.ErrNotFound)
		}
		return nil, fmt.Errorf("error querying resource: %w", err)
	}

	obj, err := l.blobs.GetObject(ctx, objectName)
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("error reading object %s: %w", objectName, err)
	}
	return data, nil
}

func (l *Library) CreateAsset(ctx context.Context, req models.CreateAssetRequest) (*models.Asset, error) {
	reqLogger := logger.FromContext(ctx)
	if err := l.checkAccess(ctx); err != nil {
		return nil, err
	}

	asset := newAsset(req.OriginalFilename, req.CreationDate, req.Location, req.Favorite, req.PixelWidth, req.PixelHeight)
	objectName, err := l.upload(ctx, asset, req.Data, req.ContentType)
	if err != nil {
		return nil, err
	}

	err = pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		if err := insertAsset(ctx, tx, asset, objectName, req.ContentType, int64(len(req.Data)), req.Properties); err != nil {
			return err
		}
		for _, albumID := range req.AlbumIDs {
			if err := insertMember(ctx, tx, albumID, asset.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		l.discard(ctx, objectName)
		return nil, err
	}

	reqLogger.Debug().
		Str("asset_id", asset.ID.String()).
		Int("albums", len(req.AlbumIDs)).
		Msg("Asset created")
	return asset, nil
}

func (l *Library) ReplaceAsset(ctx context.Context, req models.ReplaceRequest) (*models.Asset, error) {
	reqLogger := logger.FromContext(ctx)
	if err := l.checkAccess(ctx); err != nil {
		return nil, err
	}
	if req.Original == nil {
		return nil, fmt.Errorf("replace: missing original asset")
	}

	original, err := l.GetAsset(ctx, req.Original.ID)
	if err != nil {
		return nil, err
	}

	asset := newAsset(original.OriginalFilename, original.CreationDate, original.Location, original.Favorite,
		req.PixelWidth, req.PixelHeight)
	objectName, err := l.upload(ctx, asset, req.Data, req.ContentType)
	if err != nil {
		return nil, err
	}

	err = pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM albums WHERE id = $1)`, req.MarkerAlbumID).Scan(&exists); err != nil {
			return fmt.Errorf("error checking marker album: %w", err)
		}
		if !exists {
			return fmt.Errorf("marker album %s: %w", req.MarkerAlbumID, library.ErrNotFound)
		}

		if err := insertAsset(ctx, tx, asset, objectName, req.ContentType, int64(len(req.Data)), req.Properties); err != nil {
			return err
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO album_assets (album_id, asset_id)
			SELECT album_id, $2 FROM album_assets
			WHERE asset_id = $1 AND album_id <> $3
			ON CONFLICT DO NOTHING
		`, original.ID, asset.ID, req.MarkerAlbumID)
		if err != nil {
			return fmt.Errorf("error copying album memberships: %w", err)
		}

		return insertMember(ctx, tx, req.MarkerAlbumID, original.ID)
	})
	if err != nil {
		l.discard(ctx, objectName)
		return nil, err
	}

	reqLogger.Debug().
		Str("original_id", original.ID.String()).
		Str("asset_id", asset.ID.String()).
		Msg("Asset replaced")
	return asset, nil
}

func (l *Library) FetchAlbums(ctx context.Context) ([]*models.Album, error) {
	return l.queryAlbums(ctx, `
		SELECT id, title, kind, hidden, created_at FROM albums
		WHERE NOT hidden
		ORDER BY created_at, title
	`)
}

func (l *Library) FindAlbum(ctx context.Context, title string) (*models.Album, error) {
	var album models.Album
	err := l.pool.QueryRow(ctx, `
		SELECT id, title, kind, hidden, created_at FROM albums
		WHERE title = $1
		ORDER BY created_at
		LIMIT 1
	`, title).Scan(&album.ID, &album.Title, &album.Kind, &album.Hidden, &album.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("album %q: %w", title, library.ErrNotFound)
		}
		return nil, fmt.Errorf("error querying album: %w", err)
	}
	return &album, nil
}

func (l *Library) CreateAlbum(ctx context.Context, title string) (*models.Album, error) {
	if err := l.checkAccess(ctx); err != nil {
		return nil, err
	}

	album := &models.Album{
		ID:        uuid.New(),
		Title:     title,
		Kind:      models.AlbumUser,
		CreatedAt: time.Now(),
	}
	var id uuid.UUID
	err := l.pool.QueryRow(ctx, `
		INSERT INTO albums (id, title, kind, hidden, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (title) DO NOTHING
		RETURNING id
	`, album.ID, album.Title, album.Kind, album.Hidden, album.CreatedAt).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// created concurrently
		return l.FindAlbum(ctx, title)
	}
	if err != nil {
		return nil, fmt.Errorf("error creating album: %w", err)
	}

	l.logger.Info().Str("album_id", album.ID.String()).Str("title", title).Msg("Album created")
	return album, nil
}

// TryLockRun takes the session-level advisory lock on a dedicated pooled
// connection. The connection stays checked out until release.
func (l *Library) TryLockRun(ctx context.Context) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("error acquiring connection for run lock: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, runLockKey).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("error taking run lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, library.ErrRunLocked
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, runLockKey); err != nil {
				l.logger.Warn().Err(err).Msg("Failed to release run lock, closing its connection")
				// the lock ends with the session
				conn.Conn().Close(context.Background())
			}
			conn.Release()
		})
	}, nil
}

func (l *Library) AlbumsContaining(ctx context.Context, assetID uuid.UUID) ([]*models.Album, error) {
	return l.queryAlbums(ctx, `
		SELECT al.id, al.title, al.kind, al.hidden, al.created_at
		FROM albums al
		JOIN album_assets aa ON aa.album_id = al.id
		WHERE aa.asset_id = $1
		ORDER BY al.created_at, al.title
	`, assetID)
}

func (l *Library) AlbumAssets(ctx context.Context, albumID uuid.UUID) ([]uuid.UUID, error) {
	var exists bool
	if err := l.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM albums WHERE id = $1)`, albumID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("error checking album: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("album %s: %w", albumID, library.ErrNotFound)
	}

	rows, err := l.pool.Query(ctx, `SELECT asset_id FROM album_assets WHERE album_id = $1 ORDER BY added_at`, albumID)
	if err != nil {
		return nil, fmt.Errorf("error querying album members: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("error scanning album members: %w", err)
	}
	return ids, nil
}

func (l *Library) Ping(ctx context.Context) error {
	reqLogger := logger.FromContext(ctx)
	reqLogger.Debug().Msg("Pinging database")

	if err := l.pool.Ping(ctx); err != nil {
		reqLogger.Error().Err(err).Msg("Error pinging database")
		return fmt.Errorf("error pinging database: %w", err)
	}

	stat := l.pool.Stat()
	metrics.UpdateDBConnections(int(stat.TotalConns()))
	return nil
}

// Close releases the pool and the blob client
func (l *Library) Close() error {
	l.pool.Close()
	if err := l.blobs.Close(); err != nil {
		return fmt.Errorf("error closing blob storage: %w", err)
	}
	return nil
}

func (l *Library) checkAccess(ctx context.Context) error {
	status, err := l.AuthorizationStatus(ctx)
	if err != nil {
		return err
	}
	if !status.Granted() {
		return library.ErrAccessDenied
	}
	return nil
}

func (l *Library) upload(ctx context.Context, asset *models.Asset, data []byte, contentType string) (string, error) {
	objectName := l.blobs.GenerateObjectName(asset.ID, asset.OriginalFilename)
	if err := l.blobs.UploadObject(ctx, bytes.NewReader(data), int64(len(data)), objectName, contentType); err != nil {
		return "", err
	}

	// the catalog row must not point at a truncated object
	stored, err := l.blobs.StatObject(ctx, objectName)
	if err != nil {
		l.discard(ctx, objectName)
		return "", err
	}
	if stored != int64(len(data)) {
		l.discard(ctx, objectName)
		return "", fmt.Errorf("%w: %s holds %d bytes, sent %d", storage.ErrIncompleteUpload, objectName, stored, len(data))
	}
	return objectName, nil
}

// discard removes a blob whose catalog transaction failed
func (l *Library) discard(ctx context.Context, objectName string) {
	if err := l.blobs.DeleteObject(context.WithoutCancel(ctx), objectName); err != nil {
		l.logger.Warn().Err(err).Str("object", objectName).Msg("Failed to remove orphaned object")
	}
}

func (l *Library) queryAlbums(ctx context.Context, sql string, args ...any) ([]*models.Album, error) {
	rows, err := l.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying albums: %w", err)
	}
	defer rows.Close()

	albums := make([]*models.Album, 0)
	for rows.Next() {
		var album models.Album
		if err := rows.Scan(&album.ID, &album.Title, &album.Kind, &album.Hidden, &album.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning album row: %w", err)
		}
		albums = append(albums, &album)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over album rows: %w", err)
	}
	return albums, nil
}

func newAsset(filename string, created time.Time, loc *models.Location, favorite bool, width, height int) *models.Asset {
	now := time.Now()
	if created.IsZero() {
		created = now
	}
	return &models.Asset{
		ID:               uuid.New(),
		MediaType:        models.MediaTypeImage,
		OriginalFilename: filename,
		CreationDate:     created,
		ModificationDate: now,
		Favorite:         favorite,
		Location:         loc,
		PixelWidth:       width,
		PixelHeight:      height,
	}
}

func insertAsset(ctx context.Context, tx pgx.Tx, asset *models.Asset, objectName, contentType string, size int64, properties map[string]any) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO assets (
			id, media_type, original_filename, creation_date, modification_date,
			favorite, location, pixel_width, pixel_height, properties
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, asset.ID, asset.MediaType, asset.OriginalFilename, asset.CreationDate, asset.ModificationDate,
		asset.Favorite, asset.Location, asset.PixelWidth, asset.PixelHeight, properties)
	if err != nil {
		return fmt.Errorf("error inserting asset: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO resources (asset_id, kind, object_name, content_type, size)
		VALUES ($1, $2, $3, $4, $5)
	`, asset.ID, models.ResourceFullPhoto, objectName, contentType, size)
	if err != nil {
		return fmt.Errorf("error inserting resource: %w", err)
	}
	return nil
}

func insertMember(ctx context.Context, tx pgx.Tx, albumID, assetID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO album_assets (album_id, asset_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, albumID, assetID)
	if err != nil {
		return fmt.Errorf("error adding asset %s to album %s: %w", assetID, albumID, err)
	}
	return nil
}

func scanAsset(row pgx.Row) (*models.Asset, error) {
	var asset models.Asset
	err := row.Scan(
		&asset.ID, &asset.MediaType, &asset.OriginalFilename, &asset.CreationDate, &asset.ModificationDate,
		&asset.Favorite, &asset.Location, &asset.PixelWidth, &asset.PixelHeight,
	)
	if err != nil {
		return nil, err
	}
	return &asset, nil
}
