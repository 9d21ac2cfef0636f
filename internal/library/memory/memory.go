// Package memory provides an in-process photo library. It backs the CLI demo
// mode and stands in for the postgres library in tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/not-nullexception/ziply/internal/library"
	"github.com/not-nullexception/ziply/internal/library/models"
)

type assetRecord struct {
	asset      models.Asset
	data       []byte
	resources  []int64
	properties map[string]any
}

// Library is a mutex-guarded in-memory library.Library
type Library struct {
	mu         sync.RWMutex
	status     models.AuthorizationStatus
	grant      models.AuthorizationStatus
	assets     map[uuid.UUID]*assetRecord
	albums     map[uuid.UUID]*models.Album
	albumOrder []uuid.UUID
	members    map[uuid.UUID][]uuid.UUID
	runLocked  bool

	loadImageErr map[uuid.UUID]error
	loadDataErr  map[uuid.UUID]error
	createErr    error
	replaceErr   error
	sizeHook     func(ctx context.Context, id uuid.UUID) error

	observers library.Observers
}

var _ library.Library = (*Library)(nil)

// New returns an empty library already authorized for read/write
func New() *Library {
	return &Library{
		status:       models.AuthorizationAuthorized,
		grant:        models.AuthorizationAuthorized,
		assets:       make(map[uuid.UUID]*assetRecord),
		albums:       make(map[uuid.UUID]*models.Album),
		members:      make(map[uuid.UUID][]uuid.UUID),
		loadImageErr: make(map[uuid.UUID]error),
		loadDataErr:  make(map[uuid.UUID]error),
	}
}

// SetAuthorization sets the current status and the status a request resolves to
func (l *Library) SetAuthorization(status, grantOnRequest models.AuthorizationStatus) {
	l.mu.Lock()
	l.status = status
	l.grant = grantOnRequest
	l.mu.Unlock()
	l.observers.Notify(status)
}

// AddAsset stores an image asset. Resource sizes default to len(data).
func (l *Library) AddAsset(asset models.Asset, data []byte, resourceSizes ...int64) *models.Asset {
	l.mu.Lock()
	defer l.mu.Unlock()

	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}
	if asset.MediaType == "" {
		asset.MediaType = models.MediaTypeImage
	}
	if len(resourceSizes) == 0 {
		resourceSizes = []int64{int64(len(data))}
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil && asset.PixelWidth == 0 {
		asset.PixelWidth, asset.PixelHeight = cfg.Width, cfg.Height
	}
	l.assets[asset.ID] = &assetRecord{asset: asset, data: data, resources: resourceSizes}
	a := asset
	return &a
}

// AddToAlbum puts an existing asset in album
func (l *Library) AddToAlbum(albumID, assetID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addMemberLocked(albumID, assetID)
}

// FailLoadImage makes LoadImage fail for id
func (l *Library) FailLoadImage(id uuid.UUID, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadImageErr[id] = err
}

// FailLoadData makes LoadImageData fail for id
func (l *Library) FailLoadData(id uuid.UUID, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadDataErr[id] = err
}

// FailCreate makes every CreateAsset call fail with err (nil clears it)
func (l *Library) FailCreate(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.createErr = err
}

// FailReplace makes every ReplaceAsset call fail with err (nil clears it)
func (l *Library) FailReplace(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replaceErr = err
}

// OnResourceSize installs a hook run before each size lookup
func (l *Library) OnResourceSize(hook func(ctx context.Context, id uuid.UUID) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sizeHook = hook
}

// AssetCount returns the number of stored assets
func (l *Library) AssetCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.assets)
}

// Properties returns the metadata stored with an asset
func (l *Library) Properties(id uuid.UUID) map[string]any {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if rec, ok := l.assets[id]; ok {
		return rec.properties
	}
	return nil
}

func (l *Library) AuthorizationStatus(ctx context.Context) (models.AuthorizationStatus, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status, nil
}

func (l *Library) RequestAuthorization(ctx context.Context) (models.AuthorizationStatus, error) {
	l.mu.Lock()
	changed := false
	if l.status == models.AuthorizationNotDetermined {
		l.status = l.grant
		changed = true
	}
	status := l.status
	l.mu.Unlock()

	if changed {
		l.observers.Notify(status)
	}
	return status, nil
}

func (l *Library) Subscribe(observer library.AuthorizationObserver) func() {
	return l.observers.Subscribe(observer)
}

func (l *Library) FetchAssets(ctx context.Context, query models.AssetQuery) ([]*models.Asset, error) {
	if err := l.checkAccess(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	assets := make([]*models.Asset, 0)
	for _, rec := range l.assets {
		if query.MediaType != "" && rec.asset.MediaType != query.MediaType {
			continue
		}
		created := rec.asset.CreationDate
		if created.Before(query.Start) || created.After(query.End) {
			continue
		}
		a := rec.asset
		assets = append(assets, &a)
	}

	sort.SliceStable(assets, func(i, j int) bool {
		return assets[i].CreationDate.After(assets[j].CreationDate)
	})
	return assets, nil
}

func (l *Library) GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", id, library.ErrNotFound)
	}
	a := rec.asset
	return &a, nil
}

func (l *Library) ResourceSize(ctx context.Context, id uuid.UUID) (int64, error) {
	l.mu.RLock()
	hook := l.sizeHook
	l.mu.RUnlock()

	if hook != nil {
		if err := hook(ctx, id); err != nil {
			return 0, err
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.assets[id]
	if !ok {
		return 0, fmt.Errorf("asset %s: %w", id, library.ErrNotFound)
	}
	var total int64
	for _, size := range rec.resources {
		total += size
	}
	return total, nil
}

func (l *Library) LoadImage(ctx context.Context, id uuid.UUID) (image.Image, error) {
	l.mu.RLock()
	rec, ok := l.assets[id]
	injected := l.loadImageErr[id]
	l.mu.RUnlock()

	if injected != nil {
		return nil, injected
	}
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", id, library.ErrNotFound)
	}

	img, err := imaging.Decode(bytes.NewReader(rec.data))
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w: %v", id, library.ErrDecode, err)
	}
	return img, nil
}

func (l *Library) LoadImageData(ctx context.Context, id uuid.UUID) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.loadDataErr[id]; err != nil {
		return nil, err
	}
	rec, ok := l.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", id, library.ErrNotFound)
	}
	return rec.data, nil
}

func (l *Library) CreateAsset(ctx context.Context, req models.CreateAssetRequest) (*models.Asset, error) {
	if err := l.checkAccess(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.createErr != nil {
		return nil, l.createErr
	}
	for _, albumID := range req.AlbumIDs {
		if _, ok := l.albums[albumID]; !ok {
			return nil, fmt.Errorf("album %s: %w", albumID, library.ErrNotFound)
		}
	}

	rec := l.newRecordLocked(req.Data, req.OriginalFilename, req.CreationDate, req.Location, req.Favorite,
		req.PixelWidth, req.PixelHeight, req.Properties)
	for _, albumID := range req.AlbumIDs {
		l.addMemberLocked(albumID, rec.asset.ID)
	}

	a := rec.asset
	return &a, nil
}

func (l *Library) ReplaceAsset(ctx context.Context, req models.ReplaceRequest) (*models.Asset, error) {
	if err := l.checkAccess(); err != nil {
		return nil, err
	}
	if req.Original == nil {
		return nil, fmt.Errorf("replace: missing original asset")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// every check happens before the first mutation so a failure leaves no trace
	if l.replaceErr != nil {
		return nil, l.replaceErr
	}
	original, ok := l.assets[req.Original.ID]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", req.Original.ID, library.ErrNotFound)
	}
	if _, ok := l.albums[req.MarkerAlbumID]; !ok {
		return nil, fmt.Errorf("marker album %s: %w", req.MarkerAlbumID, library.ErrNotFound)
	}
	albums := l.albumsContainingLocked(original.asset.ID)

	rec := l.newRecordLocked(req.Data, original.asset.OriginalFilename, original.asset.CreationDate,
		original.asset.Location, original.asset.Favorite, req.PixelWidth, req.PixelHeight, req.Properties)
	for _, album := range albums {
		if album.ID == req.MarkerAlbumID {
			continue
		}
		l.addMemberLocked(album.ID, rec.asset.ID)
	}
	l.addMemberLocked(req.MarkerAlbumID, original.asset.ID)

	a := rec.asset
	return &a, nil
}

func (l *Library) FetchAlbums(ctx context.Context) ([]*models.Album, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	albums := make([]*models.Album, 0, len(l.albumOrder))
	for _, id := range l.albumOrder {
		album := *l.albums[id]
		if album.Hidden {
			continue
		}
		albums = append(albums, &album)
	}
	return albums, nil
}

func (l *Library) FindAlbum(ctx context.Context, title string) (*models.Album, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, id := range l.albumOrder {
		if l.albums[id].Title == title {
			album := *l.albums[id]
			return &album, nil
		}
	}
	return nil, fmt.Errorf("album %q: %w", title, library.ErrNotFound)
}

func (l *Library) CreateAlbum(ctx context.Context, title string) (*models.Album, error) {
	if err := l.checkAccess(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range l.albumOrder {
		if l.albums[id].Title == title {
			existing := *l.albums[id]
			return &existing, nil
		}
	}

	album := &models.Album{
		ID:        uuid.New(),
		Title:     title,
		Kind:      models.AlbumUser,
		CreatedAt: time.Now(),
	}
	l.albums[album.ID] = album
	l.albumOrder = append(l.albumOrder, album.ID)

	a := *album
	return &a, nil
}

func (l *Library) TryLockRun(ctx context.Context) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.runLocked {
		return nil, library.ErrRunLocked
	}
	l.runLocked = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.runLocked = false
			l.mu.Unlock()
		})
	}, nil
}

func (l *Library) AlbumsContaining(ctx context.Context, assetID uuid.UUID) ([]*models.Album, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.albumsContainingLocked(assetID), nil
}

func (l *Library) AlbumAssets(ctx context.Context, albumID uuid.UUID) ([]uuid.UUID, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.albums[albumID]; !ok {
		return nil, fmt.Errorf("album %s: %w", albumID, library.ErrNotFound)
	}
	ids := make([]uuid.UUID, len(l.members[albumID]))
	copy(ids, l.members[albumID])
	return ids, nil
}

func (l *Library) Ping(ctx context.Context) error {
	return nil
}

func (l *Library) Close() error {
	return nil
}

func (l *Library) checkAccess() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.status.Granted() {
		return library.ErrAccessDenied
	}
	return nil
}

func (l *Library) newRecordLocked(data []byte, filename string, created time.Time, loc *models.Location,
	favorite bool, width, height int, properties map[string]any) *assetRecord {
	now := time.Now()
	if created.IsZero() {
		created = now
	}
	rec := &assetRecord{
		asset: models.Asset{
			ID:               uuid.New(),
			MediaType:        models.MediaTypeImage,
			OriginalFilename: filename,
			CreationDate:     created,
			ModificationDate: now,
			Favorite:         favorite,
			Location:         loc,
			PixelWidth:       width,
			PixelHeight:      height,
		},
		data:       data,
		resources:  []int64{int64(len(data))},
		properties: properties,
	}
	l.assets[rec.asset.ID] = rec
	return rec
}

func (l *Library) addMemberLocked(albumID, assetID uuid.UUID) {
	for _, id := range l.members[albumID] {
		if id == assetID {
			return
		}
	}
	l.members[albumID] = append(l.members[albumID], assetID)
}

func (l *Library) albumsContainingLocked(assetID uuid.UUID) []*models.Album {
	albums := make([]*models.Album, 0)
	for _, albumID := range l.albumOrder {
		for _, id := range l.members[albumID] {
			if id == assetID {
				album := *l.albums[albumID]
				albums = append(albums, &album)
				break
			}
		}
	}
	return albums
}
