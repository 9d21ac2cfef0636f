package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/not-nullexception/ziply/internal/library"
	"github.com/not-nullexception/ziply/internal/library/models"
	"github.com/not-nullexception/ziply/internal/testutil"
)

func TestFetchAssetsOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	lib := New()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	older := lib.AddAsset(models.Asset{CreationDate: base}, []byte("a"))
	newer := lib.AddAsset(models.Asset{CreationDate: base.Add(time.Hour)}, []byte("b"))
	lib.AddAsset(models.Asset{CreationDate: base, MediaType: models.MediaTypeVideo}, []byte("c"))

	assets, err := lib.FetchAssets(ctx, models.AssetQuery{
		Start:     base,
		End:       base.Add(time.Hour),
		MediaType: models.MediaTypeImage,
	})
	if err != nil {
		t.Fatalf("FetchAssets: %v", err)
	}
	if len(assets) != 2 || assets[0].ID != newer.ID || assets[1].ID != older.ID {
		t.Fatalf("unexpected assets: %+v", assets)
	}
}

func TestFetchAssetsRequiresAccess(t *testing.T) {
	lib := New()
	lib.SetAuthorization(models.AuthorizationDenied, models.AuthorizationDenied)
	if _, err := lib.FetchAssets(context.Background(), models.AssetQuery{}); !errors.Is(err, library.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}

func TestResourceSizeSumsResources(t *testing.T) {
	lib := New()
	asset := lib.AddAsset(models.Asset{}, []byte("data"), 100, 250)
	size, err := lib.ResourceSize(context.Background(), asset.ID)
	if err != nil {
		t.Fatalf("ResourceSize: %v", err)
	}
	if size != 350 {
		t.Errorf("size = %d, want 350", size)
	}
}

func TestLoadImage(t *testing.T) {
	ctx := context.Background()
	lib := New()
	good := lib.AddAsset(models.Asset{}, testutil.JPEG(t, 20, 10))
	bad := lib.AddAsset(models.Asset{}, []byte("nope"))

	if good.PixelWidth != 20 || good.PixelHeight != 10 {
		t.Errorf("dimensions = %dx%d, want 20x10", good.PixelWidth, good.PixelHeight)
	}
	img, err := lib.LoadImage(ctx, good.ID)
	if err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	if img.Bounds().Dx() != 20 {
		t.Errorf("width = %d", img.Bounds().Dx())
	}
	if _, err := lib.LoadImage(ctx, bad.ID); !errors.Is(err, library.ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestFindOrCreateAlbum(t *testing.T) {
	ctx := context.Background()
	lib := New()

	first, err := library.FindOrCreateAlbum(ctx, lib, "Trips")
	if err != nil {
		t.Fatalf("FindOrCreateAlbum: %v", err)
	}
	second, err := library.FindOrCreateAlbum(ctx, lib, "Trips")
	if err != nil {
		t.Fatalf("FindOrCreateAlbum: %v", err)
	}
	if first.ID != second.ID {
		t.Error("album created twice")
	}
	albums, _ := lib.FetchAlbums(ctx)
	if len(albums) != 1 {
		t.Errorf("FetchAlbums returned %d albums", len(albums))
	}
}

func TestFindOrCreateAlbumConcurrent(t *testing.T) {
	ctx := context.Background()
	lib := New()

	const callers = 8
	ids := make(chan uuid.UUID, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			album, err := library.FindOrCreateAlbum(ctx, lib, "Can Delete - Ziply")
			if err != nil {
				t.Errorf("FindOrCreateAlbum: %v", err)
				return
			}
			ids <- album.ID
		}()
	}
	wg.Wait()
	close(ids)

	first := <-ids
	for id := range ids {
		if id != first {
			t.Fatalf("callers got different albums: %s and %s", first, id)
		}
	}
	albums, _ := lib.FetchAlbums(ctx)
	if len(albums) != 1 {
		t.Errorf("FetchAlbums returned %d albums, want 1", len(albums))
	}
}

func TestTryLockRun(t *testing.T) {
	ctx := context.Background()
	lib := New()

	release, err := lib.TryLockRun(ctx)
	if err != nil {
		t.Fatalf("TryLockRun: %v", err)
	}
	if _, err := lib.TryLockRun(ctx); !errors.Is(err, library.ErrRunLocked) {
		t.Fatalf("second TryLockRun error = %v, want ErrRunLocked", err)
	}

	release()
	release()
	again, err := lib.TryLockRun(ctx)
	if err != nil {
		t.Fatalf("TryLockRun after release: %v", err)
	}
	again()
}

func TestReplaceAssetAtomic(t *testing.T) {
	ctx := context.Background()
	lib := New()
	album, _ := lib.CreateAlbum(ctx, "Family")
	marker, _ := lib.CreateAlbum(ctx, "Can Delete")
	original := lib.AddAsset(models.Asset{Favorite: true}, []byte("orig"))
	lib.AddToAlbum(album.ID, original.ID)

	lib.FailReplace(errors.New("boom"))
	if _, err := lib.ReplaceAsset(ctx, models.ReplaceRequest{Original: original, Data: []byte("x"), MarkerAlbumID: marker.ID}); err == nil {
		t.Fatal("expected injected failure")
	}
	if lib.AssetCount() != 1 {
		t.Fatalf("failed replace left %d assets", lib.AssetCount())
	}

	lib.FailReplace(nil)
	replacement, err := lib.ReplaceAsset(ctx, models.ReplaceRequest{
		Original:      original,
		Data:          []byte("small"),
		Properties:    map[string]any{"PixelWidth": 10},
		MarkerAlbumID: marker.ID,
	})
	if err != nil {
		t.Fatalf("ReplaceAsset: %v", err)
	}
	if !replacement.Favorite {
		t.Error("favorite flag not copied")
	}
	if lib.Properties(replacement.ID)["PixelWidth"] != 10 {
		t.Error("properties not stored")
	}

	members, _ := lib.AlbumAssets(ctx, album.ID)
	if len(members) != 2 {
		t.Errorf("album holds %d assets, want 2", len(members))
	}
	marked, _ := lib.AlbumAssets(ctx, marker.ID)
	if len(marked) != 1 || marked[0] != original.ID {
		t.Errorf("marker album = %v", marked)
	}
}

func TestRequestAuthorizationNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	lib := New()
	lib.SetAuthorization(models.AuthorizationNotDetermined, models.AuthorizationLimited)

	var seen []models.AuthorizationStatus
	unsubscribe := lib.Subscribe(func(s models.AuthorizationStatus) { seen = append(seen, s) })

	for i := 0; i < 2; i++ {
		status, err := lib.RequestAuthorization(ctx)
		if err != nil || status != models.AuthorizationLimited {
			t.Fatalf("RequestAuthorization = %v, %v", status, err)
		}
	}
	unsubscribe()
	lib.SetAuthorization(models.AuthorizationDenied, models.AuthorizationDenied)

	if len(seen) != 1 {
		t.Fatalf("observer saw %v, want one change", seen)
	}
}
