package compression

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/not-nullexception/ziply/internal/library"
	"github.com/not-nullexception/ziply/internal/library/memory"
	"github.com/not-nullexception/ziply/internal/library/models"
	imgproc "github.com/not-nullexception/ziply/internal/processor/image"
	"github.com/not-nullexception/ziply/internal/testutil"
)

var testOptions = Options{
	MarkerAlbum:      "Can Delete - Ziply",
	CompressedPrefix: "Compressed - ",
	DefaultAlbum:     "Camera Roll",
}

type fakeTransformer struct {
	transform func(ctx context.Context, asset *models.Asset) (*imgproc.TransformResult, error)
}

func (f *fakeTransformer) Transform(ctx context.Context, asset *models.Asset) (*imgproc.TransformResult, error) {
	return f.transform(ctx, asset)
}

func fixedResult(original, compressed int64) *fakeTransformer {
	return &fakeTransformer{transform: func(ctx context.Context, asset *models.Asset) (*imgproc.TransformResult, error) {
		return &imgproc.TransformResult{
			Asset:            asset,
			OriginalSize:     original,
			CompressedSize:   compressed,
			CompressionRatio: float64(compressed) / float64(original),
			Data:             make([]byte, compressed),
			Width:            10,
			Height:           10,
		}, nil
	}}
}

func newOrchestrator(lib *memory.Library) *Orchestrator {
	processor := imgproc.New(lib, imgproc.Config{MaxDimension: 1500, Quality: 0.75})
	return New(lib, processor, testOptions)
}

func albumTitles(t *testing.T, lib *memory.Library, assetID uuid.UUID) []string {
	t.Helper()
	albums, err := lib.AlbumsContaining(context.Background(), assetID)
	if err != nil {
		t.Fatalf("AlbumsContaining: %v", err)
	}
	titles := make([]string, 0, len(albums))
	for _, a := range albums {
		titles = append(titles, a.Title)
	}
	sort.Strings(titles)
	return titles
}

func membersOf(t *testing.T, lib *memory.Library, title string) []uuid.UUID {
	t.Helper()
	album, err := lib.FindAlbum(context.Background(), title)
	if err != nil {
		t.Fatalf("FindAlbum(%q): %v", title, err)
	}
	ids, err := lib.AlbumAssets(context.Background(), album.ID)
	if err != nil {
		t.Fatalf("AlbumAssets: %v", err)
	}
	return ids
}

func TestRunContinuesPastFailedAsset(t *testing.T) {
	lib := memory.New()
	var assets []*models.Asset
	for i := 1; i <= 5; i++ {
		data := testutil.JPEG(t, 64, 48)
		if i == 3 {
			data = []byte("corrupted bytes")
		}
		assets = append(assets, lib.AddAsset(models.Asset{OriginalFilename: "IMG.HEIC"}, data))
	}

	summary, err := newOrchestrator(lib).Run(context.Background(), PolicyCopy, assets)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Processed != 5 || summary.FailedPhotos != 1 || summary.SuccessfulPhotos != 4 {
		t.Fatalf("processed/failed/successful = %d/%d/%d, want 5/1/4",
			summary.Processed, summary.FailedPhotos, summary.SuccessfulPhotos)
	}
	if summary.Cancelled {
		t.Error("run should not be cancelled")
	}
	if lib.AssetCount() != 9 {
		t.Errorf("AssetCount = %d, want 9", lib.AssetCount())
	}
	if got := len(membersOf(t, lib, "Compressed - Camera Roll")); got != 4 {
		t.Errorf("Compressed - Camera Roll holds %d assets, want 4", got)
	}
}

func TestCopyPolicyGroupsByAlbum(t *testing.T) {
	ctx := context.Background()
	lib := memory.New()
	trips, _ := lib.CreateAlbum(ctx, "Trips")
	family, _ := lib.CreateAlbum(ctx, "Family")

	both := lib.AddAsset(models.Asset{}, testutil.JPEG(t, 16, 16))
	lib.AddToAlbum(trips.ID, both.ID)
	lib.AddToAlbum(family.ID, both.ID)
	tripOnly := lib.AddAsset(models.Asset{}, testutil.JPEG(t, 16, 16))
	lib.AddToAlbum(trips.ID, tripOnly.ID)
	loose := lib.AddAsset(models.Asset{}, testutil.JPEG(t, 16, 16))

	orchestrator := New(lib, fixedResult(1000, 300), testOptions)
	summary, err := orchestrator.Run(ctx, PolicyCopy, []*models.Asset{both, tripOnly, loose})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.SuccessfulPhotos != 3 {
		t.Fatalf("SuccessfulPhotos = %d, want 3", summary.SuccessfulPhotos)
	}

	if got := len(membersOf(t, lib, "Compressed - Trips")); got != 2 {
		t.Errorf("Compressed - Trips holds %d assets, want 2", got)
	}
	if got := len(membersOf(t, lib, "Compressed - Family")); got != 1 {
		t.Errorf("Compressed - Family holds %d assets, want 1", got)
	}
	if got := len(membersOf(t, lib, "Compressed - Camera Roll")); got != 1 {
		t.Errorf("Compressed - Camera Roll holds %d assets, want 1", got)
	}

	// originals untouched and each target album created once
	if got := albumTitles(t, lib, both.ID); len(got) != 2 {
		t.Errorf("original albums changed: %v", got)
	}
	albums, _ := lib.FetchAlbums(ctx)
	seen := map[string]int{}
	for _, a := range albums {
		seen[a.Title]++
	}
	for title, n := range seen {
		if n != 1 {
			t.Errorf("album %q exists %d times", title, n)
		}
	}
	if _, ok := seen[testOptions.MarkerAlbum]; ok {
		t.Error("copy policy must not create the marker album")
	}
}

func TestReplacePolicyCopiesMembershipsAndMarksOriginal(t *testing.T) {
	ctx := context.Background()
	lib := memory.New()
	trips, _ := lib.CreateAlbum(ctx, "Trips")
	family, _ := lib.CreateAlbum(ctx, "Family")

	created := time.Date(2023, 7, 14, 9, 30, 0, 0, time.UTC)
	original := lib.AddAsset(models.Asset{
		CreationDate: created,
		Favorite:     true,
		Location:     &models.Location{Latitude: 38.7, Longitude: -9.1},
	}, testutil.JPEG(t, 32, 32))
	lib.AddToAlbum(trips.ID, original.ID)
	lib.AddToAlbum(family.ID, original.ID)

	orchestrator := New(lib, fixedResult(2000, 500), testOptions)
	if _, err := orchestrator.Run(ctx, PolicyReplace, []*models.Asset{original}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	state := orchestrator.State()
	newID := state.Progress.Results[0].NewAssetID
	replacement, err := lib.GetAsset(ctx, newID)
	if err != nil {
		t.Fatalf("GetAsset(new): %v", err)
	}
	if !replacement.CreationDate.Equal(created) || !replacement.Favorite || replacement.Location == nil {
		t.Errorf("replacement did not inherit original attributes: %+v", replacement)
	}

	if got := albumTitles(t, lib, newID); len(got) != 2 || got[0] != "Family" || got[1] != "Trips" {
		t.Errorf("replacement albums = %v, want [Family Trips]", got)
	}
	if got := albumTitles(t, lib, original.ID); len(got) != 3 {
		t.Errorf("original albums = %v, want Trips, Family and the marker", got)
	}

	// a second replace of the same original keeps a single marker membership
	if _, err := orchestrator.Run(ctx, PolicyReplace, []*models.Asset{original}); err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}
	count := 0
	for _, id := range membersOf(t, lib, testOptions.MarkerAlbum) {
		if id == original.ID {
			count++
		}
	}
	if count != 1 {
		t.Errorf("original is in the marker album %d times, want 1", count)
	}
}

func TestReplaceFailureLeavesNoPartialWrite(t *testing.T) {
	ctx := context.Background()
	lib := memory.New()
	original := lib.AddAsset(models.Asset{}, testutil.JPEG(t, 16, 16))
	lib.FailReplace(errors.New("transaction aborted"))

	summary, err := New(lib, fixedResult(100, 50), testOptions).Run(ctx, PolicyReplace, []*models.Asset{original})
	var batch *BatchError
	if !errors.As(err, &batch) {
		t.Fatalf("expected *BatchError, got %v", err)
	}
	if !errors.Is(err, ErrSaveFailed) {
		t.Errorf("expected ErrSaveFailed in %v", err)
	}
	if summary.FailedPhotos != 1 {
		t.Errorf("FailedPhotos = %d, want 1", summary.FailedPhotos)
	}
	if lib.AssetCount() != 1 {
		t.Errorf("AssetCount = %d, want 1", lib.AssetCount())
	}
	if got := len(membersOf(t, lib, testOptions.MarkerAlbum)); got != 0 {
		t.Errorf("marker album holds %d assets, want 0", got)
	}
}

func TestRunBatchErrorOnlyWhenEverythingFailed(t *testing.T) {
	lib := memory.New()
	a := lib.AddAsset(models.Asset{}, []byte("bad"))
	b := lib.AddAsset(models.Asset{}, []byte("worse"))

	_, err := newOrchestrator(lib).Run(context.Background(), PolicyCopy, []*models.Asset{a, b})
	var batch *BatchError
	if !errors.As(err, &batch) {
		t.Fatalf("expected *BatchError, got %v", err)
	}
	if len(batch.Errors) != 2 {
		t.Fatalf("BatchError holds %d errors, want 2", len(batch.Errors))
	}
	var assetErr *AssetError
	if !errors.As(batch.Errors[0], &assetErr) || assetErr.AssetID != a.ID {
		t.Errorf("first error = %v", batch.Errors[0])
	}
	if !errors.Is(err, imgproc.ErrDecodeFailed) {
		t.Errorf("expected ErrDecodeFailed in %v", err)
	}
}

func TestRunEmptyBatch(t *testing.T) {
	summary, err := newOrchestrator(memory.New()).Run(context.Background(), PolicyCopy, nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.TotalPhotos != 0 || summary.Processed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestRunAccessDenied(t *testing.T) {
	lib := memory.New()
	asset := lib.AddAsset(models.Asset{}, testutil.JPEG(t, 8, 8))
	lib.SetAuthorization(models.AuthorizationDenied, models.AuthorizationDenied)

	summary, err := newOrchestrator(lib).Run(context.Background(), PolicyReplace, []*models.Asset{asset})
	if !errors.Is(err, library.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if summary.FailedPhotos != 1 {
		t.Errorf("FailedPhotos = %d, want 1", summary.FailedPhotos)
	}
}

func TestSkipIfLarger(t *testing.T) {
	lib := memory.New()
	asset := lib.AddAsset(models.Asset{}, testutil.JPEG(t, 8, 8))

	opts := testOptions
	opts.SkipIfLarger = true
	summary, err := New(lib, fixedResult(100, 150), opts).Run(context.Background(), PolicyCopy, []*models.Asset{asset})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Skipped != 1 || summary.SuccessfulPhotos != 0 || summary.FailedPhotos != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if lib.AssetCount() != 1 {
		t.Errorf("skipped asset was written")
	}
}

func TestSecondRunIsRejectedAndCancelStopsAtBoundary(t *testing.T) {
	lib := memory.New()
	var assets []*models.Asset
	for i := 0; i < 3; i++ {
		assets = append(assets, lib.AddAsset(models.Asset{}, testutil.JPEG(t, 8, 8)))
	}

	started := make(chan struct{}, len(assets))
	release := make(chan struct{})
	transformer := &fakeTransformer{transform: func(ctx context.Context, asset *models.Asset) (*imgproc.TransformResult, error) {
		started <- struct{}{}
		<-release
		return fixedResult(100, 40).transform(ctx, asset)
	}}
	orchestrator := New(lib, transformer, testOptions)

	runID, err := orchestrator.Start(context.Background(), PolicyCopy, assets)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	<-started

	if _, err := orchestrator.Start(context.Background(), PolicyCopy, assets); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("second Start error = %v, want ErrRunInProgress", err)
	}
	if _, err := orchestrator.Run(context.Background(), PolicyReplace, assets); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("Run during active run error = %v, want ErrRunInProgress", err)
	}
	if state := orchestrator.State(); !state.Active || state.ID != runID {
		t.Fatalf("unexpected state %+v", state)
	}

	if !orchestrator.Cancel() {
		t.Fatal("Cancel reported no active run")
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	summary, err := orchestrator.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if !summary.Cancelled {
		t.Error("expected a cancelled summary")
	}
	if summary.Processed != 1 || summary.SuccessfulPhotos != 1 || summary.Skipped != 2 {
		t.Errorf("processed/successful/skipped = %d/%d/%d, want 1/1/2",
			summary.Processed, summary.SuccessfulPhotos, summary.Skipped)
	}
	if orchestrator.State().Active {
		t.Error("run still active after Wait")
	}
	if orchestrator.Cancel() {
		t.Error("Cancel should report false without an active run")
	}

	// the guard is released once the run ends
	if _, err := orchestrator.Run(context.Background(), PolicyCopy, nil); err != nil {
		t.Fatalf("Run after completion returned error: %v", err)
	}
}

func TestOrchestratorsSharingALibraryRunOneAtATime(t *testing.T) {
	ctx := context.Background()
	lib := memory.New()
	first := lib.AddAsset(models.Asset{}, testutil.JPEG(t, 8, 8))
	second := lib.AddAsset(models.Asset{}, testutil.JPEG(t, 8, 8))

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	blocking := &fakeTransformer{transform: func(ctx context.Context, asset *models.Asset) (*imgproc.TransformResult, error) {
		started <- struct{}{}
		<-release
		return fixedResult(100, 40).transform(ctx, asset)
	}}
	api := New(lib, blocking, testOptions)
	worker := New(lib, fixedResult(100, 40), testOptions)

	if _, err := api.Start(ctx, PolicyReplace, []*models.Asset{first}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	<-started

	_, err := worker.Run(ctx, PolicyReplace, []*models.Asset{second})
	if !errors.Is(err, ErrRunInProgress) || !errors.Is(err, library.ErrRunLocked) {
		t.Fatalf("Run on a locked library error = %v, want ErrRunInProgress and ErrRunLocked", err)
	}
	if worker.State().Active {
		t.Error("rejected run left the orchestrator active")
	}

	close(release)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := api.Wait(waitCtx); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}

	// the lock is released with the run
	if _, err := worker.Run(ctx, PolicyReplace, []*models.Asset{second}); err != nil {
		t.Fatalf("Run after the first run ended returned error: %v", err)
	}

	albums, err := lib.FetchAlbums(ctx)
	if err != nil {
		t.Fatalf("FetchAlbums: %v", err)
	}
	markers := 0
	for _, album := range albums {
		if album.Title == testOptions.MarkerAlbum {
			markers++
		}
	}
	if markers != 1 {
		t.Fatalf("found %d marker albums, want 1", markers)
	}
	if got := len(membersOf(t, lib, testOptions.MarkerAlbum)); got != 2 {
		t.Errorf("marker album holds %d assets, want 2", got)
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"copy": PolicyCopy, " Replace ": PolicyReplace} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("delete"); !errors.Is(err, ErrUnknownPolicy) {
		t.Errorf("expected ErrUnknownPolicy, got %v", err)
	}
}

func TestCompressedFilename(t *testing.T) {
	tests := map[string]string{
		"IMG_0001.HEIC": "IMG_0001.jpg",
		"photo.jpeg":    "photo.jpg",
		"":              "compressed.jpg",
	}
	for in, want := range tests {
		if got := compressedFilename(in); got != want {
			t.Errorf("compressedFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
