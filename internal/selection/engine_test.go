package selection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/not-nullexception/ziply/config"
	"github.com/not-nullexception/ziply/internal/library"
	"github.com/not-nullexception/ziply/internal/library/memory"
	"github.com/not-nullexception/ziply/internal/library/models"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func addSized(lib *memory.Library, created time.Time, size int64) *models.Asset {
	return lib.AddAsset(models.Asset{CreationDate: created}, []byte("jpeg"), size)
}

func lastMonth() Criteria {
	rng, _ := PresetRange(PresetLastMonth, now)
	return Criteria{Range: rng, MinimumSize: 2 * BytesPerMB}
}

func TestSearchFiltersByMinimumSize(t *testing.T) {
	lib := memory.New()
	big := addSized(lib, now.Add(-3*time.Hour), 4*BytesPerMB)
	addSized(lib, now.Add(-2*time.Hour), 1*BytesPerMB)
	bigger := addSized(lib, now.Add(-1*time.Hour), 6*BytesPerMB)

	var updates []Result
	engine := NewEngine(lib, WithObserver(func(r Result) { updates = append(updates, r) }))

	result, err := engine.Search(context.Background(), lastMonth())
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if result.Count() != 2 {
		t.Fatalf("Count = %d, want 2", result.Count())
	}
	if result.TotalSize != 10*BytesPerMB {
		t.Errorf("TotalSize = %d, want %d", result.TotalSize, 10*BytesPerMB)
	}
	// newest first
	if result.Assets[0].ID != bigger.ID || result.Assets[1].ID != big.ID {
		t.Errorf("unexpected order: %v, %v", result.Assets[0].ID, result.Assets[1].ID)
	}
	if result.Searching {
		t.Error("final result still searching")
	}

	// reset, two progressive matches, final
	if len(updates) != 4 {
		t.Fatalf("observer saw %d updates, want 4", len(updates))
	}
	if !updates[0].Searching || updates[0].Count() != 0 {
		t.Errorf("first update should be an empty searching result: %+v", updates[0])
	}
	if updates[1].Count() != 1 || updates[2].Count() != 2 {
		t.Errorf("progressive counts = %d, %d", updates[1].Count(), updates[2].Count())
	}
	if current := engine.Current(); current.Count() != 2 || current.Searching {
		t.Errorf("Current() = %+v", current)
	}
}

func TestSearchRangeIsInclusive(t *testing.T) {
	lib := memory.New()
	rng := DateRange{Start: now.Add(-time.Hour), End: now}
	addSized(lib, rng.Start, 3*BytesPerMB)
	addSized(lib, rng.End, 3*BytesPerMB)
	addSized(lib, rng.End.Add(time.Second), 3*BytesPerMB)
	addSized(lib, rng.Start.Add(-time.Second), 3*BytesPerMB)

	result, err := NewEngine(lib).Search(context.Background(), Criteria{Range: rng, MinimumSize: BytesPerMB})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if result.Count() != 2 {
		t.Fatalf("Count = %d, want 2", result.Count())
	}
}

func TestSearchInvertedRangeYieldsNothing(t *testing.T) {
	lib := memory.New()
	addSized(lib, now, 3*BytesPerMB)

	result, err := NewEngine(lib).Search(context.Background(), Criteria{
		Range: DateRange{Start: now, End: now.Add(-24 * time.Hour)},
	})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if result.Count() != 0 || result.TotalSize != 0 || result.Searching {
		t.Fatalf("expected empty finished result, got %+v", result)
	}
}

func TestSearchSkipsVideos(t *testing.T) {
	lib := memory.New()
	lib.AddAsset(models.Asset{CreationDate: now, MediaType: models.MediaTypeVideo}, []byte("mov"), 50*BytesPerMB)

	result, err := NewEngine(lib).Search(context.Background(), lastMonth())
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if result.Count() != 0 {
		t.Fatalf("Count = %d, want 0", result.Count())
	}
}

func TestSearchAuthorization(t *testing.T) {
	t.Run("requests access when undetermined", func(t *testing.T) {
		lib := memory.New()
		lib.SetAuthorization(models.AuthorizationNotDetermined, models.AuthorizationAuthorized)
		addSized(lib, now, 3*BytesPerMB)

		var seen []models.AuthorizationStatus
		unsubscribe := lib.Subscribe(func(s models.AuthorizationStatus) { seen = append(seen, s) })
		defer unsubscribe()

		result, err := NewEngine(lib).Search(context.Background(), lastMonth())
		if err != nil {
			t.Fatalf("Search returned error: %v", err)
		}
		if result.Count() != 1 {
			t.Errorf("Count = %d, want 1", result.Count())
		}
		if len(seen) != 1 || seen[0] != models.AuthorizationAuthorized {
			t.Errorf("observer saw %v", seen)
		}
	})

	t.Run("denied yields empty result", func(t *testing.T) {
		lib := memory.New()
		lib.SetAuthorization(models.AuthorizationNotDetermined, models.AuthorizationDenied)
		addSized(lib, now, 3*BytesPerMB)

		result, err := NewEngine(lib).Search(context.Background(), lastMonth())
		if !errors.Is(err, library.ErrAccessDenied) {
			t.Fatalf("expected ErrAccessDenied, got %v", err)
		}
		if result.Count() != 0 || result.Searching {
			t.Fatalf("expected empty finished result, got %+v", result)
		}
	})
}

func TestSearchSkipsAssetsWhoseSizeFails(t *testing.T) {
	lib := memory.New()
	broken := addSized(lib, now.Add(-time.Hour), 3*BytesPerMB)
	addSized(lib, now, 3*BytesPerMB)
	lib.OnResourceSize(func(ctx context.Context, id uuid.UUID) error {
		if id == broken.ID {
			return errors.New("resource unavailable")
		}
		return nil
	})

	result, err := NewEngine(lib).Search(context.Background(), lastMonth())
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if result.Count() != 1 {
		t.Fatalf("Count = %d, want 1", result.Count())
	}
}

func TestStartResetsCurrentBeforeReturning(t *testing.T) {
	lib := memory.New()
	addSized(lib, now.Add(-time.Hour), 3*BytesPerMB)
	engine := NewEngine(lib)

	if _, err := engine.Search(context.Background(), lastMonth()); err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if engine.Current().Count() != 1 {
		t.Fatalf("Current() = %+v, want the first search's match", engine.Current())
	}

	release := make(chan struct{})
	lib.OnResourceSize(func(ctx context.Context, id uuid.UUID) error {
		<-release
		return nil
	})

	handle := engine.Start(context.Background(), lastMonth())
	current := engine.Current()
	close(release)

	if !current.Searching || current.Count() != 0 || current.TotalSize != 0 {
		t.Errorf("Current() right after Start = %+v, want an empty searching result", current)
	}
	if result, err := handle.Wait(); err != nil || result.Count() != 1 {
		t.Errorf("Wait = %+v, %v", result, err)
	}
}

func TestCancelKeepsPartialResult(t *testing.T) {
	lib := memory.New()
	for i := 0; i < 5; i++ {
		addSized(lib, now.Add(-time.Duration(i)*time.Minute), 3*BytesPerMB)
	}

	engine := NewEngine(lib)
	var calls atomic.Int32
	lib.OnResourceSize(func(ctx context.Context, id uuid.UUID) error {
		if calls.Add(1) == 3 {
			engine.Cancel()
			return ctx.Err()
		}
		return nil
	})

	result, err := engine.Search(context.Background(), lastMonth())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.Count() != 2 || result.Searching {
		t.Fatalf("expected 2 partial matches, got %+v", result)
	}
	if engine.Current().Count() != 2 {
		t.Fatalf("Current() = %+v", engine.Current())
	}
}

func TestSupersededSearchNeverOverwritesNewer(t *testing.T) {
	lib := memory.New()
	addSized(lib, now.Add(-time.Hour), 3*BytesPerMB)
	addSized(lib, now, 8*BytesPerMB)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var first atomic.Bool
	first.Store(true)
	lib.OnResourceSize(func(ctx context.Context, id uuid.UUID) error {
		if first.CompareAndSwap(true, false) {
			once.Do(func() { close(entered) })
			// ignores cancellation on purpose to simulate a slow in-flight lookup
			<-release
		}
		return nil
	})

	engine := NewEngine(lib)
	stale := engine.Start(context.Background(), Criteria{
		Range: DateRange{Start: now.Add(-24 * time.Hour), End: now}, MinimumSize: 0,
	})
	<-entered

	fresh, err := engine.Search(context.Background(), Criteria{
		Range: DateRange{Start: now.Add(-24 * time.Hour), End: now}, MinimumSize: 5 * BytesPerMB,
	})
	if err != nil {
		t.Fatalf("fresh search returned error: %v", err)
	}
	if fresh.Count() != 1 {
		t.Fatalf("fresh Count = %d, want 1", fresh.Count())
	}

	close(release)
	if _, err := stale.Wait(); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("stale search error = %v, want ErrSuperseded", err)
	}

	current := engine.Current()
	if current.Count() != 1 || current.TotalSize != 8*BytesPerMB {
		t.Fatalf("stale search overwrote the newer result: %+v", current)
	}
}

func TestPresetRange(t *testing.T) {
	tests := []struct {
		preset Preset
		start  time.Time
	}{
		{PresetLastWeek, now.AddDate(0, 0, -7)},
		{PresetLastMonth, now.AddDate(0, -1, 0)},
		{PresetLast3Months, now.AddDate(0, -3, 0)},
	}
	for _, tt := range tests {
		rng, err := PresetRange(tt.preset, now)
		if err != nil {
			t.Fatalf("PresetRange(%s): %v", tt.preset, err)
		}
		if !rng.Start.Equal(tt.start) || !rng.End.Equal(now) {
			t.Errorf("PresetRange(%s) = %v..%v", tt.preset, rng.Start, rng.End)
		}
	}

	if _, err := PresetRange(PresetCustom, now); err == nil {
		t.Error("expected error for custom preset without a range")
	}
}

func TestMinimumSizeFromMB(t *testing.T) {
	cfg := &config.SelectionConfig{DefaultMinimumMB: 2.5, MinimumMB: 0.1, MaximumMB: 5.0}

	tests := []struct {
		mb   float64
		want int64
	}{
		{2, 2 * BytesPerMB},
		{0.01, 104857},
		{12, 5 * BytesPerMB},
	}
	for _, tt := range tests {
		if got := MinimumSizeFromMB(tt.mb, cfg); got != tt.want {
			t.Errorf("MinimumSizeFromMB(%v) = %d, want %d", tt.mb, got, tt.want)
		}
	}

	criteria, err := NewCriteria(PresetLastWeek, DateRange{}, 0, now, cfg)
	if err != nil {
		t.Fatalf("NewCriteria: %v", err)
	}
	if criteria.MinimumSize != int64(2.5*BytesPerMB) {
		t.Errorf("default MinimumSize = %d", criteria.MinimumSize)
	}
}
