package router

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/not-nullexception/ziply/config"
	"github.com/not-nullexception/ziply/internal/api/handlers"
	"github.com/not-nullexception/ziply/internal/app"
	"github.com/not-nullexception/ziply/internal/library/memory"
	"github.com/not-nullexception/ziply/internal/library/models"
	"github.com/not-nullexception/ziply/internal/selection"
	"github.com/not-nullexception/ziply/internal/testutil"
)

type testServer struct {
	engine   *gin.Engine
	lib      *memory.Library
	pipeline *app.Pipeline
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Mode = gin.TestMode
	lib := memory.New()
	pipeline := app.NewPipeline(lib, cfg)
	return &testServer{engine: Setup(cfg, pipeline, nil), lib: lib, pipeline: pipeline}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decode[handlers.HealthResponse](t, w); resp.Status != "UP" || resp.Library != "UP" {
		t.Errorf("unexpected health %+v", resp)
	}
}

func TestAuthorizationEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.lib.SetAuthorization(models.AuthorizationNotDetermined, models.AuthorizationLimited)

	if resp := decode[handlers.AuthorizationResponse](t, s.do(t, http.MethodGet, "/api/authorization", nil)); resp.Granted {
		t.Errorf("expected no grant yet: %+v", resp)
	}
	resp := decode[handlers.AuthorizationResponse](t, s.do(t, http.MethodPost, "/api/authorization", nil))
	if resp.Status != models.AuthorizationLimited || !resp.Granted {
		t.Errorf("unexpected grant %+v", resp)
	}
}

func TestSearchThenRun(t *testing.T) {
	s := newTestServer(t)
	now := time.Now()
	data := testutil.JPEG(t, 48, 48)
	s.lib.AddAsset(models.Asset{CreationDate: now.Add(-time.Hour)}, data, 3*selection.BytesPerMB)
	s.lib.AddAsset(models.Asset{CreationDate: now.Add(-2 * time.Hour)}, data, 4*selection.BytesPerMB)
	s.lib.AddAsset(models.Asset{CreationDate: now.Add(-3 * time.Hour)}, data, selection.BytesPerMB)

	w := s.do(t, http.MethodPost, "/api/search?wait=true", handlers.SearchRequest{Preset: selection.PresetLastWeek, MinimumMB: 2})
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d: %s", w.Code, w.Body.String())
	}
	search := decode[handlers.SearchResponse](t, w)
	if search.Count != 2 || search.TotalSize != 7*selection.BytesPerMB || search.Searching {
		t.Fatalf("unexpected search %+v", search)
	}
	// a typical run keeps a quarter of the bytes
	if search.EstimatedSavings != search.TotalSize*3/4 || search.FormattedEstimatedSavings == "" {
		t.Errorf("estimated savings = %d (%q), want %d", search.EstimatedSavings,
			search.FormattedEstimatedSavings, search.TotalSize*3/4)
	}

	if got := decode[handlers.SearchResponse](t, s.do(t, http.MethodGet, "/api/search", nil)); got.Count != 2 {
		t.Errorf("GET /api/search count = %d", got.Count)
	}

	w = s.do(t, http.MethodPost, "/api/runs", handlers.RunRequest{Policy: "copy"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("run status = %d: %s", w.Code, w.Body.String())
	}
	run := decode[handlers.RunResponse](t, w)
	if run.Assets != 2 || run.Queued {
		t.Errorf("unexpected run %+v", run)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	summary, err := s.pipeline.Orchestrator.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if summary.SuccessfulPhotos != 2 {
		t.Errorf("SuccessfulPhotos = %d, want 2", summary.SuccessfulPhotos)
	}

	w = s.do(t, http.MethodGet, "/api/runs/current", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("current run status = %d", w.Code)
	}

	albums := decode[struct {
		Albums []handlers.AlbumResponse `json:"albums"`
	}](t, s.do(t, http.MethodGet, "/api/albums", nil))
	if len(albums.Albums) != 1 || albums.Albums[0].Title != "Compressed - Camera Roll" || albums.Albums[0].Count != 2 {
		t.Errorf("unexpected albums %+v", albums.Albums)
	}
}

func TestRunRequestErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"unknown policy", "/api/runs", handlers.RunRequest{Policy: "shrink"}, http.StatusBadRequest},
		{"missing policy", "/api/runs", map[string]any{}, http.StatusBadRequest},
		{"nothing selected", "/api/runs", handlers.RunRequest{Policy: "copy"}, http.StatusBadRequest},
		{"queue disabled", "/api/runs?queue=true", handlers.RunRequest{Policy: "replace"}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := s.do(t, http.MethodPost, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	if w := s.do(t, http.MethodDelete, "/api/runs/current", nil); w.Code != http.StatusNotFound {
		t.Errorf("cancel without run status = %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/runs/current", nil); w.Code != http.StatusNotFound {
		t.Errorf("current without run status = %d", w.Code)
	}
}

func TestUploadAsset(t *testing.T) {
	s := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "beach.jpg")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write(testutil.JPEG(t, 20, 20))
	mw.WriteField("album", "Holidays")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/assets", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if s.lib.AssetCount() != 1 {
		t.Errorf("AssetCount = %d", s.lib.AssetCount())
	}
	if _, err := s.lib.FindAlbum(context.Background(), "Holidays"); err != nil {
		t.Errorf("album not created: %v", err)
	}
}

func TestGetAssetDetail(t *testing.T) {
	s := newTestServer(t)
	tiff := testutil.ExifTIFF(
		[]testutil.Tag{testutil.ASCII(0x010f, "TestMake"), testutil.ASCII(0x0110, "TestModel")},
		[]testutil.Tag{testutil.Rational(0x829d, [2]uint32{18, 10})},
		nil,
	)
	asset := s.lib.AddAsset(models.Asset{OriginalFilename: "IMG_0001.jpg"},
		testutil.WithExif(t, testutil.JPEG(t, 32, 32), tiff), 2048)

	w := s.do(t, http.MethodGet, "/api/assets/"+asset.ID.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	detail := decode[struct {
		ID               uuid.UUID `json:"id"`
		Size             int64     `json:"size"`
		FormattedSize    string    `json:"formatted_size"`
		CameraInfo       string    `json:"camera_info"`
		ShootingSettings string    `json:"shooting_settings"`
	}](t, w)
	if detail.ID != asset.ID || detail.Size != 2048 || detail.FormattedSize == "" {
		t.Errorf("unexpected detail %+v", detail)
	}
	if detail.CameraInfo != "TestMake, TestModel" || detail.ShootingSettings != "f/1.8" {
		t.Errorf("camera = %q, settings = %q", detail.CameraInfo, detail.ShootingSettings)
	}

	if w := s.do(t, http.MethodGet, "/api/assets/"+uuid.NewString(), nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown asset status = %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/assets/not-an-id", nil); w.Code != http.StatusBadRequest {
		t.Errorf("invalid id status = %d", w.Code)
	}
}
