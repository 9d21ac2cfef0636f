// Package compression drives compression runs: each asset is transformed and
// written back to the library under the copy or replace policy.
package compression

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/not-nullexception/ziply/config"
	"github.com/not-nullexception/ziply/internal/library"
	"github.com/not-nullexception/ziply/internal/library/models"
	"github.com/not-nullexception/ziply/internal/logger"
	"github.com/not-nullexception/ziply/internal/metrics"
	imgproc "github.com/not-nullexception/ziply/internal/processor/image"
	"github.com/not-nullexception/ziply/internal/progress"
	"github.com/not-nullexception/ziply/internal/tracing"
	"github.com/rs/zerolog"
)

type Policy string

const (
	// PolicyCopy writes the compressed asset into "Compressed - <album>" and
	// leaves the original untouched
	PolicyCopy Policy = "copy"
	// PolicyReplace writes the compressed asset into every album of the
	// original and tags the original with the marker album
	PolicyReplace Policy = "replace"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyCopy, PolicyReplace:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Store is the part of the library a run writes to
type Store interface {
	library.Authorizer
	library.AssetWriter
	library.AlbumStore
	library.RunLocker
}

// Transformer produces the compressed representation of an asset
type Transformer interface {
	Transform(ctx context.Context, asset *models.Asset) (*imgproc.TransformResult, error)
}

type Options struct {
	MarkerAlbum      string
	CompressedPrefix string
	DefaultAlbum     string
	SkipIfLarger     bool
}

func OptionsFrom(cfg *config.Config) Options {
	return Options{
		MarkerAlbum:      cfg.Albums.MarkerName,
		CompressedPrefix: cfg.Albums.CompressedPrefix,
		DefaultAlbum:     cfg.Albums.DefaultAlbum,
		SkipIfLarger:     cfg.Compression.SkipIfLarger,
	}
}

// RunState is the externally visible state of the current or last run
type RunState struct {
	ID       uuid.UUID         `json:"id"`
	Policy   Policy            `json:"policy"`
	Active   bool              `json:"active"`
	Progress progress.State    `json:"progress"`
	Summary  *progress.Summary `json:"summary,omitempty"`
	Error    string            `json:"error,omitempty"`
}

type Orchestrator struct {
	store       Store
	transformer Transformer
	opts        Options
	tracker     *progress.Tracker
	logger      zerolog.Logger

	mu      sync.Mutex
	active  bool
	runID   uuid.UUID
	policy  Policy
	cancel  context.CancelFunc
	release func()
	done    chan struct{}
	summary *progress.Summary
	err     error
}

func New(store Store, transformer Transformer, opts Options, trackerOpts ...progress.Option) *Orchestrator {
	return &Orchestrator{
		store:       store,
		transformer: transformer,
		opts:        opts,
		tracker:     progress.NewTracker(trackerOpts...),
		logger:      logger.GetLogger("compression"),
	}
}

// Start launches a run in the background and returns its ID. It fails with
// ErrRunInProgress while another run is active, here or in any other process
// sharing the library.
func (o *Orchestrator) Start(ctx context.Context, policy Policy, assets []*models.Asset) (uuid.UUID, error) {
	runCtx, runID, err := o.begin(ctx, policy, len(assets))
	if err != nil {
		return uuid.Nil, err
	}

	go func() {
		summary, err := o.execute(runCtx, runID, policy, assets)
		o.end(summary, err)
	}()
	return runID, nil
}

// Run executes a run synchronously. The returned error is a *BatchError only
// when every processed asset failed.
func (o *Orchestrator) Run(ctx context.Context, policy Policy, assets []*models.Asset) (progress.Summary, error) {
	runCtx, runID, err := o.begin(ctx, policy, len(assets))
	if err != nil {
		return progress.Summary{}, err
	}

	summary, err := o.execute(runCtx, runID, policy, assets)
	o.end(summary, err)
	return summary, err
}

// Cancel asks the active run to stop at the next asset boundary
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.active || o.cancel == nil {
		return false
	}
	o.cancel()
	return true
}

// Wait blocks until the active run ends and returns its outcome. Without an
// active run it returns the last outcome.
func (o *Orchestrator) Wait(ctx context.Context) (progress.Summary, error) {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return progress.Summary{}, ctx.Err()
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.summary == nil {
		return progress.Summary{}, o.err
	}
	return *o.summary, o.err
}

// State returns the state of the current or last run
func (o *Orchestrator) State() RunState {
	o.mu.Lock()
	defer o.mu.Unlock()

	state := RunState{
		ID:       o.runID,
		Policy:   o.policy,
		Active:   o.active,
		Progress: o.tracker.Snapshot(),
	}
	if o.summary != nil {
		s := *o.summary
		state.Summary = &s
	}
	if o.err != nil {
		state.Error = o.err.Error()
	}
	return state
}

func (o *Orchestrator) begin(ctx context.Context, policy Policy, total int) (context.Context, uuid.UUID, error) {
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, uuid.Nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active {
		o.logger.Warn().Str("run_id", o.runID.String()).Msg("Ignoring run request, a run is in progress")
		return nil, uuid.Nil, ErrRunInProgress
	}

	release, err := o.store.TryLockRun(ctx)
	if errors.Is(err, library.ErrRunLocked) {
		o.logger.Warn().Msg("Ignoring run request, another run holds the library")
		return nil, uuid.Nil, fmt.Errorf("%w: %w", ErrRunInProgress, err)
	}
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("error locking library for run: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.active = true
	o.release = release
	o.runID = uuid.New()
	o.policy = policy
	o.cancel = cancel
	o.done = make(chan struct{})
	o.summary = nil
	o.err = nil
	o.tracker.Begin(total)
	metrics.ActiveRuns.Inc()

	return runCtx, o.runID, nil
}

func (o *Orchestrator) end(summary progress.Summary, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	if o.release != nil {
		o.release()
		o.release = nil
	}
	o.active = false
	o.summary = &summary
	o.err = err
	close(o.done)
	metrics.ActiveRuns.Dec()
}

// run holds per-run state touched only by the goroutine executing it
type run struct {
	id         uuid.UUID
	policy     Policy
	albumCache map[string]*models.Album
	marker     *models.Album
	errs       []error
	log        zerolog.Logger
}

func (o *Orchestrator) execute(ctx context.Context, runID uuid.UUID, policy Policy, assets []*models.Asset) (progress.Summary, error) {
	ctx, span := tracing.StartRunSpan(ctx, runID, string(policy), len(assets))
	defer span.End()

	r := &run{
		id:         runID,
		policy:     policy,
		albumCache: make(map[string]*models.Album),
		log:        o.logger.With().Str("run_id", runID.String()).Str("policy", string(policy)).Logger(),
	}
	ctx = logger.ToContext(ctx, r.log)

	r.log.Info().Int("assets", len(assets)).Msg("Compression run started")

	cancelled := false
	if _, err := library.EnsureAuthorized(ctx, o.store); err != nil {
		r.log.Error().Err(err).Msg("Library access not granted")
		for _, asset := range assets {
			o.fail(ctx, r, asset, err)
		}
	} else {
		for _, asset := range assets {
			if ctx.Err() != nil {
				cancelled = true
				break
			}
			o.processAsset(ctx, r, asset)
		}
	}

	summary := o.tracker.Finish(cancelled)

	outcome := "completed"
	var err error
	switch {
	case cancelled:
		outcome = "cancelled"
	case summary.SuccessfulPhotos == 0 && len(r.errs) > 0 && len(r.errs) == summary.Processed:
		outcome = "failed"
		err = &BatchError{Errors: r.errs}
		tracing.RecordError(ctx, err)
	}
	metrics.RecordRun(string(policy), outcome)

	r.log.Info().
		Str("outcome", outcome).
		Int("processed", summary.Processed).
		Int("successful", summary.SuccessfulPhotos).
		Int("failed", summary.FailedPhotos).
		Int("skipped", summary.Skipped).
		Int64("space_saved", summary.TotalSpaceSaved).
		Dur("duration", summary.Duration).
		Msg("Compression run finished")

	return summary, err
}

func (o *Orchestrator) processAsset(ctx context.Context, r *run, asset *models.Asset) {
	ctx, span := tracing.StartAssetSpan(ctx, "compression.processAsset", asset.ID)
	defer span.End()

	result, err := o.transformer.Transform(ctx, asset)
	if err != nil {
		o.fail(ctx, r, asset, err)
		return
	}

	if o.opts.SkipIfLarger && result.CompressedSize >= result.OriginalSize {
		r.log.Info().
			Str("asset_id", asset.ID.String()).
			Int64("original_size", result.OriginalSize).
			Int64("compressed_size", result.CompressedSize).
			Msg("No optimization achieved, keeping original")
		tracing.AddEvent(ctx, "asset.skipped", tracing.KeyOriginalSize.Int64(result.OriginalSize),
			tracing.KeyCompressedSize.Int64(result.CompressedSize))
		o.tracker.RecordSkipped(asset.ID, "compressed file is not smaller")
		metrics.RecordAsset(string(progress.OutcomeSkipped))
		return
	}

	var saved *models.Asset
	switch r.policy {
	case PolicyCopy:
		saved, err = o.saveCopy(ctx, r, asset, result)
	case PolicyReplace:
		saved, err = o.saveReplacement(ctx, r, asset, result)
	}
	if err != nil {
		o.fail(ctx, r, asset, err)
		return
	}
	if saved == nil || saved.ID == uuid.Nil {
		o.fail(ctx, r, asset, ErrSaveFailed)
		return
	}

	tracing.SetSizes(ctx, result.OriginalSize, result.CompressedSize)
	o.tracker.RecordSuccess(asset.ID, result.OriginalSize, result.CompressedSize, saved.ID)
	metrics.RecordAsset(string(progress.OutcomeSuccess))
	metrics.RecordSizeReduction(ctx, result.OriginalSize, result.CompressedSize)

	r.log.Debug().
		Str("asset_id", asset.ID.String()).
		Str("new_asset_id", saved.ID.String()).
		Int64("space_saved", result.SpaceSaved()).
		Msg("Asset compressed")
}

func (o *Orchestrator) fail(ctx context.Context, r *run, asset *models.Asset, err error) {
	tracing.RecordError(ctx, err)
	assetErr := &AssetError{AssetID: asset.ID, Err: err}
	r.errs = append(r.errs, assetErr)
	o.tracker.RecordFailure(asset.ID, err)
	metrics.RecordAsset(string(progress.OutcomeFailed))

	r.log.Warn().
		Err(err).
		Str("asset_id", asset.ID.String()).
		Msg("Failed to compress asset")
}

func (o *Orchestrator) saveCopy(ctx context.Context, r *run, asset *models.Asset, result *imgproc.TransformResult) (*models.Asset, error) {
	titles, err := o.sourceAlbumTitles(ctx, asset)
	if err != nil {
		return nil, err
	}

	albumIDs := make([]uuid.UUID, 0, len(titles))
	for _, title := range titles {
		album, err := o.compressedAlbum(ctx, r, title)
		if err != nil {
			return nil, err
		}
		albumIDs = append(albumIDs, album.ID)
	}

	saved, err := o.store.CreateAsset(ctx, models.CreateAssetRequest{
		Data:             result.Data,
		ContentType:      imgproc.ContentTypeJPEG,
		OriginalFilename: compressedFilename(asset.OriginalFilename),
		CreationDate:     asset.CreationDate,
		Location:         asset.Location,
		Favorite:         asset.Favorite,
		PixelWidth:       result.Width,
		PixelHeight:      result.Height,
		AlbumIDs:         albumIDs,
		Properties:       result.Properties,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	return saved, nil
}

// sourceAlbumTitles lists the user albums holding asset. Assets outside any
// album belong to the default album.
func (o *Orchestrator) sourceAlbumTitles(ctx context.Context, asset *models.Asset) ([]string, error) {
	albums, err := o.store.AlbumsContaining(ctx, asset.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list albums: %w", err)
	}

	titles := make([]string, 0, len(albums))
	for _, album := range albums {
		if album.Kind != models.AlbumUser || album.Title == "" || album.Title == o.opts.MarkerAlbum {
			continue
		}
		if strings.HasPrefix(album.Title, o.opts.CompressedPrefix) {
			continue
		}
		titles = append(titles, album.Title)
	}
	if len(titles) == 0 {
		titles = append(titles, o.opts.DefaultAlbum)
	}
	return titles, nil
}

func (o *Orchestrator) compressedAlbum(ctx context.Context, r *run, source string) (*models.Album, error) {
	title := o.opts.CompressedPrefix + source
	if album, ok := r.albumCache[title]; ok {
		return album, nil
	}

	album, err := library.FindOrCreateAlbum(ctx, o.store, title)
	if err != nil {
		return nil, fmt.Errorf("failed to get album %q: %w", title, err)
	}
	r.albumCache[title] = album
	tracing.AddEvent(ctx, "album.resolved", tracing.KeyAlbum.String(title))
	return album, nil
}

func (o *Orchestrator) saveReplacement(ctx context.Context, r *run, asset *models.Asset, result *imgproc.TransformResult) (*models.Asset, error) {
	if r.marker == nil {
		marker, err := library.FindOrCreateAlbum(ctx, o.store, o.opts.MarkerAlbum)
		if err != nil {
			return nil, fmt.Errorf("failed to get marker album: %w", err)
		}
		r.marker = marker
	}

	saved, err := o.store.ReplaceAsset(ctx, models.ReplaceRequest{
		Original:      asset,
		Data:          result.Data,
		ContentType:   imgproc.ContentTypeJPEG,
		PixelWidth:    result.Width,
		PixelHeight:   result.Height,
		Properties:    result.Properties,
		MarkerAlbumID: r.marker.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	return saved, nil
}

func compressedFilename(original string) string {
	base := strings.TrimSuffix(original, filepath.Ext(original))
	if base == "" {
		base = "compressed"
	}
	return base + ".jpg"
}
