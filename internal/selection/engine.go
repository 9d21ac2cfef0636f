// Package selection finds library assets that match a date window and a
// minimum-size threshold, publishing results progressively.
package selection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/not-nullexception/ziply/internal/library"
	"github.com/not-nullexception/ziply/internal/library/models"
	"github.com/not-nullexception/ziply/internal/logger"
	"github.com/not-nullexception/ziply/internal/metrics"
	"github.com/not-nullexception/ziply/internal/tracing"
	"github.com/rs/zerolog"
)

// ErrSuperseded is returned by Handle.Wait when a newer search replaced this one
var ErrSuperseded = errors.New("search superseded by a newer search")

// Source is what the engine needs from the library
type Source interface {
	library.Authorizer
	FetchAssets(ctx context.Context, query models.AssetQuery) ([]*models.Asset, error)
	ResourceSize(ctx context.Context, id uuid.UUID) (int64, error)
}

// Result is the progressively updated outcome of a search
type Result struct {
	Assets    []*models.Asset `json:"assets"`
	TotalSize int64           `json:"total_size"`
	Searching bool            `json:"searching"`
}

func (r Result) Count() int {
	return len(r.Assets)
}

func (r Result) clone() Result {
	r.Assets = append([]*models.Asset(nil), r.Assets...)
	return r
}

// Observer receives every committed update
type Observer func(Result)

type Engine struct {
	source   Source
	observer Observer
	logger   zerolog.Logger

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	current    Result

	// serialises the check-then-notify step so observers never see an
	// older search after a newer one
	notifyMu sync.Mutex
}

type Option func(*Engine)

func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		e.observer = observer
	}
}

func NewEngine(source Source, opts ...Option) *Engine {
	e := &Engine{
		source:  source,
		logger:  logger.GetLogger("selection"),
		current: Result{Assets: []*models.Asset{}},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle tracks one started search
type Handle struct {
	done   chan struct{}
	result Result
	err    error
}

// Wait blocks until the search ends and returns its final result
func (h *Handle) Wait() (Result, error) {
	<-h.done
	return h.result, h.err
}

// Done is closed when the search ends
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Start cancels any running search and begins a new one. Only the newest
// search commits results.
func (e *Engine) Start(ctx context.Context, criteria Criteria) *Handle {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.generation++
	gen := e.generation
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	// the reset is visible to Current before Start returns
	e.commit(gen, Result{Assets: []*models.Asset{}, Searching: true})

	h := &Handle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		h.result, h.err = e.run(runCtx, gen, criteria)
	}()
	return h
}

// Search runs a search to completion
func (e *Engine) Search(ctx context.Context, criteria Criteria) (Result, error) {
	return e.Start(ctx, criteria).Wait()
}

// Cancel stops the running search, keeping whatever it matched so far
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// Current returns the last committed result
func (e *Engine) Current() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current.clone()
}

func (e *Engine) run(ctx context.Context, gen uint64, criteria Criteria) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "selection.Search")
	defer span.End()

	log := e.logger.With().Uint64("generation", gen).Logger()
	result := Result{Assets: []*models.Asset{}, Searching: true}

	finish := func(err error) (Result, error) {
		result.Searching = false
		if !e.commit(gen, result) {
			return result, ErrSuperseded
		}
		return result, err
	}

	if _, err := library.EnsureAuthorized(ctx, e.source); err != nil {
		log.Warn().Err(err).Msg("Library access not granted")
		return finish(err)
	}

	if criteria.Range.Empty() {
		log.Debug().Msg("Empty date range, nothing to search")
		return finish(nil)
	}

	assets, err := e.source.FetchAssets(ctx, models.AssetQuery{
		MediaType: models.MediaTypeImage,
		Start:     criteria.Range.Start,
		End:       criteria.Range.End,
	})
	if err != nil {
		return finish(fmt.Errorf("failed to fetch assets: %w", err))
	}

	log.Debug().Int("candidates", len(assets)).Int64("minimum_size", criteria.MinimumSize).Msg("Checking asset sizes")

	for _, asset := range assets {
		if err := ctx.Err(); err != nil {
			return e.stopped(gen, result, err)
		}

		size, err := e.source.ResourceSize(ctx, asset.ID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return e.stopped(gen, result, ctxErr)
			}
			log.Warn().Err(err).Str("asset_id", asset.ID.String()).Msg("Failed to read resource size")
			continue
		}
		if size < criteria.MinimumSize {
			continue
		}

		result.Assets = append(result.Assets, asset)
		result.TotalSize += size
		if !e.commit(gen, result) {
			return result, ErrSuperseded
		}
	}

	metrics.RecordSearch(len(result.Assets))
	tracing.AddEvent(ctx, "search.finished", tracing.KeyMatches.Int(len(result.Assets)))
	log.Info().
		Int("matches", len(result.Assets)).
		Int64("total_size", result.TotalSize).
		Msg("Search finished")

	return finish(nil)
}

// stopped ends a cancelled search. A superseded search reports
// ErrSuperseded and leaves the newer result untouched.
func (e *Engine) stopped(gen uint64, result Result, cause error) (Result, error) {
	result.Searching = false
	if !e.commit(gen, result) {
		return result, ErrSuperseded
	}
	return result, cause
}

func (e *Engine) commit(gen uint64, result Result) bool {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return false
	}
	e.current = result.clone()
	e.mu.Unlock()

	if e.observer != nil {
		e.observer(result.clone())
	}
	return true
}
