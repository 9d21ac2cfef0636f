// Package progress accumulates per-asset outcomes of a compression run into
// running totals and a final summary.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// AssetResult is the outcome for one source asset
type AssetResult struct {
	AssetID          uuid.UUID `json:"asset_id"`
	Outcome          Outcome   `json:"outcome"`
	OriginalSize     int64     `json:"original_size,omitempty"`
	CompressedSize   int64     `json:"compressed_size,omitempty"`
	CompressionRatio float64   `json:"compression_ratio,omitempty"`
	NewAssetID       uuid.UUID `json:"new_asset_id,omitempty"`
	Error            string    `json:"error,omitempty"`
	Reason           string    `json:"reason,omitempty"`
}

// SpaceSaved is negative when the compressed file grew
func (r AssetResult) SpaceSaved() int64 {
	return r.OriginalSize - r.CompressedSize
}

// State is a point-in-time view of a run
type State struct {
	TotalCount         int           `json:"total_count"`
	ProcessedCount     int           `json:"processed_count"`
	ErrorCount         int           `json:"error_count"`
	SkippedCount       int           `json:"skipped_count"`
	SpaceFreed         int64         `json:"space_freed"`
	QualityEstimate    float64       `json:"quality_estimate"`
	Results            []AssetResult `json:"results"`
	StartTime          time.Time     `json:"start_time"`
	Compressing        bool          `json:"compressing"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`
}

// Progress returns processed/total in [0,1]
func (s State) Progress() float64 {
	if s.TotalCount <= 0 {
		return 0
	}
	return float64(s.ProcessedCount) / float64(s.TotalCount)
}

func (s State) ProgressPercentage() int {
	return int(s.Progress() * 100)
}

func (s State) FormattedSpaceFreed() string {
	return FormatBytes(s.SpaceFreed)
}

func (s State) FormattedTimeRemaining() string {
	if s.EstimatedRemaining <= 0 {
		return "Calculating..."
	}
	return FormatDuration(s.EstimatedRemaining)
}

// Summary is the terminal report of a run
type Summary struct {
	TotalPhotos             int           `json:"total_photos"`
	Processed               int           `json:"processed"`
	SuccessfulPhotos        int           `json:"successful_photos"`
	FailedPhotos            int           `json:"failed_photos"`
	Skipped                 int           `json:"skipped"`
	TotalSpaceSaved         int64         `json:"total_space_saved"`
	AverageCompressionRatio float64       `json:"average_compression_ratio"`
	AverageQuality          float64       `json:"average_quality"`
	Duration                time.Duration `json:"duration"`
	Cancelled               bool          `json:"cancelled"`
}

// CompressionPercentage returns (1 - average ratio) * 100
func (s Summary) CompressionPercentage() float64 {
	if s.SuccessfulPhotos == 0 {
		return 0
	}
	return (1 - s.AverageCompressionRatio) * 100
}

func (s Summary) FormattedDuration() string {
	return FormatDuration(s.Duration)
}

func (s Summary) FormattedSpaceSaved() string {
	return FormatBytes(s.TotalSpaceSaved)
}

// Tracker is safe for concurrent use: the run goroutine records outcomes
// while API handlers read snapshots.
type Tracker struct {
	mu        sync.RWMutex
	now       func() time.Time
	state     State
	ratioSum  float64
	successes int
	summary   *Summary
}

type Option func(*Tracker)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Begin resets the tracker for a run over total assets
func (t *Tracker) Begin(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = State{
		TotalCount:  total,
		Results:     make([]AssetResult, 0, total),
		StartTime:   t.now(),
		Compressing: true,
	}
	t.ratioSum = 0
	t.successes = 0
	t.summary = nil
}

// RecordSuccess records a persisted asset and refreshes the quality estimate
func (t *Tracker) RecordSuccess(assetID uuid.UUID, originalSize, compressedSize int64, newAssetID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := AssetResult{
		AssetID:        assetID,
		Outcome:        OutcomeSuccess,
		OriginalSize:   originalSize,
		CompressedSize: compressedSize,
		NewAssetID:     newAssetID,
	}
	if originalSize > 0 {
		result.CompressionRatio = float64(compressedSize) / float64(originalSize)
	}

	t.successes++
	t.ratioSum += result.CompressionRatio
	t.state.SpaceFreed += result.SpaceSaved()
	t.state.QualityEstimate = QualityEstimate(t.ratioSum / float64(t.successes))
	t.appendLocked(result)
}

func (t *Tracker) RecordFailure(assetID uuid.UUID, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := AssetResult{AssetID: assetID, Outcome: OutcomeFailed}
	if err != nil {
		result.Error = err.Error()
	}
	t.state.ErrorCount++
	t.appendLocked(result)
}

// RecordSkipped records an asset that was handled but not written
func (t *Tracker) RecordSkipped(assetID uuid.UUID, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.SkippedCount++
	t.appendLocked(AssetResult{AssetID: assetID, Outcome: OutcomeSkipped, Reason: reason})
}

func (t *Tracker) appendLocked(result AssetResult) {
	t.state.ProcessedCount++
	t.state.Results = append(t.state.Results, result)
	t.state.EstimatedRemaining = t.remainingLocked()
}

func (t *Tracker) remainingLocked() time.Duration {
	if t.state.ProcessedCount <= 0 {
		return 0
	}
	remaining := t.state.TotalCount - t.state.ProcessedCount
	if remaining <= 0 {
		return 0
	}
	perAsset := t.now().Sub(t.state.StartTime) / time.Duration(t.state.ProcessedCount)
	return perAsset * time.Duration(remaining)
}

// Finish ends the run. Assets never reached because of cancellation count as
// skipped. Calling Finish again returns the first summary.
func (t *Tracker) Finish(cancelled bool) Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.summary != nil {
		return *t.summary
	}

	unreached := t.state.TotalCount - t.state.ProcessedCount
	if unreached < 0 {
		unreached = 0
	}
	t.state.SkippedCount += unreached
	t.state.Compressing = false
	t.state.EstimatedRemaining = 0

	summary := Summary{
		TotalPhotos:      t.state.TotalCount,
		Processed:        t.state.ProcessedCount,
		SuccessfulPhotos: t.successes,
		FailedPhotos:     t.state.ErrorCount,
		Skipped:          t.state.SkippedCount,
		TotalSpaceSaved:  t.state.SpaceFreed,
		AverageQuality:   t.state.QualityEstimate,
		Duration:         t.now().Sub(t.state.StartTime),
		Cancelled:        cancelled,
	}
	if t.successes > 0 {
		summary.AverageCompressionRatio = t.ratioSum / float64(t.successes)
	}
	t.summary = &summary
	return summary
}

// Snapshot returns a copy of the current state
func (t *Tracker) Snapshot() State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.state
	s.Results = append([]AssetResult(nil), t.state.Results...)
	return s
}

// QualityEstimate maps an average compression ratio to a quality score in
// [0,1]. A ratio of 1 or more means nothing was compressed and scores 1.
func QualityEstimate(avgRatio float64) float64 {
	if avgRatio >= 1 {
		return 1
	}
	q := 0.7 + 0.3*avgRatio
	switch {
	case q < 0:
		return 0
	case q > 1:
		return 1
	default:
		return q
	}
}

// FormatBytes renders a byte count with SI units, keeping the sign
func FormatBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.Bytes(uint64(-n))
	}
	return humanize.Bytes(uint64(n))
}

// FormatDuration renders "Xm Ys", or "Ys" under a minute
func FormatDuration(d time.Duration) string {
	total := int(d / time.Second)
	minutes, seconds := total/60, total%60
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
