package selection

import (
	"fmt"
	"time"

	"github.com/not-nullexception/ziply/config"
)

// BytesPerMB is the size of one megabyte on the minimum-size slider
const BytesPerMB = 1024 * 1024

type Preset string

const (
	PresetLastWeek    Preset = "last_week"
	PresetLastMonth   Preset = "last_month"
	PresetLast3Months Preset = "last_3_months"
	PresetCustom      Preset = "custom"
)

// DateRange is inclusive at both ends
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Empty reports whether the range cannot contain any instant
func (r DateRange) Empty() bool {
	return r.Start.After(r.End)
}

// Criteria selects assets created within Range whose resources total at
// least MinimumSize bytes.
type Criteria struct {
	Range       DateRange `json:"range"`
	MinimumSize int64     `json:"minimum_size"`
}

// PresetRange returns the window ending at now for a named preset
func PresetRange(preset Preset, now time.Time) (DateRange, error) {
	var start time.Time
	switch preset {
	case PresetLastWeek:
		start = now.AddDate(0, 0, -7)
	case PresetLastMonth:
		start = now.AddDate(0, -1, 0)
	case PresetLast3Months:
		start = now.AddDate(0, -3, 0)
	case PresetCustom:
		return DateRange{}, fmt.Errorf("custom preset requires an explicit range")
	default:
		return DateRange{}, fmt.Errorf("unknown preset %q", preset)
	}
	return DateRange{Start: start, End: now}, nil
}

// MinimumSizeFromMB converts a slider value to bytes, clamped to the
// configured bounds.
func MinimumSizeFromMB(mb float64, cfg *config.SelectionConfig) int64 {
	if mb < cfg.MinimumMB {
		mb = cfg.MinimumMB
	}
	if mb > cfg.MaximumMB {
		mb = cfg.MaximumMB
	}
	return int64(mb * BytesPerMB)
}

// NewCriteria builds criteria from a preset (or an explicit range for
// PresetCustom) and a slider value. A non-positive mb uses the default.
func NewCriteria(preset Preset, custom DateRange, mb float64, now time.Time, cfg *config.SelectionConfig) (Criteria, error) {
	var (
		rng DateRange
		err error
	)
	if preset == PresetCustom {
		rng = custom
	} else if rng, err = PresetRange(preset, now); err != nil {
		return Criteria{}, err
	}

	if mb <= 0 {
		mb = cfg.DefaultMinimumMB
	}
	return Criteria{Range: rng, MinimumSize: MinimumSizeFromMB(mb, cfg)}, nil
}
