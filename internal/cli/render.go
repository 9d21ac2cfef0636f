package cli

import (
	"fmt"
	"strings"

	"github.com/not-nullexception/ziply/internal/library"
	imgproc "github.com/not-nullexception/ziply/internal/processor/image"
	"github.com/not-nullexception/ziply/internal/progress"
	"github.com/not-nullexception/ziply/internal/selection"
)

type summaryRow struct {
	Label string
	Value string
}

// renderTable draws label | value rows between two rules. Widths are
// measured before styling so escape codes do not skew the padding.
func renderTable(rows []summaryRow) string {
	labelWidth, valueWidth := 0, 0
	for _, row := range rows {
		labelWidth = max(labelWidth, len(row.Label))
		valueWidth = max(valueWidth, len(row.Value))
	}

	hline := dimStyle.Render(strings.Repeat("-", labelWidth+valueWidth+3))
	lines := []string{hline}
	for _, row := range rows {
		lines = append(lines, fmt.Sprintf("%s | %s",
			labelStyle.Render(padRight(row.Label, labelWidth)),
			valueStyle.Render(padRight(row.Value, valueWidth)),
		))
	}
	lines = append(lines, hline)
	return strings.Join(lines, "\n")
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func searchRows(result selection.Result) []summaryRow {
	return []summaryRow{
		{Label: "Photos found", Value: fmt.Sprintf("%d", result.Count())},
		{Label: "Total size", Value: progress.FormatBytes(result.TotalSize)},
		{Label: "Estimated savings", Value: fmt.Sprintf("%s (%.0f%%)",
			progress.FormatBytes(imgproc.EstimateSavings(result.TotalSize)), (1-imgproc.TypicalRatio)*100)},
	}
}

// cameraLine joins the camera and shooting summaries, either may be empty
func cameraLine(detail *library.AssetDetail) string {
	var parts []string
	for _, s := range []string{detail.CameraInfo, detail.ShootingSettings} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " | ")
}

func summaryRows(s progress.Summary) []summaryRow {
	rows := []summaryRow{
		{Label: "Photos", Value: fmt.Sprintf("%d/%d", s.Processed, s.TotalPhotos)},
		{Label: "Compressed", Value: fmt.Sprintf("%d", s.SuccessfulPhotos)},
		{Label: "Failed", Value: fmt.Sprintf("%d", s.FailedPhotos)},
		{Label: "Skipped", Value: fmt.Sprintf("%d", s.Skipped)},
		{Label: "Space saved", Value: s.FormattedSpaceSaved()},
		{Label: "Reduction", Value: fmt.Sprintf("%.1f%%", s.CompressionPercentage())},
		{Label: "Quality", Value: fmt.Sprintf("%.0f%%", s.AverageQuality*100)},
		{Label: "Duration", Value: s.FormattedDuration()},
	}
	if s.Cancelled {
		rows = append(rows, summaryRow{Label: "Status", Value: "cancelled"})
	}
	return rows
}

// progressLine renders one in-place status line for a running compression
func progressLine(state progress.State) string {
	return fmt.Sprintf("\r%s %s  %s  %s  %s",
		titleStyle.Render(fmt.Sprintf("%3d%%", state.ProgressPercentage())),
		valueStyle.Render(fmt.Sprintf("%d/%d", state.ProcessedCount, state.TotalCount)),
		errorStyle.Render(fmt.Sprintf("errors:%d", state.ErrorCount)),
		successStyle.Render("saved "+state.FormattedSpaceFreed()),
		dimStyle.Render("remaining "+state.FormattedTimeRemaining()),
	)
}
