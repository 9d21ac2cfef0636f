package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/not-nullexception/ziply/config"
	"github.com/not-nullexception/ziply/internal/progress"
	"github.com/not-nullexception/ziply/internal/selection"
	"github.com/not-nullexception/ziply/internal/testutil"
)

func writePhotos(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "Trips"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string][]byte{
		"a.jpg":          testutil.JPEG(t, 64, 64),
		"b.png":          testutil.PNG(t, 64, 64),
		"Trips/c.jpg":    testutil.JPEG(t, 64, 64),
		"notes.txt":      []byte("not a photo"),
		"Trips/bad.jpeg": []byte("corrupt"),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	// keep the postgres path out of reach and every test photo above the floor
	t.Setenv("SELECTION_MINIMUM_MB", "0")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { memoryDir = "" })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		t.Fatalf("ziply %v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestSearchCommand(t *testing.T) {
	dir := writePhotos(t)
	out := execute(t, "--memory", dir, "search", "--preset", "last_week", "--min-mb", "0.0001")

	if !strings.Contains(out, "Photos found") {
		t.Fatalf("missing summary in output:\n%s", out)
	}
	if !regexp.MustCompile(`Photos found\s+\| 3\b`).MatchString(out) {
		t.Errorf("expected 3 photos found:\n%s", out)
	}
	if !strings.Contains(out, "Estimated savings") {
		t.Errorf("missing savings estimate:\n%s", out)
	}
}

func TestSearchVerboseShowsCamera(t *testing.T) {
	dir := t.TempDir()
	tiff := testutil.ExifTIFF(
		[]testutil.Tag{testutil.ASCII(0x010f, "TestMake"), testutil.ASCII(0x0110, "TestModel")},
		[]testutil.Tag{testutil.Rational(0x829d, [2]uint32{18, 10})},
		nil,
	)
	photo := testutil.WithExif(t, testutil.JPEG(t, 32, 32), tiff)
	if err := os.WriteFile(filepath.Join(dir, "camera.jpg"), photo, 0o644); err != nil {
		t.Fatal(err)
	}

	out := execute(t, "--memory", dir, "search", "-v", "--preset", "last_week", "--min-mb", "0.0001")
	for _, want := range []string{"camera.jpg", "TestMake, TestModel | f/1.8"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSearchRowsEstimateSavings(t *testing.T) {
	rows := searchRows(selection.Result{TotalSize: 4 * selection.BytesPerMB})
	last := rows[len(rows)-1]
	want := progress.FormatBytes(3*selection.BytesPerMB) + " (75%)"
	if last.Label != "Estimated savings" || last.Value != want {
		t.Errorf("last row = %+v, want Estimated savings %q", last, want)
	}
}

func TestCompressCommand(t *testing.T) {
	dir := writePhotos(t)
	out := execute(t, "--memory", dir, "compress", "--policy", "copy", "--preset", "last_week", "--min-mb", "0.0001")

	for _, want := range []string{"Compression", "Space saved", "3/3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSelectionFlagsCustomRange(t *testing.T) {
	cfg := config.Default()
	flags := selectionFlags{preset: "custom", from: "2024-03-01", to: "2024-03-31", minimumMB: 3}

	criteria, err := flags.criteria(time.Now(), &cfg.Selection)
	if err != nil {
		t.Fatalf("criteria: %v", err)
	}
	wantStart := time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local)
	if !criteria.Range.Start.Equal(wantStart) {
		t.Errorf("Start = %v, want %v", criteria.Range.Start, wantStart)
	}
	if d := criteria.Range.End.Format("2006-01-02 15:04"); d != "2024-03-31 23:59" {
		t.Errorf("End = %s, want end of 2024-03-31", d)
	}
	if criteria.MinimumSize != 3*selection.BytesPerMB {
		t.Errorf("MinimumSize = %d", criteria.MinimumSize)
	}

	flags.from = "March"
	if _, err := flags.criteria(time.Now(), &cfg.Selection); err == nil {
		t.Error("expected an error for an unparseable date")
	}
}

func TestRenderTable(t *testing.T) {
	table := renderTable([]summaryRow{
		{Label: "Photos", Value: "12"},
		{Label: "Space saved", Value: "3.4 MB"},
	})
	lines := strings.Split(table, "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), table)
	}
	if !strings.Contains(lines[1], "Photos      | 12") {
		t.Errorf("row not padded: %q", lines[1])
	}
}

func TestSummaryRowsCancelled(t *testing.T) {
	rows := summaryRows(progress.Summary{TotalPhotos: 4, Processed: 2, Cancelled: true})
	last := rows[len(rows)-1]
	if last.Label != "Status" || last.Value != "cancelled" {
		t.Errorf("last row = %+v", last)
	}
	if rows[0].Value != "2/4" {
		t.Errorf("Photos = %q", rows[0].Value)
	}
}
