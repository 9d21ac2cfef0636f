package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/not-nullexception/ziply/config"
	"github.com/not-nullexception/ziply/internal/library"
	"github.com/not-nullexception/ziply/internal/progress"
	"github.com/not-nullexception/ziply/internal/selection"
)

const dateLayout = "2006-01-02"

// selectionFlags are shared by search and compress
type selectionFlags struct {
	preset    string
	from      string
	to        string
	minimumMB float64
}

func (f *selectionFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.preset, "preset", string(selection.PresetLastMonth),
		"date range: last_week, last_month, last_3_months or custom")
	cmd.Flags().StringVar(&f.from, "from", "", "start date (YYYY-MM-DD) for --preset custom")
	cmd.Flags().StringVar(&f.to, "to", "", "end date (YYYY-MM-DD) for --preset custom")
	cmd.Flags().Float64Var(&f.minimumMB, "min-mb", 0, "minimum photo size in MB (default from config)")
}

func (f *selectionFlags) criteria(now time.Time, cfg *config.SelectionConfig) (selection.Criteria, error) {
	var custom selection.DateRange
	if selection.Preset(f.preset) == selection.PresetCustom {
		start, err := time.ParseInLocation(dateLayout, f.from, time.Local)
		if err != nil {
			return selection.Criteria{}, fmt.Errorf("invalid --from: %w", err)
		}
		end, err := time.ParseInLocation(dateLayout, f.to, time.Local)
		if err != nil {
			return selection.Criteria{}, fmt.Errorf("invalid --to: %w", err)
		}
		// --to names a whole day
		custom = selection.DateRange{Start: start, End: end.Add(24*time.Hour - time.Nanosecond)}
	}
	return selection.NewCriteria(selection.Preset(f.preset), custom, f.minimumMB, now, cfg)
}

// runSearch finds matching assets, cancelling cleanly on ctx
func runSearch(ctx context.Context, engine *selection.Engine, criteria selection.Criteria) (selection.Result, error) {
	result, err := engine.Search(ctx, criteria)
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, warnStyle.Render("search cancelled, showing partial result"))
		return result, nil
	}
	return result, err
}

func newSearchCmd() *cobra.Command {
	var (
		flags   selectionFlags
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "List photos larger than the minimum size in a date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			criteria, err := flags.criteria(time.Now(), &current.cfg.Selection)
			if err != nil {
				return err
			}

			engine := selection.NewEngine(current.lib)
			result, err := runSearch(cmd.Context(), engine, criteria)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if verbose {
				for _, asset := range result.Assets {
					fmt.Fprintf(out, "%s  %s  %s\n",
						dimStyle.Render(asset.CreationDate.Format(dateLayout)),
						valueStyle.Render(asset.OriginalFilename),
						labelStyle.Render(asset.ID.String()),
					)
					detail, err := library.Describe(cmd.Context(), current.lib, asset.ID)
					if err != nil {
						return err
					}
					if camera := cameraLine(detail); camera != "" {
						fmt.Fprintf(out, "            %s\n", dimStyle.Render(camera))
					}
				}
			}
			fmt.Fprintln(out, titleStyle.Render("Search"))
			fmt.Fprintln(out, renderTable(append(searchRows(result),
				summaryRow{Label: "Minimum size", Value: progress.FormatBytes(criteria.MinimumSize)},
			)))
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every matching photo")
	return cmd
}

func init() {
	rootCmd.AddCommand(newSearchCmd())
}
