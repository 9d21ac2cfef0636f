package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/not-nullexception/ziply/internal/app"
	"github.com/not-nullexception/ziply/internal/compression"
	"github.com/not-nullexception/ziply/internal/progress"
)

const progressInterval = 250 * time.Millisecond

func newCompressCmd() *cobra.Command {
	var (
		flags  selectionFlags
		policy string
	)

	cmd := &cobra.Command{
		Use:   "compress",
		Short: "Search, then compress every matching photo",
		Long: "compress runs a search and recompresses the matches.\n\n" +
			"  --policy copy     keep originals, add copies to \"Compressed - <album>\"\n" +
			"  --policy replace  add copies to the originals' albums and tag the\n" +
			"                    originals with the deletion marker album\n\n" +
			"Interrupting stops after the photo being processed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := compression.ParsePolicy(policy)
			if err != nil {
				return err
			}
			criteria, err := flags.criteria(time.Now(), &current.cfg.Selection)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pipeline := app.NewPipeline(current.lib, current.cfg)
			result, err := runSearch(ctx, pipeline.Selection, criteria)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if result.Count() == 0 {
				fmt.Fprintln(out, dimStyle.Render("No photos match, nothing to compress"))
				return nil
			}
			fmt.Fprintln(out, renderTable(searchRows(result)))

			runID, err := pipeline.Orchestrator.Start(ctx, p, result.Assets)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, labelStyle.Render("run "+runID.String()))

			summary, err := watchRun(ctx, cmd, pipeline.Orchestrator)
			fmt.Fprintln(out)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			fmt.Fprintln(out, titleStyle.Render("Compression"))
			fmt.Fprintln(out, renderTable(summaryRows(summary)))
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&policy, "policy", string(compression.PolicyCopy), "save policy: copy or replace")
	return cmd
}

// watchRun redraws the progress line until the run ends
func watchRun(ctx context.Context, cmd *cobra.Command, orchestrator *compression.Orchestrator) (progress.Summary, error) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	var (
		summary progress.Summary
		err     error
	)
	go func() {
		defer close(done)
		// the run itself observes ctx, so wait without a deadline
		summary, err = orchestrator.Wait(context.WithoutCancel(ctx))
	}()

	for {
		select {
		case <-done:
			fmt.Fprint(cmd.OutOrStdout(), progressLine(orchestrator.State().Progress))
			return summary, err
		case <-ticker.C:
			fmt.Fprint(cmd.OutOrStdout(), progressLine(orchestrator.State().Progress))
		}
	}
}

func init() {
	rootCmd.AddCommand(newCompressCmd())
}
