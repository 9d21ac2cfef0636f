package cli

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/not-nullexception/ziply/internal/library"
	"github.com/not-nullexception/ziply/internal/library/models"
	"github.com/not-nullexception/ziply/internal/progress"
)

func newImportCmd() *cobra.Command {
	var album string

	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Add a photo, or a directory of photos, to the library",
		Long: "import adds JPEG and PNG files to the library. For a directory, files\n" +
			"in each subdirectory go into an album named after it.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			info, err := os.Stat(path)
			if err != nil {
				return err
			}

			var imported []*models.Asset
			if info.IsDir() {
				if album != "" {
					return fmt.Errorf("--album applies to single files; directories use their subdirectory names")
				}
				if imported, err = library.ImportDir(ctx, current.lib, path); err != nil {
					return err
				}
			} else {
				var albumIDs []uuid.UUID
				if album != "" {
					a, err := library.FindOrCreateAlbum(ctx, current.lib, album)
					if err != nil {
						return err
					}
					albumIDs = append(albumIDs, a.ID)
				}
				asset, err := library.Import(ctx, current.lib, path, albumIDs...)
				if err != nil {
					return err
				}
				imported = append(imported, asset)
			}

			var total int64
			for _, asset := range imported {
				size, err := current.lib.ResourceSize(ctx, asset.ID)
				if err != nil {
					return err
				}
				total += size
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render("Import"))
			fmt.Fprintln(out, renderTable([]summaryRow{
				{Label: "Photos imported", Value: fmt.Sprintf("%d", len(imported))},
				{Label: "Total size", Value: progress.FormatBytes(total)},
			}))
			return nil
		},
	}
	cmd.Flags().StringVar(&album, "album", "", "album to add a single file to")
	return cmd
}

func init() {
	rootCmd.AddCommand(newImportCmd())
}
