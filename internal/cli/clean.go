package cli

import (
	"fmt"

	"screen-recorder/internal/platform/storage"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func NewCleanCmd(deps *Dependencies) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete every recording in the recordings directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			dir, err := storage.New(deps.Settings.RecordingsDir)
			if err != nil {
				return err
			}
			files, err := dir.List()
			if err != nil {
				return err
			}
			if len(files) == 0 {
				fmt.Fprintf(out, "No recordings in %s\n", dir.Root())
				return nil
			}
			if !force {
				var total int64
				for _, f := range files {
					total += f.Size
				}
				fmt.Fprintf(out, "Would delete %d recordings (%s) from %s; rerun with --force\n",
					len(files), humanize.Bytes(uint64(total)), dir.Root())
				return nil
			}

			n, err := dir.DeleteAll()
			fmt.Fprintf(out, "Deleted %d recordings\n", n)
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Delete without the dry run")
	return cmd
}
