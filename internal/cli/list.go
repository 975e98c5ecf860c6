package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"screen-recorder/internal/platform/storage"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func NewListCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recordings in the recordings directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := storage.New(deps.Settings.RecordingsDir)
			if err != nil {
				return err
			}
			files, err := dir.List()
			if err != nil {
				return err
			}
			printFiles(cmd.OutOrStdout(), dir.Root(), files)
			return nil
		},
	}
}

func printFiles(out io.Writer, root string, files []storage.FileInfo) {
	if len(files) == 0 {
		fmt.Fprintf(out, "No recordings in %s\n", root)
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tTYPE\tRECORDED")
	var total int64
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Name, humanize.Bytes(uint64(f.Size)), f.Type, humanize.Time(f.ModTime))
		total += f.Size
	}
	tw.Flush()
	fmt.Fprintf(out, "\n%d recordings, %s in %s\n", len(files), humanize.Bytes(uint64(total)), root)
}
