package cli

import (
	"fmt"

	"screen-recorder/internal/version"

	"github.com/spf13/cobra"
)

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "recorder",
		Short:         "Record the screen, application audio and microphone",
		Long:          "Records a display or window to a fragmented MP4 file with application audio and an optional microphone track.\nPaused intervals are cut out of the recording timeline.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")

	rootCmd.AddCommand(NewRecordCmd(deps))
	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewListCmd(deps))
	rootCmd.AddCommand(NewCleanCmd(deps))
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	}
}
