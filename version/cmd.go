package version

import "github.com/spf13/cobra"

// Cmd can be added to other commands to provide a version subcommand with
// the correct version of ledgerkit.
var Cmd = &cobra.Command{
	Use:   "version",
	Short: "Print version number of ledgerkit",
	Run: func(cmd *cobra.Command, args []string) {
		FprintVersion(cmd.OutOrStdout())
	},
}
