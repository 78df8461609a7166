package main

import (
	"os"

	"github.com/ledgerkit/ledgerkit/api"
	"github.com/ledgerkit/ledgerkit/client"
	"github.com/ledgerkit/ledgerkit/cmd/ledgerctl/common"
	"github.com/ledgerkit/ledgerkit/cmd/ledgerctl/state"
	"github.com/ledgerkit/ledgerkit/cmd/ledgerctl/tx"
	"github.com/ledgerkit/ledgerkit/version"
	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	mainCmd.SetArgs(args)
	c, err := mainCmd.ExecuteC()
	if err == nil {
		return 0
	}
	c.PrintErrln("Error:", err)
	// errors that did not come from the daemon are usage errors.
	if !fromDaemon(err) {
		c.PrintErrln(c.UsageString())
	}
	return common.ExitCode(err)
}

func fromDaemon(err error) bool {
	return api.IsNotConnected(err) || api.IsConflict(err) || api.IsOverflow(err) ||
		api.IsInvalidFilter(err)
}

var (
	mainCmd = &cobra.Command{
		Use:           os.Args[0],
		Short:         "Query and feed a ledger state daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func defaultAddr() string {
	addr := os.Getenv("LEDGERKIT_ADDR")
	if addr != "" {
		return addr
	}
	return "127.0.0.1:4243"
}

func init() {
	mainCmd.PersistentFlags().StringP("addr", "a", defaultAddr(), "Address of the ledgerkit daemon, host:port or unix:///path")
	mainCmd.PersistentFlags().StringP("user", "u", os.Getenv("LEDGERKIT_USER"), "User name sent with every request")
	mainCmd.PersistentFlags().String("password", os.Getenv("LEDGERKIT_PASSWORD"), "Password sent with every request")
	mainCmd.PersistentFlags().Duration("timeout", client.DefaultDialTimeout, "How long to wait for the connection to the daemon")
	mainCmd.PersistentFlags().StringP("output", "o", common.FormatTable, "Output format (options \"table\", \"yaml\", \"json\")")

	mainCmd.AddCommand(
		state.SnapshotCmd,
		state.WatchCmd,
		state.HistoryCmd,
		state.CancelCmd,
		tx.ListCmd,
		tx.ApplyCmd,
		version.Cmd,
	)
}
