// Package state holds the ledgerctl commands that query linear states.
package state

import (
	"time"

	"github.com/ledgerkit/ledgerkit/cmd/ledgerctl/common"
	"github.com/spf13/cobra"
)

var (
	// SnapshotCmd prints the current states matching a filter.
	SnapshotCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "List the unconsumed states matching a filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := common.ParseFilter(cmd.Flags())
			if err != nil {
				return err
			}
			p, err := common.PrinterFor(cmd)
			if err != nil {
				return err
			}

			c, err := common.Dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			r, err := c.Snapshot(common.Context(cmd), f)
			if err != nil {
				return err
			}
			return p.States(r.States, r.Cursor)
		},
	}

	// HistoryCmd prints every revision of one linear state.
	HistoryCmd = &cobra.Command{
		Use:   "history <linear id>",
		Short: "List every revision of a linear state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := common.PrinterFor(cmd)
			if err != nil {
				return err
			}

			c, err := common.Dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			revisions, err := c.History(common.Context(cmd), args[0])
			if err != nil {
				return err
			}
			return p.History(revisions)
		},
	}

	// CancelCmd cancels a subscription, possibly held by another client.
	CancelCmd = &cobra.Command{
		Use:   "cancel <subscription id>",
		Short: "Cancel a subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := common.Dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Cancel(common.Context(cmd), args[0]); err != nil {
				return err
			}
			cmd.Println(args[0])
			return nil
		},
	}
)

func init() {
	common.AddFilterFlags(SnapshotCmd.Flags())
	common.AddFilterFlags(WatchCmd.Flags())
	WatchCmd.Flags().Bool("resubscribe", false, "Resubscribe from the last event received when the subscription overflows")
	WatchCmd.Flags().Duration("resubscribe-interval", time.Second, "Minimum interval between two resubscriptions")
}
