// Package tx holds the ledgerctl commands that read and feed the ledger.
package tx

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ledgerkit/ledgerkit/cmd/ledgerctl/common"
	"github.com/ledgerkit/ledgerkit/log"
	"github.com/ledgerkit/ledgerkit/manager/ledgerapi"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	// ListCmd lists committed transactions.
	ListCmd = &cobra.Command{
		Use:   "txs",
		Short: "List committed transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			after, err := flags.GetUint64("after")
			if err != nil {
				return err
			}
			limit, err := flags.GetInt("limit")
			if err != nil {
				return err
			}
			follow, err := flags.GetBool("follow")
			if err != nil {
				return err
			}
			interval, err := flags.GetDuration("interval")
			if err != nil {
				return err
			}
			if interval <= 0 {
				return errors.New("--interval must be positive")
			}
			if limit < 0 {
				return errors.New("--limit must not be negative")
			}
			p, err := common.PrinterFor(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(common.Context(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := common.Dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			var tick <-chan time.Time
			if follow {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				tick = ticker.C
			}
			for {
				r, err := c.Transactions(ctx, after, limit)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				if len(r.Transactions) > 0 || !follow {
					if err := p.Transactions(r.Transactions); err != nil {
						return err
					}
				}
				if !follow {
					return nil
				}
				if r.Cursor > after {
					after = r.Cursor
				}
				// a full page means more are waiting
				page := limit
				if page <= 0 {
					page = ledgerapi.DefaultLimit
				}
				if len(r.Transactions) == page {
					continue
				}

				log.G(ctx).WithField("cursor", after).Debug("waiting for transactions")
				select {
				case <-tick:
				case <-ctx.Done():
					return nil
				}
			}
		},
	}

	// ApplyCmd submits a transaction described in a YAML file.
	ApplyCmd = &cobra.Command{
		Use:   "apply -f <file>",
		Short: "Commit a transaction described in a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := cmd.Flags().GetString("file")
			if err != nil {
				return err
			}
			if path == "" {
				return errors.New("--file is required")
			}
			p, err := common.PrinterFor(cmd)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			t, err := ParseTransaction(in)
			if err != nil {
				return errors.Wrapf(err, "reading %s", path)
			}

			c, err := common.Dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			committed, err := c.Apply(common.Context(cmd), t)
			if err != nil {
				return err
			}
			return p.Transaction(committed)
		},
	}
)

func init() {
	ListCmd.Flags().Uint64("after", 0, "Only transactions committed after this sequence")
	ListCmd.Flags().Int("limit", 0, "Maximum number of transactions per request, 0 uses the server default")
	ListCmd.Flags().BoolP("follow", "f", false, "Keep polling for new transactions")
	ListCmd.Flags().Duration("interval", time.Second, "Polling interval with --follow")

	ApplyCmd.Flags().StringP("file", "f", "", "Transaction file, - reads stdin")
}
