package state

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ledgerkit/ledgerkit/api"
	"github.com/ledgerkit/ledgerkit/cmd/ledgerctl/common"
	"github.com/ledgerkit/ledgerkit/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

// WatchCmd prints a snapshot followed by every later matching event.
var WatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the states matching a filter, then follow their changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		f, err := common.ParseFilter(flags)
		if err != nil {
			return err
		}
		resubscribe, err := flags.GetBool("resubscribe")
		if err != nil {
			return err
		}
		interval, err := flags.GetDuration("resubscribe-interval")
		if err != nil {
			return err
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

		sub, err := c.SnapshotAndSubscribe(ctx, f)
		if err != nil {
			return err
		}
		if err := p.States(sub.Snapshot.States, sub.Snapshot.Cursor); err != nil {
			sub.Close()
			return err
		}

		w := &watcher{print: p.Event}
		if resubscribe {
			w.limiter = rate.NewLimiter(rate.Every(interval), 1)
			w.subscribe = func(ctx context.Context, cursor uint64) (feed, error) {
				next, err := c.Subscribe(ctx, f, cursor)
				if err != nil {
					return nil, err
				}
				return next, nil
			}
		}
		return w.follow(ctx, sub)
	},
}

// feed is the part of a client feed the watcher reads.
type feed interface {
	Next() (*api.Event, error)
	Cursor() uint64
	Close()
}

type watcher struct {
	print func(*api.Event) error

	// subscribe reopens the subscription after an overflow, throttled by
	// limiter. Overflows end the watch when it is nil.
	subscribe func(ctx context.Context, cursor uint64) (feed, error)
	limiter   *rate.Limiter
}

// follow prints events from f until ctx ends or the subscription fails.
func (w *watcher) follow(ctx context.Context, f feed) error {
	for {
		e, err := f.Next()
		if err == nil {
			if err := w.print(e); err != nil {
				f.Close()
				return err
			}
			continue
		}
		f.Close()

		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, api.ErrCancelled):
			log.G(ctx).Info("subscription cancelled")
			return nil
		case !api.IsOverflow(err) || w.subscribe == nil:
			return err
		}

		cursor := f.Cursor()
		log.G(ctx).WithError(err).WithField("cursor", cursor).Warn("subscription overflowed, resubscribing")
		if err := w.limiter.Wait(ctx); err != nil {
			return nil
		}
		next, err := w.subscribe(ctx, cursor)
		if err != nil {
			return err
		}
		f = next
	}
}
