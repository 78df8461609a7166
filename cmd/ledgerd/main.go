package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ledgerkit/ledgerkit/log"
	"github.com/ledgerkit/ledgerkit/manager"
	"github.com/ledgerkit/ledgerkit/version"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func main() {
	if err := mainCmd.Execute(); err != nil {
		log.L.Fatal(err)
	}
}

var (
	mainCmd = &cobra.Command{
		Use:          os.Args[0],
		Short:        "Run a ledger state query daemon",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logrus.SetOutput(os.Stderr)
			flag, err := cmd.Flags().GetString("log-level")
			if err != nil {
				log.L.Fatal(err)
			}
			level, err := logrus.ParseLevel(flag)
			if err != nil {
				log.L.Fatal(err)
			}
			logrus.SetLevel(level)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := manager.LoadConfig()
			if err != nil {
				return err
			}
			if err := applyFlags(cmd.Flags(), config); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			m, err := manager.New(config)
			if err != nil {
				return errors.Wrap(err, "failed to create manager")
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				log.G(ctx).WithField("signal", sig).Info("shutting down")
				m.Stop()
			}()

			return m.Run(ctx)
		},
	}
)

// applyFlags overrides the environment configuration with the flags that
// were set explicitly on the command line.
func applyFlags(flags *pflag.FlagSet, config *manager.Config) error {
	var err error
	if flags.Changed("listen-addr") {
		if config.ListenAddr, err = flags.GetString("listen-addr"); err != nil {
			return err
		}
	}
	if flags.Changed("metrics-addr") {
		if config.MetricsAddr, err = flags.GetString("metrics-addr"); err != nil {
			return err
		}
	}
	if flags.Changed("state-dir") {
		if config.StateDir, err = flags.GetString("state-dir"); err != nil {
			return err
		}
	}
	if flags.Changed("queue-size") {
		if config.QueueSize, err = flags.GetInt("queue-size"); err != nil {
			return err
		}
		if config.QueueSize <= 0 {
			return errors.New("--queue-size must be positive")
		}
	}
	if flags.Changed("delivery-timeout") {
		if config.DeliveryTimeout, err = flags.GetDuration("delivery-timeout"); err != nil {
			return err
		}
	}
	return nil
}

func addFlags(flags *pflag.FlagSet) {
	flags.String("listen-addr", "127.0.0.1:4243", "Listen address, host:port or unix:///path (env "+manager.EnvPrefix+"LISTEN_ADDR)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (env "+manager.EnvPrefix+"METRICS_ADDR)")
	flags.StringP("state-dir", "d", "", "Directory holding the transaction journal, empty keeps state in memory (env "+manager.EnvPrefix+"STATE_DIR)")
	flags.Int("queue-size", 64, "Events buffered per subscription before it overflows (env "+manager.EnvPrefix+"QUEUE_SIZE)")
	flags.Duration("delivery-timeout", 10*time.Second, "How long a subscriber may stall before it overflows (env "+manager.EnvPrefix+"DELIVERY_TIMEOUT)")
}

func init() {
	mainCmd.PersistentFlags().StringP("log-level", "l", "info", "Log level (options \"debug\", \"info\", \"warn\", \"error\", \"fatal\", \"panic\")")
	addFlags(mainCmd.Flags())

	mainCmd.AddCommand(
		version.Cmd,
	)
}
