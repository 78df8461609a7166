package common

import (
	"context"

	"github.com/ledgerkit/ledgerkit/api"
	"github.com/ledgerkit/ledgerkit/client"
	"github.com/spf13/cobra"
)

// Exit codes returned by ledgerctl.
const (
	ExitError        = 1
	ExitNotConnected = 2
)

// Dial establishes a connection to the daemon.
// It infers connection parameters from CLI options.
func Dial(cmd *cobra.Command) (*client.Connection, error) {
	flags := cmd.Flags()
	addr, err := flags.GetString("addr")
	if err != nil {
		return nil, err
	}
	user, err := flags.GetString("user")
	if err != nil {
		return nil, err
	}
	password, err := flags.GetString("password")
	if err != nil {
		return nil, err
	}
	timeout, err := flags.GetDuration("timeout")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(Context(cmd), timeout)
	defer cancel()
	return client.Connect(ctx, addr, client.Credentials{User: user, Password: password})
}

// Context returns a request context based on CLI arguments.
func Context(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	if api.IsNotConnected(err) {
		return ExitNotConnected
	}
	return ExitError
}
