// Command storefront is the buyer-side client for the storefront API. It
// keeps the buyer's choices in a local bolt file between invocations so a
// checkout can be started, verified and retried across separate runs.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"storefront/internal/apiclient"
	"storefront/internal/clientstate"
	"storefront/internal/config"
)

func main() {
	rootCmd, closeApp := newRootCmd()
	err := rootCmd.Execute()
	if closeErr := closeApp(); err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is the per-invocation state shared by subcommands.
type app struct {
	cfg    *config.ClientConfig
	logger *slog.Logger
	api    *apiclient.Client
	store  clientstate.Store
}

// newRootCmd builds the command tree. The returned func releases the state
// file and must be called after Execute, whether or not it failed.
func newRootCmd() (*cobra.Command, func() error) {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "storefront",
		Short:         "Buy a plan from the storefront API",
		Version:       config.NewBuildInfo().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
	}

	rootCmd.AddCommand(plansCmd(a))
	rootCmd.AddCommand(checkoutCmd(a))
	rootCmd.AddCommand(resultCmd(a))
	rootCmd.AddCommand(retryCmd(a))
	rootCmd.AddCommand(resetCmd(a))

	return rootCmd, a.close
}

func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	a.cfg = cfg
	a.logger = newLogger(cfg.LogLevel, cmd.ErrOrStderr())

	store, err := clientstate.OpenBoltStore(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("opening state file: %w", err)
	}
	a.store = store
	a.api = apiclient.New(apiclient.Config{BaseURL: cfg.APIURL, Logger: a.logger})
	return nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}
