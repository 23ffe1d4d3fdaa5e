package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"peopleapi/internal/config"
	"peopleapi/internal/logging"
)

// app bundles what every subcommand needs.
type app struct {
	cfg *config.AppConfig
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "peopleapi",
		Short:         "People API - user records with avatar uploads",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.cfg = config.Load()
			if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
				a.cfg.LogLevel = lvl
			}
			a.log = logging.New(a.cfg.LogLevel, logging.Location(a.cfg.Timezone))
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd)
		},
	}
	root.PersistentFlags().String("log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the websocket notifier",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.serve(cmd)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create the database schema if it is missing",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.migrate(cmd)
			},
		},
	)
	return root
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

func fail(log *zap.Logger, event string, err error) error {
	log.Error(event, zap.String("status", "error"), zap.Error(err))
	return fmt.Errorf("%s: %w", event, err)
}
