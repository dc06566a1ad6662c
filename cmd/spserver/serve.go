package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/searchktools/spserver/app"
	"github.com/searchktools/spserver/config"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve static files and the diagnostic endpoints",
		Long: `Start the server. Requests that match no registered route are served
from --root through the per-worker file cache.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(cmd.Flags()); err != nil {
				return err
			}
			a, err := app.New(cfg, os.Stderr)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				a.Logger().Info("shutting down")
			}()
			return a.Run(ctx)
		},
	}

	cfg.BindFlags(cmd.Flags())

	return cmd
}
