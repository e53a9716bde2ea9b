// Package serve implements the HTTP server command.
package serve

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/watchme/sed-go/internal/analysis"
	"github.com/watchme/sed-go/internal/api"
	"github.com/watchme/sed-go/internal/conf"
	"github.com/watchme/sed-go/internal/logging"
	"github.com/watchme/sed-go/internal/observability"
)

// Command creates the serve command running the HTTP API.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the detection HTTP service",
		Long:  "Serve the analysis API: ad-hoc uploads, batch runs, health and metrics.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			metrics := observability.NewMetrics()
			runner, cleanup, err := analysis.BuildRunner(ctx, settings, metrics)
			if err != nil {
				return err
			}
			defer cleanup()

			controller := api.New(settings, runner, metrics)

			errCh := make(chan error, 1)
			go func() {
				if err := controller.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			log := logging.ForService("serve")
			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				log.Info("Shutdown signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return controller.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVarP(&settings.WebServer.Port, "port", "p", settings.WebServer.Port, "Port for the HTTP server")

	return cmd
}
