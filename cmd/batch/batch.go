// Package batch implements the day-grid batch analysis command.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/watchme/sed-go/internal/analysis"
	"github.com/watchme/sed-go/internal/conf"
	"github.com/watchme/sed-go/internal/observability"
)

// Command creates the batch command for processing one device's recording
// day from the object store.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		deviceID string
		date     string
		deadline time.Duration
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Process one device's recording day",
		Long: "Fetch every half-hour recording of one device and date from the " +
			"object store, run detection over each, persist the results and " +
			"print the run report as JSON.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := time.Parse("2006-01-02", date); err != nil {
				return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
			}

			ctx := cmd.Context()
			if deadline > 0 {
				var cancel func()
				ctx, cancel = context.WithTimeout(ctx, deadline)
				defer cancel()
			}

			metrics := observability.NewMetrics()
			runner, cleanup, err := analysis.BuildRunner(ctx, settings, metrics)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := runner.RunDay(ctx, deviceID, date, analysis.Options{
				Threshold: &settings.Detection.Threshold,
			})
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&deviceID, "device", "", "Device identifier")
	cmd.Flags().StringVar(&date, "date", "", "Recording date, YYYY-MM-DD")
	cmd.Flags().DurationVar(&deadline, "deadline", 0, "Abort the run after this duration and report partial results")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("date")

	return cmd
}
