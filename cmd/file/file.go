// Package file implements the single-file analysis command.
package file

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/watchme/sed-go/internal/analysis"
	"github.com/watchme/sed-go/internal/conf"
)

// Command creates the file command for analyzing a single recording.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		topN           int
		segmentSeconds float64
	)

	cmd := &cobra.Command{
		Use:   "file [input.wav]",
		Short: "Analyze a single audio file",
		Long:  "Analyze one WAV recording for sound events and print the shaped results as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings.Input.Path = args[0]

			runner, cleanup, err := analysis.BuildRunner(cmd.Context(), settings, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := runner.AnalyzeFile(cmd.Context(), settings.Input.Path, analysis.Options{
				Threshold:      &settings.Detection.Threshold,
				SegmentSeconds: segmentSeconds,
				TopN:           topN,
			})
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().IntVarP(&topN, "top", "n", 0, "Number of ranked whole-file events to report")
	cmd.Flags().Float64Var(&segmentSeconds, "segment", 0, "Summary window length in seconds")
	cmd.Flags().StringVarP(&settings.Output.File.Path, "output", "o", settings.Output.File.Path, "Directory for result artifacts")

	return cmd
}
