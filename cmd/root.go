// Package cmd assembles the command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/watchme/sed-go/cmd/batch"
	"github.com/watchme/sed-go/cmd/file"
	"github.com/watchme/sed-go/cmd/serve"
	"github.com/watchme/sed-go/internal/conf"
)

// RootCommand creates and returns the root command with all subcommands.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "sed-go",
		Short:   "Sound event detection for field recordings",
		Version: settings.Version,
	}

	setupFlags(rootCmd, settings)

	rootCmd.AddCommand(
		file.Command(settings),
		batch.Command(settings),
		serve.Command(settings),
	)

	return rootCmd
}

// setupFlags defines the global flags shared by every subcommand.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().Float64VarP(&settings.Detection.Threshold, "threshold", "t", viper.GetFloat64("detection.threshold"), "Minimum probability for a reported event, between 0.0 and 1.0")
	rootCmd.PersistentFlags().IntVar(&settings.Model.Threads, "threads", viper.GetInt("model.threads"), "Interpreter threads, 0 to use all CPUs")
	rootCmd.PersistentFlags().StringVar(&settings.Model.CacheDir, "model-cache", viper.GetString("model.cachedir"), "Directory for the on-disk model cache")
}
