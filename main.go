package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/watchme/sed-go/cmd"
	"github.com/watchme/sed-go/internal/conf"
	"github.com/watchme/sed-go/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}
	settings.Version = version

	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}
	logging.Init(level)

	if settings.Main.Log.Enabled {
		fileLogger, closeLog, err := logging.NewFileLogger(settings.Main.Log.Path, settings.Main.Name, level)
		if err != nil {
			logging.Warn("File logging unavailable", "path", settings.Main.Log.Path, "error", err)
		} else {
			slog.SetDefault(fileLogger)
			defer func() {
				if err := closeLog(); err != nil {
					fmt.Fprintf(os.Stderr, "error closing log file: %v\n", err)
				}
			}()
		}
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		logging.Fatal("Command failed", "error", err)
	}
}
