package main

import (
	"fmt"
	"os"

	"screen-recorder/internal/cli"
	"screen-recorder/internal/platform/config"
	"screen-recorder/internal/platform/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = config.Load()

	settings, err := config.LoadSettings(config.GetEnv("RECORDER_CONFIG", ""))
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	log := logger.NewWithOptions(logger.Options{
		Level:  settings.LogLevel,
		Format: settings.LogFormat,
		File:   settings.LogFile,
	})

	deps := &cli.Dependencies{
		Settings: settings,
		Log:      log,
	}
	return cli.NewRootCmd(deps).Execute()
}
