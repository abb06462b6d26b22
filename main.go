package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pictora/pictora-go/cmd"
	"github.com/pictora/pictora-go/internal/conf"
	"github.com/pictora/pictora-go/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	if settings.Debug {
		logging.SetLevel(slog.LevelDebug)
	}

	rootCmd := cmd.RootCommand(settings)
	return rootCmd.Execute()
}
