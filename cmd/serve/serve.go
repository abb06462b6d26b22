// Package serve implements the serve command, running the HTTP API and the
// acquisition pipeline until interrupted.
package serve

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pictora/pictora-go/internal/api"
	"github.com/pictora/pictora-go/internal/conf"
	"github.com/pictora/pictora-go/internal/datastore"
	"github.com/pictora/pictora-go/internal/logging"
	"github.com/pictora/pictora-go/internal/orchestrator"
	"github.com/pictora/pictora-go/internal/pipeline"
	"github.com/pictora/pictora-go/internal/sources"
	"github.com/pictora/pictora-go/internal/tasks"
	"github.com/pictora/pictora-go/internal/vision"
)

const shutdownTimeout = 10 * time.Second

// Command returns the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings)
		},
	}
}

func run(settings *conf.Settings) error {
	if err := settings.Storage.EnsureDirectories(); err != nil {
		return err
	}

	store := datastore.New(settings.Storage.DatabasePath())
	if err := store.Open(); err != nil {
		return err
	}
	defer closeStore(store)

	searchTimeout := time.Duration(settings.Fetch.SearchTimeout) * time.Second
	srcs := sources.All(&settings.Sources, searchTimeout)

	pipe, err := pipeline.New(settings, store, srcs)
	if err != nil {
		return err
	}

	registry := vision.NewRegistry()
	orch := orchestrator.New(settings, store, pipe, registry, tasks.NewTracker())
	server := api.New(settings, store, orch)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-quit:
		logging.Info("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logging.Warn("http server shutdown failed", "error", err)
	}
	registry.UnloadAll()
	pipe.Shutdown()
	return nil
}

func closeStore(store datastore.Interface) {
	if err := store.Close(); err != nil {
		logging.Warn("failed to close datastore", "error", err)
	}
}
