// Package serve implements the serve subcommand, the long-running HTTP
// service handling annotation export and import.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/labelous/labelsync/internal/api"
	"github.com/labelous/labelsync/internal/conf"
	"github.com/labelous/labelsync/internal/datastore"
	"github.com/labelous/labelsync/internal/logging"
)

// shutdownTimeout bounds how long in-flight requests may run after a
// termination signal.
const shutdownTimeout = 10 * time.Second

// Command returns the serve subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the annotation synchronization server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(settings)
		},
	}
}

func runServe(settings *conf.Settings) error {
	log := logging.ForService("serve")

	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no database output enabled in configuration")
	}
	if err := store.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("closing datastore", "error", err)
		}
	}()

	server, err := api.New(settings, store)
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}
