package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/allyourbase/seedcache/internal/app"
	"github.com/allyourbase/seedcache/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP hook server",
	Long: `Start an HTTP server that test runners call at lifecycle boundaries:

  POST /hooks/exercise/before          resolve and fingerprint fixtures
  POST /hooks/{feature|scenario}/before reload fixtures
  POST /hooks/{feature|scenario}/after  flush
  GET  /status, /references/{name}, /health, /metrics

With no database URL and database.embedded = true, an embedded PostgreSQL
instance is started and stopped with the server.`,
	RunE: runServe,
}

func init() {
	addDatabaseFlags(serveCmd)
	serveCmd.Flags().Int("port", 0, "Hook server port (default 8765)")
	serveCmd.Flags().String("host", "", "Hook server host (default 127.0.0.1)")
	serveCmd.Flags().String("lifetime", "", "Fixture lifetime: feature or scenario (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfigAndLogger(cmd)
	if err != nil {
		return err
	}

	logger.Info("starting seedcache",
		"version", buildVersion,
		"address", cfg.Address(),
		"engine", cfg.Database.Engine,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("error closing", "error", err)
		}
	}()

	srv, err := server.New(cfg, a.Fixtures, a.Metrics, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("interrupted, shutting down")
		if err := srv.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		return nil
	}
}
