/*
main.go - Application entry point

PURPOSE:
  Starts the timesheet engine HTTP server or applies database migrations.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve     Open the store, run migrations, start the HTTP server and the
            auto-submit trigger
  migrate   Apply pending migrations and exit

FLAGS:
  --config  Path to a YAML config file (default: ./config.yaml or
            ./config/config.yaml when present)

ENVIRONMENT:
  Every config key can be overridden with a TIMESHEET_ variable, e.g.
  TIMESHEET_SERVER_PORT=3000 or TIMESHEET_DB_PATH=:memory:

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the auto-submit trigger
  2. Stop accepting new connections
  3. Wait for active requests to complete (server.shutdown_timeout)
  4. Close database connection

SEE ALSO:
  - api/server.go: Router configuration
  - internal/config/config.go: Configuration keys
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/timesheet-engine/api"
	"github.com/warp/timesheet-engine/internal/config"
	"github.com/warp/timesheet-engine/internal/logger"
	"github.com/warp/timesheet-engine/store/sqlite"
	"github.com/warp/timesheet-engine/store/sqlite/migrations"
	"github.com/warp/timesheet-engine/timesheet"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "timesheetd",
	Short: "Weekly timesheet engine",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()
		return serve(cmd.Context(), cfg, log)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		db, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := migrations.MigrateUp(db); err != nil {
			return err
		}
		version, dirty, err := migrations.Version(db)
		if err != nil {
			return err
		}
		log.Info("database migrated",
			zap.String("path", cfg.Database.Path),
			zap.Uint("version", version),
			zap.Bool("dirty", dirty))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing logger: %w", err)
	}
	return cfg, log, nil
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	svc := timesheet.NewService(store, timesheet.Dependencies{
		Settings: store,
		Catalog:  store,
		Users:    store,
		History:  store,
	}, timesheet.WithLogger(log.Named("timesheet")))

	handler := api.NewHandler(svc, log.Named("http"))
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.Server.CORS.AllowOrigins})

	autoSubmit := api.NewAutoSubmitter(store, svc, log.Named("autosubmit"))
	autoSubmit.Enabled = cfg.AutoSubmit.Enabled
	autoSubmit.CheckInterval = cfg.AutoSubmit.Interval
	autoSubmit.Start()
	defer autoSubmit.Stop()

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", server.Addr), zap.String("db", cfg.Database.Path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	autoSubmit.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
