package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/morbatex/matsecal/feed"
	"github.com/morbatex/matsecal/internal/config"
	"github.com/morbatex/matsecal/notify"
	"github.com/morbatex/matsecal/scheduler"
	"github.com/morbatex/matsecal/scheduler/storage"
	"github.com/morbatex/matsecal/scheduler/storage/memory"
	"github.com/morbatex/matsecal/scheduler/storage/sqlite"
	"github.com/morbatex/matsecal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the calendar HTTP service",
		Long: `Start the HTTP service on the configured listen address.

Example:
  matsecal serve --config ./config.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(rootOpts)
		},
	}
}

func serve(opts *RootOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging, opts.Verbose)
	slog.SetDefault(logger)

	store, closeStore, err := openStore(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var notifier scheduler.Notifier
	if cfg.NATS != nil {
		publisher, err := notify.NewPublisher(cfg.NATS, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
		notifier = publisher
	}

	sched, err := scheduler.New(store, scheduler.Options{
		Horizon:  time.Duration(cfg.Scheduler.HorizonDays) * 24 * time.Hour,
		Logger:   logger,
		Notifier: notifier,
	})
	if err != nil {
		return err
	}

	var feedClient *feed.Client
	if cfg.Feed.Enabled {
		feedClient, err = feed.NewClient(feed.ClientOptions{
			BaseURL:  cfg.Feed.BaseURL,
			CacheTTL: cfg.Feed.CacheTTL,
			Retry:    cfg.Feed.Retry,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
	}

	if cfg.Feed.Import && feedClient != nil {
		importer := feed.NewImporter(feedClient, sched, logger)
		refresher, err := feed.NewRefresher(cfg.Feed.RefreshCron, importer, cfg.Feed.RefreshTimeout, logger)
		if err != nil {
			return fmt.Errorf("invalid feed refresh schedule: %w", err)
		}
		refresher.Start()
		defer refresher.Stop()
	}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: server.New(sched, server.Options{Feed: feedClient, Logger: logger}).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(cfg config.StorageConfig, logger *slog.Logger) (storage.Storage, func(), error) {
	switch cfg.Backend {
	case "sqlite":
		store, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		logger.Info("database ready", "path", cfg.Path)
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Error("error closing database", "error", err)
			}
		}, nil
	case "memory":
		return memory.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newLogger(cfg config.LoggingConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
