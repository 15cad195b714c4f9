package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryan-buckman/skyvault/internal/config"
	"github.com/bryan-buckman/skyvault/internal/database"
	"github.com/bryan-buckman/skyvault/internal/filter"
	"github.com/bryan-buckman/skyvault/internal/i18n"
	"github.com/bryan-buckman/skyvault/internal/logging"
	"github.com/bryan-buckman/skyvault/internal/rss"
	"github.com/bryan-buckman/skyvault/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "skyvault: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.Caller = cfg.Logging.Caller
	logging.Init(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := database.OpenAll(ctx, database.Options{
		DataDir: cfg.DataDir,
		Downloads: database.DownloadOptions{
			Root:            cfg.Downloads.Root,
			SeparateFolders: cfg.Downloads.SeparateFolders,
		},
		PlaybackEnabled:       cfg.Playback.Enabled,
		SearchHistoryDisabled: cfg.SearchHistory.Disabled,
		Translator:            i18n.New(cfg.Language),
	})
	if err != nil {
		return fmt.Errorf("open databases: %w", err)
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logging.Error().Err(err).Msg("closing databases")
		}
	}()

	blocker := filter.New(stores.Filtering, stores.Subscriptions, filter.Mode(cfg.Filtering.Mode), cfg.Filtering.MinViews)
	fetcher := rss.NewFetcher(stores.Subscriptions, cfg.Feed.URLTemplate, cfg.Feed.Concurrency)

	opts := server.Options{
		CORSOrigins:      cfg.Server.CORSOrigins,
		RefreshPerMinute: cfg.Server.RefreshPerMinute,
	}
	if cfg.Feed.PollInterval > 0 {
		opts.Poller = rss.NewPoller(fetcher, stores.Subscriptions, cfg.Feed.PollInterval, cfg.Feed.Timeout)
	}

	srv := server.New(stores, blocker, fetcher, opts)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
