package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sourcegraph/conc"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"stockwatch/internal/alphavantage"
	"stockwatch/internal/config"
	"stockwatch/internal/coordinator"
	"stockwatch/internal/fetcher"
	"stockwatch/internal/logging"
	"stockwatch/internal/metrics"
	"stockwatch/internal/poller"
	"stockwatch/internal/queue"
	"stockwatch/internal/ratelimit"
	"stockwatch/internal/scraper"
	"stockwatch/internal/store"
	"stockwatch/internal/summary"
	"stockwatch/internal/watcher"
	"stockwatch/internal/writer"
)

func main() {
	flags := config.NewFlagSet(os.Args[0])
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("Failed to parse flags: %v", err)
	}

	// Load configuration
	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, closer, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	slog.SetDefault(logger)

	// Cancelled on SIGINT/SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err = run(ctx, cfg, afero.NewOsFs(), logger)
	stop()
	if err != nil {
		logger.Error("stockwatch exited with error", "error", err)
	}
	closer.Close()
	if err != nil {
		os.Exit(1)
	}
}

// run starts every component, blocks until ctx is cancelled and then shuts
// down in dependency order: watcher, pollers, writer drain, store, metrics.
func run(ctx context.Context, cfg *config.Config, fs afero.Fs, logger *slog.Logger) error {
	logger.Info("starting stockwatch",
		"watchlist", cfg.Watchlist,
		"output_format", cfg.Output.Format,
		"interval", cfg.Poll.Interval)

	collector := metrics.NewCollector()

	var wg conc.WaitGroup
	defer wg.Wait()

	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	if cfg.Metrics.Addr != "" {
		wg.Go(func() {
			if err := collector.Serve(metricsCtx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error("metrics listener failed", "error", err)
			}
		})
	}

	st, err := store.Open(ctx, store.Options{
		Format:        store.Format(cfg.Output.Format),
		Path:          cfg.Output.Path,
		Fs:            fs,
		RedisAddr:     cfg.Output.RedisAddr,
		RedisPassword: cfg.Output.RedisPassword,
		RedisDB:       cfg.Output.RedisDB,
		RedisKey:      cfg.Output.RedisKey,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open output store: %w", err)
	}

	clientOpts := fetcher.ClientOptions{
		Timeout:    cfg.Fetch.Timeout,
		UserAgent:  cfg.Fetch.UserAgent,
		RetryCount: cfg.Fetch.RetryCount,
	}
	limiter := ratelimit.New(cfg.Fetch.RatePerHost, cfg.Fetch.RateBurst)

	pages, err := scraper.NewFactory(cfg.Fetch.Selector, clientOpts, limiter)
	if err != nil {
		st.Close()
		return fmt.Errorf("failed to create page scraper: %w", err)
	}
	// ticker pages by default, the quote API for "alphavantage:" locators
	factory := fetcher.NewRouter(pages).
		Handle(alphavantage.Scheme, alphavantage.NewFactory(cfg.Fetch.AlphavantageAPIKey, cfg.Fetch.AlphavantageBaseURL, clientOpts, limiter))

	updates := queue.New[fetcher.Update]()
	w := writer.New(updates, st, collector, logger)
	w.Start(ctx)

	loader := config.NewWatchlistLoader(fs, cfg.Watchlist)
	coord := coordinator.New(factory, updates, loader, coordinator.Options{
		Poller: poller.Config{
			Interval:     cfg.Poll.Interval,
			FetchTimeout: cfg.Poll.FetchTimeout,
		},
		StopTimeout: cfg.Poll.StopTimeout,
		Reporter:    summary.New(logger, updates.Stats),
		Metrics:     collector,
		Logger:      logger,
	})

	// A watchlist that fails to load at startup is retried on the next change.
	if err := coord.Reload(ctx); err != nil {
		logger.Warn("no pollers running until the watchlist loads", "error", err)
	}

	var wt *watcher.Watcher
	if cfg.Watch.Enabled {
		wt, err = watcher.New(loader.Path(), cfg.Watch.Debounce, func() {
			coord.Reload(ctx)
		}, logger)
		if err != nil {
			logger.Error("watchlist changes will not be picked up", "error", err)
		} else {
			wg.Go(func() { wt.Run(ctx) })
		}
	}

	<-ctx.Done()
	logger.Info("received shutdown signal, stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if wt != nil {
		if err := wt.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close watcher: %w", err))
		}
	}
	if err := coord.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := w.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := st.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close output store: %w", err))
	}
	stopMetrics()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
