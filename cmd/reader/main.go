package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"rss_reader/internal/api"
	"rss_reader/internal/bgtask"
	"rss_reader/internal/bot"
	"rss_reader/internal/config"
	"rss_reader/internal/explore"
	"rss_reader/internal/feeds"
	"rss_reader/internal/fetcher"
	"rss_reader/internal/metrics"
	"rss_reader/internal/notify"
	"rss_reader/internal/refresh"
	"rss_reader/internal/storage"
)

const (
	fetchTimeout    = 20 * time.Second
	shutdownTimeout = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("reader stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	catalog, err := explore.Load()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The bot delivers notifications, so it exists before the center.
	var (
		b         *bot.Bot
		deliverer notify.Deliverer
	)
	if cfg.TelegramEnabled() {
		b, err = bot.New(cfg, log)
		if err != nil {
			return err
		}
		deliverer = b
	} else {
		log.Warn("telegram is not configured, notifications are disabled")
	}

	center := notify.NewCenter(deliverer, log)
	defer center.Close()

	// Feeds may already have notifications enabled from a previous run.
	if _, err := center.RequestAuthorization(ctx); err != nil {
		log.Warn("request notification authorization", "error", err)
	}

	sched := bgtask.New(cfg.RefreshBudget, log)
	defer sched.Close()

	f := fetcher.New(fetcher.NewSafeClient(fetchTimeout))

	refresher := refresh.New(sched, store, f, center, log)
	refresher.SetInterval(cfg.RefreshInterval)
	refresher.SetRecorder(collector)
	defer refresher.Close()

	if err := refresher.Configure(ctx); err != nil {
		return err
	}
	if err := refresher.ScheduleAppRefresh(ctx); err != nil {
		log.Warn("schedule refresh", "error", err)
	}

	feedSvc := feeds.New(store, f, center, refresher, log)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(&api.Deps{
			Feeds:     feedSvc,
			Catalog:   catalog,
			Refresher: refresher,
			Metrics:   metrics.Handler(reg),
			Log:       log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	log.Info("starting reader", "refresh_interval", cfg.RefreshInterval)

	if b != nil {
		b.SetServices(feedSvc, catalog, refresher)
		go b.Run(ctx)
	}

	select {
	case <-ctx.Done():
	case err = <-errc:
		log.Error("http server", "error", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Error("shutdown http server", "error", serr)
	}

	log.Info("reader stopped")
	return err
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
