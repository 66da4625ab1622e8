package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/trendyol-metrics-scraper/internal/browser"
	"github.com/maltedev/trendyol-metrics-scraper/internal/config"
	"github.com/maltedev/trendyol-metrics-scraper/internal/database"
	"github.com/maltedev/trendyol-metrics-scraper/internal/events"
	"github.com/maltedev/trendyol-metrics-scraper/internal/extract"
	"github.com/maltedev/trendyol-metrics-scraper/internal/metrics"
	"github.com/maltedev/trendyol-metrics-scraper/internal/ratelimit"
	"github.com/maltedev/trendyol-metrics-scraper/internal/runner"
	"github.com/maltedev/trendyol-metrics-scraper/internal/scraper"
)

// backend is the configured store. pg is nil for sqlite.
type backend struct {
	gateway scraper.Gateway
	reader  interface {
		runner.StaleSource
		GetProduct(ctx context.Context, id int64) (*database.Product, error)
		MetricHistory(ctx context.Context, productID int64, limit int) ([]database.DailyMetric, error)
		Ping(ctx context.Context) error
	}
	pg    *database.DB
	close func()
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		store, err := database.OpenSQLite(ctx, cfg.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info("using sqlite store", "path", cfg.Database.SQLitePath)
		return &backend{
			gateway: store,
			reader:  store,
			close: func() {
				if err := store.Close(); err != nil {
					log.Warn("failed to close sqlite store", "error", err)
				}
			},
		}, nil
	default:
		db, err := database.New(ctx, database.Config{
			DSN:      cfg.Database.DSN(),
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		log.Info("using postgres store", "host", cfg.Database.Host, "database", cfg.Database.DBName)
		return &backend{
			gateway: events.NewPublisher(db, log),
			reader:  db,
			pg:      db,
			close:   db.Close,
		}, nil
	}
}

func browserOptions(cfg *config.Config) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Browser.Headless
	opts.UserAgent = cfg.Browser.UserAgent
	opts.ViewportWidth = cfg.Browser.ViewportWidth
	opts.ViewportHeight = cfg.Browser.ViewportHeight
	opts.AcceptLanguage = cfg.Browser.AcceptLanguage
	opts.TimezoneID = cfg.Browser.TimezoneID
	opts.Locale = cfg.Browser.Locale
	opts.ProxyServer = cfg.Browser.ProxyServer
	opts.SettleDelay = cfg.Scraper.SettleDelay
	return opts
}

// pipeline is everything a run needs besides its targets.
type pipeline struct {
	runner  *runner.Runner
	browser *browser.Browser
}

func newPipeline(cfg *config.Config, gateway scraper.Gateway, m *metrics.Metrics) (*pipeline, error) {
	b, err := browser.New(browserOptions(cfg), log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize browser: %w", err)
	}

	worker := scraper.NewWorker(
		b,
		browser.NewStealthInjector(cfg.Browser.Languages, log),
		extract.New(),
		gateway,
		m,
		scraper.Options{
			NavigationTimeout:  cfg.Scraper.NavigationTimeout,
			ExtractionTimeout:  cfg.Scraper.ExtractionTimeout,
			ZeroPriceIsFailure: cfg.Scraper.ZeroPriceIsFailure,
		},
		log,
	)

	limiter := ratelimit.NewAdaptiveRateLimiter(cfg.Scraper.RateLimitMin, cfg.Scraper.RateLimitMax)
	r := runner.New(worker, limiter, runner.Options{
		Concurrency: cfg.Scraper.Concurrency,
		Deadline:    cfg.Scraper.RunDeadline,
	}, log)

	return &pipeline{runner: r, browser: b}, nil
}

func (p *pipeline) Close() {
	if err := p.browser.Close(); err != nil {
		log.Warn("failed to close browser", "error", err)
	}
}

func newRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func newRelay(pg *database.DB, client *redis.Client, m *metrics.Metrics, cfg *config.Config) *database.Relay {
	return database.NewRelay(database.NewOutboxRepository(pg), client, m, log, database.RelayConfig{
		PollInterval: cfg.Redis.PollInterval,
		BatchSize:    cfg.Redis.BatchSize,
		Retention:    cfg.Redis.Retention,
	})
}
