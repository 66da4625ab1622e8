package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/maltedev/trendyol-metrics-scraper/internal/api"
	"github.com/maltedev/trendyol-metrics-scraper/internal/database"
	"github.com/maltedev/trendyol-metrics-scraper/internal/metrics"
	"github.com/maltedev/trendyol-metrics-scraper/internal/queue"
	"github.com/maltedev/trendyol-metrics-scraper/internal/schedule"
	"github.com/maltedev/trendyol-metrics-scraper/internal/scraper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the run worker and, if configured, the scheduler and relay.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		be, err := openBackend(ctx, cfg)
		if err != nil {
			return err
		}
		defer be.close()

		m := metrics.New(nil)
		p, err := newPipeline(cfg, be.gateway, m)
		if err != nil {
			return err
		}
		defer p.Close()

		q := queue.NewInMemoryQueue()
		runs := api.NewRunManager(q, p.runner, m, log)

		// Everything that can fail is set up before any goroutine starts.
		var sched *schedule.Scheduler
		if cfg.Schedule.Cron != "" {
			sched, err = schedule.New(cfg.Schedule.Cron, cfg.Scraper.StaleBatchSize, be.reader,
				schedule.SubmitFunc(func(ctx context.Context, source string, targets []scraper.Target) (string, error) {
					run, err := runs.Submit(ctx, source, targets)
					return run.ID, err
				}), log)
			if err != nil {
				return err
			}
		}

		var relay *database.Relay
		var relayStats api.RelayStats
		if cfg.Redis.Enabled {
			if be.pg == nil {
				log.Warn("redis relay needs the postgres store, relay disabled")
			} else {
				client, err := newRedisClient(ctx, cfg)
				if err != nil {
					return err
				}
				defer client.Close()

				relay = newRelay(be.pg, client, m, cfg)
				relayStats = relay
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return runs.Start(gctx) })

		if relay != nil {
			g.Go(func() error {
				if err := relay.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		}
		if sched != nil {
			sched.Start(gctx)
		}

		handlers := api.NewHandlers(runs, be.reader, relayStats, log)
		server := &http.Server{
			Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
			Handler:      api.NewRouter(handlers, m.Handler()),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		}

		g.Go(func() error {
			log.Info("server starting", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			log.Info("shutting down server...")
			q.Close()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})

		err = g.Wait()
		log.Info("server stopped")
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
