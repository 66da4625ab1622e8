// Package schedule queues stale-product runs on a cron expression.
package schedule

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/maltedev/trendyol-metrics-scraper/internal/runner"
	"github.com/maltedev/trendyol-metrics-scraper/internal/scraper"
)

type Submitter interface {
	Submit(ctx context.Context, source string, targets []scraper.Target) (string, error)
}

// SubmitFunc adapts a function to Submitter.
type SubmitFunc func(ctx context.Context, source string, targets []scraper.Target) (string, error)

func (f SubmitFunc) Submit(ctx context.Context, source string, targets []scraper.Target) (string, error) {
	return f(ctx, source, targets)
}

type Scheduler struct {
	spec      string
	schedule  cron.Schedule
	batchSize int
	source    runner.StaleSource
	submitter Submitter
	cron      *cron.Cron
	logger    *slog.Logger
}

// New parses spec as a standard five-field cron expression or descriptor
// such as @hourly.
func New(spec string, batchSize int, source runner.StaleSource, submitter Submitter, logger *slog.Logger) (*Scheduler, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return &Scheduler{
		spec:      spec,
		schedule:  sched,
		batchSize: batchSize,
		source:    source,
		submitter: submitter,
		cron:      cron.New(),
		logger:    logger.With("component", "scheduler"),
	}, nil
}

// Start registers the job and returns immediately. The cron stops when ctx
// is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Schedule(s.schedule, cron.FuncJob(func() { s.Tick(ctx) }))
	s.cron.Start()
	s.logger.Info("scheduler started", "cron", s.spec, "batch_size", s.batchSize)

	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
		s.logger.Info("scheduler stopped")
	}()
}

// Tick submits one batch of the stalest products.
func (s *Scheduler) Tick(ctx context.Context) {
	targets, err := runner.StaleTargets(ctx, s.source, s.batchSize)
	if err != nil {
		s.logger.Error("scheduled run skipped", "error", err)
		return
	}
	if len(targets) == 0 {
		s.logger.Debug("no products to refresh")
		return
	}

	id, err := s.submitter.Submit(ctx, "schedule", targets)
	if err != nil {
		s.logger.Error("failed to submit scheduled run", "error", err)
		return
	}
	s.logger.Info("scheduled run submitted", "run_id", id, "targets", len(targets))
}
