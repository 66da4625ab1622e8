package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maltedev/trendyol-metrics-scraper/internal/database"
	"github.com/maltedev/trendyol-metrics-scraper/internal/scraper"
)

// ErrAborted is returned when a run stops early because the store is gone.
var ErrAborted = errors.New("run aborted")

type Scraper interface {
	Scrape(ctx context.Context, target scraper.Target) scraper.Outcome
}

// Limiter spaces out page loads and learns from their outcome.
type Limiter interface {
	Wait(ctx context.Context) error
	RecordSuccess()
	RecordError()
}

type Options struct {
	// Concurrency above 1 scrapes through a bounded pool.
	Concurrency int
	// Deadline bounds the whole run. Zero means no deadline.
	Deadline time.Duration
}

// Result is the per-target line of a run summary.
type Result struct {
	URL       string         `json:"url"`
	Kind      scraper.Kind   `json:"kind"`
	Reason    scraper.Reason `json:"reason,omitempty"`
	ProductID int64          `json:"product_id,omitempty"`
	Method    string         `json:"price_method,omitempty"`
	Error     string         `json:"error,omitempty"`
	Elapsed   time.Duration  `json:"elapsed"`
}

type Summary struct {
	Total      int                    `json:"total"`
	Success    int                    `json:"success"`
	Degraded   int                    `json:"degraded_zero_price"`
	Failures   map[scraper.Reason]int `json:"failures"`
	Skipped    int                    `json:"skipped"`
	Aborted    bool                   `json:"aborted"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Results    []Result               `json:"results"`
}

func (s Summary) Persisted() int { return s.Success + s.Degraded }

func (s Summary) Failed() int {
	n := 0
	for _, c := range s.Failures {
		n += c
	}
	return n
}

func (s *Summary) add(out scraper.Outcome) Result {
	res := Result{
		URL:       out.URL,
		Kind:      out.Kind,
		Reason:    out.Reason,
		ProductID: out.ProductID,
		Elapsed:   out.Elapsed,
	}
	if out.Record != nil {
		res.Method = out.Record.PriceMethod
	}
	if out.Err != nil {
		res.Error = out.Err.Error()
	}

	switch out.Kind {
	case scraper.KindSuccess:
		s.Success++
	case scraper.KindDegradedZeroPrice:
		s.Degraded++
	default:
		s.Failures[out.Reason]++
	}
	return res
}

// Runner feeds targets to a scraper and tallies the outcomes. One failed
// target never stops the run; an unreachable store does.
type Runner struct {
	scraper Scraper
	limiter Limiter
	opts    Options
	logger  *slog.Logger
}

func New(s Scraper, limiter Limiter, opts Options, logger *slog.Logger) *Runner {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Runner{
		scraper: s,
		limiter: limiter,
		opts:    opts,
		logger:  logger.With("component", "runner"),
	}
}

func (r *Runner) Run(ctx context.Context, targets []scraper.Target) (Summary, error) {
	if r.opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Deadline)
		defer cancel()
	}

	summary := Summary{
		Total:     len(targets),
		Failures:  make(map[scraper.Reason]int),
		StartedAt: time.Now().UTC(),
	}

	r.logger.Info("run started", "targets", len(targets), "concurrency", r.opts.Concurrency)

	var err error
	if r.opts.Concurrency == 1 {
		err = r.runSequential(ctx, targets, &summary)
	} else {
		err = r.runPool(ctx, targets, &summary)
	}

	summary.FinishedAt = time.Now().UTC()

	r.logger.Info("run finished",
		"total", summary.Total,
		"success", summary.Success,
		"degraded", summary.Degraded,
		"failed", summary.Failed(),
		"skipped", summary.Skipped,
		"aborted", summary.Aborted,
		"elapsed", summary.FinishedAt.Sub(summary.StartedAt))

	return summary, err
}

func (r *Runner) runSequential(ctx context.Context, targets []scraper.Target, summary *Summary) error {
	for i, target := range targets {
		r.wait(ctx)

		out := r.scraper.Scrape(ctx, target)
		r.learn(out)
		summary.Results = append(summary.Results, summary.add(out))

		if storeUnavailable(out) {
			summary.Aborted = true
			summary.Skipped = len(targets) - i - 1
			r.logger.Error("store unavailable, aborting run", "url", target.URL, "skipped", summary.Skipped, "error", out.Err)
			return fmt.Errorf("%w: %w", ErrAborted, out.Err)
		}
	}
	return nil
}

func (r *Runner) runPool(ctx context.Context, targets []scraper.Target, summary *Summary) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)

	var mu sync.Mutex
	results := make([]*Result, len(targets))

	for i, target := range targets {
		if gctx.Err() != nil && ctx.Err() == nil {
			// the group was cancelled by an abort, not by the caller
			break
		}

		g.Go(func() error {
			r.wait(gctx)

			out := r.scraper.Scrape(gctx, target)
			r.learn(out)

			mu.Lock()
			res := summary.add(out)
			results[i] = &res
			mu.Unlock()

			if storeUnavailable(out) {
				return fmt.Errorf("%w: %w", ErrAborted, out.Err)
			}
			return nil
		})
	}

	err := g.Wait()

	for _, res := range results {
		if res == nil {
			summary.Skipped++
			continue
		}
		summary.Results = append(summary.Results, *res)
	}

	if err != nil {
		summary.Aborted = true
		r.logger.Error("store unavailable, aborting run", "skipped", summary.Skipped, "error", err)
	}
	return err
}

func (r *Runner) wait(ctx context.Context) {
	if r.limiter == nil {
		return
	}
	// A cancelled wait still lets the scrape run so it is counted as
	// cancelled.
	_ = r.limiter.Wait(ctx)
}

func (r *Runner) learn(out scraper.Outcome) {
	if r.limiter == nil {
		return
	}
	switch {
	case out.Persisted():
		r.limiter.RecordSuccess()
	case out.Reason == scraper.ReasonNavigationError:
		r.limiter.RecordError()
	}
}

func storeUnavailable(out scraper.Outcome) bool {
	return out.Reason == scraper.ReasonPersistenceError && errors.Is(out.Err, database.ErrUnavailable)
}
