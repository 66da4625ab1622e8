package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/trendyol-metrics-scraper/internal/browser"
	"github.com/maltedev/trendyol-metrics-scraper/internal/browser/browsertest"
	"github.com/maltedev/trendyol-metrics-scraper/internal/database"
	"github.com/maltedev/trendyol-metrics-scraper/internal/scraper"
)

const pricedPage = `<html><head><title>Ürün - Trendyol</title></head><body>
<h1 class="product-title"><span>Ürün</span></h1>
<span class="product-price">249,90 TL</span>
</body></html>`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type scrapeFunc func(ctx context.Context, t scraper.Target) scraper.Outcome

func (f scrapeFunc) Scrape(ctx context.Context, t scraper.Target) scraper.Outcome {
	out := f(ctx, t)
	out.URL = t.URL
	return out
}

func success() scraper.Outcome {
	return scraper.Outcome{Kind: scraper.KindSuccess, ProductID: 1}
}

func failed(reason scraper.Reason, err error) scraper.Outcome {
	return scraper.Outcome{Kind: scraper.KindFailure, Reason: reason, Err: err}
}

func productURLs(n int) []scraper.Target {
	targets := make([]scraper.Target, n)
	for i := range targets {
		targets[i] = scraper.Target{URL: fmt.Sprintf("https://www.trendyol.com/marka/urun-p-%d", i+1)}
	}
	return targets
}

type countingLimiter struct {
	waits, successes, errs atomic.Int32
}

func (l *countingLimiter) Wait(context.Context) error {
	l.waits.Add(1)
	return nil
}

func (l *countingLimiter) RecordSuccess() { l.successes.Add(1) }
func (l *countingLimiter) RecordError()   { l.errs.Add(1) }

func TestRunner_IsolatesFailures(t *testing.T) {
	ctx := context.Background()
	store, err := database.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer store.Close()

	targets := productURLs(50)
	driver := browsertest.NewDriver().
		SetDefault(browsertest.Response{Title: "Ürün - Trendyol", HTML: pricedPage}).
		Set(targets[9].URL, browsertest.Response{Err: fmt.Errorf("%w: net::ERR_TIMED_OUT", browser.ErrNavigation)}).
		Set(targets[29].URL, browsertest.Response{Title: "Ürün bulunamadı", HTML: "<html><body><p>Satışta değil</p></body></html>"})

	worker := scraper.NewWorker(driver, nil, nil, store, nil, scraper.DefaultOptions(), discardLogger())
	limiter := &countingLimiter{}
	r := New(worker, limiter, Options{Concurrency: 1}, discardLogger())

	summary, err := r.Run(ctx, targets)
	require.NoError(t, err)

	assert.Equal(t, 50, summary.Total)
	assert.Equal(t, 48, summary.Persisted())
	assert.Equal(t, 2, summary.Failed())
	assert.Equal(t, 1, summary.Failures[scraper.ReasonNavigationError])
	assert.Equal(t, 1, summary.Failures[scraper.ReasonNoPriceFound])
	assert.False(t, summary.Aborted)
	require.Len(t, summary.Results, 50)
	assert.Equal(t, targets[9].URL, summary.Results[9].URL)
	assert.Equal(t, scraper.ReasonNavigationError, summary.Results[9].Reason)

	products, err := store.StaleProducts(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, products, 48)

	assert.Equal(t, int32(50), limiter.waits.Load())
	assert.Equal(t, int32(48), limiter.successes.Load())
	assert.Equal(t, int32(1), limiter.errs.Load())

	opened, closed, _ := driver.Stats()
	assert.Equal(t, 50, opened)
	assert.Equal(t, opened, closed)
}

func TestRunner_AbortsWhenStoreUnavailable(t *testing.T) {
	unavailable := fmt.Errorf("%w: %w", scraper.ErrPersistence,
		fmt.Errorf("failed to upsert product: %w: %w", database.ErrUnavailable, errors.New("connection refused")))

	var calls int
	s := scrapeFunc(func(ctx context.Context, target scraper.Target) scraper.Outcome {
		calls++
		if calls == 3 {
			return failed(scraper.ReasonPersistenceError, unavailable)
		}
		return success()
	})

	r := New(s, nil, Options{}, discardLogger())
	summary, err := r.Run(context.Background(), productURLs(10))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, database.ErrUnavailable)
	assert.True(t, summary.Aborted)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, summary.Success)
	assert.Equal(t, 1, summary.Failures[scraper.ReasonPersistenceError])
	assert.Equal(t, 7, summary.Skipped)
}

func TestRunner_StatementErrorsDoNotAbort(t *testing.T) {
	s := scrapeFunc(func(ctx context.Context, target scraper.Target) scraper.Outcome {
		return failed(scraper.ReasonPersistenceError, fmt.Errorf("%w: unique violation", scraper.ErrPersistence))
	})

	r := New(s, nil, Options{}, discardLogger())
	summary, err := r.Run(context.Background(), productURLs(4))

	require.NoError(t, err)
	assert.False(t, summary.Aborted)
	assert.Equal(t, 4, summary.Failures[scraper.ReasonPersistenceError])
}

func TestRunner_PoolRespectsLimit(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	s := scrapeFunc(func(ctx context.Context, target scraper.Target) scraper.Outcome {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return success()
	})

	targets := productURLs(20)
	r := New(s, nil, Options{Concurrency: 3}, discardLogger())
	summary, err := r.Run(context.Background(), targets)

	require.NoError(t, err)
	assert.Equal(t, 20, summary.Success)
	assert.LessOrEqual(t, peak, 3)
	require.Len(t, summary.Results, 20)
	for i, res := range summary.Results {
		assert.Equal(t, targets[i].URL, res.URL)
	}
}

func TestRunner_PoolAbortSkipsRemaining(t *testing.T) {
	unavailable := fmt.Errorf("%w: %w", scraper.ErrPersistence, database.ErrUnavailable)

	s := scrapeFunc(func(ctx context.Context, target scraper.Target) scraper.Outcome {
		if target.URL == "https://www.trendyol.com/marka/urun-p-1" {
			return failed(scraper.ReasonPersistenceError, unavailable)
		}
		select {
		case <-ctx.Done():
			return failed(scraper.ReasonCancelled, ctx.Err())
		case <-time.After(50 * time.Millisecond):
			return success()
		}
	})

	r := New(s, nil, Options{Concurrency: 2}, discardLogger())
	summary, err := r.Run(context.Background(), productURLs(30))

	assert.ErrorIs(t, err, ErrAborted)
	assert.True(t, summary.Aborted)
	assert.Positive(t, summary.Skipped)
	assert.Equal(t, 30, len(summary.Results)+summary.Skipped)
}

func TestRunner_DeadlineCancelsRemaining(t *testing.T) {
	s := scrapeFunc(func(ctx context.Context, target scraper.Target) scraper.Outcome {
		<-ctx.Done()
		return failed(scraper.ReasonCancelled, ctx.Err())
	})

	r := New(s, nil, Options{Deadline: 20 * time.Millisecond}, discardLogger())
	summary, err := r.Run(context.Background(), productURLs(3))

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Failures[scraper.ReasonCancelled])
	assert.Zero(t, summary.Skipped)
}
