package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/trendyol-metrics-scraper/internal/browser"
	"github.com/maltedev/trendyol-metrics-scraper/internal/browser/browsertest"
	"github.com/maltedev/trendyol-metrics-scraper/internal/database"
)

const pricedPage = `<html><head><title>Mom Jean - Trendyol</title></head><body>
<h1 class="product-title"><a class="product-brand-name-with-link">Mavi</a> <span>Mom Jean</span></h1>
<div class="price-container"><span class="original">899,99 TL</span><span class="discounted">649,99 TL</span></div>
</body></html>`

const zeroPricePage = `<html><head><title>Tişört - Trendyol</title></head><body>
<h1 class="product-title"><span>Basic Tişört</span></h1>
<span class="product-price">0,00 TL</span>
</body></html>`

const noPricePage = `<html><head><title>Ürün bulunamadı</title></head><body><p>Bu ürün satışta değil.</p></body></html>`

type failingGateway struct {
	upsertErr error
	appendErr error
}

func (g *failingGateway) UpsertProduct(context.Context, database.ProductFields) (int64, error) {
	if g.upsertErr != nil {
		return 0, g.upsertErr
	}
	return 7, nil
}

func (g *failingGateway) AppendMetric(context.Context, int64, database.MetricFields, time.Time) (int64, error) {
	if g.appendErr != nil {
		return 0, g.appendErr
	}
	return 1, nil
}

type recordingObserver struct {
	mu          sync.Mutex
	diagnostics []Diagnostic
}

func (o *recordingObserver) ObserveScrape(d Diagnostic, _ Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.diagnostics = append(o.diagnostics, d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T) *database.SQLiteStore {
	t.Helper()
	store, err := database.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestWorker(driver browser.Driver, gateway Gateway, observer Observer, opts Options) *Worker {
	logger := discardLogger()
	return NewWorker(driver, browser.NewStealthInjector(nil, logger), nil, gateway, observer, opts, logger)
}

func TestWorker_Success(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	observer := &recordingObserver{}

	url := "https://www.trendyol.com/mavi/mom-jean-p-1"
	driver := browsertest.NewDriver().Set(url, browsertest.Response{Title: "Mom Jean - Trendyol", HTML: pricedPage})
	w := newTestWorker(driver, store, observer, DefaultOptions())

	out := w.Scrape(ctx, Target{URL: url})

	require.Equal(t, KindSuccess, out.Kind, "error: %v", out.Err)
	assert.Equal(t, StatePersisted, out.Stage)
	assert.NotZero(t, out.ProductID)
	assert.NotZero(t, out.MetricID)
	require.NotNil(t, out.Record)
	assert.Equal(t, 649.99, *out.Record.DiscountedPrice)
	assert.Equal(t, "dom:standard_discount", out.Record.PriceMethod)

	history, err := store.MetricHistory(ctx, out.ProductID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, database.PriceStateOK, history[0].PriceState)
	assert.Equal(t, 899.99, *history[0].ListPrice)

	opened, closed, scripts := driver.Stats()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)
	assert.Equal(t, len(browser.DefaultPatches(nil)), scripts)

	require.Len(t, observer.diagnostics, 1)
	assert.Equal(t, StatePersisted, observer.diagnostics[0].State)
	assert.Equal(t, "dom:standard_discount", observer.diagnostics[0].PriceMethod)
}

func TestWorker_NavigationTimeoutPersistsNothing(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	url := "https://www.trendyol.com/slow-p-2"
	driver := browsertest.NewDriver().Set(url, browsertest.Response{Hang: true})
	opts := DefaultOptions()
	opts.NavigationTimeout = 20 * time.Millisecond
	w := newTestWorker(driver, store, nil, opts)

	out := w.Scrape(ctx, Target{URL: url})

	assert.Equal(t, KindFailure, out.Kind)
	assert.Equal(t, ReasonNavigationError, out.Reason)
	assert.Equal(t, StateNotStarted, out.Stage)
	assert.ErrorIs(t, out.Err, ErrNavigation)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)

	stale, err := store.StaleProducts(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	_, closed, _ := driver.Stats()
	assert.Equal(t, 1, closed)
}

func TestWorker_NavigationErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"blocked", fmt.Errorf("%w: %q", browser.ErrBlocked, "Just a moment...")},
		{"bad status", fmt.Errorf("%w: %d", browser.ErrBadStatus, 503)},
		{"network", fmt.Errorf("%w: net::ERR_CONNECTION_RESET", browser.ErrNavigation)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "https://www.trendyol.com/x-p-3"
			driver := browsertest.NewDriver().Set(url, browsertest.Response{Err: tt.err})
			w := newTestWorker(driver, &failingGateway{}, nil, DefaultOptions())

			out := w.Scrape(context.Background(), Target{URL: url})

			assert.Equal(t, ReasonNavigationError, out.Reason)
			assert.ErrorIs(t, out.Err, ErrNavigation)
			assert.ErrorIs(t, out.Err, tt.err)
		})
	}
}

func TestWorker_ZeroPriceIsDegradedAndPersisted(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	url := "https://www.trendyol.com/basic-tisort-p-4"
	driver := browsertest.NewDriver().Set(url, browsertest.Response{Title: "Tişört - Trendyol", HTML: zeroPricePage})
	w := newTestWorker(driver, store, nil, DefaultOptions())

	out := w.Scrape(ctx, Target{URL: url})

	require.Equal(t, KindDegradedZeroPrice, out.Kind, "error: %v", out.Err)
	assert.True(t, out.Persisted())
	assert.Equal(t, StatePersisted, out.Stage)

	history, err := store.MetricHistory(ctx, out.ProductID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, database.PriceStateZero, history[0].PriceState)
	require.NotNil(t, history[0].DiscountedPrice)
	assert.Equal(t, 0.0, *history[0].DiscountedPrice)

	product, err := store.GetProduct(ctx, out.ProductID)
	require.NoError(t, err)
	assert.Nil(t, product.LastPrice)
	assert.NotNil(t, product.LastScrapedAt)
}

func TestWorker_ZeroPriceAsFailure(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	url := "https://www.trendyol.com/basic-tisort-p-4"
	driver := browsertest.NewDriver().Set(url, browsertest.Response{HTML: zeroPricePage})
	opts := DefaultOptions()
	opts.ZeroPriceIsFailure = true
	w := newTestWorker(driver, store, nil, opts)

	out := w.Scrape(ctx, Target{URL: url})

	assert.Equal(t, ReasonNoPriceFound, out.Reason)
	assert.ErrorIs(t, out.Err, ErrNoPriceFound)

	stale, err := store.StaleProducts(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestWorker_NoPriceFoundPersistsNothing(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	url := "https://www.trendyol.com/gone-p-5"
	driver := browsertest.NewDriver().Set(url, browsertest.Response{Title: "Ürün bulunamadı", HTML: noPricePage})
	w := newTestWorker(driver, store, nil, DefaultOptions())

	out := w.Scrape(ctx, Target{URL: url})

	assert.Equal(t, KindFailure, out.Kind)
	assert.Equal(t, ReasonNoPriceFound, out.Reason)
	assert.Equal(t, StateClassified, out.Stage)
	assert.ErrorIs(t, out.Err, ErrNoPriceFound)
	assert.Contains(t, out.Err.Error(), "sha1=")

	stale, err := store.StaleProducts(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestWorker_ExtractionTimeout(t *testing.T) {
	url := "https://www.trendyol.com/heavy-p-6"
	driver := browsertest.NewDriver().Set(url, browsertest.Response{HTML: pricedPage, ContentDelay: 300 * time.Millisecond})
	opts := DefaultOptions()
	opts.ExtractionTimeout = 20 * time.Millisecond
	w := newTestWorker(driver, &failingGateway{}, nil, opts)

	out := w.Scrape(context.Background(), Target{URL: url})

	assert.Equal(t, ReasonExtractionTimeout, out.Reason)
	assert.Equal(t, StateNavigated, out.Stage)
	assert.ErrorIs(t, out.Err, ErrExtractionTimeout)
}

func TestWorker_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	driver := browsertest.NewDriver()
	w := newTestWorker(driver, &failingGateway{}, nil, DefaultOptions())

	out := w.Scrape(ctx, Target{URL: "https://www.trendyol.com/x-p-7"})

	assert.Equal(t, ReasonCancelled, out.Reason)
	assert.ErrorIs(t, out.Err, ErrCancelled)
	assert.ErrorIs(t, out.Err, context.Canceled)

	opened, _, _ := driver.Stats()
	assert.Zero(t, opened)
}

func TestWorker_CancelledDuringNavigation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	url := "https://www.trendyol.com/slow-p-8"
	driver := browsertest.NewDriver().Set(url, browsertest.Response{Hang: true})
	w := newTestWorker(driver, &failingGateway{}, nil, DefaultOptions())

	out := w.Scrape(ctx, Target{URL: url})

	assert.Equal(t, ReasonCancelled, out.Reason)
	assert.ErrorIs(t, out.Err, ErrCancelled)
}

func TestWorker_PersistenceError(t *testing.T) {
	unavailable := fmt.Errorf("failed to upsert product: %w: %w", database.ErrUnavailable, errors.New("connection refused"))

	tests := []struct {
		name        string
		gateway     *failingGateway
		wantProduct int64
	}{
		{"upsert", &failingGateway{upsertErr: unavailable}, 0},
		{"append", &failingGateway{appendErr: errors.New("constraint violation")}, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "https://www.trendyol.com/mavi/mom-jean-p-1"
			driver := browsertest.NewDriver().Set(url, browsertest.Response{HTML: pricedPage})
			w := newTestWorker(driver, tt.gateway, nil, DefaultOptions())

			out := w.Scrape(context.Background(), Target{URL: url})

			assert.Equal(t, ReasonPersistenceError, out.Reason)
			assert.Equal(t, StateClassified, out.Stage)
			assert.ErrorIs(t, out.Err, ErrPersistence)
			assert.Equal(t, tt.wantProduct, out.ProductID)
			assert.NotNil(t, out.Record)
		})
	}

	t.Run("unavailable is visible", func(t *testing.T) {
		url := "https://www.trendyol.com/mavi/mom-jean-p-1"
		driver := browsertest.NewDriver().Set(url, browsertest.Response{HTML: pricedPage})
		w := newTestWorker(driver, &failingGateway{upsertErr: unavailable}, nil, DefaultOptions())

		out := w.Scrape(context.Background(), Target{URL: url})
		assert.ErrorIs(t, out.Err, database.ErrUnavailable)
	})
}

func TestWorker_SalesRankFromTarget(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	url := "https://www.trendyol.com/mavi/mom-jean-p-1"
	driver := browsertest.NewDriver().Set(url, browsertest.Response{HTML: pricedPage})
	w := newTestWorker(driver, store, nil, DefaultOptions())

	rank := 12
	out := w.Scrape(ctx, Target{URL: url, SalesRank: &rank})
	require.True(t, out.Persisted(), "error: %v", out.Err)

	assert.Equal(t, "target", out.Record.Methods["sales_rank"])
	history, err := store.MetricHistory(ctx, out.ProductID, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].SalesRank)
	assert.Equal(t, 12, *history[0].SalesRank)
}

func TestPageSignature(t *testing.T) {
	sig := PageSignature("Başlık", "<html></html>")
	assert.Contains(t, sig, `title="Başlık"`)
	assert.Contains(t, sig, "len=13")
	assert.Regexp(t, `sha1=[0-9a-f]{12} `, sig)
	assert.Equal(t, sig, PageSignature("Başlık", "<html></html>"))
}
