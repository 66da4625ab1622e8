package scraper

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/trendyol-metrics-scraper/internal/browser"
	"github.com/maltedev/trendyol-metrics-scraper/internal/database"
	"github.com/maltedev/trendyol-metrics-scraper/internal/extract"
)

// Stealth registers init scripts on a fresh browser context.
type Stealth interface {
	Apply(target browser.InitScripter) int
}

// Observer receives every finished scrape.
type Observer interface {
	ObserveScrape(d Diagnostic, o Outcome)
}

// Worker scrapes one product page per call: navigate, extract, classify,
// persist. Each call owns its browser context.
type Worker struct {
	driver    browser.Driver
	stealth   Stealth
	extractor *extract.Extractor
	gateway   Gateway
	observer  Observer
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

func NewWorker(driver browser.Driver, stealth Stealth, extractor *extract.Extractor, gateway Gateway, observer Observer, opts Options, logger *slog.Logger) *Worker {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = DefaultOptions().NavigationTimeout
	}
	if opts.ExtractionTimeout <= 0 {
		opts.ExtractionTimeout = DefaultOptions().ExtractionTimeout
	}
	if extractor == nil {
		extractor = extract.New()
	}
	return &Worker{
		driver:    driver,
		stealth:   stealth,
		extractor: extractor,
		gateway:   gateway,
		observer:  observer,
		opts:      opts,
		logger:    logger.With("component", "scrape_worker"),
		now:       time.Now,
	}
}

// Scrape never returns an error; every failure is folded into the Outcome.
func (w *Worker) Scrape(ctx context.Context, target Target) Outcome {
	start := w.now()

	out := w.run(ctx, target)
	out.URL = target.URL
	out.Elapsed = w.now().Sub(start)

	d := out.Diagnostic()
	attrs := []any{
		"url", d.URL,
		"state", d.State,
		"stage", out.Stage,
		"kind", out.Kind,
		"price_method", d.PriceMethod,
		"elapsed", d.Elapsed,
	}
	if out.Failed() {
		attrs = append(attrs, "reason", out.Reason, "error", out.Err)
		w.logger.Warn("scrape failed", attrs...)
	} else {
		attrs = append(attrs, "product_id", out.ProductID, "metric_id", out.MetricID)
		w.logger.Info("scrape finished", attrs...)
	}

	if w.observer != nil {
		w.observer.ObserveScrape(d, out)
	}

	return out
}

func (w *Worker) run(ctx context.Context, target Target) Outcome {
	state := StateNotStarted

	if err := ctx.Err(); err != nil {
		return failure(state, ReasonCancelled, err)
	}

	bctx, err := w.driver.NewContext(ctx)
	if err != nil {
		return w.navigationFailure(ctx, state, fmt.Errorf("failed to open browser context: %w", err))
	}
	defer func() {
		if err := bctx.Close(); err != nil {
			w.logger.Warn("failed to close browser context", "url", target.URL, "error", err)
		}
	}()

	if w.stealth != nil {
		w.stealth.Apply(bctx)
	}

	navCtx, cancelNav := context.WithTimeout(ctx, w.opts.NavigationTimeout)
	page, err := bctx.Navigate(navCtx, target.URL, w.opts.NavigationTimeout)
	cancelNav()
	if err != nil {
		return w.navigationFailure(ctx, state, err)
	}
	defer page.Close()
	state = StateNavigated

	rec, signature, err := w.extract(ctx, page, target.URL)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return failure(state, ReasonCancelled, err)
		case errors.Is(err, errExtractionDeadline):
			return failure(state, ReasonExtractionTimeout, fmt.Errorf("after %s", w.opts.ExtractionTimeout))
		default:
			return failure(state, ReasonNavigationError, err)
		}
	}
	state = StateExtracted

	if rec.SalesRank == nil && target.SalesRank != nil {
		rank := *target.SalesRank
		rec.SalesRank = &rank
		rec.Methods["sales_rank"] = "target"
	}

	state = StateClassified
	kind, priceState := KindSuccess, database.PriceStateOK
	switch {
	case !rec.HasPrice():
		w.logger.Warn("no price on page", "url", target.URL, "signature", signature)
		out := failure(state, ReasonNoPriceFound, fmt.Errorf("page %s", signature))
		out.Record = &rec
		return out
	case *rec.DiscountedPrice == 0:
		if w.opts.ZeroPriceIsFailure {
			w.logger.Warn("zero price treated as missing", "url", target.URL, "price_method", rec.PriceMethod)
			out := failure(state, ReasonNoPriceFound, fmt.Errorf("zero price via %s", rec.PriceMethod))
			out.Record = &rec
			return out
		}
		w.logger.Warn("zero price extracted", "url", target.URL, "price_method", rec.PriceMethod, "signature", signature)
		kind, priceState = KindDegradedZeroPrice, database.PriceStateZero
	}

	if err := ctx.Err(); err != nil {
		return failure(state, ReasonCancelled, err)
	}

	productID, err := w.gateway.UpsertProduct(ctx, ProductFields(rec))
	if err != nil {
		return w.persistenceFailure(ctx, state, &rec, err)
	}

	metricID, err := w.gateway.AppendMetric(ctx, productID, MetricFields(rec, priceState), w.now().UTC())
	if err != nil {
		out := w.persistenceFailure(ctx, state, &rec, err)
		out.ProductID = productID
		return out
	}

	return Outcome{
		Kind:      kind,
		Record:    &rec,
		ProductID: productID,
		MetricID:  metricID,
		Stage:     StatePersisted,
	}
}

var errExtractionDeadline = errors.New("extraction deadline exceeded")

type extraction struct {
	rec       extract.Record
	signature string
	err       error
}

func (w *Worker) extract(ctx context.Context, page browser.Page, url string) (extract.Record, string, error) {
	extCtx, cancel := context.WithTimeout(ctx, w.opts.ExtractionTimeout)
	defer cancel()

	done := make(chan extraction, 1)
	go func() {
		title, _ := page.Title()
		html, err := page.Content()
		if err != nil {
			done <- extraction{err: fmt.Errorf("failed to read page content: %w", err)}
			return
		}
		snap, err := extract.NewSnapshot(url, title, html)
		if err != nil {
			done <- extraction{err: err}
			return
		}
		done <- extraction{
			rec:       w.extractor.Extract(snap),
			signature: PageSignature(title, html),
		}
	}()

	select {
	case <-extCtx.Done():
		if ctx.Err() != nil {
			return extract.Record{}, "", ctx.Err()
		}
		return extract.Record{}, "", errExtractionDeadline
	case res := <-done:
		return res.rec, res.signature, res.err
	}
}

func (w *Worker) navigationFailure(ctx context.Context, state State, err error) Outcome {
	if ctx.Err() != nil {
		return failure(state, ReasonCancelled, err)
	}
	return failure(state, ReasonNavigationError, err)
}

func (w *Worker) persistenceFailure(ctx context.Context, state State, rec *extract.Record, err error) Outcome {
	reason := ReasonPersistenceError
	if ctx.Err() != nil {
		reason = ReasonCancelled
	}
	out := failure(state, reason, err)
	out.Record = rec
	return out
}

func failure(stage State, reason Reason, err error) Outcome {
	return Outcome{
		Kind:   KindFailure,
		Reason: reason,
		Err:    fmt.Errorf("%w: %w", reason.sentinel(), err),
		Stage:  stage,
	}
}

// PageSignature identifies a page snapshot in logs without dumping it.
func PageSignature(title, html string) string {
	sum := sha1.Sum([]byte(html))
	return fmt.Sprintf("title=%q sha1=%s len=%d", title, hex.EncodeToString(sum[:])[:12], len(html))
}

func ProductFields(rec extract.Record) database.ProductFields {
	return database.ProductFields{
		URL:      rec.URL,
		Name:     rec.Name,
		Brand:    rec.Brand,
		ImageURL: rec.ImageURL,
	}
}

func MetricFields(rec extract.Record, priceState string) database.MetricFields {
	return database.MetricFields{
		ListPrice:        rec.ListPrice,
		DiscountedPrice:  rec.DiscountedPrice,
		DiscountRate:     rec.DiscountRate,
		AvgRating:        rec.AvgRating,
		RatingCount:      rec.RatingCount,
		FavoriteCount:    rec.FavoriteCount,
		CartCount:        rec.CartCount,
		ViewCount:        rec.ViewCount,
		SalesRank:        rec.SalesRank,
		ExtractionMethod: rec.PriceMethod,
		PriceState:       priceState,
	}
}
