package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/trendyol-metrics-scraper/internal/runner"
	"github.com/maltedev/trendyol-metrics-scraper/internal/scraper"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics_ObserveScrape(t *testing.T) {
	m := New(nil)

	ok := scraper.Outcome{Kind: scraper.KindSuccess, Elapsed: 3 * time.Second}
	m.ObserveScrape(scraper.Diagnostic{State: scraper.StatePersisted, PriceMethod: "jsonld", Elapsed: ok.Elapsed}, ok)

	failed := scraper.Outcome{Kind: scraper.KindFailure, Reason: scraper.ReasonNoPriceFound}
	m.ObserveScrape(scraper.Diagnostic{State: scraper.StateFailed}, failed)
	m.ObserveScrape(scraper.Diagnostic{State: scraper.StateFailed}, failed)

	body := scrape(t, m)
	assert.Contains(t, body, `trendyol_scraper_scrapes_total{kind="success",reason=""} 1`)
	assert.Contains(t, body, `trendyol_scraper_scrapes_total{kind="failure",reason="no_price_found"} 2`)
	assert.Contains(t, body, `trendyol_scraper_price_method_total{method="jsonld"} 1`)
	assert.Contains(t, body, `trendyol_scraper_scrape_duration_seconds_count{state="failed"} 2`)
	assert.Contains(t, body, `trendyol_scraper_scrape_duration_seconds_sum{state="persisted"} 3`)
}

func TestMetrics_ObserveRelayAndRun(t *testing.T) {
	m := New(nil)

	m.ObserveRelay("PRODUCT_SCRAPED", nil)
	m.ObserveRelay("PRODUCT_SCRAPED", errors.New("redis down"))
	m.ObserveRun(runner.Summary{
		Success:  5,
		Degraded: 1,
		Failures: map[scraper.Reason]int{scraper.ReasonNavigationError: 2},
		Aborted:  true,
	})

	body := scrape(t, m)
	assert.Contains(t, body, `trendyol_scraper_relay_events_total{event_type="PRODUCT_SCRAPED",status="published"} 1`)
	assert.Contains(t, body, `trendyol_scraper_relay_events_total{event_type="PRODUCT_SCRAPED",status="failed"} 1`)
	assert.Contains(t, body, `trendyol_scraper_runs_total{status="aborted"} 1`)
	assert.Contains(t, body, "trendyol_scraper_last_run_persisted 6")
	assert.Contains(t, body, "trendyol_scraper_last_run_failed 2")
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	a, b := New(nil), New(nil)
	a.ObserveRelay("PRICE_DEGRADED", nil)

	assert.Contains(t, scrape(t, a), "PRICE_DEGRADED")
	assert.NotContains(t, scrape(t, b), "PRICE_DEGRADED")
}
