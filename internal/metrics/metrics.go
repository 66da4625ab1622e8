// Package metrics exposes scrape, relay and run counters to prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maltedev/trendyol-metrics-scraper/internal/runner"
	"github.com/maltedev/trendyol-metrics-scraper/internal/scraper"
)

const namespace = "trendyol_scraper"

type Metrics struct {
	ScrapesTotal     *prometheus.CounterVec
	ScrapeDuration   *prometheus.HistogramVec
	PriceMethodTotal *prometheus.CounterVec
	RelayEventsTotal *prometheus.CounterVec
	RunsTotal        *prometheus.CounterVec
	LastRunPersisted prometheus.Gauge
	LastRunFailed    prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers all metrics on reg. A nil reg gets a private registry so
// tests and multiple instances never collide.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		ScrapesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scrapes_total",
				Help:      "Finished scrapes by outcome kind and failure reason",
			},
			[]string{"kind", "reason"},
		),
		ScrapeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scrape_duration_seconds",
				Help:      "Wall time of one scrape from context open to commit",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
			},
			[]string{"state"},
		),
		PriceMethodTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "price_method_total",
				Help:      "Which extraction strategy produced the price",
			},
			[]string{"method"},
		),
		RelayEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relay_events_total",
				Help:      "Outbox events published to redis",
			},
			[]string{"event_type", "status"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Finished runs",
			},
			[]string{"status"},
		),
		LastRunPersisted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_persisted",
			Help:      "Products persisted by the most recent run",
		}),
		LastRunFailed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_failed",
			Help:      "Failed targets in the most recent run",
		}),
		gatherer: reg,
	}
}

func (m *Metrics) ObserveScrape(d scraper.Diagnostic, o scraper.Outcome) {
	m.ScrapesTotal.WithLabelValues(string(o.Kind), string(o.Reason)).Inc()
	m.ScrapeDuration.WithLabelValues(string(d.State)).Observe(d.Elapsed.Seconds())
	if d.PriceMethod != "" {
		m.PriceMethodTotal.WithLabelValues(d.PriceMethod).Inc()
	}
}

func (m *Metrics) ObserveRelay(eventType string, err error) {
	status := "published"
	if err != nil {
		status = "failed"
	}
	m.RelayEventsTotal.WithLabelValues(eventType, status).Inc()
}

func (m *Metrics) ObserveRun(s runner.Summary) {
	status := "completed"
	if s.Aborted {
		status = "aborted"
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.LastRunPersisted.Set(float64(s.Persisted()))
	m.LastRunFailed.Set(float64(s.Failed()))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
