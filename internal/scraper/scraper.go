package scraper

import (
	"context"
	"errors"
	"time"

	"github.com/maltedev/trendyol-metrics-scraper/internal/database"
)

var (
	ErrNavigation        = errors.New("navigation failed")
	ErrExtractionTimeout = errors.New("extraction timed out")
	ErrNoPriceFound      = errors.New("no price found")
	ErrCancelled         = errors.New("scrape cancelled")
	ErrPersistence       = errors.New("persistence failed")
)

// Target is one product page to scrape. SalesRank is the position the
// product had on the search results page it was harvested from, if known.
type Target struct {
	URL       string `json:"url" yaml:"url"`
	SalesRank *int   `json:"sales_rank,omitempty" yaml:"sales_rank,omitempty"`
}

// Gateway is where scrape results are committed.
type Gateway interface {
	UpsertProduct(ctx context.Context, p database.ProductFields) (int64, error)
	AppendMetric(ctx context.Context, productID int64, m database.MetricFields, at time.Time) (int64, error)
}

type Options struct {
	NavigationTimeout  time.Duration
	ExtractionTimeout  time.Duration
	ZeroPriceIsFailure bool
}

func DefaultOptions() Options {
	return Options{
		NavigationTimeout: 20 * time.Second,
		ExtractionTimeout: 15 * time.Second,
	}
}
