package scraper

import (
	"time"

	"github.com/maltedev/trendyol-metrics-scraper/internal/extract"
)

type State string

const (
	StateNotStarted State = "not_started"
	StateNavigated  State = "navigated"
	StateExtracted  State = "extracted"
	StateClassified State = "classified"
	StatePersisted  State = "persisted"
	StateFailed     State = "failed"
)

type Kind string

const (
	KindSuccess           Kind = "success"
	KindDegradedZeroPrice Kind = "degraded_zero_price"
	KindFailure           Kind = "failure"
)

type Reason string

const (
	ReasonNavigationError   Reason = "navigation_error"
	ReasonExtractionTimeout Reason = "extraction_timeout"
	ReasonNoPriceFound      Reason = "no_price_found"
	ReasonCancelled         Reason = "cancelled"
	ReasonPersistenceError  Reason = "persistence_error"
)

// Reasons lists every failure reason in a stable order.
var Reasons = []Reason{
	ReasonNavigationError,
	ReasonExtractionTimeout,
	ReasonNoPriceFound,
	ReasonCancelled,
	ReasonPersistenceError,
}

func (r Reason) sentinel() error {
	switch r {
	case ReasonNavigationError:
		return ErrNavigation
	case ReasonExtractionTimeout:
		return ErrExtractionTimeout
	case ReasonNoPriceFound:
		return ErrNoPriceFound
	case ReasonCancelled:
		return ErrCancelled
	default:
		return ErrPersistence
	}
}

// Outcome is the classified result of one scrape. Record is set for
// Success and DegradedZeroPrice; Reason and Err are set for Failure.
type Outcome struct {
	URL       string
	Kind      Kind
	Reason    Reason
	Err       error
	Record    *extract.Record
	ProductID int64
	MetricID  int64
	// Stage is the last state reached before the outcome was decided.
	Stage   State
	Elapsed time.Duration
}

func (o Outcome) Persisted() bool {
	return o.Kind == KindSuccess || o.Kind == KindDegradedZeroPrice
}

func (o Outcome) Failed() bool {
	return o.Kind == KindFailure
}

// Diagnostic is the per-scrape record emitted to logs and metrics.
type Diagnostic struct {
	URL         string
	State       State
	PriceMethod string
	Elapsed     time.Duration
}

func (o Outcome) Diagnostic() Diagnostic {
	d := Diagnostic{
		URL:     o.URL,
		State:   StatePersisted,
		Elapsed: o.Elapsed,
	}
	if o.Failed() {
		d.State = StateFailed
	}
	if o.Record != nil {
		d.PriceMethod = o.Record.PriceMethod
	}
	return d
}
