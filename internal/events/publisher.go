package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/trendyol-metrics-scraper/internal/database"
)

type EventType string

const (
	// EventTypeProductScraped is written for every metric with a real price.
	EventTypeProductScraped EventType = "PRODUCT_SCRAPED"
	// EventTypePriceDegraded is written when the page showed a zero price.
	EventTypePriceDegraded EventType = "PRICE_DEGRADED"

	source = "scraper"
)

// MetricPayload is the body of both event types.
type MetricPayload struct {
	EventID    string                `json:"event_id"`
	EventType  string                `json:"event_type"`
	Timestamp  time.Time             `json:"timestamp"`
	ProductID  int64                 `json:"product_id"`
	URL        string                `json:"url"`
	MetricID   int64                 `json:"metric_id"`
	RecordedAt time.Time             `json:"recorded_at"`
	Metrics    database.MetricFields `json:"metrics"`
	Source     string                `json:"source"`
}

// Store is the part of the postgres database the publisher writes through.
type Store interface {
	UpsertProduct(ctx context.Context, p database.ProductFields) (int64, error)
	AppendMetricTx(ctx context.Context, tx pgx.Tx, productID int64, m database.MetricFields, at time.Time) (int64, error)
	ProductURLTx(ctx context.Context, tx pgx.Tx, id int64) (string, error)
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type Outbox interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher persists scrape results and their outbox event in the same
// transaction, so an event exists exactly when its metric row does.
type Publisher struct {
	store  Store
	outbox Outbox
	stream string
	logger *slog.Logger
}

func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return NewPublisherWith(db, database.NewOutboxRepository(db), database.DefaultTargetStream, logger)
}

func NewPublisherWith(store Store, outbox Outbox, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultTargetStream
	}
	return &Publisher{
		store:  store,
		outbox: outbox,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

func (p *Publisher) UpsertProduct(ctx context.Context, fields database.ProductFields) (int64, error) {
	return p.store.UpsertProduct(ctx, fields)
}

// AppendMetric writes the metric row, stamps the product and queues the
// matching event. Nothing is written when any step fails.
func (p *Publisher) AppendMetric(ctx context.Context, productID int64, m database.MetricFields, at time.Time) (int64, error) {
	var metricID int64
	var event *database.OutboxEvent
	err := p.store.Transaction(ctx, func(tx pgx.Tx) error {
		id, err := p.store.AppendMetricTx(ctx, tx, productID, m, at)
		if err != nil {
			return err
		}
		metricID = id

		url, err := p.store.ProductURLTx(ctx, tx, productID)
		if err != nil {
			return err
		}

		event, err = p.buildEvent(productID, url, id, m, at)
		if err != nil {
			return err
		}
		if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	p.logger.Debug("event published to outbox",
		"event_id", event.ID,
		"event_type", event.EventType,
		"product_id", productID,
		"metric_id", metricID)

	return metricID, nil
}

func (p *Publisher) buildEvent(productID int64, url string, metricID int64, m database.MetricFields, at time.Time) (*database.OutboxEvent, error) {
	eventType := EventTypeProductScraped
	if m.PriceState == database.PriceStateZero {
		eventType = EventTypePriceDegraded
	}

	id := uuid.New()
	payload := MetricPayload{
		EventID:    id.String(),
		EventType:  string(eventType),
		Timestamp:  time.Now().UTC(),
		ProductID:  productID,
		URL:        url,
		MetricID:   metricID,
		RecordedAt: at,
		Metrics:    m,
		Source:     source,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &database.OutboxEvent{
		ID:            id,
		AggregateType: "product",
		AggregateID:   strconv.FormatInt(productID, 10),
		EventType:     string(eventType),
		Payload:       data,
		TargetStream:  p.stream,
	}, nil
}
