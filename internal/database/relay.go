package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const relaySource = "trendyol-metrics-scraper"

// RedisClient interface for Redis operations (for testing)
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// OutboxRepo interface for outbox operations (for testing)
type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) (string, error)
	Backlog(ctx context.Context) (RelayStats, error)
	PurgeProcessed(ctx context.Context, cutoff time.Time) (int64, error)
}

// RelayObserver is told about every publish attempt.
type RelayObserver interface {
	ObserveRelay(eventType string, err error)
}

// Relay moves scrape events from the outbox table to Redis streams and
// prunes events that were published longer than the retention ago.
type Relay struct {
	redis     RedisClient
	outbox    OutboxRepo
	observer  RelayObserver
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	retention time.Duration
	lastPurge time.Time
	now       func() time.Time
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int

	// Retention keeps processed events this long. Zero means 7 days,
	// negative disables purging.
	Retention time.Duration
}

type RelayStats struct {
	Pending    int64 `json:"pending"`
	DeadLetter int64 `json:"dead_letter"`
}

const purgeEvery = time.Hour

func NewRelay(outbox OutboxRepo, redisClient RedisClient, observer RelayObserver, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.Retention == 0 {
		config.Retention = 7 * 24 * time.Hour
	}

	return &Relay{
		redis:     redisClient,
		outbox:    outbox,
		observer:  observer,
		logger:    logger.With("component", "relay"),
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
		retention: config.Retention,
		now:       time.Now,
	}
}

// Start polls the outbox until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay",
		"interval", r.interval,
		"batch_size", r.batchSize,
		"retention", r.retention)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.processEvents(ctx); err != nil {
			r.logger.Error("failed to process events", "error", err)
		}
		r.purge(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Relay) processEvents(ctx context.Context) error {
	events, err := r.outbox.GetPending(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending events: %w", err)
	}

	if len(events) == 0 {
		return nil
	}

	r.logger.Debug("processing events", "count", len(events))

	for _, event := range events {
		if err := r.processEvent(ctx, event); err != nil {
			r.logger.Error("failed to process event",
				"event_id", event.ID,
				"product_id", event.AggregateID,
				"error", err)
		}
	}

	return nil
}

func (r *Relay) processEvent(ctx context.Context, event *OutboxEvent) error {
	err := r.publish(ctx, event)
	if r.observer != nil {
		r.observer.ObserveRelay(event.EventType, err)
	}

	if err != nil {
		status, markErr := r.outbox.MarkFailed(ctx, event.ID, err)
		switch {
		case markErr != nil:
			r.logger.Error("failed to mark event as failed",
				"event_id", event.ID,
				"error", markErr)
		case status == OutboxStatusDeadLetter:
			r.logger.Warn("event moved to dead letter",
				"event_id", event.ID,
				"event_type", event.EventType,
				"product_id", event.AggregateID,
				"error", err)
		}
		return err
	}

	if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}

	r.logger.Debug("event relayed",
		"event_id", event.ID,
		"event_type", event.EventType,
		"product_id", event.AggregateID,
		"target_stream", event.TargetStream)

	return nil
}

// publish appends one stream entry per event. Consumers key on product_id
// and read the metric body from payload.
func (r *Relay) publish(ctx context.Context, event *OutboxEvent) error {
	if !json.Valid(event.Payload) {
		return fmt.Errorf("event %s: %w", event.ID, ErrInvalidPayload)
	}

	args := &redis.XAddArgs{
		Stream: event.TargetStream,
		Values: map[string]interface{}{
			"event_id":    event.ID.String(),
			"event_type":  event.EventType,
			"product_id":  event.AggregateID,
			"created_at":  event.CreatedAt.UTC().Format(time.RFC3339Nano),
			"retry_count": strconv.Itoa(event.RetryCount),
			"source":      relaySource,
			"payload":     string(event.Payload),
		},
	}

	if _, err := r.redis.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}

	return nil
}

func (r *Relay) purge(ctx context.Context) {
	if r.retention < 0 {
		return
	}
	now := r.now()
	if !r.lastPurge.IsZero() && now.Sub(r.lastPurge) < purgeEvery {
		return
	}
	r.lastPurge = now

	n, err := r.outbox.PurgeProcessed(ctx, now.Add(-r.retention))
	if err != nil {
		r.logger.Error("failed to purge processed events", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("purged processed events", "count", n)
	}
}

// Stats reports the outbox backlog.
func (r *Relay) Stats(ctx context.Context) (RelayStats, error) {
	stats, err := r.outbox.Backlog(ctx)
	if err != nil {
		return RelayStats{}, fmt.Errorf("failed to get outbox backlog: %w", err)
	}
	return stats, nil
}
