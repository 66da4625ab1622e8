package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessed  = "processed"
	OutboxStatusFailed     = "failed" // retried after next_retry_at
	OutboxStatusDeadLetter = "dead_letter"

	// MaxRetryCount failed publishes move an event to dead letter.
	MaxRetryCount = 5
	maxBackoff    = 5 * time.Minute

	DefaultTargetStream = "stream:product_metrics"
)

var ErrInvalidPayload = errors.New("outbox payload is not valid JSON")

// OutboxEvent is one scrape event waiting in the outbox. AggregateID holds
// the product id.
type OutboxEvent struct {
	ID            uuid.UUID       `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	TargetStream  string          `db:"target_stream"`
	Status        string          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	ErrorMessage  *string         `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
}

type OutboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// InsertWithTx queues event in the caller's transaction, next to the metric
// row it describes.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if !json.Valid(event.Payload) {
		return ErrInvalidPayload
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	if event.TargetStream == "" {
		event.TargetStream = DefaultTargetStream
	}

	now := time.Now()
	event.CreatedAt = now
	if event.NextRetryAt == nil {
		event.NextRetryAt = &now
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_event (
			id, aggregate_type, aggregate_id, event_type,
			payload, target_stream, status, retry_count,
			created_at, next_retry_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.AggregateType, event.AggregateID, event.EventType,
		event.Payload, event.TargetStream, event.Status, event.RetryCount,
		event.CreatedAt, event.NextRetryAt,
	)
	if err != nil {
		return wrapErr("insert outbox event", err)
	}
	return nil
}

// GetPending returns up to limit events due for publishing, oldest first.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT
			id, aggregate_type, aggregate_id, event_type,
			payload, target_stream, status, retry_count,
			error_message, created_at, processed_at, next_retry_at
		FROM outbox_event
		WHERE status IN ($1, $2) AND next_retry_at <= $3
		ORDER BY created_at ASC
		LIMIT $4`,
		OutboxStatusPending, OutboxStatusFailed, time.Now(), limit)
	if err != nil {
		return nil, wrapErr("get pending events", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		event := &OutboxEvent{}
		err := rows.Scan(
			&event.ID, &event.AggregateType, &event.AggregateID, &event.EventType,
			&event.Payload, &event.TargetStream, &event.Status, &event.RetryCount,
			&event.ErrorMessage, &event.CreatedAt, &event.ProcessedAt, &event.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate pending events", err)
	}

	return events, nil
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE outbox_event SET status = $1, processed_at = $2, error_message = NULL
		WHERE id = $3`,
		OutboxStatusProcessed, time.Now(), id)
	if err != nil {
		return wrapErr("mark event processed", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkFailed counts a failed publish and returns the event's new status.
// Backoff doubles from one second up to maxBackoff.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, processErr error) (string, error) {
	var status string
	err := r.db.pool.QueryRow(ctx, `
		UPDATE outbox_event SET
			retry_count = retry_count + 1,
			status = CASE WHEN retry_count + 1 >= $2::int THEN $3::text ELSE $4::text END,
			error_message = $5,
			next_retry_at = NOW() + LEAST(POWER(2, retry_count), $6::double precision) * INTERVAL '1 second'
		WHERE id = $1
		RETURNING status`,
		id, MaxRetryCount, OutboxStatusDeadLetter, OutboxStatusFailed, processErr.Error(), maxBackoff.Seconds(),
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", wrapErr("mark event failed", err)
	}
	return status, nil
}

// Backlog counts events still waiting to be published and those that gave up.
func (r *OutboxRepository) Backlog(ctx context.Context) (RelayStats, error) {
	var stats RelayStats
	err := r.db.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ($1, $2)),
			COUNT(*) FILTER (WHERE status = $3)
		FROM outbox_event`,
		OutboxStatusPending, OutboxStatusFailed, OutboxStatusDeadLetter,
	).Scan(&stats.Pending, &stats.DeadLetter)
	if err != nil {
		return RelayStats{}, wrapErr("count outbox backlog", err)
	}
	return stats, nil
}

// PurgeProcessed deletes events published before cutoff.
func (r *OutboxRepository) PurgeProcessed(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.pool.Exec(ctx,
		`DELETE FROM outbox_event WHERE status = $1 AND processed_at < $2`,
		OutboxStatusProcessed, cutoff)
	if err != nil {
		return 0, wrapErr("purge processed events", err)
	}
	return result.RowsAffected(), nil
}
