package database

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if mockArgs.Get(0) != nil {
		cmd.SetErr(mockArgs.Error(0))
	} else {
		cmd.SetVal("1234567890-0")
	}
	return cmd
}

func (m *MockRedisClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, err error) (string, error) {
	args := m.Called(ctx, id, err)
	return args.String(0), args.Error(1)
}

func (m *MockOutboxRepository) Backlog(ctx context.Context) (RelayStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(RelayStats), args.Error(1)
}

func (m *MockOutboxRepository) PurgeProcessed(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func streamValue(args *redis.XAddArgs, key string) interface{} {
	values, _ := args.Values.(map[string]interface{})
	return values[key]
}

type recordingObserver struct {
	calls []string
	fails int
}

func (o *recordingObserver) ObserveRelay(eventType string, err error) {
	o.calls = append(o.calls, eventType)
	if err != nil {
		o.fails++
	}
}

func scrapedEvent(productID string) *OutboxEvent {
	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "product",
		AggregateID:   productID,
		EventType:     "PRODUCT_SCRAPED",
		Payload:       json.RawMessage(`{"product_id":` + productID + `,"discounted_price":149.9}`),
		TargetStream:  DefaultTargetStream,
		CreatedAt:     time.Now(),
	}
}

func TestRelay_ProcessEvents(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()

	t.Run("publishes pending events and marks them processed", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		observer := &recordingObserver{}

		relay := NewRelay(mockOutbox, mockRedis, observer, logger, RelayConfig{BatchSize: 10})

		events := []*OutboxEvent{scrapedEvent("1"), scrapedEvent("2")}
		mockOutbox.On("GetPending", ctx, 10).Return(events, nil)

		for _, event := range events {
			event := event
			mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
				return args.Stream == event.TargetStream &&
					streamValue(args, "event_type") == event.EventType &&
					streamValue(args, "product_id") == event.AggregateID
			})).Return(nil)

			mockOutbox.On("MarkProcessed", ctx, event.ID).Return(nil)
		}

		err := relay.processEvents(ctx)
		require.NoError(t, err)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
		assert.Equal(t, []string{"PRODUCT_SCRAPED", "PRODUCT_SCRAPED"}, observer.calls)
		assert.Zero(t, observer.fails)
	})

	t.Run("marks event failed when redis rejects it", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		observer := &recordingObserver{}

		relay := NewRelay(mockOutbox, mockRedis, observer, logger, RelayConfig{BatchSize: 10})

		event := scrapedEvent("7")
		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{event}, nil)

		mockRedis.On("XAdd", ctx, mock.Anything).Return(errors.New("redis connection failed"))
		mockOutbox.On("MarkFailed", ctx, event.ID, mock.MatchedBy(func(err error) bool {
			return err.Error() == "failed to publish to redis: redis connection failed"
		})).Return(OutboxStatusFailed, nil)

		err := relay.processEvents(ctx)
		assert.NoError(t, err)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
		assert.Equal(t, 1, observer.fails)
	})

	t.Run("empty batch does not touch redis", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)

		relay := NewRelay(mockOutbox, mockRedis, nil, logger, RelayConfig{BatchSize: 10})

		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{}, nil)

		err := relay.processEvents(ctx)
		require.NoError(t, err)

		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("continues after a single failure", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)

		relay := NewRelay(mockOutbox, mockRedis, nil, logger, RelayConfig{BatchSize: 10})

		events := []*OutboxEvent{scrapedEvent("1"), scrapedEvent("2")}
		events[1].EventType = "PRICE_DEGRADED"
		mockOutbox.On("GetPending", ctx, 10).Return(events, nil)

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return streamValue(args, "product_id") == "1"
		})).Return(errors.New("redis error"))
		mockOutbox.On("MarkFailed", ctx, events[0].ID, mock.Anything).Return(OutboxStatusDeadLetter, nil)

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return streamValue(args, "product_id") == "2"
		})).Return(nil)
		mockOutbox.On("MarkProcessed", ctx, events[1].ID).Return(nil)

		err := relay.processEvents(ctx)
		require.NoError(t, err)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("outbox read failure is returned", func(t *testing.T) {
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, new(MockRedisClient), nil, logger, RelayConfig{BatchSize: 10})

		mockOutbox.On("GetPending", ctx, 10).Return(nil, ErrUnavailable)

		err := relay.processEvents(ctx)
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestRelay_Publish(t *testing.T) {
	ctx := context.Background()
	mockRedis := new(MockRedisClient)
	relay := NewRelay(new(MockOutboxRepository), mockRedis, nil, slog.Default(), RelayConfig{})

	event := scrapedEvent("42")
	event.RetryCount = 2

	mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
		values, ok := args.Values.(map[string]interface{})
		if !ok {
			return false
		}

		raw, ok := values["payload"].(string)
		if !ok {
			return false
		}
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return false
		}

		return args.Stream == "stream:product_metrics" &&
			values["event_id"] == event.ID.String() &&
			values["event_type"] == "PRODUCT_SCRAPED" &&
			values["product_id"] == "42" &&
			values["retry_count"] == "2" &&
			values["source"] == "trendyol-metrics-scraper" &&
			payload["discounted_price"] == 149.9
	})).Return(nil)

	err := relay.publish(ctx, event)
	require.NoError(t, err)

	mockRedis.AssertExpectations(t)
}

func TestRelay_PublishRejectsBadPayload(t *testing.T) {
	mockRedis := new(MockRedisClient)
	relay := NewRelay(new(MockOutboxRepository), mockRedis, nil, slog.Default(), RelayConfig{})

	event := scrapedEvent("1")
	event.Payload = json.RawMessage(`not json`)

	err := relay.publish(context.Background(), event)
	assert.ErrorIs(t, err, ErrInvalidPayload)
	mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
}

func TestRelay_Stats(t *testing.T) {
	ctx := context.Background()

	t.Run("reports backlog", func(t *testing.T) {
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, new(MockRedisClient), nil, slog.Default(), RelayConfig{})
		mockOutbox.On("Backlog", ctx).Return(RelayStats{Pending: 3, DeadLetter: 1}, nil)

		stats, err := relay.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, RelayStats{Pending: 3, DeadLetter: 1}, stats)
	})

	t.Run("store errors are wrapped", func(t *testing.T) {
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, new(MockRedisClient), nil, slog.Default(), RelayConfig{})
		mockOutbox.On("Backlog", ctx).Return(RelayStats{}, ErrUnavailable)

		_, err := relay.Stats(ctx)
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestRelay_Purge(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		retention time.Duration
		advance   []time.Duration
		wantCalls int
	}{
		{"first cycle purges", 0, []time.Duration{0}, 1},
		{"throttled within the hour", 0, []time.Duration{0, 10 * time.Minute, 30 * time.Minute}, 1},
		{"purges again after an hour", 0, []time.Duration{0, purgeEvery}, 2},
		{"negative retention disables", -1, []time.Duration{0, 2 * purgeEvery}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockOutbox := new(MockOutboxRepository)
			relay := NewRelay(mockOutbox, new(MockRedisClient), nil, slog.Default(), RelayConfig{Retention: tt.retention})

			now := start
			relay.now = func() time.Time { return now }

			mockOutbox.On("PurgeProcessed", ctx, mock.MatchedBy(func(cutoff time.Time) bool {
				return cutoff.Equal(now.Add(-7 * 24 * time.Hour))
			})).Return(int64(4), nil)

			for _, d := range tt.advance {
				now = now.Add(d)
				relay.purge(ctx)
			}

			mockOutbox.AssertNumberOfCalls(t, "PurgeProcessed", tt.wantCalls)
		})
	}
}

func TestRelay_Start(t *testing.T) {
	mockOutbox := new(MockOutboxRepository)
	relay := NewRelay(mockOutbox, new(MockRedisClient), nil, slog.Default(), RelayConfig{
		PollInterval: 50 * time.Millisecond,
		BatchSize:    10,
	})

	mockOutbox.On("GetPending", mock.Anything, 10).Return([]*OutboxEvent{}, nil).Maybe()
	mockOutbox.On("PurgeProcessed", mock.Anything, mock.Anything).Return(int64(0), nil).Maybe()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() {
		done <- relay.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(1 * time.Second):
		t.Fatal("relay did not stop on context cancellation")
	}
}
