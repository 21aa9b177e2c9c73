package eventpublisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/tripledger/internal/domain"
	"github.com/iho/tripledger/internal/infrastructure/metrics"
	"github.com/iho/tripledger/internal/usecase"
)

func event(id, txID, eventType string) *domain.OutboxEvent {
	return &domain.OutboxEvent{
		ID:            id,
		AggregateID:   txID,
		AggregateType: domain.AggregateTypeTransaction,
		EventType:     eventType,
	}
}

func publishedIDs(pub *stubPublisher) []string {
	var ids []string
	for _, e := range pub.published {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestRelay_PublishesAndMarks(t *testing.T) {
	repo := &stubOutboxRepo{events: []*domain.OutboxEvent{
		event("evt-1", "tx-1", domain.EventTypeTransactionRecorded),
	}}
	pub := &stubPublisher{}
	relay := newTestRelay(repo, pub)

	delivered, err := relay.publishBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, []string{"evt-1"}, publishedIDs(pub))
	assert.Equal(t, []string{"evt-1"}, repo.marked)
	assert.Equal(t, 1.0, testutil.ToFloat64(relay.metrics.OutboxPublished))
}

func TestRelay_HoldsLaterEventsOfFailedTransaction(t *testing.T) {
	repo := &stubOutboxRepo{events: []*domain.OutboxEvent{
		event("evt-1", "tx-1", domain.EventTypeTransactionRecorded),
		event("evt-2", "tx-2", domain.EventTypeTransactionRecorded),
		event("evt-3", "tx-1", domain.EventTypeTransactionCompleted),
		event("evt-4", "tx-2", domain.EventTypeTransactionFailed),
	}}
	pub := &stubPublisher{errorsByID: map[string]error{"evt-1": errors.New("broker down")}}
	relay := newTestRelay(repo, pub)

	delivered, err := relay.publishBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, []string{"evt-2", "evt-4"}, publishedIDs(pub))
	assert.Equal(t, []string{"evt-2", "evt-4"}, repo.marked)
	assert.Equal(t, 1.0, testutil.ToFloat64(relay.metrics.OutboxFailures))
}

func TestRelay_HoldsTransactionWhenMarkFails(t *testing.T) {
	repo := &stubOutboxRepo{
		events: []*domain.OutboxEvent{
			event("evt-1", "tx-1", domain.EventTypeTransactionRecorded),
			event("evt-2", "tx-1", domain.EventTypeTransactionCompleted),
		},
		markErr: map[string]error{"evt-1": domain.ErrStorageUnavailable},
	}
	pub := &stubPublisher{}
	relay := newTestRelay(repo, pub)

	delivered, err := relay.publishBatch(context.Background())

	require.NoError(t, err)
	assert.Zero(t, delivered)
	assert.Equal(t, []string{"evt-1"}, publishedIDs(pub))
	assert.Empty(t, repo.marked)
}

func TestRelay_ReturnsFetchError(t *testing.T) {
	relay := newTestRelay(&stubOutboxRepo{fetchErr: domain.ErrStorageUnavailable}, &stubPublisher{})

	_, err := relay.publishBatch(context.Background())
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestRelay_StopsBatchWhenCancelled(t *testing.T) {
	repo := &stubOutboxRepo{events: []*domain.OutboxEvent{
		event("evt-1", "tx-1", domain.EventTypeTransactionRecorded),
	}}
	pub := &stubPublisher{}
	relay := newTestRelay(repo, pub)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := relay.publishBatch(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pub.published)
}

func TestRelay_WorksWithoutMetrics(t *testing.T) {
	repo := &stubOutboxRepo{events: []*domain.OutboxEvent{
		event("evt-1", "tx-1", domain.EventTypeTransactionRecorded),
	}}
	relay := NewRelay(Config{OutboxRepo: repo, Publisher: &stubPublisher{}, Logger: zerolog.Nop()})

	delivered, err := relay.publishBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, defaultBatchSize, relay.batchSize)
	assert.Equal(t, defaultInterval, relay.interval)
}

func TestRelay_PurgeUsesRetention(t *testing.T) {
	repo := &stubOutboxRepo{}
	relay := newTestRelay(repo, &stubPublisher{})
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	relay.now = func() time.Time { return now }

	require.NoError(t, relay.purge(context.Background()))
	assert.Equal(t, now.Add(-72*time.Hour), repo.purgedBefore)

	relay.retention = 0
	repo.purgedBefore = time.Time{}
	require.NoError(t, relay.purge(context.Background()))
	assert.True(t, repo.purgedBefore.IsZero())
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	repo := &stubOutboxRepo{events: []*domain.OutboxEvent{
		event("evt-1", "tx-1", domain.EventTypeTransactionRecorded),
	}}
	relay := newTestRelay(repo, &stubPublisher{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}

func TestLogPublisher(t *testing.T) {
	err := NewLogPublisher(zerolog.Nop()).Publish(context.Background(), &domain.OutboxEvent{
		ID:      "evt-1",
		Payload: map[string]any{"amount": "10.00"},
	})
	assert.NoError(t, err)
}

func newTestRelay(repo *stubOutboxRepo, pub *stubPublisher) *Relay {
	return NewRelay(Config{
		OutboxRepo: repo,
		Publisher:  pub,
		Metrics:    metrics.New(prometheus.NewRegistry()),
		Logger:     zerolog.Nop(),
		BatchSize:  10,
		Interval:   5 * time.Millisecond,
		Retention:  72 * time.Hour,
	})
}

var _ usecase.OutboxRepository = (*stubOutboxRepo)(nil)

type stubOutboxRepo struct {
	events       []*domain.OutboxEvent
	marked       []string
	fetchErr     error
	markErr      map[string]error
	purgedBefore time.Time
}

func (s *stubOutboxRepo) Create(ctx context.Context, tx usecase.Transaction, event *domain.OutboxEvent) error {
	return nil
}

func (s *stubOutboxRepo) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	if len(s.events) <= limit {
		return append([]*domain.OutboxEvent(nil), s.events...), nil
	}
	return append([]*domain.OutboxEvent(nil), s.events[:limit]...), nil
}

func (s *stubOutboxRepo) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	if err := s.markErr[id]; err != nil {
		return err
	}
	s.marked = append(s.marked, id)
	return nil
}

func (s *stubOutboxRepo) GetByAggregate(ctx context.Context, aggregateType, aggregateID string, limit, offset int) ([]*domain.OutboxEvent, error) {
	return nil, nil
}

func (s *stubOutboxRepo) DeletePublished(ctx context.Context, before time.Time) error {
	s.purgedBefore = before
	return nil
}

type stubPublisher struct {
	published  []*domain.OutboxEvent
	errorsByID map[string]error
}

func (s *stubPublisher) Publish(ctx context.Context, event *domain.OutboxEvent) error {
	if err := s.errorsByID[event.ID]; err != nil {
		return err
	}
	s.published = append(s.published, event)
	return nil
}
