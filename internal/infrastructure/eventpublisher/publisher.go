package eventpublisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/tripledger/internal/domain"
	"github.com/iho/tripledger/internal/infrastructure/logger"
	"github.com/iho/tripledger/internal/infrastructure/metrics"
	"github.com/iho/tripledger/internal/usecase"
)

const (
	defaultBatchSize = 100
	defaultInterval  = 5 * time.Second
)

// Publisher delivers one outbox event to an external system.
type Publisher interface {
	Publish(ctx context.Context, event *domain.OutboxEvent) error
}

// Config configures a Relay.
type Config struct {
	OutboxRepo usecase.OutboxRepository
	Publisher  Publisher
	// Metrics is optional.
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
	BatchSize int
	Interval  time.Duration
	// Retention is how long published events are kept. Zero keeps them forever.
	Retention time.Duration
}

// Relay drains the outbox. Each tick it publishes a batch of unpublished
// events oldest first, marks the delivered ones and purges events past
// retention. It never touches ledger records.
//
// Delivery is at least once. Events of one transaction are delivered in
// order: once one fails, the rest of that transaction's events in the
// batch wait for the next tick.
type Relay struct {
	outbox    usecase.OutboxRepository
	publisher Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
	batchSize int
	interval  time.Duration
	retention time.Duration
}

// NewRelay creates a Relay. Non-positive sizes and intervals use defaults.
func NewRelay(cfg Config) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}

	return &Relay{
		outbox:    cfg.OutboxRepo,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    logger.Component(cfg.Logger, "outbox"),
		now:       time.Now,
		batchSize: cfg.BatchSize,
		interval:  cfg.Interval,
		retention: cfg.Retention,
	}
}

// Run ticks until ctx is cancelled and returns ctx.Err().
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info().
		Int("batch_size", r.batchSize).
		Dur("interval", r.interval).
		Dur("retention", r.retention).
		Msg("outbox relay started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.tick(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info().Msg("outbox relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Relay) tick(ctx context.Context) {
	delivered, err := r.publishBatch(ctx)
	if err != nil && ctx.Err() == nil {
		r.logger.Error().Err(err).Msg("outbox batch failed")
	}
	if delivered > 0 {
		r.logger.Debug().Int("delivered", delivered).Msg("outbox batch delivered")
	}

	if err := r.purge(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error().Err(err).Msg("outbox purge failed")
	}
}

// publishBatch delivers one batch and returns how many events were marked.
func (r *Relay) publishBatch(ctx context.Context) (int, error) {
	events, err := r.outbox.GetUnpublished(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	held := make(map[string]struct{})
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if _, blocked := held[event.AggregateID]; blocked {
			continue
		}

		log := r.logger.With().
			Str("event_id", event.ID).
			Str("event_type", event.EventType).
			Str("transaction_id", event.AggregateID).
			Logger()

		if err := r.publisher.Publish(ctx, event); err != nil {
			held[event.AggregateID] = struct{}{}
			r.count(false)
			log.Error().Err(err).Msg("publish failed; holding later events of this transaction")
			continue
		}

		if err := r.outbox.MarkPublished(ctx, event.ID, r.now()); err != nil {
			// Already delivered; it goes out again next tick.
			held[event.AggregateID] = struct{}{}
			log.Error().Err(err).Msg("mark published failed")
			continue
		}

		r.count(true)
		delivered++
	}
	return delivered, nil
}

func (r *Relay) count(ok bool) {
	if r.metrics == nil {
		return
	}
	if ok {
		r.metrics.OutboxPublished.Inc()
	} else {
		r.metrics.OutboxFailures.Inc()
	}
}

func (r *Relay) purge(ctx context.Context) error {
	if r.retention <= 0 {
		return nil
	}
	return r.outbox.DeletePublished(ctx, r.now().Add(-r.retention))
}

// LogPublisher writes events to the log instead of a broker.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a new LogPublisher.
func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: log}
}

// Publish logs the event.
func (p *LogPublisher) Publish(_ context.Context, event *domain.OutboxEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}

	p.logger.Info().
		Str("event_id", event.ID).
		Str("event_type", event.EventType).
		Str("aggregate_type", event.AggregateType).
		Str("aggregate_id", event.AggregateID).
		RawJSON("payload", payload).
		Msg("event published")

	return nil
}
