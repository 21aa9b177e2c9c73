package eventpublisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iho/tripledger/internal/domain"
)

// DefaultConfirmTimeout bounds the wait for a broker acknowledgement.
const DefaultConfirmTimeout = 5 * time.Second

const confirmBuffer = 64

var (
	ErrPublishNacked  = errors.New("broker rejected the message")
	ErrConfirmTimeout = errors.New("confirmation timed out")
	ErrChannelClosed  = errors.New("amqp channel closed")
)

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes outbox events to a topic exchange with the
// event type as routing key. Each publish waits for the broker confirm,
// so an event is marked published only after RabbitMQ accepted it.
type AMQPPublisher struct {
	mu             sync.Mutex
	ch             Channel
	confirms       chan amqp.Confirmation
	deliveryTag    uint64
	exchange       string
	confirmTimeout time.Duration
	logger         zerolog.Logger
}

// AMQPConfig configures an AMQPPublisher.
type AMQPConfig struct {
	URL            string
	Exchange       string
	ConfirmTimeout time.Duration
}

// DialAMQP connects to the broker and returns a publisher that owns the
// connection. Close releases both.
func DialAMQP(cfg AMQPConfig, logger zerolog.Logger) (*AMQPPublisher, func() error, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open amqp channel: %w", err)
	}

	pub, err := NewAMQPPublisher(ch, cfg.Exchange, cfg.ConfirmTimeout, logger)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	closer := func() error {
		return errors.Join(pub.Close(), conn.Close())
	}
	return pub, closer, nil
}

// NewAMQPPublisher declares a durable topic exchange and puts ch into
// confirm mode.
func NewAMQPPublisher(ch Channel, exchange string, confirmTimeout time.Duration, logger zerolog.Logger) (*AMQPPublisher, error) {
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmTimeout
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	return &AMQPPublisher{
		ch:             ch,
		confirms:       ch.NotifyPublish(make(chan amqp.Confirmation, confirmBuffer)),
		exchange:       exchange,
		confirmTimeout: confirmTimeout,
		logger:         logger,
	}, nil
}

type message struct {
	ID            string         `json:"id"`
	EventType     string         `json:"event_type"`
	AggregateType string         `json:"aggregate_type"`
	AggregateID   string         `json:"aggregate_id"`
	Payload       map[string]any `json:"payload"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Publish sends one event and waits for its confirm. Calls are serialized;
// confirms left over from an earlier timed-out publish are skipped by
// delivery tag.
func (p *AMQPPublisher) Publish(ctx context.Context, event *domain.OutboxEvent) error {
	body, err := json.Marshal(message{
		ID:            event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		CreatedAt:     event.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, p.exchange, event.EventType, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.CreatedAt,
		Type:         event.EventType,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.ID, err)
	}
	p.deliveryTag++
	tag := p.deliveryTag

	timeout := time.NewTimer(p.confirmTimeout)
	defer timeout.Stop()

	for {
		select {
		case confirm, ok := <-p.confirms:
			if !ok {
				return ErrChannelClosed
			}
			if confirm.DeliveryTag < tag {
				continue
			}
			if !confirm.Ack {
				return fmt.Errorf("%w: delivery_tag=%d", ErrPublishNacked, confirm.DeliveryTag)
			}
			p.logger.Debug().Str("event_id", event.ID).Uint64("delivery_tag", tag).Msg("event confirmed")
			return nil
		case <-timeout.C:
			return fmt.Errorf("%w: %s", ErrConfirmTimeout, event.ID)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close closes the channel.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}
