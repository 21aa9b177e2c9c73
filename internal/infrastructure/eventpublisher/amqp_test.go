package eventpublisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/tripledger/internal/domain"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

// fakeChannel acknowledges each publish according to acks, in order.
type fakeChannel struct {
	declared   []string
	confirmed  bool
	confirms   chan amqp.Confirmation
	published  []published
	acks       []bool
	publishErr error
	silent     bool
	closed     bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.declared = append(f.declared, name+":"+kind)
	return nil
}

func (f *fakeChannel) Confirm(noWait bool) error {
	f.confirmed = true
	return nil
}

func (f *fakeChannel) NotifyPublish(c chan amqp.Confirmation) chan amqp.Confirmation {
	f.confirms = c
	return c
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	if f.silent {
		return nil
	}
	tag := uint64(len(f.published))
	ack := true
	if int(tag) <= len(f.acks) {
		ack = f.acks[tag-1]
	}
	f.confirms <- amqp.Confirmation{DeliveryTag: tag, Ack: ack}
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func recordedEvent() *domain.OutboxEvent {
	return &domain.OutboxEvent{
		ID:            "evt-1",
		AggregateID:   "tx-1",
		AggregateType: domain.AggregateTypeTransaction,
		EventType:     domain.EventTypeTransactionRecorded,
		Payload:       map[string]any{"amount": "12.50", "currency": "EUR"},
		CreatedAt:     time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestAMQPPublisher_DeclaresAndConfirms(t *testing.T) {
	ch := &fakeChannel{}
	_, err := NewAMQPPublisher(ch, "ledger.events", 0, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, []string{"ledger.events:topic"}, ch.declared)
	assert.True(t, ch.confirmed)
}

func TestAMQPPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewAMQPPublisher(ch, "ledger.events", time.Second, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), recordedEvent()))
	require.Len(t, ch.published, 1)

	got := ch.published[0]
	assert.Equal(t, "ledger.events", got.exchange)
	assert.Equal(t, domain.EventTypeTransactionRecorded, got.key)
	assert.Equal(t, "evt-1", got.msg.MessageId)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, "application/json", got.msg.ContentType)

	var body map[string]any
	require.NoError(t, json.Unmarshal(got.msg.Body, &body))
	assert.Equal(t, "tx-1", body["aggregate_id"])
	assert.Equal(t, "12.50", body["payload"].(map[string]any)["amount"])
}

func TestAMQPPublisher_Nack(t *testing.T) {
	ch := &fakeChannel{acks: []bool{false}}
	p, err := NewAMQPPublisher(ch, "ledger.events", time.Second, zerolog.Nop())
	require.NoError(t, err)

	err = p.Publish(context.Background(), recordedEvent())
	assert.ErrorIs(t, err, ErrPublishNacked)
}

func TestAMQPPublisher_ConfirmTimeoutThenStaleConfirmSkipped(t *testing.T) {
	ch := &fakeChannel{silent: true}
	p, err := NewAMQPPublisher(ch, "ledger.events", 10*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	err = p.Publish(context.Background(), recordedEvent())
	require.ErrorIs(t, err, ErrConfirmTimeout)

	// The late ack for the first message must not count for the second.
	ch.confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: true}
	ch.silent = false
	ch.acks = []bool{true, false}

	err = p.Publish(context.Background(), recordedEvent())
	assert.ErrorIs(t, err, ErrPublishNacked)
}

func TestAMQPPublisher_PublishError(t *testing.T) {
	ch := &fakeChannel{publishErr: amqp.ErrClosed}
	p, err := NewAMQPPublisher(ch, "ledger.events", time.Second, zerolog.Nop())
	require.NoError(t, err)

	err = p.Publish(context.Background(), recordedEvent())
	assert.True(t, errors.Is(err, amqp.ErrClosed))

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}
