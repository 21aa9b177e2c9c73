package domain

import "time"

// Event types
const (
	EventTypeTransactionRecorded  = "transaction.recorded"
	EventTypeTransactionCompleted = "transaction.completed"
	EventTypeTransactionFailed    = "transaction.failed"
	EventTypeTransactionReversed  = "transaction.reversed"
)

// AggregateTypeTransaction is the only aggregate the ledger publishes.
const AggregateTypeTransaction = "transaction"

// OutboxEvent represents an event to be published
type OutboxEvent struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       map[string]any
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Published     bool
}

// NewRecordedEvent builds the outbox event for an appended record.
func NewRecordedEvent(t *Transaction) *OutboxEvent {
	return &OutboxEvent{
		AggregateID:   t.ID,
		AggregateType: AggregateTypeTransaction,
		EventType:     EventTypeTransactionRecorded,
		Payload: map[string]any{
			"transaction_id": t.ID,
			"type":           string(t.Type),
			"status":         string(t.Status),
			"amount":         t.Amount.String(),
			"currency":       t.Currency,
			"performed_by":   t.PerformedBy,
			"event_at":       t.Timestamp.Format(time.RFC3339Nano),
		},
		CreatedAt: t.Timestamp,
	}
}

// NewStatusChangedEvent builds the outbox event for a completed or failed transition.
func NewStatusChangedEvent(tr *Transition) *OutboxEvent {
	eventType := EventTypeTransactionCompleted
	if tr.To == StatusFailed {
		eventType = EventTypeTransactionFailed
	}

	return &OutboxEvent{
		AggregateID:   tr.TransactionID,
		AggregateType: AggregateTypeTransaction,
		EventType:     eventType,
		Payload: map[string]any{
			"transaction_id": tr.TransactionID,
			"from":           string(tr.From),
			"to":             string(tr.To),
			"reason":         tr.Reason,
			"performed_by":   tr.PerformedBy,
			"event_at":       tr.At.Format(time.RFC3339Nano),
		},
		CreatedAt: tr.At,
	}
}

// NewReversedEvent builds the outbox event for a reversal.
func NewReversedEvent(reversal *Transaction, tr *Transition) *OutboxEvent {
	return &OutboxEvent{
		AggregateID:   reversal.ReversalOf,
		AggregateType: AggregateTypeTransaction,
		EventType:     EventTypeTransactionReversed,
		Payload: map[string]any{
			"reversal_id":  reversal.ID,
			"original_id":  reversal.ReversalOf,
			"amount":       reversal.Amount.String(),
			"currency":     reversal.Currency,
			"reason":       tr.Reason,
			"performed_by": tr.PerformedBy,
			"event_at":     tr.At.Format(time.RFC3339Nano),
		},
		CreatedAt: tr.At,
	}
}
