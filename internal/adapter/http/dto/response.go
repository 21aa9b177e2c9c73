package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/tripledger/internal/domain"
)

// TransactionResponse represents a transaction in API responses.
type TransactionResponse struct {
	Timestamp           time.Time          `json:"timestamp"`
	StatusChangedAt     *time.Time         `json:"status_changed_at,omitempty"`
	PreviousState       *domain.Blob       `json:"previous_state,omitempty"`
	NewState            *domain.Blob       `json:"new_state,omitempty"`
	Metadata            *domain.Blob       `json:"metadata,omitempty"`
	ID                  string             `json:"id"`
	Type                string             `json:"type"`
	Status              string             `json:"status"`
	Currency            string             `json:"currency"`
	Description         string             `json:"description"`
	PerformedBy         string             `json:"performed_by,omitempty"`
	Notes               string             `json:"notes,omitempty"`
	ReversalOf          string             `json:"reversal_of,omitempty"`
	Amount              decimal.Decimal    `json:"amount"`
	RelatedEntities     []domain.EntityRef `json:"related_entities"`
	RelatedTransactions []string           `json:"related_transactions"`
	Version             int64              `json:"version"`
}

// TransactionFromDomain converts a domain transaction to a response.
func TransactionFromDomain(t *domain.Transaction) *TransactionResponse {
	resp := &TransactionResponse{
		Timestamp:           t.Timestamp,
		StatusChangedAt:     t.StatusChangedAt,
		PreviousState:       t.PreviousState,
		NewState:            t.NewState,
		Metadata:            t.Metadata,
		ID:                  t.ID,
		Type:                string(t.Type),
		Status:              string(t.Status),
		Currency:            t.Currency,
		Description:         t.Description,
		PerformedBy:         t.PerformedBy,
		Notes:               t.Notes,
		ReversalOf:          t.ReversalOf,
		Amount:              t.Amount,
		RelatedEntities:     t.RelatedEntities,
		RelatedTransactions: t.RelatedTransactions,
		Version:             t.Version,
	}
	if resp.RelatedEntities == nil {
		resp.RelatedEntities = []domain.EntityRef{}
	}
	if resp.RelatedTransactions == nil {
		resp.RelatedTransactions = []string{}
	}
	return resp
}

// TransactionsFromDomain converts a list of transactions.
func TransactionsFromDomain(ts []*domain.Transaction) []*TransactionResponse {
	out := make([]*TransactionResponse, len(ts))
	for i, t := range ts {
		out[i] = TransactionFromDomain(t)
	}
	return out
}

// TransactionListResponse wraps a list of transactions.
type TransactionListResponse struct {
	Transactions []*TransactionResponse `json:"transactions"`
	Count        int                    `json:"count"`
}

// NewTransactionList builds a list response.
func NewTransactionList(ts []*domain.Transaction) *TransactionListResponse {
	return &TransactionListResponse{Transactions: TransactionsFromDomain(ts), Count: len(ts)}
}

// TransitionResponse represents one audit trail entry.
type TransitionResponse struct {
	At          time.Time `json:"at"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Reason      string    `json:"reason,omitempty"`
	PerformedBy string    `json:"performed_by,omitempty"`
	ReversalID  string    `json:"reversal_id,omitempty"`
}

// TransitionsFromDomain converts an audit trail.
func TransitionsFromDomain(trs []*domain.Transition) []*TransitionResponse {
	out := make([]*TransitionResponse, len(trs))
	for i, tr := range trs {
		out[i] = &TransitionResponse{
			At:          tr.At,
			From:        string(tr.From),
			To:          string(tr.To),
			Reason:      tr.Reason,
			PerformedBy: tr.PerformedBy,
			ReversalID:  tr.ReversalID,
		}
	}
	return out
}

// EventResponse represents one outbox event of a transaction.
type EventResponse struct {
	CreatedAt   time.Time      `json:"created_at"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
	Payload     map[string]any `json:"payload"`
	ID          string         `json:"id"`
	EventType   string         `json:"event_type"`
	Published   bool           `json:"published"`
}

// EventListResponse wraps a page of events.
type EventListResponse struct {
	Events []*EventResponse `json:"events"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// NewEventList builds a page response.
func NewEventList(events []*domain.OutboxEvent, limit, offset int) *EventListResponse {
	out := make([]*EventResponse, len(events))
	for i, e := range events {
		out[i] = &EventResponse{
			CreatedAt:   e.CreatedAt,
			PublishedAt: e.PublishedAt,
			Payload:     e.Payload,
			ID:          e.ID,
			EventType:   e.EventType,
			Published:   e.Published,
		}
	}
	return &EventListResponse{Events: out, Limit: limit, Offset: offset}
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Rule      string `json:"rule,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}
