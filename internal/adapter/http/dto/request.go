package dto

import (
	"github.com/shopspring/decimal"

	"github.com/iho/tripledger/internal/domain"
	"github.com/iho/tripledger/internal/usecase"
)

// RecordTransactionRequest represents a request to record a transaction.
type RecordTransactionRequest struct {
	Amount              *decimal.Decimal   `json:"amount"`
	PreviousState       *domain.Blob       `json:"previous_state,omitempty"`
	NewState            *domain.Blob       `json:"new_state,omitempty"`
	Metadata            *domain.Blob       `json:"metadata,omitempty"`
	ID                  string             `json:"id,omitempty"`
	Type                string             `json:"type"`
	Currency            string             `json:"currency"`
	Description         string             `json:"description"`
	PerformedBy         string             `json:"performed_by,omitempty"`
	Notes               string             `json:"notes,omitempty"`
	RelatedEntities     []domain.EntityRef `json:"related_entities,omitempty"`
	RelatedTransactions []string           `json:"related_transactions,omitempty"`
}

// ToUseCaseInput converts to use case input. A non-empty actor overrides
// the performed_by field of the body.
func (r *RecordTransactionRequest) ToUseCaseInput(actor string) usecase.RecordInput {
	performedBy := r.PerformedBy
	if actor != "" {
		performedBy = actor
	}
	return usecase.RecordInput{
		Amount:              r.Amount,
		PreviousState:       r.PreviousState,
		NewState:            r.NewState,
		Metadata:            r.Metadata,
		ID:                  r.ID,
		Type:                domain.TransactionType(r.Type),
		Currency:            r.Currency,
		Description:         r.Description,
		PerformedBy:         performedBy,
		Notes:               r.Notes,
		RelatedEntities:     r.RelatedEntities,
		RelatedTransactions: r.RelatedTransactions,
	}
}

// TransitionRequest is the body of complete, fail and reverse calls.
type TransitionRequest struct {
	Reason      string `json:"reason,omitempty"`
	PerformedBy string `json:"performed_by,omitempty"`
}

// Actor returns the header actor when set, else the body field.
func (r *TransitionRequest) Actor(header string) string {
	if header != "" {
		return header
	}
	return r.PerformedBy
}
