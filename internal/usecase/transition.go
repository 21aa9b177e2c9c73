package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/iho/tripledger/internal/domain"
)

// StateEngine drives the record lifecycle:
// pending -> completed | failed, completed -> reversed.
type StateEngine struct {
	store     TransactionStore
	validator *Validator
	idGen     IDGenerator
	now       func() time.Time
}

// NewStateEngine creates a StateEngine. now defaults to time.Now.
func NewStateEngine(store TransactionStore, validator *Validator, idGen IDGenerator, now func() time.Time) *StateEngine {
	if now == nil {
		now = time.Now
	}

	return &StateEngine{
		store:     store,
		validator: validator,
		idGen:     idGen,
		now:       now,
	}
}

// Complete moves a pending record to completed.
func (e *StateEngine) Complete(ctx context.Context, id, performedBy string) (*domain.Transaction, error) {
	return e.transition(ctx, id, domain.StatusCompleted, "", performedBy)
}

// Fail moves a pending record to failed.
func (e *StateEngine) Fail(ctx context.Context, id, reason, performedBy string) (*domain.Transaction, error) {
	return e.transition(ctx, id, domain.StatusFailed, reason, performedBy)
}

func (e *StateEngine) transition(ctx context.Context, id string, to domain.TransactionStatus, reason, performedBy string) (*domain.Transaction, error) {
	current, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	tr, err := domain.NewTransition(id, current.Status, to, reason, performedBy, e.stamp())
	if err != nil {
		return nil, fmt.Errorf("%s is %s: %w", id, current.Status, err)
	}

	if err := e.store.UpdateStatus(ctx, id, tr); err != nil {
		return nil, err
	}

	if err := current.Apply(tr); err != nil {
		return nil, err
	}

	return current, nil
}

// Reverse compensates a completed record with a new record of equal and
// opposite amount and stamps the original reversed. Only one of several
// racing reversals can win; the others get ErrConcurrentModification.
func (e *StateEngine) Reverse(ctx context.Context, id, reason, performedBy string) (*domain.Transaction, error) {
	original, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if original.IsReversal() {
		return nil, fmt.Errorf("%w: %s is itself a reversal of %s", domain.ErrInvalidTransition, id, original.ReversalOf)
	}

	now := e.stamp()

	tr, err := domain.NewTransition(id, original.Status, domain.StatusReversed, reason, performedBy, now)
	if err != nil {
		return nil, fmt.Errorf("%s is %s: %w", id, original.Status, err)
	}

	reversal := buildReversal(original, e.idGen.Generate(), reason, performedBy, now)
	tr.ReversalID = reversal.ID

	if err := e.validator.ValidateReversal(reversal); err != nil {
		return nil, err
	}

	if err := e.store.AppendReversal(ctx, reversal, tr); err != nil {
		return nil, err
	}

	return reversal, nil
}

// stamp truncates to the precision every store can hold.
func (e *StateEngine) stamp() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

func buildReversal(original *domain.Transaction, id, reason, performedBy string, now time.Time) *domain.Transaction {
	description := "Reversal of " + original.ID
	if reason != "" {
		description += ": " + reason
	}

	reversal := &domain.Transaction{
		ID:                  id,
		Type:                original.Type,
		Status:              domain.StatusCompleted,
		Amount:              domain.Negate(original.Amount),
		Currency:            original.Currency,
		Description:         description,
		Timestamp:           now,
		PerformedBy:         performedBy,
		Notes:               reason,
		ReversalOf:          original.ID,
		RelatedTransactions: []string{original.ID},
		// The reversal undoes the original's effect on the entity.
		PreviousState: original.NewState.Clone(),
		NewState:      original.PreviousState.Clone(),
	}

	if len(original.RelatedEntities) > 0 {
		reversal.RelatedEntities = append([]domain.EntityRef(nil), original.RelatedEntities...)
	}

	return reversal
}
