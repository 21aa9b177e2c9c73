package domain

import (
	"fmt"
	"time"
)

// Transition is the audit fact written for every status change.
type Transition struct {
	At            time.Time
	TransactionID string
	From          TransactionStatus
	To            TransactionStatus
	Reason        string
	PerformedBy   string
	// ReversalID is set when the transition was caused by a reversal record.
	ReversalID string
}

// allowedTransitions is the lifecycle graph. Failed and reversed are terminal.
var allowedTransitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:   {StatusCompleted, StatusFailed},
	StatusCompleted: {StatusReversed},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s TransactionStatus) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

// NewTransition builds an audit fact after checking the move is legal.
func NewTransition(id string, from, to TransactionStatus, reason, performedBy string, at time.Time) (*Transition, error) {
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	return &Transition{
		At:            at.UTC(),
		TransactionID: id,
		From:          from,
		To:            to,
		Reason:        reason,
		PerformedBy:   performedBy,
	}, nil
}

// Apply moves t to the transition's target status. The caller must hold
// whatever lock or condition guarantees t.Status == tr.From.
func (t *Transaction) Apply(tr *Transition) error {
	if t.Status != tr.From {
		return fmt.Errorf("%w: %s is %s, expected %s", ErrConcurrentModification, t.ID, t.Status, tr.From)
	}
	if !CanTransition(tr.From, tr.To) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tr.From, tr.To)
	}

	at := tr.At
	t.Status = tr.To
	t.StatusChangedAt = &at
	t.Version++

	return nil
}
