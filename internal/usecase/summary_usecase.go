package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iho/tripledger/internal/domain"
)

// ErrInvalidPeriod is returned when a period ends before it starts.
var ErrInvalidPeriod = errors.New("period start must not be after end")

// Aggregator computes read-only period summaries.
type Aggregator struct {
	store TransactionStore
}

// NewAggregator creates a new Aggregator.
func NewAggregator(store TransactionStore) *Aggregator {
	return &Aggregator{store: store}
}

// Summarize tallies records with start <= timestamp < end. An empty period
// (start equal to end) yields a zero-filled summary.
//
// Counts include every record. Money totals include completed money-in and
// money-out records only; a reversed original and its reversal record are
// both left out, so a reversal pair never moves the totals.
func (a *Aggregator) Summarize(ctx context.Context, start, end time.Time) (*domain.TransactionSummary, error) {
	if err := checkPeriod(start, end); err != nil {
		return nil, err
	}

	summary := domain.NewTransactionSummary(start.UTC(), end.UTC())
	if start.Equal(end) {
		return summary, nil
	}

	// The store yields (timestamp, id) order, which keeps decimal sums reproducible.
	for t, err := range a.store.QueryByTimeRange(ctx, start, end) {
		if err != nil {
			return nil, err
		}
		summary.Add(t)
	}

	return summary, nil
}

func checkPeriod(start, end time.Time) error {
	if end.Before(start) {
		return fmt.Errorf("%w: [%s, %s)", ErrInvalidPeriod, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return nil
}
