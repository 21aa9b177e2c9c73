package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/tripledger/internal/domain"
	"github.com/iho/tripledger/internal/infrastructure/metrics"
)

// Discrepancy kinds reported by CheckLedgerConsistency.
const (
	DiscrepancyMissingReversal   = "missing_reversal"
	DiscrepancyDuplicateReversal = "duplicate_reversal"
	DiscrepancyOrphanReversal    = "orphan_reversal"
	DiscrepancyUnbalancedPair    = "unbalanced_pair"
	DiscrepancyOriginalNotFound  = "original_not_found"
)

var discrepancyKinds = []string{
	DiscrepancyMissingReversal,
	DiscrepancyDuplicateReversal,
	DiscrepancyOrphanReversal,
	DiscrepancyUnbalancedPair,
	DiscrepancyOriginalNotFound,
}

// Discrepancy is one broken reversal link.
type Discrepancy struct {
	TransactionID string `json:"transaction_id"`
	Kind          string `json:"kind"`
	Detail        string `json:"detail"`
}

// ReconciliationReport is the result of a full ledger scan.
type ReconciliationReport struct {
	CheckedAt        time.Time      `json:"checked_at"`
	Discrepancies    []*Discrepancy `json:"discrepancies"`
	TotalRecords     int            `json:"total_records"`
	ReversedRecords  int            `json:"reversed_records"`
	ReversalRecords  int            `json:"reversal_records"`
	LedgerConsistent bool           `json:"ledger_consistent"`
}

// ReconciliationUseCase verifies that reversal pairs are intact.
type ReconciliationUseCase struct {
	store   TransactionStore
	metrics *metrics.Metrics
	now     func() time.Time
	timeout time.Duration
}

// ReconciliationOption customizes a ReconciliationUseCase.
type ReconciliationOption func(*ReconciliationUseCase)

// WithReconciliationMetrics publishes discrepancy counts of each check.
func WithReconciliationMetrics(m *metrics.Metrics) ReconciliationOption {
	return func(uc *ReconciliationUseCase) {
		uc.metrics = m
	}
}

// NewReconciliationUseCase creates a new reconciliation use case.
func NewReconciliationUseCase(store TransactionStore, timeout time.Duration, opts ...ReconciliationOption) *ReconciliationUseCase {
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}

	uc := &ReconciliationUseCase{
		store:   store,
		now:     time.Now,
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// historyStart precedes every record the ledger can hold.
var historyStart = time.Unix(0, 0).UTC()

// CheckLedgerConsistency scans the whole history and checks that every
// reversed record has exactly one reversal, every reversal points at a
// reversed original, and each pair sums to zero.
func (uc *ReconciliationUseCase) CheckLedgerConsistency(ctx context.Context) (*ReconciliationReport, error) {
	ctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	checkedAt := uc.now().UTC()
	report := &ReconciliationReport{
		CheckedAt:     checkedAt,
		Discrepancies: make([]*Discrepancy, 0),
	}

	originals := make(map[string]*domain.Transaction)
	var originalOrder []string
	reversalsOf := make(map[string][]*domain.Transaction)
	var reversalOrder []string

	end := checkedAt.Add(time.Second)
	for t, err := range uc.store.QueryByTimeRange(ctx, historyStart, end) {
		if err != nil {
			return nil, err
		}

		report.TotalRecords++

		if t.IsReversal() {
			report.ReversalRecords++
			if _, seen := reversalsOf[t.ReversalOf]; !seen {
				reversalOrder = append(reversalOrder, t.ReversalOf)
			}
			reversalsOf[t.ReversalOf] = append(reversalsOf[t.ReversalOf], t)
			continue
		}

		if t.Status == domain.StatusReversed {
			report.ReversedRecords++
		}
		originals[t.ID] = t
		originalOrder = append(originalOrder, t.ID)
	}

	for _, originalID := range reversalOrder {
		reversals := reversalsOf[originalID]
		orig, ok := originals[originalID]

		switch {
		case !ok:
			report.add(originalID, DiscrepancyOriginalNotFound,
				fmt.Sprintf("reversal %s points at a record outside the ledger", reversals[0].ID))
			continue
		case orig.Status != domain.StatusReversed:
			report.add(originalID, DiscrepancyOrphanReversal,
				fmt.Sprintf("reversal %s exists but original is %s", reversals[0].ID, orig.Status))
		case len(reversals) > 1:
			report.add(originalID, DiscrepancyDuplicateReversal,
				fmt.Sprintf("%d reversal records", len(reversals)))
		}

		if sum := orig.Amount.Add(reversals[0].Amount); !sum.IsZero() {
			report.add(originalID, DiscrepancyUnbalancedPair,
				fmt.Sprintf("original %s plus reversal %s nets to %s", orig.Amount, reversals[0].Amount, sum))
		}
	}

	for _, id := range originalOrder {
		if originals[id].Status == domain.StatusReversed && len(reversalsOf[id]) == 0 {
			report.add(id, DiscrepancyMissingReversal, "record is reversed but no reversal record exists")
		}
	}

	report.LedgerConsistent = len(report.Discrepancies) == 0
	uc.publish(ctx, report)

	return report, nil
}

func (uc *ReconciliationUseCase) publish(ctx context.Context, report *ReconciliationReport) {
	counts := make(map[string]int, len(discrepancyKinds))
	for _, d := range report.Discrepancies {
		counts[d.Kind]++
		zerolog.Ctx(ctx).Warn().
			Str("transaction_id", d.TransactionID).
			Str("kind", d.Kind).
			Msg(d.Detail)
	}

	if uc.metrics == nil {
		return
	}
	for _, kind := range discrepancyKinds {
		uc.metrics.ConsistencyDiscrepancies.WithLabelValues(kind).Set(float64(counts[kind]))
	}
}

func (r *ReconciliationReport) add(id, kind, detail string) {
	r.Discrepancies = append(r.Discrepancies, &Discrepancy{TransactionID: id, Kind: kind, Detail: detail})
}
