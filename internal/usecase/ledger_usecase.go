package usecase

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/tripledger/internal/domain"
	"github.com/iho/tripledger/internal/infrastructure/metrics"
)

// Event page bounds for Events.
const (
	DefaultEventPageSize = 50
	MaxEventPageSize     = 500
)

// ErrEventLogDisabled is returned by Events when no outbox is wired in.
var ErrEventLogDisabled = errors.New("event log is not configured")

// LedgerUseCase is the boundary the rest of the application calls.
type LedgerUseCase struct {
	store      TransactionStore
	events     OutboxRepository
	validator  *Validator
	engine     *StateEngine
	aggregator *Aggregator
	idGen      IDGenerator
	metrics    *metrics.Metrics
	now        func() time.Time
	timeout    time.Duration
}

// LedgerOption customizes a LedgerUseCase.
type LedgerOption func(*LedgerUseCase)

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) LedgerOption {
	return func(uc *LedgerUseCase) {
		uc.now = now
	}
}

// WithOperationTimeout bounds each call that touches storage.
func WithOperationTimeout(d time.Duration) LedgerOption {
	return func(uc *LedgerUseCase) {
		if d > 0 {
			uc.timeout = d
		}
	}
}

// WithMetrics records operation counts, durations and errors.
func WithMetrics(m *metrics.Metrics) LedgerOption {
	return func(uc *LedgerUseCase) {
		uc.metrics = m
	}
}

// WithEventLog exposes the outbox events written alongside each record.
func WithEventLog(outbox OutboxRepository) LedgerOption {
	return func(uc *LedgerUseCase) {
		uc.events = outbox
	}
}

// NewLedgerUseCase wires the validator, state engine and aggregator over store.
func NewLedgerUseCase(
	store TransactionStore,
	entities EntityResolver,
	idGen IDGenerator,
	currencies domain.CurrencySet,
	opts ...LedgerOption,
) *LedgerUseCase {
	uc := &LedgerUseCase{
		store:   store,
		idGen:   idGen,
		now:     time.Now,
		timeout: DefaultOperationTimeout,
	}
	for _, opt := range opts {
		opt(uc)
	}

	uc.validator = NewValidator(store, entities, currencies)
	uc.engine = NewStateEngine(store, uc.validator, idGen, uc.now)
	uc.aggregator = NewAggregator(store)

	return uc
}

// RecordInput is a candidate record. ID is optional; the ledger assigns
// one when empty. Amount is required and must match the type's polarity.
type RecordInput struct {
	Amount              *decimal.Decimal
	PreviousState       *domain.Blob
	NewState            *domain.Blob
	Metadata            *domain.Blob
	ID                  string
	Type                domain.TransactionType
	Currency            string
	Description         string
	PerformedBy         string
	Notes               string
	RelatedEntities     []domain.EntityRef
	RelatedTransactions []string
}

// Record validates and appends a new pending record.
func (uc *LedgerUseCase) Record(ctx context.Context, input RecordInput) (t *domain.Transaction, err error) {
	ctx, cancel := uc.withTimeout(ctx)
	defer cancel()
	defer uc.observe("record", time.Now(), &err)

	if input.Amount == nil {
		return nil, domain.NewValidationError(domain.RuleRequiredFields, "amount", domain.ErrMissingField)
	}

	id := input.ID
	if id == "" {
		id = uc.idGen.Generate()
	}

	t = &domain.Transaction{
		ID:                  id,
		Type:                input.Type,
		Status:              domain.StatusPending,
		Amount:              *input.Amount,
		Currency:            input.Currency,
		Description:         input.Description,
		Timestamp:           uc.now().UTC().Truncate(time.Microsecond),
		PerformedBy:         input.PerformedBy,
		Notes:               input.Notes,
		PreviousState:       input.PreviousState.Clone(),
		NewState:            input.NewState.Clone(),
		Metadata:            input.Metadata.Clone(),
		RelatedEntities:     slices.Clone(input.RelatedEntities),
		RelatedTransactions: slices.Clone(input.RelatedTransactions),
	}

	// Codes are stored in canonical upper case. Malformed codes are left
	// as given for the validator to reject.
	if normalized, err := domain.NormalizeCurrency(t.Currency); err == nil {
		t.Currency = normalized
	}

	if err := uc.validator.Validate(ctx, t); err != nil {
		return nil, err
	}

	if err := uc.store.Append(ctx, t); err != nil {
		if errors.Is(err, domain.ErrDuplicateID) {
			zerolog.Ctx(ctx).Error().Err(err).Str("transaction_id", t.ID).Msg("duplicate transaction id")
		}
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.RecordsAppended.WithLabelValues(string(t.Type)).Inc()
		uc.metrics.RecordedAmount.WithLabelValues(t.Currency).Observe(t.Amount.Abs().InexactFloat64())
	}

	return t, nil
}

// Complete moves a pending record to completed.
func (uc *LedgerUseCase) Complete(ctx context.Context, id, performedBy string) (t *domain.Transaction, err error) {
	ctx, cancel := uc.withTimeout(ctx)
	defer cancel()
	defer uc.observe("complete", time.Now(), &err)

	t, err = uc.engine.Complete(ctx, id, performedBy)
	if err == nil && uc.metrics != nil {
		uc.metrics.StatusTransitions.WithLabelValues(string(domain.StatusCompleted)).Inc()
	}
	return t, err
}

// Fail moves a pending record to failed.
func (uc *LedgerUseCase) Fail(ctx context.Context, id, reason, performedBy string) (t *domain.Transaction, err error) {
	ctx, cancel := uc.withTimeout(ctx)
	defer cancel()
	defer uc.observe("fail", time.Now(), &err)

	t, err = uc.engine.Fail(ctx, id, reason, performedBy)
	if err == nil && uc.metrics != nil {
		uc.metrics.StatusTransitions.WithLabelValues(string(domain.StatusFailed)).Inc()
	}
	return t, err
}

// Reverse compensates a completed record and returns the new reversal record.
func (uc *LedgerUseCase) Reverse(ctx context.Context, id, reason, performedBy string) (t *domain.Transaction, err error) {
	ctx, cancel := uc.withTimeout(ctx)
	defer cancel()
	defer uc.observe("reverse", time.Now(), &err)

	t, err = uc.engine.Reverse(ctx, id, reason, performedBy)
	if err == nil && uc.metrics != nil {
		uc.metrics.StatusTransitions.WithLabelValues(string(domain.StatusReversed)).Inc()
		uc.metrics.Reversals.Inc()
	}
	return t, err
}

// Get returns a record by id.
func (uc *LedgerUseCase) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	ctx, cancel := uc.withTimeout(ctx)
	defer cancel()

	return uc.store.Get(ctx, id)
}

// Transitions returns the status audit trail of a record, oldest first.
func (uc *LedgerUseCase) Transitions(ctx context.Context, id string) ([]*domain.Transition, error) {
	ctx, cancel := uc.withTimeout(ctx)
	defer cancel()

	if _, err := uc.store.Get(ctx, id); err != nil {
		return nil, err
	}

	return uc.store.Transitions(ctx, id)
}

// Events pages through the outbox events of a record, oldest first. A
// reversal is reported on the original record.
func (uc *LedgerUseCase) Events(ctx context.Context, id string, limit, offset int) ([]*domain.OutboxEvent, error) {
	if uc.events == nil {
		return nil, ErrEventLogDisabled
	}

	ctx, cancel := uc.withTimeout(ctx)
	defer cancel()

	if _, err := uc.store.Get(ctx, id); err != nil {
		return nil, err
	}

	switch {
	case limit <= 0:
		limit = DefaultEventPageSize
	case limit > MaxEventPageSize:
		limit = MaxEventPageSize
	}
	offset = max(offset, 0)

	return uc.events.GetByAggregate(ctx, domain.AggregateTypeTransaction, id, limit, offset)
}

// QueryByEntity yields the history of one business entity, oldest first.
func (uc *LedgerUseCase) QueryByEntity(ctx context.Context, kind domain.EntityKind, entityID string) iter.Seq2[*domain.Transaction, error] {
	return func(yield func(*domain.Transaction, error) bool) {
		if !kind.IsValid() {
			yield(nil, domain.NewValidationError(domain.RuleRequiredFields, "kind",
				fmt.Errorf("%w: %q", domain.ErrUnknownEntityKind, kind)))
			return
		}

		ctx, cancel := uc.withTimeout(ctx)
		defer cancel()

		for t, err := range uc.store.QueryByEntity(ctx, kind, entityID) {
			if !yield(t, err) || err != nil {
				return
			}
		}
	}
}

// QueryByTimeRange yields records with start <= timestamp < end, oldest first.
// An empty period yields nothing.
func (uc *LedgerUseCase) QueryByTimeRange(ctx context.Context, start, end time.Time) iter.Seq2[*domain.Transaction, error] {
	return func(yield func(*domain.Transaction, error) bool) {
		if err := checkPeriod(start, end); err != nil {
			yield(nil, err)
			return
		}
		if start.Equal(end) {
			return
		}

		ctx, cancel := uc.withTimeout(ctx)
		defer cancel()

		for t, err := range uc.store.QueryByTimeRange(ctx, start, end) {
			if !yield(t, err) || err != nil {
				return
			}
		}
	}
}

// Summarize computes the period summary for [start, end).
func (uc *LedgerUseCase) Summarize(ctx context.Context, start, end time.Time) (s *domain.TransactionSummary, err error) {
	ctx, cancel := uc.withTimeout(ctx)
	defer cancel()
	defer uc.observe("summarize", time.Now(), &err)

	return uc.aggregator.Summarize(ctx, start, end)
}

func (uc *LedgerUseCase) observe(operation string, start time.Time, err *error) {
	if uc.metrics == nil {
		return
	}
	uc.metrics.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if *err != nil {
		uc.metrics.OperationErrors.WithLabelValues(operation, metrics.ErrorKind(*err)).Inc()
	}
}

func (uc *LedgerUseCase) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, uc.timeout)
}

// Collect drains a record sequence into a slice, stopping at the first error.
func Collect(seq iter.Seq2[*domain.Transaction, error]) ([]*domain.Transaction, error) {
	records := []*domain.Transaction{}
	for t, err := range seq {
		if err != nil {
			return nil, err
		}
		records = append(records, t)
	}
	return records, nil
}
