package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/iho/tripledger/internal/domain"
	"github.com/iho/tripledger/internal/usecase"
	"github.com/iho/tripledger/internal/usecase/mocks"
)

var _ usecase.TransactionStore = (*TransactionRepository)(nil)

var transactionColumns = []string{
	"id", "type", "status", "amount", "currency", "description", "performed_by", "notes",
	"reversal_of", "related_transactions", "created_at", "status_changed_at", "version",
}

var outboxColumns = []string{
	"id", "aggregate_id", "aggregate_type", "event_type", "payload", "created_at", "published_at", "published",
}

var createdAt = time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)

func sql(s string) string {
	return regexp.QuoteMeta(s)
}

func fastRetrier() *Retrier {
	return NewRetrier(zerolog.Nop(), WithRetryPolicy(RetryPolicy{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}))
}

func newTestRepo(t *testing.T) (*TransactionRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	pool := newMockPool(t)
	repo := newTransactionRepository(pool, newOutboxRepository(pool), fastRetrier(), mocks.NewSequentialIDGenerator())
	return repo, pool
}

func sampleRecord() *domain.Transaction {
	return &domain.Transaction{
		ID:          "tx-1",
		Type:        domain.TypePaymentReceived,
		Status:      domain.StatusPending,
		Amount:      decimal.RequireFromString("500.25"),
		Currency:    "USD",
		Description: "deposit",
		Timestamp:   createdAt,
		RelatedEntities: []domain.EntityRef{
			{Kind: domain.EntityInvoice, ID: "inv-1"},
			{Kind: domain.EntityCustomer, ID: "cust-1"},
		},
		NewState: &domain.Blob{Schema: "invoice", Version: 2, Data: []byte(`{"paid": "500.25"}`)},
	}
}

func expectOutboxInsert(pool pgxmock.PgxPoolIface, eventType string) {
	pool.ExpectQuery(sql("INSERT INTO outbox_events")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), domain.AggregateTypeTransaction, eventType,
			pgxmock.AnyArg(), pgxmock.AnyArg(), false).
		WillReturnRows(pgxmock.NewRows(outboxColumns).AddRow(
			"mock-id-1", "tx-1", domain.AggregateTypeTransaction, eventType, []byte(`{}`),
			timeToPgTimestamptz(createdAt), pgtype.Timestamptz{}, false,
		))
}

// expectInsertRecord matches the InsertTransaction arguments, pinning the
// identifying and status columns.
func expectInsertRecord(pool pgxmock.PgxPoolIface, t *domain.Transaction) *pgxmock.ExpectedExec {
	return pool.ExpectExec(sql("INSERT INTO ledger_transactions (")).
		WithArgs(t.ID, string(t.Type), string(t.Status), pgxmock.AnyArg(), t.Currency, t.Description,
			t.PerformedBy, t.Notes, optionalText(t.ReversalOf), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), t.Version)
}

// expectHydrate matches the entity and snapshot lookups for one page of ids.
func expectHydrate(pool pgxmock.PgxPoolIface, ids []string, entities, snapshots *pgxmock.Rows) {
	pool.ExpectQuery(sql("FROM ledger_transaction_entities")).
		WithArgs(ids).
		WillReturnRows(entities)
	pool.ExpectQuery(sql("FROM ledger_snapshots")).
		WithArgs(ids).
		WillReturnRows(snapshots)
}

func entityRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"transaction_id", "position", "entity_kind", "entity_id"})
}

func snapshotRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"transaction_id", "slot", "schema_name", "schema_version", "data"})
}

func transactionRow(id string, status domain.TransactionStatus) []any {
	return []any{
		id, "payment_received", string(status), decimalToNumeric(decimal.RequireFromString("500.25")),
		"USD", "deposit", "", "", pgtype.Text{}, []string{}, timeToPgTimestamptz(createdAt),
		pgtype.Timestamptz{}, int64(0),
	}
}

func TestTransactionRepository_Append(t *testing.T) {
	repo, pool := newTestRepo(t)
	rec := sampleRecord()

	pool.ExpectBegin()
	expectInsertRecord(pool, rec).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec(sql("INSERT INTO ledger_transaction_entities")).
		WithArgs("tx-1", int32(0), "invoice", "inv-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec(sql("INSERT INTO ledger_transaction_entities")).
		WithArgs("tx-1", int32(1), "customer", "cust-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec(sql("INSERT INTO ledger_snapshots")).
		WithArgs("tx-1", slotNewState, "invoice", int32(2), []byte(`{"paid": "500.25"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectOutboxInsert(pool, domain.EventTypeTransactionRecorded)
	pool.ExpectCommit()

	require.NoError(t, repo.Append(context.Background(), rec))
	assertExpectations(t, pool)
}

func TestTransactionRepository_AppendWithoutOutbox(t *testing.T) {
	pool := newMockPool(t)
	repo := newTransactionRepository(pool, nil, fastRetrier(), mocks.NewSequentialIDGenerator())
	rec := sampleRecord()
	rec.RelatedEntities = nil
	rec.NewState = nil

	pool.ExpectBegin()
	expectInsertRecord(pool, rec).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectCommit()

	require.NoError(t, repo.Append(context.Background(), rec))
	assertExpectations(t, pool)
}

func TestTransactionRepository_AppendDuplicate(t *testing.T) {
	repo, pool := newTestRepo(t)
	rec := sampleRecord()

	pool.ExpectBegin()
	expectInsertRecord(pool, rec).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: constraintTransactionsPkey})
	pool.ExpectRollback()

	err := repo.Append(context.Background(), rec)
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
	assertExpectations(t, pool)
}

func TestTransactionRepository_AppendRetriesSerializationFailure(t *testing.T) {
	repo, pool := newTestRepo(t)
	rec := sampleRecord()
	rec.RelatedEntities = nil
	rec.NewState = nil

	pool.ExpectBegin()
	expectInsertRecord(pool, rec).
		WillReturnError(&pgconn.PgError{Code: pgErrSerializationFailure})
	pool.ExpectRollback()

	pool.ExpectBegin()
	expectInsertRecord(pool, rec).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectOutboxInsert(pool, domain.EventTypeTransactionRecorded)
	pool.ExpectCommit()

	require.NoError(t, repo.Append(context.Background(), rec))
	assertExpectations(t, pool)
}

func TestTransactionRepository_WritesRunThroughRetrier(t *testing.T) {
	ctrl := gomock.NewController(t)
	retrier := mocks.NewMockRetrier(ctrl)
	pool := newMockPool(t)
	repo := newTransactionRepository(pool, nil, retrier, mocks.NewSequentialIDGenerator())
	rec := sampleRecord()
	rec.RelatedEntities = nil
	rec.NewState = nil

	// A single attempt: the conflict is surfaced, not retried here.
	retrier.EXPECT().Retry(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, op func() error) error { return op() })
	pool.ExpectBegin()
	expectInsertRecord(pool, rec).
		WillReturnError(&pgconn.PgError{Code: pgErrSerializationFailure})
	pool.ExpectRollback()

	err := repo.Append(context.Background(), rec)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
	assertExpectations(t, pool)

	retrier.EXPECT().Retry(gomock.Any(), gomock.Any()).Return(context.DeadlineExceeded)

	err = repo.Append(context.Background(), rec)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTransactionRepository_OutboxEventIDFromGenerator(t *testing.T) {
	ctrl := gomock.NewController(t)
	ids := mocks.NewMockIDGenerator(ctrl)
	pool := newMockPool(t)
	repo := newTransactionRepository(pool, newOutboxRepository(pool), fastRetrier(), ids)
	rec := sampleRecord()
	rec.RelatedEntities = nil
	rec.NewState = nil

	ids.EXPECT().Generate().Return("evt-7")
	pool.ExpectBegin()
	expectInsertRecord(pool, rec).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectQuery(sql("INSERT INTO outbox_events")).
		WithArgs("evt-7", "tx-1", domain.AggregateTypeTransaction, domain.EventTypeTransactionRecorded,
			pgxmock.AnyArg(), pgxmock.AnyArg(), false).
		WillReturnRows(pgxmock.NewRows(outboxColumns).AddRow(
			"evt-7", "tx-1", domain.AggregateTypeTransaction, domain.EventTypeTransactionRecorded, []byte(`{}`),
			timeToPgTimestamptz(createdAt), pgtype.Timestamptz{}, false,
		))
	pool.ExpectCommit()

	require.NoError(t, repo.Append(context.Background(), rec))
	assertExpectations(t, pool)
}

func TestTransactionRepository_AppendConnectionLost(t *testing.T) {
	repo, pool := newTestRepo(t)

	pool.ExpectBegin().WillReturnError(errors.New("dial tcp: connection refused"))

	err := repo.Append(context.Background(), sampleRecord())
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.True(t, domain.IsRetryable(err))
}

func TestTransactionRepository_Get(t *testing.T) {
	repo, pool := newTestRepo(t)

	pool.ExpectQuery(sql("FROM ledger_transactions WHERE id = $1")).
		WithArgs("tx-1").
		WillReturnRows(pgxmock.NewRows(transactionColumns).AddRow(transactionRow("tx-1", domain.StatusPending)...))
	expectHydrate(pool, []string{"tx-1"},
		entityRows().
			AddRow("tx-1", int32(0), "invoice", "inv-1").
			AddRow("tx-1", int32(1), "customer", "cust-1"),
		snapshotRows().
			AddRow("tx-1", slotNewState, "invoice", int32(2), []byte(`{"paid": "500.25"}`)))

	got, err := repo.Get(context.Background(), "tx-1")
	require.NoError(t, err)

	want := sampleRecord()
	assert.Equal(t, want.ID, got.ID)
	assert.True(t, want.Amount.Equal(got.Amount), got.Amount.String())
	assert.Equal(t, want.RelatedEntities, got.RelatedEntities)
	assert.True(t, want.NewState.Equal(got.NewState))
	assert.Nil(t, got.PreviousState)
	assert.True(t, got.Timestamp.Equal(createdAt))
	assert.Empty(t, got.ReversalOf)
	assertExpectations(t, pool)
}

func TestTransactionRepository_GetNotFound(t *testing.T) {
	repo, pool := newTestRepo(t)

	pool.ExpectQuery(sql("FROM ledger_transactions WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func completeTransition(t *testing.T) *domain.Transition {
	t.Helper()
	tr, err := domain.NewTransition("tx-1", domain.StatusPending, domain.StatusCompleted, "", "clerk", createdAt.Add(time.Minute))
	require.NoError(t, err)
	return tr
}

func TestTransactionRepository_UpdateStatus(t *testing.T) {
	repo, pool := newTestRepo(t)

	pool.ExpectBegin()
	pool.ExpectExec(sql("UPDATE ledger_transactions")).
		WithArgs("tx-1", "pending", "completed", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	pool.ExpectExec(sql("INSERT INTO ledger_transitions")).
		WithArgs("tx-1", "pending", "completed", "", "clerk", pgtype.Text{}, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectOutboxInsert(pool, domain.EventTypeTransactionCompleted)
	pool.ExpectCommit()

	require.NoError(t, repo.UpdateStatus(context.Background(), "tx-1", completeTransition(t)))
	assertExpectations(t, pool)
}

func TestTransactionRepository_UpdateStatusLostRace(t *testing.T) {
	repo, pool := newTestRepo(t)

	pool.ExpectBegin()
	pool.ExpectExec(sql("UPDATE ledger_transactions")).
		WithArgs("tx-1", "pending", "completed", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	pool.ExpectQuery(sql("SELECT status FROM ledger_transactions")).
		WithArgs("tx-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("failed"))
	pool.ExpectRollback()

	err := repo.UpdateStatus(context.Background(), "tx-1", completeTransition(t))
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
	assertExpectations(t, pool)
}

func TestTransactionRepository_UpdateStatusMissing(t *testing.T) {
	repo, pool := newTestRepo(t)

	pool.ExpectBegin()
	pool.ExpectExec(sql("UPDATE ledger_transactions")).
		WithArgs("tx-1", "pending", "completed", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	pool.ExpectQuery(sql("SELECT status FROM ledger_transactions")).
		WithArgs("tx-1").
		WillReturnError(pgx.ErrNoRows)
	pool.ExpectRollback()

	err := repo.UpdateStatus(context.Background(), "tx-1", completeTransition(t))
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestTransactionRepository_UpdateStatusIllegalMove(t *testing.T) {
	repo, pool := newTestRepo(t)

	err := repo.UpdateStatus(context.Background(), "tx-1", &domain.Transition{
		TransactionID: "tx-1",
		From:          domain.StatusFailed,
		To:            domain.StatusPending,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assertExpectations(t, pool)
}

func TestTransactionRepository_AppendReversalLosesToUniqueReversal(t *testing.T) {
	repo, pool := newTestRepo(t)

	reversal := sampleRecord()
	reversal.ID = "rev-1"
	reversal.Status = domain.StatusCompleted
	reversal.Amount = reversal.Amount.Neg()
	reversal.ReversalOf = "tx-1"
	reversal.RelatedTransactions = []string{"tx-1"}
	reversal.RelatedEntities = nil
	reversal.NewState = nil

	tr, err := domain.NewTransition("tx-1", domain.StatusCompleted, domain.StatusReversed, "dup", "", createdAt)
	require.NoError(t, err)
	tr.ReversalID = reversal.ID

	pool.ExpectBegin()
	pool.ExpectExec(sql("UPDATE ledger_transactions")).
		WithArgs("tx-1", "completed", "reversed", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectInsertRecord(pool, reversal).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: constraintReversalOfKey})
	pool.ExpectRollback()

	err = repo.AppendReversal(context.Background(), reversal, tr)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
	assertExpectations(t, pool)
}

func TestTransactionRepository_QueryByTimeRangePages(t *testing.T) {
	repo, pool := newTestRepo(t)
	repo.pageSize = 2

	pool.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	pool.ExpectQuery(sql("FROM ledger_transactions\nWHERE created_at >= $1")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "", int32(2)).
		WillReturnRows(pgxmock.NewRows(transactionColumns).
			AddRow(transactionRow("a", domain.StatusCompleted)...).
			AddRow(transactionRow("b", domain.StatusPending)...))
	expectHydrate(pool, []string{"a", "b"}, entityRows(), snapshotRows())
	pool.ExpectQuery(sql("FROM ledger_transactions\nWHERE created_at >= $1")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "b", int32(2)).
		WillReturnRows(pgxmock.NewRows(transactionColumns).
			AddRow(transactionRow("c", domain.StatusFailed)...))
	expectHydrate(pool, []string{"c"}, entityRows(), snapshotRows())
	pool.ExpectRollback()

	records, err := usecase.Collect(repo.QueryByTimeRange(context.Background(), createdAt, createdAt.Add(time.Hour)))
	require.NoError(t, err)

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assertExpectations(t, pool)
}

func TestTransactionRepository_Exists(t *testing.T) {
	repo, pool := newTestRepo(t)

	pool.ExpectQuery(sql("SELECT id FROM ledger_transactions WHERE id = ANY")).
		WithArgs([]string{"a", "b", "c"}).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("b"))

	missing, err := repo.Exists(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, missing)

	missing, err = repo.Exists(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, missing)
	assertExpectations(t, pool)
}

func TestTransactionRepository_Transitions(t *testing.T) {
	repo, pool := newTestRepo(t)

	pool.ExpectQuery(sql("FROM ledger_transitions")).
		WithArgs("tx-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "transaction_id", "from_status", "to_status", "reason", "performed_by", "reversal_id", "created_at"}).
			AddRow(int64(1), "tx-1", "pending", "completed", "", "clerk", pgtype.Text{}, timeToPgTimestamptz(createdAt)).
			AddRow(int64(2), "tx-1", "completed", "reversed", "dup", "", pgtype.Text{String: "rev-1", Valid: true}, timeToPgTimestamptz(createdAt.Add(time.Hour))))

	facts, err := repo.Transitions(context.Background(), "tx-1")
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, domain.StatusCompleted, facts[0].To)
	assert.Equal(t, "rev-1", facts[1].ReversalID)
	assert.Empty(t, facts[0].ReversalID)
	assertExpectations(t, pool)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"duplicate id", &pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: constraintTransactionsPkey}, domain.ErrDuplicateID},
		{"second reversal", &pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: constraintReversalOfKey}, domain.ErrConcurrentModification},
		{"deadlock after retries", &pgconn.PgError{Code: pgErrDeadlock}, domain.ErrConcurrentModification},
		{"connection exception", &pgconn.PgError{Code: "08006"}, domain.ErrStorageUnavailable},
		{"deadline", context.DeadlineExceeded, domain.ErrStorageUnavailable},
		{"domain error passes", domain.ErrTransactionNotFound, domain.ErrTransactionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tt.in), tt.want)
		})
	}

	assert.NoError(t, mapError(nil))
}
