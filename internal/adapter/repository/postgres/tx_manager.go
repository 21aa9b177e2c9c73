package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/tripledger/internal/infrastructure/postgres/generated"
	"github.com/iho/tripledger/internal/usecase"
)

type pgxPool interface {
	BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error)
}

var (
	// Writes rely on row-level compare-and-set, so the server default
	// isolation is enough.
	writeTxOptions = pgx.TxOptions{}
	// Scans page through one consistent snapshot.
	snapshotTxOptions = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
)

// errNotLedgerTx is returned when a foreign usecase.Transaction reaches
// a postgres repository.
var errNotLedgerTx = errors.New("postgres: transaction was not opened by TxManager")

// TxManager opens the write transactions shared with the outbox and the
// snapshot transactions used by paged scans.
type TxManager struct {
	pool pgxPool
}

// NewTxManager creates a new TxManager.
func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return newTxManagerWithPool(pool)
}

func newTxManagerWithPool(pool pgxPool) *TxManager {
	return &TxManager{pool: pool}
}

// Begin starts a write transaction.
func (m *TxManager) Begin(ctx context.Context) (usecase.Transaction, error) {
	return m.begin(ctx, writeTxOptions)
}

// BeginSnapshot starts a read-only repeatable-read transaction.
func (m *TxManager) BeginSnapshot(ctx context.Context) (*Tx, error) {
	return m.begin(ctx, snapshotTxOptions)
}

// InTx runs fn in a write transaction and commits when fn succeeds.
func (m *TxManager) InTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := m.begin(ctx, writeTxOptions)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (m *TxManager) begin(ctx context.Context, opts pgx.TxOptions) (*Tx, error) {
	tx, err := m.pool.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, queries: generated.New(tx)}, nil
}

// Tx is a ledger transaction with the generated queries bound to it.
type Tx struct {
	tx      pgx.Tx
	queries *generated.Queries
}

// Commit commits the transaction.
func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback rolls back the transaction. It is a no-op after Commit.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// Queries returns the generated queries running inside t.
func (t *Tx) Queries() *generated.Queries {
	return t.queries
}

// queriesFor unwraps a usecase.Transaction opened by TxManager.
func queriesFor(tx usecase.Transaction) (*generated.Queries, error) {
	ltx, ok := tx.(*Tx)
	if !ok {
		return nil, fmt.Errorf("%w: %T", errNotLedgerTx, tx)
	}
	return ltx.Queries(), nil
}
