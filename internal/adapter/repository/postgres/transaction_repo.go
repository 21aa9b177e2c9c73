package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/tripledger/internal/domain"
	"github.com/iho/tripledger/internal/infrastructure/postgres/generated"
	"github.com/iho/tripledger/internal/usecase"
)

// DefaultPageSize is the number of rows fetched per round trip by scans.
const DefaultPageSize = 500

type dbPool interface {
	generated.DBTX
	pgxPool
}

// TransactionRepository implements usecase.TransactionStore on PostgreSQL.
// Every write runs in one SQL transaction together with its index rows,
// its transition row and, when an outbox is configured, its event.
type TransactionRepository struct {
	queries  *generated.Queries
	txm      *TxManager
	outbox   usecase.OutboxRepository
	retrier  usecase.Retrier
	idGen    usecase.IDGenerator
	pageSize int32
}

// NewTransactionRepository creates a new TransactionRepository. A nil
// outbox disables event emission.
func NewTransactionRepository(pool *pgxpool.Pool, outbox usecase.OutboxRepository, retrier usecase.Retrier, idGen usecase.IDGenerator) *TransactionRepository {
	return newTransactionRepository(pool, outbox, retrier, idGen)
}

func newTransactionRepository(pool dbPool, outbox usecase.OutboxRepository, retrier usecase.Retrier, idGen usecase.IDGenerator) *TransactionRepository {
	return &TransactionRepository{
		queries:  generated.New(pool),
		txm:      newTxManagerWithPool(pool),
		outbox:   outbox,
		retrier:  retrier,
		idGen:    idGen,
		pageSize: DefaultPageSize,
	}
}

// Append inserts a record, its entity index rows and snapshots.
func (r *TransactionRepository) Append(ctx context.Context, t *domain.Transaction) error {
	err := r.write(ctx, func(tx *Tx) error {
		if err := insertRecord(ctx, tx.Queries(), t); err != nil {
			return err
		}
		return r.emit(ctx, tx, domain.NewRecordedEvent(t))
	})
	if err != nil {
		return fmt.Errorf("append %s: %w", t.ID, mapError(err))
	}
	return nil
}

// Get retrieves a record by id.
func (r *TransactionRepository) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	row, err := r.queries.GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, id)
		}
		return nil, mapError(err)
	}

	records, err := hydrate(ctx, r.queries, []generated.LedgerTransaction{row})
	if err != nil {
		return nil, mapError(err)
	}
	return records[0], nil
}

// QueryByEntity yields the records referencing an entity, oldest first.
func (r *TransactionRepository) QueryByEntity(ctx context.Context, kind domain.EntityKind, entityID string) iter.Seq2[*domain.Transaction, error] {
	first := pgtype.Timestamptz{InfinityModifier: pgtype.NegativeInfinity, Valid: true}
	return r.scan(ctx, first, func(q *generated.Queries, after pgtype.Timestamptz, afterID string) ([]generated.LedgerTransaction, error) {
		return q.ListTransactionsByEntity(ctx, generated.ListTransactionsByEntityParams{
			EntityKind:     string(kind),
			EntityID:       entityID,
			AfterCreatedAt: after,
			AfterID:        afterID,
			Limit:          r.pageSize,
		})
	})
}

// QueryByTimeRange yields records with start <= timestamp < end, oldest first.
func (r *TransactionRepository) QueryByTimeRange(ctx context.Context, start, end time.Time) iter.Seq2[*domain.Transaction, error] {
	return r.scan(ctx, timeToPgTimestamptz(start), func(q *generated.Queries, after pgtype.Timestamptz, afterID string) ([]generated.LedgerTransaction, error) {
		return q.ListTransactionsByTimeRange(ctx, generated.ListTransactionsByTimeRangeParams{
			StartAt:        timeToPgTimestamptz(start),
			EndAt:          timeToPgTimestamptz(end),
			AfterCreatedAt: after,
			AfterID:        afterID,
			Limit:          r.pageSize,
		})
	})
}

// UpdateStatus applies a transition with a compare-and-set on tr.From.
func (r *TransactionRepository) UpdateStatus(ctx context.Context, id string, tr *domain.Transition) error {
	if !domain.CanTransition(tr.From, tr.To) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, tr.From, tr.To)
	}

	err := r.write(ctx, func(tx *Tx) error {
		q := tx.Queries()
		if err := compareAndSet(ctx, q, id, tr); err != nil {
			return err
		}
		if err := q.InsertTransition(ctx, transitionParams(tr)); err != nil {
			return err
		}
		return r.emit(ctx, tx, domain.NewStatusChangedEvent(tr))
	})
	if err != nil {
		return fmt.Errorf("update status %s: %w", id, mapError(err))
	}
	return nil
}

// AppendReversal marks the original reversed and inserts the reversal record.
// The unique constraint on reversal_of backs up the compare-and-set.
func (r *TransactionRepository) AppendReversal(ctx context.Context, reversal *domain.Transaction, tr *domain.Transition) error {
	if !domain.CanTransition(tr.From, tr.To) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, tr.From, tr.To)
	}

	err := r.write(ctx, func(tx *Tx) error {
		q := tx.Queries()
		if err := compareAndSet(ctx, q, tr.TransactionID, tr); err != nil {
			return err
		}
		if err := insertRecord(ctx, q, reversal); err != nil {
			return err
		}
		if err := q.InsertTransition(ctx, transitionParams(tr)); err != nil {
			return err
		}
		return r.emit(ctx, tx, domain.NewReversedEvent(reversal, tr))
	})
	if err != nil {
		return fmt.Errorf("reverse %s: %w", tr.TransactionID, mapError(err))
	}
	return nil
}

// Transitions returns the audit trail of a record, oldest first.
func (r *TransactionRepository) Transitions(ctx context.Context, id string) ([]*domain.Transition, error) {
	rows, err := r.queries.ListTransitions(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}

	out := make([]*domain.Transition, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToTransition(row))
	}
	return out, nil
}

// Exists returns the ids that are not stored, in input order.
func (r *TransactionRepository) Exists(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	found, err := r.queries.ListExistingTransactionIDs(ctx, ids)
	if err != nil {
		return nil, mapError(err)
	}

	stored := make(map[string]struct{}, len(found))
	for _, id := range found {
		stored[id] = struct{}{}
	}

	var missing []string
	for _, id := range ids {
		if _, ok := stored[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// write runs fn in a fresh SQL transaction, retrying the whole unit on
// serialization failures and deadlocks.
func (r *TransactionRepository) write(ctx context.Context, fn func(*Tx) error) error {
	return r.retrier.Retry(ctx, func() error {
		return r.txm.InTx(ctx, fn)
	})
}

func (r *TransactionRepository) emit(ctx context.Context, tx *Tx, event *domain.OutboxEvent) error {
	if r.outbox == nil {
		return nil
	}
	event.ID = r.idGen.Generate()
	return r.outbox.Create(ctx, tx, event)
}

type pageFunc func(q *generated.Queries, after pgtype.Timestamptz, afterID string) ([]generated.LedgerTransaction, error)

// scan pages through rows with a (created_at, id) keyset inside one
// snapshot transaction. The transaction stays open while the caller
// consumes the sequence.
func (r *TransactionRepository) scan(ctx context.Context, first pgtype.Timestamptz, page pageFunc) iter.Seq2[*domain.Transaction, error] {
	return func(yield func(*domain.Transaction, error) bool) {
		tx, err := r.txm.BeginSnapshot(ctx)
		if err != nil {
			yield(nil, mapError(err))
			return
		}
		defer func() { _ = tx.Rollback(ctx) }()

		q := tx.Queries()
		after, afterID := first, ""
		for {
			rows, err := page(q, after, afterID)
			if err != nil {
				yield(nil, mapError(err))
				return
			}

			records, err := hydrate(ctx, q, rows)
			if err != nil {
				yield(nil, mapError(err))
				return
			}
			for _, t := range records {
				if !yield(t, nil) {
					return
				}
			}

			if len(rows) < int(r.pageSize) {
				return
			}
			last := rows[len(rows)-1]
			after, afterID = last.CreatedAt, last.ID
		}
	}
}

func insertRecord(ctx context.Context, q *generated.Queries, t *domain.Transaction) error {
	if err := q.InsertTransaction(ctx, insertParams(t)); err != nil {
		return err
	}

	for i, ref := range t.RelatedEntities {
		if err := q.InsertTransactionEntity(ctx, generated.InsertTransactionEntityParams{
			TransactionID: t.ID,
			Position:      int32(i),
			EntityKind:    string(ref.Kind),
			EntityID:      ref.ID,
		}); err != nil {
			return err
		}
	}

	for _, s := range snapshotParams(t) {
		if err := q.InsertSnapshot(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// compareAndSet moves id from tr.From to tr.To. When no row matches it
// re-reads the status to tell a missing record from a lost race.
func compareAndSet(ctx context.Context, q *generated.Queries, id string, tr *domain.Transition) error {
	n, err := q.CompareAndSetStatus(ctx, generated.CompareAndSetStatusParams{
		ID:              id,
		FromStatus:      string(tr.From),
		ToStatus:        string(tr.To),
		StatusChangedAt: timeToPgTimestamptz(tr.At),
	})
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	status, err := q.GetTransactionStatus(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, id)
		}
		return err
	}
	return fmt.Errorf("%w: %s is %s, expected %s", domain.ErrConcurrentModification, id, status, tr.From)
}

// hydrate loads entity refs and snapshots for a page of rows in two queries.
func hydrate(ctx context.Context, q *generated.Queries, rows []generated.LedgerTransaction) ([]*domain.Transaction, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	records := make([]*domain.Transaction, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, rowToTransaction(row))
		ids = append(ids, row.ID)
	}

	entities, err := q.ListEntitiesForTransactions(ctx, ids)
	if err != nil {
		return nil, err
	}
	snapshots, err := q.ListSnapshotsForTransactions(ctx, ids)
	if err != nil {
		return nil, err
	}

	attach(records, entities, snapshots)
	return records, nil
}
