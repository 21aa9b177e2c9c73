package usecase

import (
	"context"
	"iter"
	"time"

	"github.com/iho/tripledger/internal/domain"
)

// TransactionStore is the append-only ledger store.
//
// Implementations must make Append atomic per record (record and all of its
// index entries become visible together), reject duplicate ids regardless
// of which writer wins, and serialize status changes per record with a
// compare-and-set on the current status.
type TransactionStore interface {
	Append(ctx context.Context, t *domain.Transaction) error
	Get(ctx context.Context, id string) (*domain.Transaction, error)
	// QueryByEntity yields records referencing the entity, oldest first.
	// Each call rescans; no cursor state survives between calls.
	QueryByEntity(ctx context.Context, kind domain.EntityKind, entityID string) iter.Seq2[*domain.Transaction, error]
	// QueryByTimeRange yields records with start <= timestamp < end, oldest first.
	QueryByTimeRange(ctx context.Context, start, end time.Time) iter.Seq2[*domain.Transaction, error]
	// UpdateStatus moves a record from tr.From to tr.To and stores tr.
	UpdateStatus(ctx context.Context, id string, tr *domain.Transition) error
	// AppendReversal stamps the original reversed and appends the reversal in one step.
	AppendReversal(ctx context.Context, reversal *domain.Transaction, tr *domain.Transition) error
	Transitions(ctx context.Context, id string) ([]*domain.Transition, error)
	// Exists returns the ids from ids that are not stored.
	Exists(ctx context.Context, ids []string) ([]string, error)
}

// EntityResolver checks weak references to business entities owned elsewhere.
type EntityResolver interface {
	// Missing returns the refs that do not resolve.
	Missing(ctx context.Context, refs []domain.EntityRef) ([]domain.EntityRef, error)
}

// OutboxRepository defines data access for outbox events.
type OutboxRepository interface {
	Create(ctx context.Context, tx Transaction, event *domain.OutboxEvent) error
	GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
	GetByAggregate(ctx context.Context, aggregateType, aggregateID string, limit, offset int) ([]*domain.OutboxEvent, error)
	DeletePublished(ctx context.Context, before time.Time) error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Retrier re-runs an operation on transient storage conflicts.
type Retrier interface {
	Retry(ctx context.Context, operation func() error) error
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// Cache is a byte-oriented key/value cache with expiring entries.
type Cache interface {
	// Get reports whether key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// IdempotencyStore remembers the response to a request carrying an
// idempotency key.
type IdempotencyStore interface {
	// Reserve claims key for an in-flight request. When the key is already
	// claimed it returns false and the stored response, which is nil while
	// the first request is still running.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, []byte, error)
	// Complete stores the final response for a claimed key.
	Complete(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Release drops a claim so the request can be retried.
	Release(ctx context.Context, key string) error
}
