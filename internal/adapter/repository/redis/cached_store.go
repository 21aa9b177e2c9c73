package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/tripledger/internal/domain"
	"github.com/iho/tripledger/internal/usecase"
)

// DefaultCacheTTL is how long a settled record stays cached.
const DefaultCacheTTL = 5 * time.Minute

// CachedStore is a read-through cache for Get over another store. Only
// settled records (failed, reversed, and reversal records) are cached, so
// an entry can never disagree with the inner store about a status.
// Records that can still change, scans, audit trails and existence checks
// always go to the inner store.
type CachedStore struct {
	inner    usecase.TransactionStore
	cache    usecase.Cache
	ttl      time.Duration
	logger   zerolog.Logger
	onLookup func(hit bool)
}

// CachedStoreOption configures a CachedStore.
type CachedStoreOption func(*CachedStore)

// WithLookupRecorder reports every cache lookup, typically to metrics.
func WithLookupRecorder(fn func(hit bool)) CachedStoreOption {
	return func(s *CachedStore) { s.onLookup = fn }
}

// NewCachedStore wraps inner. A non-positive ttl uses DefaultCacheTTL.
func NewCachedStore(inner usecase.TransactionStore, cache usecase.Cache, ttl time.Duration, logger zerolog.Logger, opts ...CachedStoreOption) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	s := &CachedStore{
		inner:    inner,
		cache:    cache,
		ttl:      ttl,
		logger:   logger,
		onLookup: func(bool) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func cacheKey(id string) string {
	return "tx:" + id
}

// Append delegates; settled records are cached on first read.
func (s *CachedStore) Append(ctx context.Context, t *domain.Transaction) error {
	return s.inner.Append(ctx, t)
}

// Get serves settled records from the cache and fills it on a miss. Cache
// failures fall through to the inner store.
func (s *CachedStore) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	raw, ok, err := s.cache.Get(ctx, cacheKey(id))
	if err != nil {
		s.logger.Warn().Err(err).Str("transaction_id", id).Msg("cache read failed")
	}
	if ok {
		t, err := decodeCached(raw)
		if err == nil {
			s.onLookup(true)
			return t, nil
		}
		s.logger.Warn().Err(err).Str("transaction_id", id).Msg("dropping undecodable cache entry")
		if err := s.cache.Delete(ctx, cacheKey(id)); err != nil {
			s.logger.Warn().Err(err).Str("transaction_id", id).Msg("cache delete failed")
		}
	}
	s.onLookup(false)

	t, err := s.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.IsSettled() {
		return t, nil
	}

	encoded, err := encodeCached(t)
	if err == nil {
		err = s.cache.Set(ctx, cacheKey(id), encoded, s.ttl)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("transaction_id", id).Msg("cache fill failed")
	}
	return t, nil
}

func (s *CachedStore) QueryByEntity(ctx context.Context, kind domain.EntityKind, entityID string) iter.Seq2[*domain.Transaction, error] {
	return s.inner.QueryByEntity(ctx, kind, entityID)
}

func (s *CachedStore) QueryByTimeRange(ctx context.Context, start, end time.Time) iter.Seq2[*domain.Transaction, error] {
	return s.inner.QueryByTimeRange(ctx, start, end)
}

// UpdateStatus delegates. Records it can move are never cached.
func (s *CachedStore) UpdateStatus(ctx context.Context, id string, tr *domain.Transition) error {
	return s.inner.UpdateStatus(ctx, id, tr)
}

// AppendReversal delegates. The original is completed until this
// succeeds, so it is not in the cache.
func (s *CachedStore) AppendReversal(ctx context.Context, reversal *domain.Transaction, tr *domain.Transition) error {
	return s.inner.AppendReversal(ctx, reversal, tr)
}

func (s *CachedStore) Transitions(ctx context.Context, id string) ([]*domain.Transition, error) {
	return s.inner.Transitions(ctx, id)
}

func (s *CachedStore) Exists(ctx context.Context, ids []string) ([]string, error) {
	return s.inner.Exists(ctx, ids)
}

type cachedBlob struct {
	Schema  string `json:"schema,omitempty"`
	Version int    `json:"version,omitempty"`
	Data    []byte `json:"data"`
}

// cachedRecord keeps snapshot bytes base64 encoded so they come back
// exactly as stored.
type cachedRecord struct {
	Timestamp           time.Time          `json:"timestamp"`
	StatusChangedAt     *time.Time         `json:"status_changed_at,omitempty"`
	PreviousState       *cachedBlob        `json:"previous_state,omitempty"`
	NewState            *cachedBlob        `json:"new_state,omitempty"`
	Metadata            *cachedBlob        `json:"metadata,omitempty"`
	ID                  string             `json:"id"`
	Type                string             `json:"type"`
	Status              string             `json:"status"`
	Currency            string             `json:"currency"`
	Description         string             `json:"description"`
	PerformedBy         string             `json:"performed_by,omitempty"`
	Notes               string             `json:"notes,omitempty"`
	ReversalOf          string             `json:"reversal_of,omitempty"`
	Amount              decimal.Decimal    `json:"amount"`
	RelatedEntities     []domain.EntityRef `json:"related_entities,omitempty"`
	RelatedTransactions []string           `json:"related_transactions,omitempty"`
	Version             int64              `json:"version"`
}

func toCachedBlob(b *domain.Blob) *cachedBlob {
	if b == nil {
		return nil
	}
	return &cachedBlob{Schema: b.Schema, Version: b.Version, Data: b.Data}
}

func (b *cachedBlob) toBlob() *domain.Blob {
	if b == nil {
		return nil
	}
	return &domain.Blob{Schema: b.Schema, Version: b.Version, Data: b.Data}
}

func encodeCached(t *domain.Transaction) ([]byte, error) {
	return json.Marshal(cachedRecord{
		Timestamp:           t.Timestamp,
		StatusChangedAt:     t.StatusChangedAt,
		PreviousState:       toCachedBlob(t.PreviousState),
		NewState:            toCachedBlob(t.NewState),
		Metadata:            toCachedBlob(t.Metadata),
		ID:                  t.ID,
		Type:                string(t.Type),
		Status:              string(t.Status),
		Currency:            t.Currency,
		Description:         t.Description,
		PerformedBy:         t.PerformedBy,
		Notes:               t.Notes,
		ReversalOf:          t.ReversalOf,
		Amount:              t.Amount,
		RelatedEntities:     t.RelatedEntities,
		RelatedTransactions: t.RelatedTransactions,
		Version:             t.Version,
	})
}

func decodeCached(raw []byte) (*domain.Transaction, error) {
	var r cachedRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode cached record: %w", err)
	}

	t := &domain.Transaction{
		Timestamp:           r.Timestamp.UTC(),
		PreviousState:       r.PreviousState.toBlob(),
		NewState:            r.NewState.toBlob(),
		Metadata:            r.Metadata.toBlob(),
		ID:                  r.ID,
		Type:                domain.TransactionType(r.Type),
		Status:              domain.TransactionStatus(r.Status),
		Currency:            r.Currency,
		Description:         r.Description,
		PerformedBy:         r.PerformedBy,
		Notes:               r.Notes,
		ReversalOf:          r.ReversalOf,
		Amount:              r.Amount,
		RelatedEntities:     r.RelatedEntities,
		RelatedTransactions: r.RelatedTransactions,
		Version:             r.Version,
	}
	if r.StatusChangedAt != nil {
		at := r.StatusChangedAt.UTC()
		t.StatusChangedAt = &at
	}
	return t, nil
}
