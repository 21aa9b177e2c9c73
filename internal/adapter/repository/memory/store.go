// Package memory provides an in-process ledger store for tests and
// single-node deployments.
package memory

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/iho/tripledger/internal/domain"
)

// Store keeps records in maps guarded by one RWMutex. Writes hold the
// write lock for the whole record plus its index entries, so readers
// never see a half-indexed record.
type Store struct {
	mu          sync.RWMutex
	records     map[string]*domain.Transaction
	transitions map[string][]*domain.Transition
	byEntity    map[domain.EntityRef][]string
	// timeline is sorted by (timestamp, id).
	timeline []*domain.Transaction
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		records:     make(map[string]*domain.Transaction),
		transitions: make(map[string][]*domain.Transition),
		byEntity:    make(map[domain.EntityRef][]string),
	}
}

// Append stores a new record.
func (s *Store) Append(ctx context.Context, t *domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendLocked(t)
}

func (s *Store) appendLocked(t *domain.Transaction) error {
	if _, exists := s.records[t.ID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateID, t.ID)
	}

	stored := t.Clone()
	s.records[stored.ID] = stored

	for _, ref := range stored.RelatedEntities {
		s.byEntity[ref] = append(s.byEntity[ref], stored.ID)
	}

	i, _ := slices.BinarySearchFunc(s.timeline, stored, domain.Compare)
	s.timeline = slices.Insert(s.timeline, i, stored)

	return nil
}

// Get returns a copy of the record.
func (s *Store) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, id)
	}

	return t.Clone(), nil
}

// QueryByEntity yields records referencing the entity in (timestamp, id) order.
func (s *Store) QueryByEntity(ctx context.Context, kind domain.EntityKind, entityID string) iter.Seq2[*domain.Transaction, error] {
	return func(yield func(*domain.Transaction, error) bool) {
		s.mu.RLock()
		ids := s.byEntity[domain.EntityRef{Kind: kind, ID: entityID}]
		snapshot := make([]*domain.Transaction, 0, len(ids))
		for _, id := range ids {
			snapshot = append(snapshot, s.records[id].Clone())
		}
		s.mu.RUnlock()

		slices.SortFunc(snapshot, domain.Compare)
		yieldAll(ctx, snapshot, yield)
	}
}

// QueryByTimeRange yields records with start <= timestamp < end.
func (s *Store) QueryByTimeRange(ctx context.Context, start, end time.Time) iter.Seq2[*domain.Transaction, error] {
	return func(yield func(*domain.Transaction, error) bool) {
		s.mu.RLock()
		lo, _ := slices.BinarySearchFunc(s.timeline, start, func(t *domain.Transaction, at time.Time) int {
			return t.Timestamp.Compare(at)
		})
		hi, _ := slices.BinarySearchFunc(s.timeline, end, func(t *domain.Transaction, at time.Time) int {
			return t.Timestamp.Compare(at)
		})
		snapshot := make([]*domain.Transaction, 0, max(hi-lo, 0))
		for _, t := range s.timeline[lo:max(hi, lo)] {
			snapshot = append(snapshot, t.Clone())
		}
		s.mu.RUnlock()

		yieldAll(ctx, snapshot, yield)
	}
}

func yieldAll(ctx context.Context, records []*domain.Transaction, yield func(*domain.Transaction, error) bool) {
	for _, t := range records {
		if err := ctx.Err(); err != nil {
			yield(nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err))
			return
		}
		if !yield(t, nil) {
			return
		}
	}
}

// UpdateStatus applies tr if the record is still in tr.From.
func (s *Store) UpdateStatus(ctx context.Context, id string, tr *domain.Transition) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.applyLocked(id, tr)
}

func (s *Store) applyLocked(id string, tr *domain.Transition) error {
	t, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, id)
	}

	if err := t.Apply(tr); err != nil {
		return err
	}

	stored := *tr
	s.transitions[id] = append(s.transitions[id], &stored)

	return nil
}

// AppendReversal stamps the original reversed and stores the reversal
// record under one lock acquisition.
func (s *Store) AppendReversal(ctx context.Context, reversal *domain.Transaction, tr *domain.Transition) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[reversal.ID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateID, reversal.ID)
	}

	original, ok := s.records[tr.TransactionID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, tr.TransactionID)
	}
	if !domain.CanTransition(tr.From, tr.To) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, tr.From, tr.To)
	}
	if original.Status != tr.From {
		return fmt.Errorf("%w: %s is %s, expected %s", domain.ErrConcurrentModification, original.ID, original.Status, tr.From)
	}

	if err := s.appendLocked(reversal); err != nil {
		return err
	}

	return s.applyLocked(tr.TransactionID, tr)
}

// Transitions returns the audit facts of a record, oldest first.
func (s *Store) Transitions(ctx context.Context, id string) ([]*domain.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	facts := s.transitions[id]
	out := make([]*domain.Transition, 0, len(facts))
	for _, f := range facts {
		c := *f
		out = append(out, &c)
	}

	return out, nil
}

// Exists returns the ids that are not stored.
func (s *Store) Exists(ctx context.Context, ids []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var missing []string
	for _, id := range ids {
		if _, ok := s.records[id]; !ok {
			missing = append(missing, id)
		}
	}

	return missing, nil
}
