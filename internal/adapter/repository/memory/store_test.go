package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/tripledger/internal/domain"
	"github.com/iho/tripledger/internal/usecase"
)

var (
	_ usecase.TransactionStore = (*Store)(nil)
	_ usecase.EntityResolver   = (*EntityRegistry)(nil)
)

var base = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func record(id string, offset time.Duration, refs ...domain.EntityRef) *domain.Transaction {
	return &domain.Transaction{
		ID:              id,
		Type:            domain.TypePaymentReceived,
		Status:          domain.StatusPending,
		Amount:          decimal.NewFromInt(100),
		Currency:        "USD",
		Description:     "deposit",
		Timestamp:       base.Add(offset),
		RelatedEntities: refs,
	}
}

func collect(t *testing.T, seq func(func(*domain.Transaction, error) bool)) []string {
	t.Helper()

	var ids []string
	for tx, err := range seq {
		require.NoError(t, err)
		ids = append(ids, tx.ID)
	}
	return ids
}

func TestStore_AppendAndGet(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	in := record("tx-1", 0, domain.EntityRef{Kind: domain.EntityInvoice, ID: "inv-1"})
	require.NoError(t, s.Append(ctx, in))

	got, err := s.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, in, got)

	got.RelatedEntities[0].ID = "mutated"
	again, err := s.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "inv-1", again.RelatedEntities[0].ID, "stored record must not alias returned copies")

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

	err = s.Append(ctx, record("tx-1", time.Minute))
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
}

func TestStore_QueryByTimeRange_HalfOpen(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, record("c", 2*time.Hour)))
	require.NoError(t, s.Append(ctx, record("b", time.Hour)))
	require.NoError(t, s.Append(ctx, record("a", time.Hour)))
	require.NoError(t, s.Append(ctx, record("z", 0)))

	ids := collect(t, s.QueryByTimeRange(ctx, base.Add(time.Hour), base.Add(2*time.Hour)))
	assert.Equal(t, []string{"a", "b"}, ids)

	ids = collect(t, s.QueryByTimeRange(ctx, base, base.Add(3*time.Hour)))
	assert.Equal(t, []string{"z", "a", "b", "c"}, ids)

	assert.Empty(t, collect(t, s.QueryByTimeRange(ctx, base.Add(time.Hour), base.Add(time.Hour))))
}

func TestStore_QueryByEntity(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	inv := domain.EntityRef{Kind: domain.EntityInvoice, ID: "inv-1"}
	cust := domain.EntityRef{Kind: domain.EntityCustomer, ID: "cust-1"}

	require.NoError(t, s.Append(ctx, record("later", time.Hour, inv)))
	require.NoError(t, s.Append(ctx, record("earlier", 0, inv, cust)))
	require.NoError(t, s.Append(ctx, record("other", 0, cust)))

	assert.Equal(t, []string{"earlier", "later"}, collect(t, s.QueryByEntity(ctx, domain.EntityInvoice, "inv-1")))
	assert.Equal(t, []string{"earlier", "other"}, collect(t, s.QueryByEntity(ctx, domain.EntityCustomer, "cust-1")))
	assert.Empty(t, collect(t, s.QueryByEntity(ctx, domain.EntityQuote, "inv-1")))

	// A fresh call rescans and sees new records.
	require.NoError(t, s.Append(ctx, record("latest", 2*time.Hour, inv)))
	assert.Equal(t, []string{"earlier", "later", "latest"}, collect(t, s.QueryByEntity(ctx, domain.EntityInvoice, "inv-1")))
}

func TestStore_UpdateStatus(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, record("tx-1", 0)))

	at := base.Add(time.Minute)
	tr, err := domain.NewTransition("tx-1", domain.StatusPending, domain.StatusCompleted, "", "agent-1", at)
	require.NoError(t, err)
	require.NoError(t, s.UpdateStatus(ctx, "tx-1", tr))

	got, err := s.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, int64(1), got.Version)
	require.NotNil(t, got.StatusChangedAt)
	assert.True(t, got.StatusChangedAt.Equal(at))

	err = s.UpdateStatus(ctx, "tx-1", tr)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	facts, err := s.Transitions(ctx, "tx-1")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "agent-1", facts[0].PerformedBy)

	err = s.UpdateStatus(ctx, "missing", tr)
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestStore_AppendReversal_SingleWinner(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	orig := record("tx-1", 0)
	orig.Status = domain.StatusCompleted
	require.NoError(t, s.Append(ctx, orig))

	const racers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		conflict int
	)
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			rev := record(fmt.Sprintf("rev-%d", i), time.Minute)
			rev.Status = domain.StatusCompleted
			rev.Amount = orig.Amount.Neg()
			rev.ReversalOf = orig.ID
			rev.RelatedTransactions = []string{orig.ID}

			tr, _ := domain.NewTransition(orig.ID, domain.StatusCompleted, domain.StatusReversed, "dup", "", base.Add(time.Minute))
			err := s.AppendReversal(ctx, rev, tr)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrConcurrentModification):
				conflict++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, conflict)

	ids := collect(t, s.QueryByTimeRange(ctx, base, base.Add(time.Hour)))
	assert.Len(t, ids, 2, "losers must leave no partial reversal behind")
}

func TestStore_ConcurrentAppend(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Append(ctx, record("same", time.Duration(i)*time.Second))
		}()
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrDuplicateID):
			dup++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, writers-1, dup)
}

func TestStore_Exists(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, record("a", 0)))

	missing, err := s.Exists(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, missing)
}

func TestStore_CancelledContext(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Append(ctx, record("a", 0))
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestEntityRegistry(t *testing.T) {
	reg := NewEntityRegistry(domain.EntityRef{Kind: domain.EntityQuote, ID: "q-1"})
	reg.Register(domain.EntityAgent, "ag-1")

	missing, err := reg.Missing(context.Background(), []domain.EntityRef{
		{Kind: domain.EntityQuote, ID: "q-1"},
		{Kind: domain.EntityAgent, ID: "ag-1"},
		{Kind: domain.EntityAgent, ID: "ag-2"},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.EntityRef{{Kind: domain.EntityAgent, ID: "ag-2"}}, missing)

	reg.Forget(domain.EntityQuote, "q-1")
	missing, err = reg.Missing(context.Background(), []domain.EntityRef{{Kind: domain.EntityQuote, ID: "q-1"}})
	require.NoError(t, err)
	assert.Len(t, missing, 1)
}
