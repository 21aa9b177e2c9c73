package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/iho/tripledger/internal/usecase/mocks"
)

func TestTxManager_InTxCommits(t *testing.T) {
	pool := newMockPool(t)
	pool.ExpectBegin()
	pool.ExpectCommit()

	var seen *Tx
	err := newTxManagerWithPool(pool).InTx(context.Background(), func(tx *Tx) error {
		seen = tx
		return nil
	})

	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.NotNil(t, seen.Queries())
	assertExpectations(t, pool)
}

func TestTxManager_InTxRollsBackOnError(t *testing.T) {
	pool := newMockPool(t)
	pool.ExpectBegin()
	pool.ExpectRollback()

	boom := errors.New("boom")
	err := newTxManagerWithPool(pool).InTx(context.Background(), func(*Tx) error { return boom })

	assert.ErrorIs(t, err, boom)
	assertExpectations(t, pool)
}

func TestTxManager_BeginError(t *testing.T) {
	pool := newMockPool(t)
	refused := errors.New("begin failed")
	pool.ExpectBegin().WillReturnError(refused)

	tx, err := newTxManagerWithPool(pool).Begin(context.Background())

	assert.ErrorIs(t, err, refused)
	assert.Nil(t, tx)
}

func TestTxManager_BeginSnapshot(t *testing.T) {
	pool := newMockPool(t)
	pool.ExpectBeginTx(snapshotTxOptions)
	pool.ExpectRollback()

	tx, err := newTxManagerWithPool(pool).BeginSnapshot(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, tx.Queries())

	require.NoError(t, tx.Rollback(context.Background()))
	assertExpectations(t, pool)
}

func TestQueriesFor_RejectsForeignTransaction(t *testing.T) {
	_, err := queriesFor(mocks.NewMockTransaction(gomock.NewController(t)))
	assert.ErrorIs(t, err, errNotLedgerTx)
}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func assertExpectations(t *testing.T, pool pgxmock.PgxPoolIface) {
	t.Helper()
	assert.NoError(t, pool.ExpectationsWereMet())
}
