package main

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/tripledger/internal/adapter/repository/memory"
	redisRepo "github.com/iho/tripledger/internal/adapter/repository/redis"
	"github.com/iho/tripledger/internal/infrastructure/config"
	"github.com/iho/tripledger/internal/infrastructure/eventpublisher"
	"github.com/iho/tripledger/internal/infrastructure/metrics"
)

func memoryConfig() *config.Config {
	return &config.Config{
		StorageDriver:       config.StorageMemory,
		IDStrategy:          "uuid",
		SupportedCurrencies: []string{"USD"},
	}
}

func TestOpenStorage_Memory(t *testing.T) {
	st, err := openStorage(context.Background(), memoryConfig(), metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	require.NoError(t, err)
	defer st.close()

	assert.IsType(t, &memory.Store{}, st.store)
	assert.Nil(t, st.entities)
	assert.Nil(t, st.outboxRepo)
	assert.Empty(t, st.checks)
	assert.Len(t, st.idGen.Generate(), 36)
}

func TestOpenStorage_UnknownIDStrategy(t *testing.T) {
	cfg := memoryConfig()
	cfg.IDStrategy = "serial"

	_, err := openStorage(context.Background(), cfg, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	assert.Error(t, err)
}

func TestOpenRedis(t *testing.T) {
	st, err := openStorage(context.Background(), memoryConfig(), metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())

	t.Run("disabled", func(t *testing.T) {
		deps, err := openRedis(context.Background(), memoryConfig(), st, m, zerolog.Nop())
		require.NoError(t, err)
		defer deps.close()

		assert.Same(t, st.store, deps.store)
		assert.Nil(t, deps.idempotency)
	})

	t.Run("enabled", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := memoryConfig()
		cfg.RedisURL = "redis://" + mr.Addr()

		deps, err := openRedis(context.Background(), cfg, st, m, zerolog.Nop())
		require.NoError(t, err)
		defer deps.close()

		assert.IsType(t, &redisRepo.CachedStore{}, deps.store)
		assert.NotNil(t, deps.idempotency)
		require.Contains(t, deps.checks, "redis")
		assert.NoError(t, deps.checks["redis"](context.Background()))
	})
}

func TestOpenPublisher_FallsBackToLogs(t *testing.T) {
	publisher, closeFn, err := openPublisher(memoryConfig(), zerolog.Nop())
	require.NoError(t, err)

	assert.IsType(t, &eventpublisher.LogPublisher{}, publisher)
	assert.NoError(t, closeFn())
}
