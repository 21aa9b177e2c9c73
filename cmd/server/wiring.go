package main

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iho/tripledger/internal/adapter/http/handler"
	dynamoRepo "github.com/iho/tripledger/internal/adapter/repository/dynamodb"
	"github.com/iho/tripledger/internal/adapter/repository/memory"
	postgresRepo "github.com/iho/tripledger/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/tripledger/internal/adapter/repository/redis"
	"github.com/iho/tripledger/internal/infrastructure/config"
	"github.com/iho/tripledger/internal/infrastructure/dynamodb"
	"github.com/iho/tripledger/internal/infrastructure/eventpublisher"
	"github.com/iho/tripledger/internal/infrastructure/metrics"
	"github.com/iho/tripledger/internal/infrastructure/postgres"
	"github.com/iho/tripledger/internal/infrastructure/redis"
	"github.com/iho/tripledger/internal/usecase"
)

// storage is the ledger backend selected by STORAGE_DRIVER.
type storage struct {
	store      usecase.TransactionStore
	entities   usecase.EntityResolver
	idGen      usecase.IDGenerator
	outboxRepo usecase.OutboxRepository // nil unless the backend writes an outbox
	checks     map[string]handler.Check
	closers    []func()
}

func (s *storage) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStorage(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logg zerolog.Logger) (*storage, error) {
	idGen, err := postgresRepo.NewIDGenerator(cfg.IDStrategy)
	if err != nil {
		return nil, err
	}
	st := &storage{idGen: idGen, checks: map[string]handler.Check{}}

	switch cfg.StorageDriver {
	case config.StorageMemory:
		st.store = memory.NewStore()
		if cfg.EntityCheckEnabled {
			// Nothing is registered, so every reference is rejected.
			st.entities = memory.NewEntityRegistry()
		}
		logg.Warn().Msg("using in-memory storage; records are lost on restart")

	case config.StorageDynamoDB:
		client, err := dynamodb.NewClient(ctx, dynamodb.Config{
			Region:   cfg.DynamoDBRegion,
			Endpoint: cfg.DynamoDBEndpoint,
			Table:    cfg.DynamoDBTable,
		})
		if err != nil {
			return nil, err
		}
		if cfg.DynamoDBCreateTable {
			if err := dynamodb.EnsureTable(ctx, client, cfg.DynamoDBTable); err != nil {
				return nil, err
			}
		}
		st.store = dynamoRepo.NewStore(client, cfg.DynamoDBTable)
		st.checks["dynamodb"] = func(ctx context.Context) error {
			return dynamodb.Ping(ctx, client, cfg.DynamoDBTable)
		}
		if cfg.EntityCheckEnabled {
			logg.Warn().Msg("ENTITY_CHECK_ENABLED is only supported with postgres storage")
		}

	case config.StoragePostgres:
		if cfg.AutoMigrate {
			if err := postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath, logg); err != nil {
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}

		pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
			DatabaseURL:    cfg.DatabaseURL,
			MaxConns:       cfg.DatabaseMaxConns,
			MinConns:       cfg.DatabaseMinConns,
			ConnectTimeout: cfg.DatabaseTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		st.closers = append(st.closers, pool.Close)
		st.checks["postgres"] = pool.Ping
		logg.Info().Msg("connected to postgres")

		var outbox usecase.OutboxRepository
		if cfg.OutboxEnabled {
			repo := postgresRepo.NewOutboxRepository(pool)
			outbox, st.outboxRepo = repo, repo
		}

		retrier := postgresRepo.NewRetrier(logg, postgresRepo.WithRetryObserver(func(state string) {
			m.StorageRetries.WithLabelValues(state).Inc()
		}))
		st.store = postgresRepo.NewTransactionRepository(pool, outbox, retrier, idGen)

		if cfg.EntityCheckEnabled {
			tables, err := cfg.EntityTableMap()
			if err != nil {
				return nil, err
			}
			st.entities = postgresRepo.NewEntityResolver(pool, tables)
		}

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	return st, nil
}

// redisDeps wraps the store with the record cache and provides the
// idempotency store. Both are skipped when REDIS_URL is empty.
type redisDeps struct {
	store       usecase.TransactionStore
	idempotency usecase.IdempotencyStore
	checks      map[string]handler.Check
	client      *goredis.Client
}

func (d *redisDeps) close() {
	if d.client != nil {
		_ = d.client.Close()
	}
}

func openRedis(ctx context.Context, cfg *config.Config, st *storage, m *metrics.Metrics, logg zerolog.Logger) (*redisDeps, error) {
	deps := &redisDeps{store: st.store, checks: st.checks}
	if cfg.RedisURL == "" {
		logg.Info().Msg("redis disabled; no record cache or idempotency keys")
		return deps, nil
	}

	client, err := redis.NewClient(ctx, redis.Config{URL: cfg.RedisURL, PoolSize: cfg.RedisPoolSize})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logg.Info().Msg("connected to redis")

	deps.client = client
	deps.store = redisRepo.NewCachedStore(st.store, redisRepo.NewCache(client, cfg.RedisNamespace), cfg.CacheTTL, logg,
		redisRepo.WithLookupRecorder(m.CacheLookup))
	deps.idempotency = redisRepo.NewIdempotencyStore(client, cfg.RedisNamespace)
	deps.checks["redis"] = func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
	return deps, nil
}

// openPublisher returns the RabbitMQ publisher when AMQP_URL is set and
// a log publisher otherwise.
func openPublisher(cfg *config.Config, logg zerolog.Logger) (eventpublisher.Publisher, func() error, error) {
	if cfg.AMQPURL == "" {
		return eventpublisher.NewLogPublisher(logg), func() error { return nil }, nil
	}

	publisher, closeFn, err := eventpublisher.DialAMQP(eventpublisher.AMQPConfig{
		URL:            cfg.AMQPURL,
		Exchange:       cfg.AMQPExchange,
		ConfirmTimeout: cfg.AMQPConfirmTimeout,
	}, logg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to amqp: %w", err)
	}
	return publisher, closeFn, nil
}

func newOutboxRelay(cfg *config.Config, repo usecase.OutboxRepository, publisher eventpublisher.Publisher, m *metrics.Metrics, logg zerolog.Logger) *eventpublisher.Relay {
	return eventpublisher.NewRelay(eventpublisher.Config{
		OutboxRepo: repo,
		Publisher:  publisher,
		Metrics:    m,
		Logger:     logg,
		BatchSize:  cfg.OutboxBatchSize,
		Interval:   cfg.OutboxInterval,
		Retention:  cfg.OutboxRetention,
	})
}
