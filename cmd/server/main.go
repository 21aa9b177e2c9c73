package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	httpAdapter "github.com/iho/tripledger/internal/adapter/http"
	"github.com/iho/tripledger/internal/adapter/http/handler"
	"github.com/iho/tripledger/internal/infrastructure/config"
	"github.com/iho/tripledger/internal/infrastructure/logger"
	"github.com/iho/tripledger/internal/infrastructure/metrics"
	"github.com/iho/tripledger/internal/usecase"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logg := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Version: version})
	log.Logger = logg

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Fatal().Err(err).Msg("server failed")
	}
	logg.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logg zerolog.Logger) error {
	ctx = logg.WithContext(ctx)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	currencies, err := cfg.Currencies()
	if err != nil {
		return err
	}

	st, err := openStorage(ctx, cfg, m, logg)
	if err != nil {
		return err
	}
	defer st.close()

	deps, err := openRedis(ctx, cfg, st, m, logg)
	if err != nil {
		return err
	}
	defer deps.close()

	ledger := usecase.NewLedgerUseCase(
		deps.store,
		st.entities,
		st.idGen,
		currencies,
		usecase.WithOperationTimeout(cfg.OperationTimeout),
		usecase.WithMetrics(m),
		usecase.WithEventLog(st.outboxRepo),
	)
	reconciliation := usecase.NewReconciliationUseCase(deps.store, cfg.OperationTimeout,
		usecase.WithReconciliationMetrics(m))

	router := httpAdapter.NewRouter(httpAdapter.RouterConfig{
		TransactionHandler: handler.NewTransactionHandler(ledger),
		LedgerHandler:      handler.NewLedgerHandler(reconciliation),
		HealthHandler:      handler.NewHealthHandler(deps.checks),
		IdempotencyStore:   deps.idempotency,
		IdempotencyTTL:     cfg.IdempotencyTTL,
		Metrics:            m,
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:             logg,
		AllowedOrigins:     cfg.CORSAllowedOrigins,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()

	if st.outboxRepo != nil {
		publisher, closePublisher, err := openPublisher(cfg, logg)
		if err != nil {
			return err
		}

		relay := newOutboxRelay(cfg, st.outboxRepo, publisher, m, logg)
		workerDone := make(chan struct{})
		go func() {
			defer close(workerDone)
			if err := relay.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error().Err(err).Msg("outbox relay stopped")
			}
		}()
		defer func() {
			stopWorker()
			<-workerDone
			_ = closePublisher()
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		logg.Info().Str("port", cfg.HTTPPort).Str("storage", cfg.StorageDriver).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logg.Info().Msg("shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
