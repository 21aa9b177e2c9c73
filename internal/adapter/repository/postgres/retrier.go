package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/iho/tripledger/internal/infrastructure/logger"
)

// RetryPolicy bounds how often a write unit is re-run after a conflict.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy allows three re-runs, starting at 50ms.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     time.Second,
}

// Retrier implements usecase.Retrier. Only serialization failures and
// deadlocks are re-run; a lost compare-and-set is a domain error and is
// returned at once.
type Retrier struct {
	policy  RetryPolicy
	logger  zerolog.Logger
	onRetry func(sqlState string)
}

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) RetrierOption {
	return func(r *Retrier) { r.policy = p }
}

// WithRetryObserver is called with the SQLSTATE of every conflict that is retried.
func WithRetryObserver(fn func(sqlState string)) RetrierOption {
	return func(r *Retrier) { r.onRetry = fn }
}

// NewRetrier creates a Retrier with DefaultRetryPolicy.
func NewRetrier(log zerolog.Logger, opts ...RetrierOption) *Retrier {
	r := &Retrier{
		policy:  DefaultRetryPolicy,
		logger:  logger.Component(log, "retrier"),
		onRetry: func(string) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retry runs operation until it succeeds, fails permanently, the policy
// is exhausted or ctx is done.
func (r *Retrier) Retry(ctx context.Context, operation func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.policy.InitialInterval
	exp.MaxInterval = r.policy.MaxInterval
	exp.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(exp, r.policy.MaxRetries), ctx)

	return backoff.RetryNotify(func() error {
		err := operation()
		if err == nil {
			return nil
		}
		if _, ok := conflictState(err); !ok {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		state, _ := conflictState(err)
		r.onRetry(state)
		r.logger.Warn().Err(err).Str("sqlstate", state).Dur("backoff", wait).Msg("write conflict, retrying")
	})
}

// conflictState reports the SQLSTATE of a transient write conflict.
func conflictState(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	switch pgErr.Code {
	case pgErrDeadlock, pgErrSerializationFailure:
		return pgErr.Code, true
	}
	return "", false
}
