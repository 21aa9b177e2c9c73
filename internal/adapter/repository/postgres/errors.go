package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iho/tripledger/internal/domain"
)

// PostgreSQL error codes.
const (
	pgErrDeadlock             = "40P01"
	pgErrSerializationFailure = "40001"
	pgErrUniqueViolation      = "23505"
	pgErrForeignKeyViolation  = "23503"
	pgErrAdminShutdown        = "57P01"
	pgErrCannotConnectNow     = "57P03"
	pgErrQueryCanceled        = "57014"
)

const (
	constraintTransactionsPkey = "ledger_transactions_pkey"
	constraintReversalOfKey    = "ledger_transactions_reversal_of_key"
)

// mapError translates driver errors into domain errors. Errors that already
// carry a domain meaning pass through unchanged.
func mapError(err error) error {
	if err == nil || isDomainError(err) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgErrUniqueViolation && pgErr.ConstraintName == constraintReversalOfKey:
			return fmt.Errorf("%w: original already reversed", domain.ErrConcurrentModification)
		case pgErr.Code == pgErrUniqueViolation:
			return fmt.Errorf("%w: %s", domain.ErrDuplicateID, pgErr.Detail)
		case pgErr.Code == pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, pgErr.Detail)
		case pgErr.Code == pgErrDeadlock, pgErr.Code == pgErrSerializationFailure:
			return fmt.Errorf("%w: %w", domain.ErrConcurrentModification, err)
		case strings.HasPrefix(pgErr.Code, "08"),
			pgErr.Code == pgErrAdminShutdown,
			pgErr.Code == pgErrCannotConnectNow,
			pgErr.Code == pgErrQueryCanceled:
			return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
		}
		return fmt.Errorf("postgres: %w", err)
	}

	// Anything else is a connection failure, an I/O failure or an expired context.
	return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		domain.ErrTransactionNotFound,
		domain.ErrDuplicateID,
		domain.ErrConcurrentModification,
		domain.ErrInvalidTransition,
		domain.ErrStorageUnavailable,
		domain.ErrValidation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
