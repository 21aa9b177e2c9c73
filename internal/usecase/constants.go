package usecase

import "time"

const (
	// DefaultOperationTimeout bounds every ledger call that touches storage.
	DefaultOperationTimeout = 10 * time.Second

	// MaxRelatedTransactions caps the supersede/compensate links on one record.
	MaxRelatedTransactions = 32
)
