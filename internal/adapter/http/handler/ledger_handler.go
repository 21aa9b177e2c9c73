package handler

import (
	"context"
	"net/http"

	"github.com/iho/tripledger/internal/usecase"
)

// ConsistencyChecker runs the ledger reconciliation.
type ConsistencyChecker interface {
	CheckLedgerConsistency(ctx context.Context) (*usecase.ReconciliationReport, error)
}

// LedgerHandler handles ledger-wide operations.
type LedgerHandler struct {
	checker ConsistencyChecker
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(checker ConsistencyChecker) *LedgerHandler {
	return &LedgerHandler{checker: checker}
}

// CheckConsistency reports reversal discrepancies. An inconsistent ledger
// still answers 200; the report carries ledger_consistent=false.
func (h *LedgerHandler) CheckConsistency(w http.ResponseWriter, r *http.Request) {
	report, err := h.checker.CheckLedgerConsistency(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}
