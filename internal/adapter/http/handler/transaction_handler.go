package handler

import (
	"context"
	"iter"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iho/tripledger/internal/adapter/http/dto"
	"github.com/iho/tripledger/internal/domain"
	"github.com/iho/tripledger/internal/usecase"
)

// LedgerService is the subset of usecase.LedgerUseCase the HTTP layer uses.
type LedgerService interface {
	Record(ctx context.Context, input usecase.RecordInput) (*domain.Transaction, error)
	Get(ctx context.Context, id string) (*domain.Transaction, error)
	Complete(ctx context.Context, id, performedBy string) (*domain.Transaction, error)
	Fail(ctx context.Context, id, reason, performedBy string) (*domain.Transaction, error)
	Reverse(ctx context.Context, id, reason, performedBy string) (*domain.Transaction, error)
	Transitions(ctx context.Context, id string) ([]*domain.Transition, error)
	Events(ctx context.Context, id string, limit, offset int) ([]*domain.OutboxEvent, error)
	QueryByEntity(ctx context.Context, kind domain.EntityKind, entityID string) iter.Seq2[*domain.Transaction, error]
	QueryByTimeRange(ctx context.Context, start, end time.Time) iter.Seq2[*domain.Transaction, error]
	Summarize(ctx context.Context, start, end time.Time) (*domain.TransactionSummary, error)
}

// TransactionHandler handles transaction-related HTTP requests.
type TransactionHandler struct {
	ledger LedgerService
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(ledger LedgerService) *TransactionHandler {
	return &TransactionHandler{ledger: ledger}
}

// Record appends a new transaction.
func (h *TransactionHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req dto.RecordTransactionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	tx, err := h.ledger.Record(r.Context(), req.ToUseCaseInput(r.Header.Get(ActorHeader)))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.TransactionFromDomain(tx))
}

// Get retrieves a transaction by id.
func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	tx, err := h.ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.TransactionFromDomain(tx))
}

// Transitions returns the status audit trail of a transaction.
func (h *TransactionHandler) Transitions(w http.ResponseWriter, r *http.Request) {
	trs, err := h.ledger.Transitions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.TransitionsFromDomain(trs))
}

// Events pages through the outbox events of a transaction.
func (h *TransactionHandler) Events(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page", err.Error())
		return
	}

	events, err := h.ledger.Events(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.NewEventList(events, limit, offset))
}

// Complete moves a pending transaction to completed.
func (h *TransactionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id string, req dto.TransitionRequest, actor string) (*domain.Transaction, error) {
		return h.ledger.Complete(ctx, id, actor)
	}, http.StatusOK)
}

// Fail moves a pending transaction to failed.
func (h *TransactionHandler) Fail(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id string, req dto.TransitionRequest, actor string) (*domain.Transaction, error) {
		return h.ledger.Fail(ctx, id, req.Reason, actor)
	}, http.StatusOK)
}

// Reverse records a compensating transaction and returns it.
func (h *TransactionHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id string, req dto.TransitionRequest, actor string) (*domain.Transaction, error) {
		return h.ledger.Reverse(ctx, id, req.Reason, actor)
	}, http.StatusCreated)
}

type transitionFunc func(ctx context.Context, id string, req dto.TransitionRequest, actor string) (*domain.Transaction, error)

func (h *TransactionHandler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc, status int) {
	var req dto.TransitionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	tx, err := fn(r.Context(), chi.URLParam(r, "id"), req, req.Actor(r.Header.Get(ActorHeader)))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, status, dto.TransactionFromDomain(tx))
}

// ListByTimeRange lists transactions with start <= timestamp < end.
func (h *TransactionHandler) ListByTimeRange(w http.ResponseWriter, r *http.Request) {
	start, end, err := parsePeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid period", err.Error())
		return
	}

	h.writeList(w, r, h.ledger.QueryByTimeRange(r.Context(), start, end))
}

// ListByEntity lists the transactions referencing an entity.
func (h *TransactionHandler) ListByEntity(w http.ResponseWriter, r *http.Request) {
	kind := domain.EntityKind(chi.URLParam(r, "kind"))
	if !kind.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid entity kind", string(kind))
		return
	}

	h.writeList(w, r, h.ledger.QueryByEntity(r.Context(), kind, chi.URLParam(r, "id")))
}

func (h *TransactionHandler) writeList(w http.ResponseWriter, r *http.Request, seq iter.Seq2[*domain.Transaction, error]) {
	txs, err := usecase.Collect(seq)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.NewTransactionList(txs))
}

// Summary aggregates the transactions of a period.
func (h *TransactionHandler) Summary(w http.ResponseWriter, r *http.Request) {
	start, end, err := parsePeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid period", err.Error())
		return
	}

	summary, err := h.ledger.Summarize(r.Context(), start, end)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
