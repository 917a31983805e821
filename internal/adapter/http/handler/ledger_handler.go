package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eduops/courseledger/internal/adapter/http/dto"
	"github.com/eduops/courseledger/internal/domain"
)

// WriterService defines the behavior needed by LedgerHandler.
type WriterService interface {
	Append(ctx context.Context, draft domain.Draft) (*domain.Transaction, error)
}

// ReversalService reverses posted transactions.
type ReversalService interface {
	Reverse(ctx context.Context, txID string) (*domain.Transaction, error)
}

// LedgerHandler handles the mutating ledger endpoints.
type LedgerHandler struct {
	writer   WriterService
	reverser ReversalService
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(writer WriterService, reverser ReversalService) *LedgerHandler {
	return &LedgerHandler{writer: writer, reverser: reverser}
}

// Append posts a new balanced transaction.
func (h *LedgerHandler) Append(w http.ResponseWriter, r *http.Request) {
	var req dto.AppendTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	draft, err := req.ToDraft()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}

	txn, err := h.writer.Append(r.Context(), draft)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to append transaction", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, dto.TransactionFromDomain(txn))
}

// Reverse posts the mirror of an existing transaction.
func (h *LedgerHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing transaction ID", "")
		return
	}

	mirror, err := h.reverser.Reverse(r.Context(), id)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to reverse transaction", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, dto.TransactionFromDomain(mirror))
}
