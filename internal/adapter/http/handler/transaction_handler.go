package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eduops/courseledger/internal/adapter/http/dto"
	"github.com/eduops/courseledger/internal/domain"
	"github.com/eduops/courseledger/internal/usecase"
)

// QueryService defines the behavior needed by TransactionHandler.
type QueryService interface {
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListByAccount(ctx context.Context, input usecase.ListByAccountInput) ([]*domain.Transaction, error)
	ListBySource(ctx context.Context, sourceType, sourceID string) ([]*domain.Transaction, error)
}

// TransactionHandler handles read-only transaction requests.
type TransactionHandler struct {
	queryUC QueryService
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(queryUC QueryService) *TransactionHandler {
	return &TransactionHandler{queryUC: queryUC}
}

// Get retrieves a transaction with its lines.
func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing transaction ID", "")
		return
	}

	txn, err := h.queryUC.GetTransaction(r.Context(), id)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to get transaction", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.TransactionFromDomain(txn))
}

// List lists transactions filtered by account code or source reference.
// An invoice detail page asks with source_type+source_id and gets the
// original posting plus any corrections.
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if sourceType := query.Get("source_type"); sourceType != "" {
		sourceID := query.Get("source_id")
		if sourceID == "" {
			writeError(w, http.StatusBadRequest, "source_type requires source_id", "")
			return
		}

		txns, err := h.queryUC.ListBySource(r.Context(), sourceType, sourceID)
		if err != nil {
			writeError(w, mapDomainError(err), "failed to list transactions", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, dto.ListTransactionsResponse{
			Transactions: dto.TransactionsFromDomain(txns),
			Total:        int64(len(txns)),
		})

		return
	}

	// The account comes from the query string on /transactions and from the
	// path on /accounts/{code}/transactions.
	account := query.Get("account")
	if account == "" {
		account = chi.URLParam(r, "code")
	}
	if account == "" {
		writeError(w, http.StatusBadRequest, "account or source_type filter required", "")
		return
	}

	txns, err := h.queryUC.ListByAccount(r.Context(), usecase.ListByAccountInput{
		AccountCode: account,
		Limit:       parseIntQuery(r, "limit", 20),
		Offset:      parseIntQuery(r, "offset", 0),
	})
	if err != nil {
		writeError(w, mapDomainError(err), "failed to list transactions", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.ListTransactionsResponse{
		Transactions: dto.TransactionsFromDomain(txns),
		Total:        int64(len(txns)),
	})
}
