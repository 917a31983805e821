package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/eduops/courseledger/internal/adapter/http/dto"
	"github.com/eduops/courseledger/internal/domain"
	"github.com/eduops/courseledger/internal/usecase"
)

// ProjectorService defines the behavior needed by BalanceHandler.
type ProjectorService interface {
	Balance(ctx context.Context, accountCode string, asOf *time.Time) (decimal.Decimal, error)
	TrialBalance(ctx context.Context, asOf *time.Time) (decimal.Decimal, error)
	AllBalances(ctx context.Context, asOf *time.Time) ([]usecase.AccountBalance, error)
}

// AccountService lists the chart of accounts.
type AccountService interface {
	GetByCode(ctx context.Context, code string) (*domain.Account, error)
	List(ctx context.Context) ([]*domain.Account, error)
}

// BalanceHandler handles balance and chart-of-accounts requests.
type BalanceHandler struct {
	projector ProjectorService
	accounts  AccountService
}

// NewBalanceHandler creates a new BalanceHandler.
func NewBalanceHandler(projector ProjectorService, accounts AccountService) *BalanceHandler {
	return &BalanceHandler{projector: projector, accounts: accounts}
}

// ListAccounts lists the chart of accounts with current balances.
func (h *BalanceHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseAsOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid as_of", err.Error())
		return
	}

	balances, err := h.projector.AllBalances(r.Context(), asOf)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to project balances", err.Error())
		return
	}

	resp := dto.BalanceSheetResponse{AsOf: asOf}
	for _, b := range balances {
		resp.Balances = append(resp.Balances, dto.BalanceResponse{
			AccountCode: b.Account.Code,
			Kind:        string(b.Account.Kind),
			Balance:     b.Balance,
			AsOf:        asOf,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// Balance projects one account's signed balance, optionally as of a past
// point in time.
func (h *BalanceHandler) Balance(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing account code", "")
		return
	}

	asOf, err := parseAsOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid as_of", err.Error())
		return
	}

	account, err := h.accounts.GetByCode(r.Context(), code)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to get account", err.Error())
		return
	}

	balance, err := h.projector.Balance(r.Context(), code, asOf)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to project balance", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.BalanceResponse{
		AccountCode: account.Code,
		Kind:        string(account.Kind),
		Balance:     balance,
		AsOf:        asOf,
	})
}

// TrialBalance reports the ledger-wide debit-minus-credit sum; anything but
// zero means corruption.
func (h *BalanceHandler) TrialBalance(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseAsOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid as_of", err.Error())
		return
	}

	sum, err := h.projector.TrialBalance(r.Context(), asOf)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to compute trial balance", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.TrialBalanceResponse{
		Sum:      sum,
		Balanced: sum.IsZero(),
		AsOf:     asOf,
	})
}
