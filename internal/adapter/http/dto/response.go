package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/eduops/courseledger/internal/domain"
	"github.com/eduops/courseledger/internal/usecase"
)

// AccountResponse represents a chart account in API responses.
type AccountResponse struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// AccountFromDomain converts a domain account to a response.
func AccountFromDomain(a *domain.Account) *AccountResponse {
	return &AccountResponse{
		Code: a.Code,
		Name: a.Name,
		Kind: string(a.Kind),
	}
}

// AccountsFromDomain converts domain accounts to responses.
func AccountsFromDomain(accounts []*domain.Account) []*AccountResponse {
	result := make([]*AccountResponse, len(accounts))
	for i, a := range accounts {
		result[i] = AccountFromDomain(a)
	}
	return result
}

// LineResponse represents a ledger line in API responses.
type LineResponse struct {
	ID          string          `json:"id"`
	AccountCode string          `json:"account_code"`
	Direction   string          `json:"direction"`
	Amount      decimal.Decimal `json:"amount"`
	Sequence    int64           `json:"sequence"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TransactionResponse represents a transaction in API responses.
type TransactionResponse struct {
	ID          string         `json:"id"`
	SourceType  string         `json:"source_type"`
	SourceID    string         `json:"source_id"`
	EffectiveAt time.Time      `json:"effective_at"`
	CreatedAt   time.Time      `json:"created_at"`
	ReversalOf  *string        `json:"reversal_of,omitempty"`
	Lines       []LineResponse `json:"lines"`
}

// TransactionFromDomain converts a domain transaction to a response.
func TransactionFromDomain(t *domain.Transaction) *TransactionResponse {
	lines := make([]LineResponse, len(t.Lines))
	for i, line := range t.Lines {
		lines[i] = LineResponse{
			ID:          line.ID,
			AccountCode: line.AccountCode,
			Direction:   string(line.Direction),
			Amount:      line.Amount,
			Sequence:    line.Sequence,
			CreatedAt:   line.CreatedAt,
		}
	}

	return &TransactionResponse{
		ID:          t.ID,
		SourceType:  t.SourceType,
		SourceID:    t.SourceID,
		EffectiveAt: t.EffectiveAt,
		CreatedAt:   t.CreatedAt,
		ReversalOf:  t.ReversalOf,
		Lines:       lines,
	}
}

// TransactionsFromDomain converts domain transactions to responses.
func TransactionsFromDomain(txns []*domain.Transaction) []*TransactionResponse {
	result := make([]*TransactionResponse, len(txns))
	for i, t := range txns {
		result[i] = TransactionFromDomain(t)
	}
	return result
}

// ListTransactionsResponse wraps a page of transactions.
type ListTransactionsResponse struct {
	Transactions []*TransactionResponse `json:"transactions"`
	Total        int64                  `json:"total"`
}

// BalanceResponse represents an account balance in API responses.
type BalanceResponse struct {
	AccountCode string          `json:"account_code"`
	Kind        string          `json:"kind"`
	Balance     decimal.Decimal `json:"balance"`
	AsOf        *time.Time      `json:"as_of,omitempty"`
}

// TrialBalanceResponse represents the trial balance check.
type TrialBalanceResponse struct {
	Sum      decimal.Decimal `json:"sum"`
	Balanced bool            `json:"balanced"`
	AsOf     *time.Time      `json:"as_of,omitempty"`
}

// BalanceSheetResponse lists every account with its signed balance.
type BalanceSheetResponse struct {
	Balances []BalanceResponse `json:"balances"`
	AsOf     *time.Time        `json:"as_of,omitempty"`
}

// RebuildRunResponse represents the latest rebuild run for operators.
type RebuildRunResponse struct {
	ID           string     `json:"id"`
	Mode         string     `json:"mode"`
	State        string     `json:"state"`
	Cursor       int64      `json:"cursor"`
	Transactions int64      `json:"transactions"`
	Lines        int64      `json:"lines"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// RebuildRunFromUseCase converts a rebuild run to a response.
func RebuildRunFromUseCase(run *usecase.RebuildRun) *RebuildRunResponse {
	return &RebuildRunResponse{
		ID:           run.ID,
		Mode:         string(run.Mode),
		State:        string(run.State),
		Cursor:       run.Cursor,
		Transactions: run.Transactions,
		Lines:        run.Lines,
		Error:        run.Error,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	}
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
