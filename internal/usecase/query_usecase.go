package usecase

import (
	"context"

	"github.com/eduops/courseledger/internal/domain"
)

// QueryUseCase is the read-only listing surface consumed by reporting and
// UI layers: enough for an invoice detail page to show its ledger impact
// without the ledger knowing anything about invoices.
type QueryUseCase struct {
	ledgerRepo LedgerRepository
}

// NewQueryUseCase creates a new QueryUseCase.
func NewQueryUseCase(ledgerRepo LedgerRepository) *QueryUseCase {
	return &QueryUseCase{ledgerRepo: ledgerRepo}
}

// GetTransaction retrieves a transaction with its lines.
func (uc *QueryUseCase) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return uc.ledgerRepo.GetByID(ctx, id)
}

// ListByAccountInput represents input for listing by account.
type ListByAccountInput struct {
	AccountCode string
	Limit       int
	Offset      int
}

// ListByAccount lists transactions touching an account, newest sequence
// first.
func (uc *QueryUseCase) ListByAccount(ctx context.Context, input ListByAccountInput) ([]*domain.Transaction, error) {
	if input.Limit <= 0 {
		input.Limit = 20
	}

	if input.Limit > 100 {
		input.Limit = 100
	}

	if input.Offset < 0 {
		input.Offset = 0
	}

	return uc.ledgerRepo.ListByAccount(ctx, input.AccountCode, input.Limit, input.Offset)
}

// ListBySource lists every transaction derived from one source record:
// the original posting plus any correction reversals and re-postings.
func (uc *QueryUseCase) ListBySource(ctx context.Context, sourceType, sourceID string) ([]*domain.Transaction, error) {
	return uc.ledgerRepo.ListBySource(ctx, sourceType, sourceID)
}
