package usecase

import (
	"context"

	"github.com/eduops/courseledger/internal/domain"
)

// ReversalUseCase appends mirror-image transactions. It is the only
// sanctioned way to undo ledger data: the original rows stay in place and a
// flipped copy is appended on top.
type ReversalUseCase struct {
	writer     *WriterUseCase
	ledgerRepo LedgerRepository
}

// NewReversalUseCase creates a new ReversalUseCase.
func NewReversalUseCase(writer *WriterUseCase, ledgerRepo LedgerRepository) *ReversalUseCase {
	return &ReversalUseCase{
		writer:     writer,
		ledgerRepo: ledgerRepo,
	}
}

// Reverse appends the mirror image of the target transaction. At most one
// reversal may reference an original: a corrected value is represented as
// reversal plus a fresh transaction, never a chain of reversals of
// reversals.
func (uc *ReversalUseCase) Reverse(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	target, err := uc.ledgerRepo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	existing, err := uc.ledgerRepo.FindReversal(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		return nil, domain.ErrAlreadyReversed
	}

	return uc.writer.Append(ctx, target.Reversed())
}

// ReverseLatestForSource reverses the most recent unreversed transaction of
// a source record. Source adapters emit corrections by source id; they do
// not hold ledger transaction ids.
func (uc *ReversalUseCase) ReverseLatestForSource(ctx context.Context, sourceType, sourceID string) (*domain.Transaction, error) {
	target, err := uc.ledgerRepo.LatestUnreversedBySource(ctx, sourceType, sourceID)
	if err != nil {
		return nil, err
	}

	return uc.Reverse(ctx, target.ID)
}
