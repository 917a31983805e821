package usecase

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eduops/courseledger/internal/domain"
	"github.com/eduops/courseledger/internal/infrastructure/metrics"
)

// ProjectorUseCase computes account balances by folding the ledger line
// sequence. It holds no mutable state of its own; an optional cache
// memoizes per-account running totals keyed by the last applied sequence.
type ProjectorUseCase struct {
	ledgerRepo LedgerRepository
	registry   *domain.Registry
	cache      BalanceCache
	metrics    *metrics.Metrics
}

// NewProjectorUseCase creates a new ProjectorUseCase. cache and metrics may
// be nil.
func NewProjectorUseCase(ledgerRepo LedgerRepository, registry *domain.Registry, cache BalanceCache, metrics *metrics.Metrics) *ProjectorUseCase {
	return &ProjectorUseCase{
		ledgerRepo: ledgerRepo,
		registry:   registry,
		cache:      cache,
		metrics:    metrics,
	}
}

// Balance returns the account's signed balance as of asOf, or as of now
// when asOf is nil. The sign follows the account's normal-balance kind, so
// a liability with more credits than debits reads positive.
func (uc *ProjectorUseCase) Balance(ctx context.Context, accountCode string, asOf *time.Time) (decimal.Decimal, error) {
	account, ok := uc.registry.Lookup(accountCode)
	if !ok {
		return decimal.Zero, domain.ErrAccountNotFound
	}

	if uc.metrics != nil {
		uc.metrics.BalanceQueries.Inc()
	}

	raw, err := uc.rawBalance(ctx, accountCode, asOf)
	if err != nil {
		return decimal.Zero, err
	}

	if account.NormalBalance() == domain.Credit {
		return raw.Neg(), nil
	}

	return raw, nil
}

// rawBalance is debit minus credit over the account's lines up to the
// cutoff. The memo path only applies to as-of-now queries: a cached
// (balance, lastSeq) pair is extended by folding the lines past lastSeq,
// so a stale memo can never hide a write.
func (uc *ProjectorUseCase) rawBalance(ctx context.Context, accountCode string, asOf *time.Time) (decimal.Decimal, error) {
	if asOf != nil || uc.cache == nil {
		return uc.ledgerRepo.AccountDebitCreditSum(ctx, accountCode, asOf)
	}

	cached, lastSeq, ok, err := uc.cache.Get(ctx, accountCode)
	if err != nil || !ok {
		if uc.metrics != nil {
			uc.metrics.BalanceCacheMisses.Inc()
		}

		// Cache miss or cache failure: fold from the start and seed the
		// memo. A cache error is not a balance error.
		raw, maxSeq, foldErr := uc.ledgerRepo.AccountDeltaAfter(ctx, accountCode, 0)
		if foldErr != nil {
			return decimal.Zero, foldErr
		}

		if maxSeq > 0 {
			_ = uc.cache.Set(ctx, accountCode, raw, maxSeq)
		}

		return raw, nil
	}

	if uc.metrics != nil {
		uc.metrics.BalanceCacheHits.Inc()
	}

	delta, maxSeq, err := uc.ledgerRepo.AccountDeltaAfter(ctx, accountCode, lastSeq)
	if err != nil {
		return decimal.Zero, err
	}

	raw := cached.Add(delta)

	if maxSeq > lastSeq {
		_ = uc.cache.Set(ctx, accountCode, raw, maxSeq)
	}

	return raw, nil
}

// TrialBalance returns the sum of debit minus credit over every line up to
// asOf. Zero for any valid ledger state; this is a standing invariant, not
// just a test assertion.
func (uc *ProjectorUseCase) TrialBalance(ctx context.Context, asOf *time.Time) (decimal.Decimal, error) {
	if uc.metrics != nil {
		uc.metrics.TrialBalanceQueries.Inc()
	}

	return uc.ledgerRepo.TrialBalanceSum(ctx, asOf)
}

// AccountBalance pairs an account with its signed balance.
type AccountBalance struct {
	Account domain.Account
	Balance decimal.Decimal
}

// AllBalances returns the signed balance of every chart account.
func (uc *ProjectorUseCase) AllBalances(ctx context.Context, asOf *time.Time) ([]AccountBalance, error) {
	accounts := uc.registry.Accounts()
	balances := make([]AccountBalance, 0, len(accounts))

	for _, account := range accounts {
		balance, err := uc.Balance(ctx, account.Code, asOf)
		if err != nil {
			return nil, err
		}

		balances = append(balances, AccountBalance{Account: account, Balance: balance})
	}

	return balances, nil
}
