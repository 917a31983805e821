package usecase

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eduops/courseledger/internal/domain"
)

// LedgerRepository defines data access for the append-only ledger store.
// There is deliberately no update or delete method; Truncate is the single
// destructive operation and is only reachable from a rebuild run.
type LedgerRepository interface {
	// ReserveSequences advances the global line counter by n inside tx and
	// returns the first reserved sequence. Rolling back tx rolls the
	// counter back too, keeping the sequence gap-free.
	ReserveSequences(ctx context.Context, tx Transaction, n int) (int64, error)
	Insert(ctx context.Context, tx Transaction, txn *domain.Transaction) error
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	// FindReversal returns the reversal referencing txID, if one exists.
	FindReversal(ctx context.Context, txID string) (*domain.Transaction, error)
	// LatestUnreversedBySource returns the most recent transaction for a
	// source record that has not itself been reversed and is not a
	// reversal.
	LatestUnreversedBySource(ctx context.Context, sourceType, sourceID string) (*domain.Transaction, error)
	ListByAccount(ctx context.Context, accountCode string, limit, offset int) ([]*domain.Transaction, error)
	ListBySource(ctx context.Context, sourceType, sourceID string) ([]*domain.Transaction, error)
	// AccountDebitCreditSum folds all lines for the account with sequence
	// at or below cutoff (no cutoff when nil), returning debit minus
	// credit.
	AccountDebitCreditSum(ctx context.Context, accountCode string, asOf *time.Time) (decimal.Decimal, error)
	// AccountDeltaAfter returns debit-minus-credit over lines with
	// sequence strictly greater than afterSeq, plus the highest sequence
	// seen.
	AccountDeltaAfter(ctx context.Context, accountCode string, afterSeq int64) (decimal.Decimal, int64, error)
	// TrialBalanceSum is debit minus credit over every line; zero for any
	// valid ledger state.
	TrialBalanceSum(ctx context.Context, asOf *time.Time) (decimal.Decimal, error)
	Counts(ctx context.Context) (transactions, lines int64, err error)
	// Truncate removes every transaction and line. Only the rebuild engine
	// calls this, as the first step of a run.
	Truncate(ctx context.Context, tx Transaction) error
}

// AccountRepository defines data access for the static chart of accounts.
type AccountRepository interface {
	// Bootstrap inserts any chart accounts not yet present. Existing rows
	// are left untouched.
	Bootstrap(ctx context.Context, accounts []domain.Account) error
	GetByCode(ctx context.Context, code string) (*domain.Account, error)
	List(ctx context.Context) ([]*domain.Account, error)
}

// SourceAdapter enumerates one billing subsystem's full ordered history of
// domain events as a bounded paginated pull. Cursor is opaque; an empty
// next cursor means the history is exhausted.
type SourceAdapter interface {
	Name() string
	Events(ctx context.Context, cursor string, limit int) (events []domain.SourceEvent, next string, err error)
}

// RebuildLock guards the ledger store during a rebuild. Live appends take
// the shared side inside their own transaction; a rebuild run holds the
// exclusive side for its whole lifetime. Session-scoped, so a crashed
// rebuild releases its lease without manual cleanup.
type RebuildLock interface {
	// AcquireShared returns domain.ErrRebuildInProgress when a rebuild
	// holds the exclusive lease. Released automatically with tx.
	AcquireShared(ctx context.Context, tx Transaction) error
	// AcquireExclusive returns a release func, or
	// domain.ErrRebuildInProgress when another rebuild is active.
	AcquireExclusive(ctx context.Context) (release func(context.Context) error, err error)
}

// RebuildRunRepository persists rebuild run state transitions.
type RebuildRunRepository interface {
	Create(ctx context.Context, run *RebuildRun) error
	Update(ctx context.Context, run *RebuildRun) error
	Latest(ctx context.Context) (*RebuildRun, error)
}

// OutboxRepository defines data access for outbox events.
type OutboxRepository interface {
	Create(ctx context.Context, tx Transaction, event *domain.OutboxEvent) error
	GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
}

// BalanceCache memoizes per-account running totals keyed by the last
// applied sequence. Purely a performance optimization; the projector never
// serves a cached value without folding the lines past it.
type BalanceCache interface {
	Get(ctx context.Context, accountCode string) (raw decimal.Decimal, lastSeq int64, ok bool, err error)
	// Set stores the memo only if lastSeq extends the cached one.
	Set(ctx context.Context, accountCode string, raw decimal.Decimal, lastSeq int64) error
	// Purge drops every memo. Truncating the ledger restarts the line
	// sequence at zero, so a surviving memo would outrank every future Set
	// under the monotonic rule and serve pre-truncate balances forever.
	Purge(ctx context.Context) error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionManager handles transaction lifecycle.
type TransactionManager interface {
	Begin(ctx context.Context) (Transaction, error)
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}
