package mocks

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eduops/courseledger/internal/domain"
	"github.com/eduops/courseledger/internal/usecase"
)

// MemLedgerRepository is an in-memory LedgerRepository used by usecase
// tests. Commits are applied immediately; tests that care about rollback
// behavior assert through the writer's validation path instead.
type MemLedgerRepository struct {
	mu           sync.Mutex
	Transactions []*domain.Transaction
	seq          int64

	ReserveSequencesFunc func(ctx context.Context, tx usecase.Transaction, n int) (int64, error)
	InsertFunc           func(ctx context.Context, tx usecase.Transaction, txn *domain.Transaction) error
}

func NewMemLedgerRepository() *MemLedgerRepository {
	return &MemLedgerRepository{}
}

func (m *MemLedgerRepository) ReserveSequences(ctx context.Context, tx usecase.Transaction, n int) (int64, error) {
	if m.ReserveSequencesFunc != nil {
		return m.ReserveSequencesFunc(ctx, tx, n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	first := m.seq + 1
	m.seq += int64(n)
	return first, nil
}

func (m *MemLedgerRepository) Insert(ctx context.Context, tx usecase.Transaction, txn *domain.Transaction) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, tx, txn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Transactions = append(m.Transactions, txn)
	return nil
}

func (m *MemLedgerRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, txn := range m.Transactions {
		if txn.ID == id {
			return txn, nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

func (m *MemLedgerRepository) FindReversal(ctx context.Context, txID string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, txn := range m.Transactions {
		if txn.ReversalOf != nil && *txn.ReversalOf == txID {
			return txn, nil
		}
	}
	return nil, nil
}

func (m *MemLedgerRepository) LatestUnreversedBySource(ctx context.Context, sourceType, sourceID string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reversed := make(map[string]bool)
	for _, txn := range m.Transactions {
		if txn.ReversalOf != nil {
			reversed[*txn.ReversalOf] = true
		}
	}

	for i := len(m.Transactions) - 1; i >= 0; i-- {
		txn := m.Transactions[i]
		if txn.SourceType == sourceType && txn.SourceID == sourceID &&
			txn.ReversalOf == nil && !reversed[txn.ID] {
			return txn, nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

func (m *MemLedgerRepository) ListByAccount(ctx context.Context, accountCode string, limit, offset int) ([]*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*domain.Transaction
	for i := len(m.Transactions) - 1; i >= 0; i-- {
		txn := m.Transactions[i]
		for _, line := range txn.Lines {
			if line.AccountCode == accountCode {
				matched = append(matched, txn)
				break
			}
		}
	}

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *MemLedgerRepository) ListBySource(ctx context.Context, sourceType, sourceID string) ([]*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*domain.Transaction
	for _, txn := range m.Transactions {
		if txn.SourceType == sourceType && txn.SourceID == sourceID {
			matched = append(matched, txn)
		}
	}
	return matched, nil
}

func (m *MemLedgerRepository) AccountDebitCreditSum(ctx context.Context, accountCode string, asOf *time.Time) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := decimal.Zero
	for _, txn := range m.Transactions {
		for _, line := range txn.Lines {
			if line.AccountCode != accountCode {
				continue
			}
			if asOf != nil && line.CreatedAt.After(*asOf) {
				continue
			}
			if line.Direction == domain.Debit {
				sum = sum.Add(line.Amount)
			} else {
				sum = sum.Sub(line.Amount)
			}
		}
	}
	return sum, nil
}

func (m *MemLedgerRepository) AccountDeltaAfter(ctx context.Context, accountCode string, afterSeq int64) (decimal.Decimal, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := decimal.Zero
	maxSeq := afterSeq
	for _, txn := range m.Transactions {
		for _, line := range txn.Lines {
			if line.AccountCode != accountCode || line.Sequence <= afterSeq {
				continue
			}
			if line.Direction == domain.Debit {
				sum = sum.Add(line.Amount)
			} else {
				sum = sum.Sub(line.Amount)
			}
			if line.Sequence > maxSeq {
				maxSeq = line.Sequence
			}
		}
	}
	return sum, maxSeq, nil
}

func (m *MemLedgerRepository) TrialBalanceSum(ctx context.Context, asOf *time.Time) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := decimal.Zero
	for _, txn := range m.Transactions {
		for _, line := range txn.Lines {
			if asOf != nil && line.CreatedAt.After(*asOf) {
				continue
			}
			if line.Direction == domain.Debit {
				sum = sum.Add(line.Amount)
			} else {
				sum = sum.Sub(line.Amount)
			}
		}
	}
	return sum, nil
}

func (m *MemLedgerRepository) Counts(ctx context.Context) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lines int64
	for _, txn := range m.Transactions {
		lines += int64(len(txn.Lines))
	}
	return int64(len(m.Transactions)), lines, nil
}

func (m *MemLedgerRepository) Truncate(ctx context.Context, tx usecase.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Transactions = nil
	m.seq = 0
	return nil
}

// MockTransaction is a no-op database transaction.
type MockTransaction struct {
	Committed  bool
	RolledBack bool
}

func (t *MockTransaction) Commit(ctx context.Context) error {
	t.Committed = true
	return nil
}

func (t *MockTransaction) Rollback(ctx context.Context) error {
	if !t.Committed {
		t.RolledBack = true
	}
	return nil
}

// MockTransactionManager hands out MockTransactions.
type MockTransactionManager struct {
	BeginFunc func(ctx context.Context) (usecase.Transaction, error)
	Began     int
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) Begin(ctx context.Context) (usecase.Transaction, error) {
	if m.BeginFunc != nil {
		return m.BeginFunc(ctx)
	}
	m.Began++
	return &MockTransaction{}, nil
}

// MockIDGenerator generates deterministic sequential IDs.
type MockIDGenerator struct {
	mu      sync.Mutex
	prefix  string
	counter int

	GenerateFunc func() string
}

func NewMockIDGenerator(prefix string) *MockIDGenerator {
	return &MockIDGenerator{prefix: prefix}
}

func (m *MockIDGenerator) Generate() string {
	if m.GenerateFunc != nil {
		return m.GenerateFunc()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	return m.prefix + "-" + strconv.Itoa(m.counter)
}

// MockRebuildLock controls lock acquisition outcomes.
type MockRebuildLock struct {
	SharedErr    error
	ExclusiveErr error

	mu             sync.Mutex
	ExclusiveHeld  bool
	SharedAcquired int
}

func NewMockRebuildLock() *MockRebuildLock {
	return &MockRebuildLock{}
}

func (m *MockRebuildLock) AcquireShared(ctx context.Context, tx usecase.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SharedErr != nil {
		return m.SharedErr
	}
	m.SharedAcquired++
	return nil
}

func (m *MockRebuildLock) AcquireExclusive(ctx context.Context) (func(context.Context) error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ExclusiveErr != nil {
		return nil, m.ExclusiveErr
	}
	m.ExclusiveHeld = true
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.ExclusiveHeld = false
		return nil
	}, nil
}

// MockRebuildRunRepository keeps run records in memory.
type MockRebuildRunRepository struct {
	mu   sync.Mutex
	Runs []*usecase.RebuildRun
}

func NewMockRebuildRunRepository() *MockRebuildRunRepository {
	return &MockRebuildRunRepository{}
}

func (m *MockRebuildRunRepository) Create(ctx context.Context, run *usecase.RebuildRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *run
	m.Runs = append(m.Runs, &copied)
	return nil
}

func (m *MockRebuildRunRepository) Update(ctx context.Context, run *usecase.RebuildRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.Runs {
		if existing.ID == run.ID {
			copied := *run
			m.Runs[i] = &copied
			return nil
		}
	}
	copied := *run
	m.Runs = append(m.Runs, &copied)
	return nil
}

func (m *MockRebuildRunRepository) Latest(ctx context.Context) (*usecase.RebuildRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Runs) == 0 {
		return nil, nil
	}
	copied := *m.Runs[len(m.Runs)-1]
	return &copied, nil
}

// MockOutboxRepository records created outbox events.
type MockOutboxRepository struct {
	mu     sync.Mutex
	Events []*domain.OutboxEvent
}

func NewMockOutboxRepository() *MockOutboxRepository {
	return &MockOutboxRepository{}
}

func (m *MockOutboxRepository) Create(ctx context.Context, tx usecase.Transaction, event *domain.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
	return nil
}

func (m *MockOutboxRepository) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var unpublished []*domain.OutboxEvent
	for _, event := range m.Events {
		if !event.Published {
			unpublished = append(unpublished, event)
		}
		if len(unpublished) == limit {
			break
		}
	}
	return unpublished, nil
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, event := range m.Events {
		if event.ID == id {
			event.Published = true
			event.PublishedAt = &publishedAt
		}
	}
	return nil
}

// MemBalanceCache is an in-memory usecase.BalanceCache with the same
// monotonic replacement rule as the redis implementation.
type MemBalanceCache struct {
	mu     sync.Mutex
	memos  map[string]balanceMemo
	Purged int
}

type balanceMemo struct {
	raw     decimal.Decimal
	lastSeq int64
}

func NewMemBalanceCache() *MemBalanceCache {
	return &MemBalanceCache{memos: make(map[string]balanceMemo)}
}

func (m *MemBalanceCache) Get(ctx context.Context, accountCode string) (decimal.Decimal, int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	memo, ok := m.memos[accountCode]
	if !ok {
		return decimal.Zero, 0, false, nil
	}
	return memo.raw, memo.lastSeq, true, nil
}

func (m *MemBalanceCache) Set(ctx context.Context, accountCode string, raw decimal.Decimal, lastSeq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.memos[accountCode]; ok && existing.lastSeq >= lastSeq {
		return nil
	}
	m.memos[accountCode] = balanceMemo{raw: raw, lastSeq: lastSeq}
	return nil
}

func (m *MemBalanceCache) Purge(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memos = make(map[string]balanceMemo)
	m.Purged++
	return nil
}

// Len reports how many memos the cache currently holds.
func (m *MemBalanceCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.memos)
}

// StubSourceAdapter serves a fixed event history with pagination. The
// cursor is a plain offset; source ids are not assumed unique because an
// original and its reversal share one.
type StubSourceAdapter struct {
	AdapterName string
	History     []domain.SourceEvent
	Err         error
}

func (s *StubSourceAdapter) Name() string {
	return s.AdapterName
}

func (s *StubSourceAdapter) Events(ctx context.Context, cursor string, limit int) ([]domain.SourceEvent, string, error) {
	if s.Err != nil {
		return nil, "", s.Err
	}

	start := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", err
		}
		start = parsed
	}

	if start >= len(s.History) {
		return nil, "", nil
	}

	end := start + limit
	if end > len(s.History) {
		end = len(s.History)
	}

	next := ""
	if end < len(s.History) {
		next = strconv.Itoa(end)
	}
	return s.History[start:end], next, nil
}
