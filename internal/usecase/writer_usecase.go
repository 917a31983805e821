package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/eduops/courseledger/internal/domain"
	"github.com/eduops/courseledger/internal/infrastructure/metrics"
)

// WriterUseCase is the transaction writer: it accepts a balanced draft from
// a domain event and appends its lines atomically, assigning a monotonic
// sequence. Validation failures write nothing; partial appends are never
// observable.
type WriterUseCase struct {
	txManager  TransactionManager
	ledgerRepo LedgerRepository
	outboxRepo OutboxRepository
	lock       RebuildLock
	registry   *domain.Registry
	idGen      IDGenerator
	metrics    *metrics.Metrics
}

// NewWriterUseCase creates a new WriterUseCase. metrics may be nil.
func NewWriterUseCase(
	txManager TransactionManager,
	ledgerRepo LedgerRepository,
	outboxRepo OutboxRepository,
	lock RebuildLock,
	registry *domain.Registry,
	idGen IDGenerator,
	metrics *metrics.Metrics,
) *WriterUseCase {
	return &WriterUseCase{
		txManager:  txManager,
		ledgerRepo: ledgerRepo,
		outboxRepo: outboxRepo,
		lock:       lock,
		registry:   registry,
		idGen:      idGen,
		metrics:    metrics,
	}
}

// Append validates and persists a live transaction. It is rejected with
// domain.ErrRebuildInProgress while a rebuild holds the store.
func (uc *WriterUseCase) Append(ctx context.Context, draft domain.Draft) (*domain.Transaction, error) {
	return uc.append(ctx, draft, false)
}

// replayAppend persists a transaction on behalf of the rebuild engine,
// which already holds the exclusive store lease.
func (uc *WriterUseCase) replayAppend(ctx context.Context, draft domain.Draft) (*domain.Transaction, error) {
	return uc.append(ctx, draft, true)
}

func (uc *WriterUseCase) append(ctx context.Context, draft domain.Draft, replaying bool) (*domain.Transaction, error) {
	start := time.Now()

	if err := draft.Validate(uc.registry); err != nil {
		uc.countError(err)
		return nil, err
	}

	tx, err := uc.txManager.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if !replaying {
		if err := uc.lock.AcquireShared(ctx, tx); err != nil {
			uc.countError(err)
			return nil, err
		}
	}

	// Sequence assignment is the sole serialization point between
	// concurrent appends.
	firstSeq, err := uc.ledgerRepo.ReserveSequences(ctx, tx, len(draft.Lines))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	txn := &domain.Transaction{
		ID:          uc.idGen.Generate(),
		SourceType:  draft.SourceType,
		SourceID:    draft.SourceID,
		EffectiveAt: draft.EffectiveAt,
		CreatedAt:   now,
		ReversalOf:  draft.ReversalOf,
		Lines:       make([]domain.Line, 0, len(draft.Lines)),
	}

	for i, line := range draft.Lines {
		txn.Lines = append(txn.Lines, domain.Line{
			ID:            uc.idGen.Generate(),
			TransactionID: txn.ID,
			AccountCode:   line.AccountCode,
			Direction:     line.Direction,
			Amount:        line.Amount,
			Sequence:      firstSeq + int64(i),
			CreatedAt:     now,
		})
	}

	if err := uc.ledgerRepo.Insert(ctx, tx, txn); err != nil {
		return nil, err
	}

	if uc.outboxRepo != nil && !replaying {
		if err := uc.outboxRepo.Create(ctx, tx, uc.outboxEvent(txn, now)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	if uc.metrics != nil {
		if txn.ReversalOf != nil {
			uc.metrics.TransactionsReversed.Inc()
		} else {
			uc.metrics.TransactionsAppended.Inc()
		}
		uc.metrics.LinesWritten.Add(float64(len(txn.Lines)))
		uc.metrics.AppendDuration.Observe(time.Since(start).Seconds())
	}

	return txn, nil
}

func (uc *WriterUseCase) countError(err error) {
	if uc.metrics == nil {
		return
	}

	errorType := "other"
	switch {
	case errors.Is(err, domain.ErrImbalancedTransaction):
		errorType = "imbalanced"
	case errors.Is(err, domain.ErrInvalidAmount):
		errorType = "invalid_amount"
	case errors.Is(err, domain.ErrUnknownAccount):
		errorType = "unknown_account"
	case errors.Is(err, domain.ErrRebuildInProgress):
		errorType = "rebuild_in_progress"
	}

	uc.metrics.AppendErrors.WithLabelValues(errorType).Inc()
}

func (uc *WriterUseCase) outboxEvent(txn *domain.Transaction, now time.Time) *domain.OutboxEvent {
	eventType := domain.EventTypeTransactionAppended
	payload := map[string]any{
		"transaction_id": txn.ID,
		"source_type":    txn.SourceType,
		"source_id":      txn.SourceID,
		"line_count":     len(txn.Lines),
		"effective_at":   txn.EffectiveAt.Format(time.RFC3339),
	}

	if txn.ReversalOf != nil {
		eventType = domain.EventTypeTransactionReversed
		payload["reversal_of"] = *txn.ReversalOf
	}

	return &domain.OutboxEvent{
		ID:          uc.idGen.Generate(),
		EventType:   eventType,
		AggregateID: txn.ID,
		Payload:     payload,
		CreatedAt:   now,
	}
}
