package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/eduops/courseledger/internal/domain"
	"github.com/eduops/courseledger/internal/infrastructure/metrics"
)

// RebuildState is one step of the rebuild state machine.
type RebuildState string

const (
	StateIdle       RebuildState = "idle"
	StateTruncating RebuildState = "truncating"
	StateReplaying  RebuildState = "replaying"
	StateVerifying  RebuildState = "verifying"
	StateComplete   RebuildState = "complete"
	StateFailed     RebuildState = "failed"
)

// RebuildMode selects what a run does.
type RebuildMode string

const (
	ModeFull         RebuildMode = "full"
	ModeDryRun       RebuildMode = "dry_run"
	ModeTruncateOnly RebuildMode = "truncate_only"
	ModeResume       RebuildMode = "resume"
)

// RebuildRun is the persisted state-machine instance for one rebuild. The
// run record survives a process restart, so an operator can see that a
// crashed rebuild left the ledger non-authoritative.
type RebuildRun struct {
	ID           string
	Mode         RebuildMode
	State        RebuildState
	Cursor       int64 // events replayed so far
	Transactions int64
	Lines        int64
	Error        string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// RebuildReport summarizes a finished run for the operator.
type RebuildReport struct {
	Run              *RebuildRun
	Transactions     int64
	Lines            int64
	TrialBalance     string
	Elapsed          time.Duration
	ValidationErrors []string // populated in dry-run only
	EventsEnumerated int64
	EventsSkipped    int64 // resume: prefix already replayed
}

// RebuildUseCase regenerates the whole ledger from source history:
// truncate, then replay every historical event through the writer in one
// deterministic global order, then verify the trial balance.
type RebuildUseCase struct {
	txManager  TransactionManager
	ledgerRepo LedgerRepository
	runRepo    RebuildRunRepository
	lock       RebuildLock
	writer     *WriterUseCase
	adapters   []SourceAdapter
	idGen      IDGenerator
	cache      BalanceCache
	pageSize   int
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// NewRebuildUseCase creates a new RebuildUseCase. cache and metrics may be
// nil; when a cache is given its memos are purged whenever the ledger is
// truncated.
func NewRebuildUseCase(
	txManager TransactionManager,
	ledgerRepo LedgerRepository,
	runRepo RebuildRunRepository,
	lock RebuildLock,
	writer *WriterUseCase,
	adapters []SourceAdapter,
	idGen IDGenerator,
	cache BalanceCache,
	pageSize int,
	logger zerolog.Logger,
	metrics *metrics.Metrics,
) *RebuildUseCase {
	if pageSize <= 0 {
		pageSize = 500
	}

	return &RebuildUseCase{
		txManager:  txManager,
		ledgerRepo: ledgerRepo,
		runRepo:    runRepo,
		lock:       lock,
		writer:     writer,
		adapters:   adapters,
		idGen:      idGen,
		cache:      cache,
		pageSize:   pageSize,
		logger:     logger,
		metrics:    metrics,
	}
}

// Run executes a rebuild in the given mode and returns the report. A
// non-nil error means the run finished in StateFailed; the report is still
// returned for the operator summary.
func (uc *RebuildUseCase) Run(ctx context.Context, mode RebuildMode) (*RebuildReport, error) {
	start := time.Now()

	run := &RebuildRun{
		ID:        uc.idGen.Generate(),
		Mode:      mode,
		State:     StateIdle,
		StartedAt: start.UTC(),
	}

	report := &RebuildReport{Run: run}

	if mode == ModeDryRun {
		// Dry-run never takes the exclusive lease and never touches the
		// writer's persisting path.
		err := uc.dryRun(ctx, report)
		if err != nil {
			run.State = StateFailed
		} else {
			run.State = StateComplete
		}
		report.Elapsed = time.Since(start)
		uc.observeRun(run, report.Elapsed)
		return report, err
	}

	release, err := uc.lock.AcquireExclusive(ctx)
	if err != nil {
		return report, err
	}
	defer func() {
		if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
			uc.logger.Error().Err(relErr).Msg("failed to release rebuild lease")
		}
	}()

	// The prior run must be read before this run's record lands, or a
	// resume would find itself as the latest run.
	prior, err := uc.runRepo.Latest(ctx)
	if err != nil {
		return report, err
	}

	if err := uc.runRepo.Create(ctx, run); err != nil {
		return report, err
	}

	err = uc.execute(ctx, run, prior, report)

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	report.Elapsed = time.Since(start)

	if err != nil {
		run.State = StateFailed
		run.Error = err.Error()
	}

	if updateErr := uc.runRepo.Update(context.WithoutCancel(ctx), run); updateErr != nil {
		uc.logger.Error().Err(updateErr).Str("run_id", run.ID).Msg("failed to persist rebuild run state")
	}

	uc.observeRun(run, report.Elapsed)

	return report, err
}

func (uc *RebuildUseCase) observeRun(run *RebuildRun, elapsed time.Duration) {
	if uc.metrics == nil {
		return
	}

	uc.metrics.RebuildRuns.WithLabelValues(string(run.Mode), string(run.State)).Inc()
	uc.metrics.RebuildDuration.Observe(elapsed.Seconds())
}

func (uc *RebuildUseCase) execute(ctx context.Context, run *RebuildRun, prior *RebuildRun, report *RebuildReport) error {
	var skip int64

	if run.Mode == ModeResume {
		// A completed prefix of a deterministic order is itself
		// deterministic: skip exactly as many events as the failed run
		// already replayed, verified against the store.
		if prior == nil || prior.State != StateFailed || prior.Mode == ModeTruncateOnly {
			return fmt.Errorf("%w: no failed replay to resume", domain.ErrReplayIntegrity)
		}

		txCount, _, err := uc.ledgerRepo.Counts(ctx)
		if err != nil {
			return err
		}

		if txCount != prior.Cursor {
			return fmt.Errorf("%w: ledger has %d transactions but prior run replayed %d events, full rebuild required",
				domain.ErrReplayIntegrity, txCount, prior.Cursor)
		}

		skip = prior.Cursor
		run.Cursor = skip
		report.EventsSkipped = skip
	} else {
		if err := uc.transition(ctx, run, StateTruncating); err != nil {
			return err
		}

		if err := uc.truncate(ctx); err != nil {
			return err
		}

		uc.logger.Info().Str("run_id", run.ID).Msg("ledger truncated")
	}

	if run.Mode == ModeTruncateOnly {
		return uc.verify(ctx, run, report)
	}

	if err := uc.transition(ctx, run, StateReplaying); err != nil {
		return err
	}

	events, err := uc.enumerate(ctx)
	if err != nil {
		return err
	}

	report.EventsEnumerated = int64(len(events))

	if skip > int64(len(events)) {
		return fmt.Errorf("%w: prior run replayed %d events but sources only have %d",
			domain.ErrReplayIntegrity, skip, len(events))
	}

	// source ref -> persisted transaction id, for resolving reversal
	// events back to the transaction they undo.
	originals := make(map[string]string)

	for i, event := range events {
		if int64(i) < skip {
			// Re-derive the reversal map for the already-replayed prefix.
			if event.Kind == domain.EventOriginal {
				txn, lookupErr := uc.ledgerRepo.LatestUnreversedBySource(ctx, event.SourceType, event.SourceID)
				if lookupErr == nil {
					originals[sourceRef(event.SourceType, event.SourceID)] = txn.ID
				}
			}
			continue
		}

		// Cancellation is honored between discrete events, never inside
		// one append.
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("replay cancelled after %d events: %w", run.Cursor, err)
		}

		txn, err := uc.replayEvent(ctx, event, originals)
		if err != nil {
			return fmt.Errorf("%w: event %s:%s: %v", domain.ErrReplayIntegrity, event.SourceType, event.SourceID, err)
		}

		run.Cursor++
		run.Transactions++
		run.Lines += int64(len(txn.Lines))

		if uc.metrics != nil {
			uc.metrics.EventsReplayed.Inc()
		}

		if run.Cursor%int64(uc.pageSize) == 0 {
			if err := uc.runRepo.Update(ctx, run); err != nil {
				return err
			}
		}
	}

	report.Transactions = run.Transactions
	report.Lines = run.Lines

	return uc.verify(ctx, run, report)
}

func (uc *RebuildUseCase) replayEvent(ctx context.Context, event domain.SourceEvent, originals map[string]string) (*domain.Transaction, error) {
	var reversalOf *string

	if event.Kind == domain.EventReversal {
		if id, ok := originals[event.ReversalOfEvent]; ok {
			reversalOf = &id
		}
	}

	txn, err := uc.writer.replayAppend(ctx, event.Draft(reversalOf))
	if err != nil {
		return nil, err
	}

	if event.Kind == domain.EventOriginal {
		originals[sourceRef(event.SourceType, event.SourceID)] = txn.ID
	}

	return txn, nil
}

// enumerate drains every adapter and merges the streams into one global
// order by (effective_at, source_type, source_id), independent of adapter
// iteration order.
func (uc *RebuildUseCase) enumerate(ctx context.Context) ([]domain.SourceEvent, error) {
	var all []domain.SourceEvent

	for _, adapter := range uc.adapters {
		cursor := ""
		for {
			events, next, err := adapter.Events(ctx, cursor, uc.pageSize)
			if err != nil {
				return nil, fmt.Errorf("enumerating %s history: %w", adapter.Name(), err)
			}

			all = append(all, events...)

			if next == "" {
				break
			}
			cursor = next
		}

		uc.logger.Debug().Str("adapter", adapter.Name()).Int("total", len(all)).Msg("source history enumerated")
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Before(all[j])
	})

	return all, nil
}

func (uc *RebuildUseCase) truncate(ctx context.Context) error {
	tx, err := uc.txManager.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := uc.ledgerRepo.Truncate(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if uc.cache == nil {
		return nil
	}

	// Sequences restart at zero now; a surviving memo would outrank every
	// future write under the cache's monotonic rule.
	return uc.cache.Purge(ctx)
}

func (uc *RebuildUseCase) verify(ctx context.Context, run *RebuildRun, report *RebuildReport) error {
	if err := uc.transition(ctx, run, StateVerifying); err != nil {
		return err
	}

	sum, err := uc.ledgerRepo.TrialBalanceSum(ctx, nil)
	if err != nil {
		return err
	}

	report.TrialBalance = sum.String()

	if !sum.IsZero() {
		return fmt.Errorf("%w: trial balance is %s, expected 0", domain.ErrReplayIntegrity, sum)
	}

	txCount, lineCount, err := uc.ledgerRepo.Counts(ctx)
	if err != nil {
		return err
	}

	report.Transactions = txCount
	report.Lines = lineCount

	return uc.transition(ctx, run, StateComplete)
}

// dryRun executes the enumeration and validation logic without ever calling
// the writer's persisting path. Unlike a live run it continues past
// validation errors so the report covers the whole history.
func (uc *RebuildUseCase) dryRun(ctx context.Context, report *RebuildReport) error {
	events, err := uc.enumerate(ctx)
	if err != nil {
		return err
	}

	report.EventsEnumerated = int64(len(events))

	registry := uc.writer.registry

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}

		draft := event.Draft(nil)
		if err := draft.Validate(registry); err != nil {
			report.ValidationErrors = append(report.ValidationErrors,
				fmt.Sprintf("%s:%s: %v", event.SourceType, event.SourceID, err))
			continue
		}

		report.Transactions++
		report.Lines += int64(len(event.Lines))
	}

	return nil
}

func (uc *RebuildUseCase) transition(ctx context.Context, run *RebuildRun, next RebuildState) error {
	run.State = next
	uc.logger.Info().Str("run_id", run.ID).Str("state", string(next)).Msg("rebuild state transition")

	return uc.runRepo.Update(ctx, run)
}

func sourceRef(sourceType, sourceID string) string {
	return sourceType + ":" + sourceID
}
