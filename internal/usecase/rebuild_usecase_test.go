package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/eduops/courseledger/internal/domain"
	"github.com/eduops/courseledger/internal/usecase"
	"github.com/eduops/courseledger/internal/usecase/mocks"
)

type rebuildFixture struct {
	rebuild   *usecase.RebuildUseCase
	writer    *usecase.WriterUseCase
	ledger    *mocks.MemLedgerRepository
	runRepo   *mocks.MockRebuildRunRepository
	lock      *mocks.MockRebuildLock
	cache     *mocks.MemBalanceCache
	projector *usecase.ProjectorUseCase
}

func newRebuildFixture(adapters ...usecase.SourceAdapter) *rebuildFixture {
	ledger := mocks.NewMemLedgerRepository()
	lock := mocks.NewMockRebuildLock()
	runRepo := mocks.NewMockRebuildRunRepository()
	cache := mocks.NewMemBalanceCache()
	registry := domain.NewRegistry(domain.Chart())

	writer := usecase.NewWriterUseCase(
		mocks.NewMockTransactionManager(),
		ledger,
		nil,
		lock,
		registry,
		mocks.NewMockIDGenerator("tx"),
		nil,
	)

	rebuild := usecase.NewRebuildUseCase(
		mocks.NewMockTransactionManager(),
		ledger,
		runRepo,
		lock,
		writer,
		adapters,
		mocks.NewMockIDGenerator("run"),
		cache,
		2, // small page size to exercise pagination
		zerolog.Nop(),
		nil,
	)

	return &rebuildFixture{
		rebuild:   rebuild,
		writer:    writer,
		ledger:    ledger,
		runRepo:   runRepo,
		lock:      lock,
		cache:     cache,
		projector: usecase.NewProjectorUseCase(ledger, registry, cache, nil),
	}
}

func day(d int) time.Time {
	return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
}

func invoiceEvent(id string, d int, amount int64) domain.SourceEvent {
	return domain.SourceEvent{
		SourceType:  domain.SourceInvoice,
		SourceID:    id,
		EffectiveAt: day(d),
		Kind:        domain.EventOriginal,
		Lines: []domain.DraftLine{
			{AccountCode: domain.AccountReceivable, Direction: domain.Debit, Amount: decimal.NewFromInt(amount)},
			{AccountCode: domain.AccountRevenue, Direction: domain.Credit, Amount: decimal.NewFromInt(amount)},
		},
	}
}

func paymentEvent(id string, d int, amount int64) domain.SourceEvent {
	return domain.SourceEvent{
		SourceType:  domain.SourcePayment,
		SourceID:    id,
		EffectiveAt: day(d),
		Kind:        domain.EventOriginal,
		Lines: []domain.DraftLine{
			{AccountCode: domain.AccountCash, Direction: domain.Debit, Amount: decimal.NewFromInt(amount)},
			{AccountCode: domain.AccountReceivable, Direction: domain.Credit, Amount: decimal.NewFromInt(amount)},
		},
	}
}

func reversalEvent(of domain.SourceEvent, d int) domain.SourceEvent {
	lines := make([]domain.DraftLine, 0, len(of.Lines))
	for _, line := range of.Lines {
		lines = append(lines, domain.DraftLine{
			AccountCode: line.AccountCode,
			Direction:   line.Direction.Flip(),
			Amount:      line.Amount,
		})
	}

	// Adapters emit reversals under the reversed record's own source id.
	return domain.SourceEvent{
		SourceType:      of.SourceType,
		SourceID:        of.SourceID,
		EffectiveAt:     day(d),
		Kind:            domain.EventReversal,
		ReversalOfEvent: of.SourceType + ":" + of.SourceID,
		Lines:           lines,
	}
}

func TestRebuildUseCase_FullRun(t *testing.T) {
	inv1 := invoiceEvent("1", 1, 1000)
	inv2 := invoiceEvent("2", 3, 2000)
	adapter := &mocks.StubSourceAdapter{
		AdapterName: "invoices",
		History:     []domain.SourceEvent{inv1, inv2},
	}
	payments := &mocks.StubSourceAdapter{
		AdapterName: "payments",
		History:     []domain.SourceEvent{paymentEvent("9", 2, 400)},
	}

	f := newRebuildFixture(adapter, payments)

	report, err := f.rebuild.Run(context.Background(), usecase.ModeFull)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if report.Run.State != usecase.StateComplete {
		t.Fatalf("expected Complete, got %s", report.Run.State)
	}

	if report.Transactions != 3 || report.Lines != 6 {
		t.Errorf("expected 3 transactions / 6 lines, got %d / %d", report.Transactions, report.Lines)
	}

	if report.TrialBalance != "0" {
		t.Errorf("expected trial balance 0, got %s", report.TrialBalance)
	}

	// Merged global order by effective date, independent of adapter order:
	// invoice day 1, payment day 2, invoice day 3.
	want := []string{"invoice:1", "payment:9", "invoice:2"}
	for i, txn := range f.ledger.Transactions {
		if txn.SourceRef() != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], txn.SourceRef())
		}
	}

	if f.lock.ExclusiveHeld {
		t.Error("expected exclusive lease released after run")
	}
}

func TestRebuildUseCase_Deterministic(t *testing.T) {
	history := []domain.SourceEvent{
		invoiceEvent("1", 1, 1000),
		invoiceEvent("2", 2, 500),
		paymentEvent("5", 3, 700),
	}

	balances := func(f *rebuildFixture) map[string]string {
		out := make(map[string]string)
		for _, code := range []string{domain.AccountReceivable, domain.AccountCash, domain.AccountRevenue} {
			b, err := f.projector.Balance(context.Background(), code, nil)
			if err != nil {
				t.Fatalf("balance: %v", err)
			}
			out[code] = b.String()
		}
		return out
	}

	// Same source data, two independent full runs with the adapters
	// registered in different orders.
	f1 := newRebuildFixture(
		&mocks.StubSourceAdapter{AdapterName: "a", History: history[:2]},
		&mocks.StubSourceAdapter{AdapterName: "b", History: history[2:]},
	)
	f2 := newRebuildFixture(
		&mocks.StubSourceAdapter{AdapterName: "b", History: history[2:]},
		&mocks.StubSourceAdapter{AdapterName: "a", History: history[:2]},
	)

	r1, err := f1.rebuild.Run(context.Background(), usecase.ModeFull)
	if err != nil {
		t.Fatalf("run 1: %v", err)
	}
	r2, err := f2.rebuild.Run(context.Background(), usecase.ModeFull)
	if err != nil {
		t.Fatalf("run 2: %v", err)
	}

	if r1.Transactions != r2.Transactions || r1.Lines != r2.Lines {
		t.Errorf("counts differ: %d/%d vs %d/%d", r1.Transactions, r1.Lines, r2.Transactions, r2.Lines)
	}

	b1, b2 := balances(f1), balances(f2)
	for code, want := range b1 {
		if b2[code] != want {
			t.Errorf("%s: %s vs %s", code, want, b2[code])
		}
	}

	for i := range f1.ledger.Transactions {
		if f1.ledger.Transactions[i].SourceRef() != f2.ledger.Transactions[i].SourceRef() {
			t.Errorf("position %d ordering differs", i)
		}
	}
}

func TestRebuildUseCase_ReversalEventsResolveOriginals(t *testing.T) {
	inv := invoiceEvent("1", 1, 1000)
	rev := reversalEvent(inv, 5)
	corrected := invoiceEvent("1b", 5, 900)

	f := newRebuildFixture(&mocks.StubSourceAdapter{
		AdapterName: "invoices",
		History:     []domain.SourceEvent{inv, rev, corrected},
	})

	if _, err := f.rebuild.Run(context.Background(), usecase.ModeFull); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	// The replayed reversal must point at the replayed original.
	var original, mirror *domain.Transaction
	for _, txn := range f.ledger.Transactions {
		if txn.SourceID != "1" {
			continue
		}
		if txn.ReversalOf == nil {
			original = txn
		} else {
			mirror = txn
		}
	}

	if original == nil || mirror == nil {
		t.Fatal("expected both original and reversal to be replayed")
	}

	if mirror.ReversalOf == nil || *mirror.ReversalOf != original.ID {
		t.Errorf("expected reversal_of %s, got %v", original.ID, mirror.ReversalOf)
	}
}

func TestRebuildUseCase_DryRunDoesNotMutate(t *testing.T) {
	adapter := &mocks.StubSourceAdapter{
		AdapterName: "invoices",
		History: []domain.SourceEvent{
			invoiceEvent("1", 1, 1000),
			invoiceEvent("2", 2, 2000),
		},
	}

	f := newRebuildFixture(adapter)
	ctx := context.Background()

	// Seed a live ledger the dry-run must not touch.
	if _, err := f.writer.Append(ctx, invoiceDraft("live", 50)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	beforeTxs, beforeLines, _ := f.ledger.Counts(ctx)

	report, err := f.rebuild.Run(ctx, usecase.ModeDryRun)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}

	afterTxs, afterLines, _ := f.ledger.Counts(ctx)
	if afterTxs != beforeTxs || afterLines != beforeLines {
		t.Errorf("dry run mutated the ledger: %d/%d -> %d/%d", beforeTxs, beforeLines, afterTxs, afterLines)
	}

	if f.lock.ExclusiveHeld {
		t.Error("dry run must not take the exclusive lease")
	}

	// Reported counts equal what a real run then writes.
	if err := f.ledger.Truncate(ctx, nil); err != nil {
		t.Fatalf("reset: %v", err)
	}
	real, err := f.rebuild.Run(ctx, usecase.ModeFull)
	if err != nil {
		t.Fatalf("real run: %v", err)
	}

	if report.Transactions != real.Transactions || report.Lines != real.Lines {
		t.Errorf("dry run predicted %d/%d, real run wrote %d/%d",
			report.Transactions, report.Lines, real.Transactions, real.Lines)
	}
}

func TestRebuildUseCase_DryRunReportsAllValidationErrors(t *testing.T) {
	bad1 := invoiceEvent("bad1", 1, 1000)
	bad1.Lines = bad1.Lines[:1] // imbalanced
	bad2 := invoiceEvent("bad2", 2, 500)
	bad2.Lines[0].AccountCode = "escrow" // unknown account

	f := newRebuildFixture(&mocks.StubSourceAdapter{
		AdapterName: "invoices",
		History:     []domain.SourceEvent{bad1, invoiceEvent("ok", 3, 100), bad2},
	})

	report, err := f.rebuild.Run(context.Background(), usecase.ModeDryRun)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}

	if len(report.ValidationErrors) != 2 {
		t.Fatalf("expected 2 validation errors, got %d: %v", len(report.ValidationErrors), report.ValidationErrors)
	}

	if report.Transactions != 1 {
		t.Errorf("expected 1 valid transaction counted, got %d", report.Transactions)
	}
}

func TestRebuildUseCase_TruncateOnly(t *testing.T) {
	f := newRebuildFixture(&mocks.StubSourceAdapter{
		AdapterName: "invoices",
		History:     []domain.SourceEvent{invoiceEvent("1", 1, 1000)},
	})
	ctx := context.Background()

	if _, err := f.writer.Append(ctx, invoiceDraft("live", 50)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	report, err := f.rebuild.Run(ctx, usecase.ModeTruncateOnly)
	if err != nil {
		t.Fatalf("truncate-only: %v", err)
	}

	if report.Run.State != usecase.StateComplete {
		t.Fatalf("expected Complete, got %s", report.Run.State)
	}

	txs, lines, _ := f.ledger.Counts(ctx)
	if txs != 0 || lines != 0 {
		t.Errorf("expected empty ledger, got %d/%d", txs, lines)
	}

	balance, err := f.projector.Balance(ctx, domain.AccountReceivable, nil)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.IsZero() {
		t.Errorf("expected zero balance after truncate, got %s", balance)
	}
}

func TestRebuildUseCase_TruncatePurgesBalanceMemos(t *testing.T) {
	f := newRebuildFixture(&mocks.StubSourceAdapter{AdapterName: "invoices"})
	ctx := context.Background()

	if _, err := f.writer.Append(ctx, invoiceDraft("42", 1000)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Reading the balance seeds a memo keyed by the current last sequence.
	before, err := f.projector.Balance(ctx, domain.AccountReceivable, nil)
	if err != nil {
		t.Fatalf("balance before: %v", err)
	}
	if !before.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected 1000 before truncate, got %s", before)
	}
	if f.cache.Len() == 0 {
		t.Fatal("expected a seeded balance memo")
	}

	if _, err := f.rebuild.Run(ctx, usecase.ModeTruncateOnly); err != nil {
		t.Fatalf("truncate-only: %v", err)
	}

	// The memo predates the truncate; left in place its sequence would
	// outrank the restarted counter and pin the old balance forever.
	if f.cache.Purged == 0 || f.cache.Len() != 0 {
		t.Fatalf("expected purged cache, got %d memos (%d purges)", f.cache.Len(), f.cache.Purged)
	}

	after, err := f.projector.Balance(ctx, domain.AccountReceivable, nil)
	if err != nil {
		t.Fatalf("balance after: %v", err)
	}
	if !after.IsZero() {
		t.Errorf("expected zero balance after truncate, got %s", after)
	}
}

func TestRebuildUseCase_InvalidEventFailsRun(t *testing.T) {
	bad := invoiceEvent("bad", 2, 1000)
	bad.Lines[1].Amount = decimal.NewFromInt(999)

	f := newRebuildFixture(&mocks.StubSourceAdapter{
		AdapterName: "invoices",
		History:     []domain.SourceEvent{invoiceEvent("1", 1, 100), bad},
	})

	report, err := f.rebuild.Run(context.Background(), usecase.ModeFull)
	if !errors.Is(err, domain.ErrReplayIntegrity) {
		t.Fatalf("expected ErrReplayIntegrity, got %v", err)
	}

	if report.Run.State != usecase.StateFailed {
		t.Errorf("expected Failed, got %s", report.Run.State)
	}

	// The run record persisted the failure for the operator.
	latest, _ := f.runRepo.Latest(context.Background())
	if latest.State != usecase.StateFailed || latest.Error == "" {
		t.Errorf("expected persisted failed run with error, got %+v", latest)
	}
}

func TestRebuildUseCase_SecondRebuildRejected(t *testing.T) {
	f := newRebuildFixture(&mocks.StubSourceAdapter{AdapterName: "invoices"})
	f.lock.ExclusiveErr = domain.ErrRebuildInProgress

	_, err := f.rebuild.Run(context.Background(), usecase.ModeFull)
	if !errors.Is(err, domain.ErrRebuildInProgress) {
		t.Fatalf("expected ErrRebuildInProgress, got %v", err)
	}
}

func TestRebuildUseCase_CancelledBetweenEvents(t *testing.T) {
	events := []domain.SourceEvent{
		invoiceEvent("1", 1, 100),
		invoiceEvent("2", 2, 200),
		invoiceEvent("3", 3, 300),
	}

	f := newRebuildFixture(&mocks.StubSourceAdapter{AdapterName: "invoices", History: events})

	ctx, cancel := context.WithCancel(context.Background())

	// Cancel after the first insert; the engine honors it before the next
	// event, never mid-transaction.
	f.ledger.InsertFunc = func(insCtx context.Context, tx usecase.Transaction, txn *domain.Transaction) error {
		f.ledger.InsertFunc = nil
		err := f.ledger.Insert(insCtx, tx, txn)
		cancel()
		return err
	}

	report, err := f.rebuild.Run(ctx, usecase.ModeFull)
	if err == nil {
		t.Fatal("expected cancellation error")
	}

	if report.Run.State != usecase.StateFailed {
		t.Errorf("expected Failed, got %s", report.Run.State)
	}

	txs, _, _ := f.ledger.Counts(context.Background())
	if txs != 1 {
		t.Errorf("expected exactly 1 replayed transaction before cancellation, got %d", txs)
	}

	// Cursor recorded how far the run got.
	latest, _ := f.runRepo.Latest(context.Background())
	if latest.Cursor != 1 {
		t.Errorf("expected cursor 1, got %d", latest.Cursor)
	}
}

func TestRebuildUseCase_ResumeSkipsReplayedPrefix(t *testing.T) {
	events := []domain.SourceEvent{
		invoiceEvent("1", 1, 100),
		invoiceEvent("2", 2, 200),
		invoiceEvent("3", 3, 300),
	}

	f := newRebuildFixture(&mocks.StubSourceAdapter{AdapterName: "invoices", History: events})
	ctx := context.Background()

	ctxCancel, cancel := context.WithCancel(ctx)
	f.ledger.InsertFunc = func(insCtx context.Context, tx usecase.Transaction, txn *domain.Transaction) error {
		f.ledger.InsertFunc = nil
		err := f.ledger.Insert(insCtx, tx, txn)
		cancel()
		return err
	}

	if _, err := f.rebuild.Run(ctxCancel, usecase.ModeFull); err == nil {
		t.Fatal("expected first run to fail")
	}

	report, err := f.rebuild.Run(ctx, usecase.ModeResume)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}

	if report.Run.State != usecase.StateComplete {
		t.Fatalf("expected Complete, got %s", report.Run.State)
	}

	if report.EventsSkipped != 1 {
		t.Errorf("expected 1 skipped event, got %d", report.EventsSkipped)
	}

	if report.Transactions != 3 {
		t.Errorf("expected 3 transactions after resume, got %d", report.Transactions)
	}

	want := []string{"invoice:1", "invoice:2", "invoice:3"}
	for i, txn := range f.ledger.Transactions {
		if txn.SourceRef() != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], txn.SourceRef())
		}
	}
}

func TestRebuildUseCase_ResumeRequiresMatchingCursor(t *testing.T) {
	f := newRebuildFixture(&mocks.StubSourceAdapter{
		AdapterName: "invoices",
		History:     []domain.SourceEvent{invoiceEvent("1", 1, 100)},
	})
	ctx := context.Background()

	// A failed run claiming 5 replayed events against an empty ledger.
	run := &usecase.RebuildRun{ID: "stale", Mode: usecase.ModeFull, State: usecase.StateFailed, Cursor: 5}
	if err := f.runRepo.Create(ctx, run); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	_, err := f.rebuild.Run(ctx, usecase.ModeResume)
	if !errors.Is(err, domain.ErrReplayIntegrity) {
		t.Fatalf("expected ErrReplayIntegrity, got %v", err)
	}
}
