package usecase_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/eduops/courseledger/internal/domain"
	"github.com/eduops/courseledger/internal/usecase"
	"github.com/eduops/courseledger/internal/usecase/mocks"
)

// Exercises the billing lifecycle end to end: an invoice is posted, partly
// paid, then corrected through a reversal, and finally the whole ledger is
// regenerated from source history. Live balances and rebuilt balances must
// agree.
func TestLedgerLifecycle(t *testing.T) {
	ctx := context.Background()

	inv := invoiceEvent("orig", 1, 1000)
	pay := paymentEvent("p1", 2, 400)
	rev := reversalEvent(inv, 3)
	corrected := invoiceEvent("corrected", 3, 900)

	ledger := mocks.NewMemLedgerRepository()
	lock := mocks.NewMockRebuildLock()
	cache := mocks.NewMemBalanceCache()
	registry := domain.NewRegistry(domain.Chart())

	writer := usecase.NewWriterUseCase(
		mocks.NewMockTransactionManager(),
		ledger,
		mocks.NewMockOutboxRepository(),
		lock,
		registry,
		mocks.NewMockIDGenerator("tx"),
		nil,
	)
	reverser := usecase.NewReversalUseCase(writer, ledger)
	projector := usecase.NewProjectorUseCase(ledger, registry, cache, nil)

	// Live flow, in the order the admin app emitted the events.
	if _, err := writer.Append(ctx, inv.Draft(nil)); err != nil {
		t.Fatalf("post invoice: %v", err)
	}
	if _, err := writer.Append(ctx, pay.Draft(nil)); err != nil {
		t.Fatalf("post payment: %v", err)
	}
	if _, err := reverser.ReverseLatestForSource(ctx, domain.SourceInvoice, "orig"); err != nil {
		t.Fatalf("reverse invoice: %v", err)
	}
	if _, err := writer.Append(ctx, corrected.Draft(nil)); err != nil {
		t.Fatalf("post corrected invoice: %v", err)
	}

	assertBalances := func(label string) {
		t.Helper()
		expect := map[string]int64{
			domain.AccountReceivable: 500, // 900 owed minus 400 paid
			domain.AccountCash:       400,
			domain.AccountRevenue:    900,
		}
		for code, want := range expect {
			got, err := projector.Balance(ctx, code, nil)
			if err != nil {
				t.Fatalf("%s: balance %s: %v", label, code, err)
			}
			if !got.Equal(decimal.NewFromInt(want)) {
				t.Errorf("%s: %s balance %s, expected %d", label, code, got, want)
			}
		}

		trial, err := projector.TrialBalance(ctx, nil)
		if err != nil {
			t.Fatalf("%s: trial balance: %v", label, err)
		}
		if !trial.IsZero() {
			t.Errorf("%s: trial balance %s, expected 0", label, trial)
		}
	}

	assertBalances("live")

	liveTxs, liveLines, _ := ledger.Counts(ctx)

	// Regenerate from source history. The adapters serve the same four
	// events the live flow posted.
	rebuild := usecase.NewRebuildUseCase(
		mocks.NewMockTransactionManager(),
		ledger,
		mocks.NewMockRebuildRunRepository(),
		lock,
		writer,
		[]usecase.SourceAdapter{
			&mocks.StubSourceAdapter{AdapterName: "invoices", History: []domain.SourceEvent{inv, rev, corrected}},
			&mocks.StubSourceAdapter{AdapterName: "payments", History: []domain.SourceEvent{pay}},
		},
		mocks.NewMockIDGenerator("run"),
		cache,
		0,
		zerolog.Nop(),
		nil,
	)

	report, err := rebuild.Run(ctx, usecase.ModeFull)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if report.Transactions != liveTxs || report.Lines != liveLines {
		t.Errorf("rebuild wrote %d/%d, live ledger had %d/%d",
			report.Transactions, report.Lines, liveTxs, liveLines)
	}

	assertBalances("rebuilt")
}
