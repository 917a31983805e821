package source

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"

	"github.com/eduops/courseledger/internal/domain"
)

func TestSplitTax(t *testing.T) {
	tests := []struct {
		name    string
		gross   string
		rate    string
		wantNet string
		wantTax string
	}{
		{"18 percent gst", "1180", "18", "1000", "180"},
		{"zero rate", "500", "0", "500", "0"},
		{"uneven split", "100", "18", "84.75", "15.25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gross := decimal.RequireFromString(tt.gross)
			net, tax := splitTax(gross, decimal.RequireFromString(tt.rate))

			if net.String() != tt.wantNet || tax.String() != tt.wantTax {
				t.Errorf("got net %s tax %s, expected %s / %s", net, tax, tt.wantNet, tt.wantTax)
			}

			if !net.Add(tax).Equal(gross) {
				t.Errorf("net %s + tax %s does not reconstruct gross %s", net, tax, gross)
			}
		})
	}
}

func TestCursorRoundTrip(t *testing.T) {
	pos := cursor{date: time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), id: 42}

	parsed, err := parseCursor(pos.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if !parsed.date.Equal(pos.date) || parsed.id != pos.id {
		t.Errorf("round trip changed cursor: %+v -> %+v", pos, parsed)
	}

	empty, err := parseCursor("")
	if err != nil {
		t.Fatalf("parse empty: %v", err)
	}
	if !empty.date.IsZero() || empty.id != 0 {
		t.Errorf("expected zero cursor for empty string, got %+v", empty)
	}

	if _, err := parseCursor("not-a-cursor"); err == nil {
		t.Error("expected error for malformed cursor")
	}
}

func TestInvoiceAdapterSplitsTaxAndEmitsCancellations(t *testing.T) {
	mockPool := newMockPool(t)

	issue := date(2025, 2, 1)
	cancelled := time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)

	mockPool.ExpectQuery(`SELECT i\.id, i\.issue_date, i\.updated_at, i\.amount, i\.status, COALESCE\(t\.rate, 0\)`).
		WithArgs(time.Time{}, int64(0), 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "issue_date", "updated_at", "amount", "status", "rate"}).
			AddRow(int64(7), issue, pgtype.Timestamptz{Valid: true}, numeric("1180"), "issued", numeric("18")).
			AddRow(int64(8), issue, pgtype.Timestamptz{Time: cancelled, Valid: true}, numeric("500"), "cancelled", numeric("0")))

	adapter := &InvoiceAdapter{db: mockPool}
	events, next, err := adapter.Events(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}

	if next != "" {
		t.Errorf("expected exhausted history, got cursor %q", next)
	}

	// Invoice 7: gross 1180 at 18 percent tax.
	if len(events) != 3 {
		t.Fatalf("expected 3 events (2 originals + 1 reversal), got %d", len(events))
	}

	first := events[0]
	if len(first.Lines) != 3 {
		t.Fatalf("expected 3 lines on taxed invoice, got %d", len(first.Lines))
	}
	if !first.Lines[1].Amount.Equal(decimal.NewFromInt(1000)) ||
		!first.Lines[2].Amount.Equal(decimal.NewFromInt(180)) {
		t.Errorf("bad tax split: revenue %s, tax %s", first.Lines[1].Amount, first.Lines[2].Amount)
	}

	// Invoice 8 is cancelled: original followed by a flipped reversal.
	mirror := events[2]
	if mirror.Kind != domain.EventReversal || mirror.ReversalOfEvent != "invoice:8" {
		t.Fatalf("expected reversal of invoice:8, got %+v", mirror)
	}
	// Same source id as the invoice it undoes, so ListBySource("invoice",
	// "8") covers the whole chain on a rebuilt ledger too.
	if mirror.SourceID != "8" {
		t.Errorf("reversal source id %q, expected the original's %q", mirror.SourceID, "8")
	}
	if !mirror.EffectiveAt.Equal(cancelled) {
		t.Errorf("reversal dated %s, expected cancellation time %s", mirror.EffectiveAt, cancelled)
	}
	if mirror.Lines[0].Direction != domain.Credit || mirror.Lines[1].Direction != domain.Debit {
		t.Error("reversal lines are not flipped")
	}

	assertExpectations(t, mockPool)
}

func TestPaymentAdapterKeysetPagination(t *testing.T) {
	mockPool := newMockPool(t)

	day1 := date(2025, 1, 1)
	day2 := date(2025, 1, 2)

	// Full page: a continuation cursor pointing at the last served row.
	mockPool.ExpectQuery(`SELECT id, payment_date, amount\s+FROM core_payment`).
		WithArgs(time.Time{}, int64(0), 2).
		WillReturnRows(pgxmock.NewRows([]string{"id", "payment_date", "amount"}).
			AddRow(int64(1), day1, numeric("400")).
			AddRow(int64(2), day2, numeric("250")))

	// Next page picks up strictly after (day2, 2) and comes back short.
	mockPool.ExpectQuery(`SELECT id, payment_date, amount\s+FROM core_payment`).
		WithArgs(day2.Time, int64(2), 2).
		WillReturnRows(pgxmock.NewRows([]string{"id", "payment_date", "amount"}).
			AddRow(int64(3), day2, numeric("100")))

	adapter := &PaymentAdapter{db: mockPool}
	ctx := context.Background()

	page1, next, err := adapter.Events(ctx, "", 2)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page1) != 2 || next != "2025-01-02|2" {
		t.Fatalf("expected 2 events and cursor 2025-01-02|2, got %d and %q", len(page1), next)
	}

	if page1[0].Lines[0].AccountCode != domain.AccountCash ||
		page1[0].Lines[1].AccountCode != domain.AccountReceivable {
		t.Errorf("unexpected payment mapping: %+v", page1[0].Lines)
	}

	page2, next, err := adapter.Events(ctx, next, 2)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page2) != 1 || next != "" {
		t.Fatalf("expected final page of 1 event, got %d and cursor %q", len(page2), next)
	}

	assertExpectations(t, mockPool)
}

func TestExpenseAdapterMapsOperatingCosts(t *testing.T) {
	mockPool := newMockPool(t)

	incurred := date(2025, 1, 10)

	mockPool.ExpectQuery(`SELECT id, incurred_date, amount\s+FROM core_expense`).
		WithArgs(time.Time{}, int64(0), 5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "incurred_date", "amount"}).
			AddRow(int64(11), incurred, numeric("25.00")))

	adapter := &ExpenseAdapter{db: mockPool}
	events, next, err := adapter.Events(context.Background(), "", 5)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if next != "" {
		t.Errorf("expected exhausted history, got cursor %q", next)
	}

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	event := events[0]
	if event.SourceType != domain.SourceExpense || event.SourceID != "11" {
		t.Errorf("unexpected source ref %s:%s", event.SourceType, event.SourceID)
	}
	if !event.EffectiveAt.Equal(incurred.Time) {
		t.Errorf("expected effective date %s, got %s", incurred.Time, event.EffectiveAt)
	}
	if event.Lines[0].AccountCode != domain.AccountOperatingExpense ||
		event.Lines[0].Direction != domain.Debit ||
		event.Lines[1].AccountCode != domain.AccountCash ||
		event.Lines[1].Direction != domain.Credit {
		t.Errorf("unexpected expense mapping: %+v", event.Lines)
	}
	if !event.Lines[0].Amount.Equal(decimal.RequireFromString("25.00")) {
		t.Errorf("expected amount 25.00, got %s", event.Lines[0].Amount)
	}

	assertExpectations(t, mockPool)
}

func TestBatchSnapshotAdapterAccruesOEMShare(t *testing.T) {
	mockPool := newMockPool(t)

	created := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

	mockPool.ExpectQuery(`SELECT s\.id, s\.created_at, s\.number_of_students, c\.oem_transfer_price`).
		WithArgs(time.Time{}, int64(0), 5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "number_of_students", "oem_transfer_price"}).
			AddRow(int64(3), pgtype.Timestamptz{Time: created, Valid: true}, int64(40), numeric("1500")))

	adapter := &BatchSnapshotAdapter{db: mockPool}
	events, next, err := adapter.Events(context.Background(), "", 5)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if next != "" {
		t.Errorf("expected exhausted history, got cursor %q", next)
	}

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	want := decimal.NewFromInt(60000) // 40 students at 1500
	event := events[0]
	if !event.Lines[0].Amount.Equal(want) {
		t.Errorf("expected OEM share %s, got %s", want, event.Lines[0].Amount)
	}
	if event.Lines[0].AccountCode != domain.AccountOEMTransfer ||
		event.Lines[1].AccountCode != domain.AccountOEMPayable {
		t.Errorf("unexpected accrual mapping: %+v", event.Lines)
	}

	assertExpectations(t, mockPool)
}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	pool, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create pgxmock pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func assertExpectations(t *testing.T, pool pgxmock.PgxPoolIface) {
	t.Helper()
	if err := pool.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations were not met: %v", err)
	}
}

func numeric(s string) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(s)
	return n
}

func date(year int, month time.Month, day int) pgtype.Date {
	return pgtype.Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), Valid: true}
}
