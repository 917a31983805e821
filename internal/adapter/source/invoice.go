package source

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/eduops/courseledger/internal/domain"
)

// InvoiceAdapter emits ledger events for issued invoices: Dr receivable /
// Cr revenue, with the tax portion split out to tax_payable. Cancelled
// invoices additionally emit a reversal event dated at the cancellation.
type InvoiceAdapter struct {
	db querier
}

// NewInvoiceAdapter creates a new InvoiceAdapter.
func NewInvoiceAdapter(pool *pgxpool.Pool) *InvoiceAdapter {
	return &InvoiceAdapter{db: pool}
}

func (a *InvoiceAdapter) Name() string {
	return "invoices"
}

// Events enumerates invoice history. The invoice amount is gross; the
// contract's tax rate (reached through the billing's first batch) splits it
// into revenue and tax payable.
func (a *InvoiceAdapter) Events(ctx context.Context, cur string, limit int) ([]domain.SourceEvent, string, error) {
	pos, err := parseCursor(cur)
	if err != nil {
		return nil, "", err
	}

	rows, err := a.db.Query(ctx,
		`SELECT i.id, i.issue_date, i.updated_at, i.amount, i.status, COALESCE(t.rate, 0)
		 FROM core_invoice i
		 LEFT JOIN LATERAL (
		 	SELECT tr.rate
		 	FROM core_billing_batches bb
		 	JOIN core_batch ba ON ba.id = bb.batch_id
		 	JOIN core_contract c ON c.id = ba.contract_id
		 	JOIN core_taxrate tr ON tr.id = c.tax_rate_id
		 	WHERE bb.billing_id = i.billing_id
		 	ORDER BY bb.id
		 	LIMIT 1
		 ) t ON TRUE
		 WHERE i.status IN ('issued', 'paid', 'cancelled')
		   AND (i.issue_date, i.id) > ($1::date, $2::bigint)
		 ORDER BY i.issue_date, i.id
		 LIMIT $3`,
		pos.date, pos.id, limit,
	)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var (
		events []domain.SourceEvent
		last   cursor
		served int
	)

	for rows.Next() {
		var (
			id        int64
			issueDate pgtype.Date
			updatedAt pgtype.Timestamptz
			amount    pgtype.Numeric
			status    string
			rate      pgtype.Numeric
		)

		if err := rows.Scan(&id, &issueDate, &updatedAt, &amount, &status, &rate); err != nil {
			return nil, "", err
		}

		sourceID := strconv.FormatInt(id, 10)
		gross := numericToDecimal(amount)
		net, tax := splitTax(gross, numericToDecimal(rate))

		lines := []domain.DraftLine{
			{AccountCode: domain.AccountReceivable, Direction: domain.Debit, Amount: gross},
			{AccountCode: domain.AccountRevenue, Direction: domain.Credit, Amount: net},
		}
		if tax.IsPositive() {
			lines = append(lines, domain.DraftLine{
				AccountCode: domain.AccountTaxPayable, Direction: domain.Credit, Amount: tax,
			})
		}

		events = append(events, domain.SourceEvent{
			SourceType:  domain.SourceInvoice,
			SourceID:    sourceID,
			EffectiveAt: issueDate.Time.UTC(),
			Kind:        domain.EventOriginal,
			Lines:       lines,
		})

		if status == "cancelled" {
			// The reversal keeps the invoice's own source id so a rebuilt
			// ledger answers ListBySource with the same correction chain a
			// live reversal produces.
			events = append(events, domain.SourceEvent{
				SourceType:      domain.SourceInvoice,
				SourceID:        sourceID,
				EffectiveAt:     updatedAt.Time.UTC(),
				Kind:            domain.EventReversal,
				ReversalOfEvent: domain.SourceInvoice + ":" + sourceID,
				Lines:           flipLines(lines),
			})
		}

		last = cursor{date: issueDate.Time, id: id}
		served++
	}

	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	if served < limit {
		return events, "", nil
	}

	return events, last.String(), nil
}

// splitTax divides a gross amount into its net and tax parts given a
// percentage rate. The parts always sum back to gross exactly.
func splitTax(gross, ratePercent decimal.Decimal) (net, tax decimal.Decimal) {
	if !ratePercent.IsPositive() {
		return gross, decimal.Zero
	}

	divisor := decimal.NewFromInt(1).Add(ratePercent.Div(decimal.NewFromInt(100)))
	net = gross.DivRound(divisor, 2)
	tax = gross.Sub(net)

	return net, tax
}

func flipLines(lines []domain.DraftLine) []domain.DraftLine {
	flipped := make([]domain.DraftLine, 0, len(lines))
	for _, line := range lines {
		flipped = append(flipped, domain.DraftLine{
			AccountCode: line.AccountCode,
			Direction:   line.Direction.Flip(),
			Amount:      line.Amount,
		})
	}

	return flipped
}
