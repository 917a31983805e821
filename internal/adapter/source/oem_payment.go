package source

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eduops/courseledger/internal/domain"
)

// OEMPaymentAdapter emits ledger events for transfers paid out to course
// providers: Dr oem_payable / Cr cash, settling the liability accrued by
// batch snapshots.
type OEMPaymentAdapter struct {
	db querier
}

// NewOEMPaymentAdapter creates a new OEMPaymentAdapter.
func NewOEMPaymentAdapter(pool *pgxpool.Pool) *OEMPaymentAdapter {
	return &OEMPaymentAdapter{db: pool}
}

func (a *OEMPaymentAdapter) Name() string {
	return "oem_payments"
}

func (a *OEMPaymentAdapter) Events(ctx context.Context, cur string, limit int) ([]domain.SourceEvent, string, error) {
	pos, err := parseCursor(cur)
	if err != nil {
		return nil, "", err
	}

	rows, err := a.db.Query(ctx,
		`SELECT id, payment_date, amount
		 FROM core_oempayment
		 WHERE status IN ('paid', 'completed')
		   AND (payment_date, id) > ($1::date, $2::bigint)
		 ORDER BY payment_date, id
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
			id          int64
			paymentDate pgtype.Date
			amount      pgtype.Numeric
		)

		if err := rows.Scan(&id, &paymentDate, &amount); err != nil {
			return nil, "", err
		}

		value := numericToDecimal(amount)
		events = append(events, domain.SourceEvent{
			SourceType:  domain.SourceOEMPayment,
			SourceID:    strconv.FormatInt(id, 10),
			EffectiveAt: paymentDate.Time.UTC(),
			Kind:        domain.EventOriginal,
			Lines: []domain.DraftLine{
				{AccountCode: domain.AccountOEMPayable, Direction: domain.Debit, Amount: value},
				{AccountCode: domain.AccountCash, Direction: domain.Credit, Amount: value},
			},
		})

		last = cursor{date: paymentDate.Time, id: id}
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
