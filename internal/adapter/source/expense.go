package source

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eduops/courseledger/internal/domain"
)

// ExpenseAdapter emits ledger events for recorded operating expenses:
// Dr operating_expense / Cr cash, dated the day the expense was incurred.
// Expenses carry no settlement state, so every row posts.
type ExpenseAdapter struct {
	db querier
}

// NewExpenseAdapter creates a new ExpenseAdapter.
func NewExpenseAdapter(pool *pgxpool.Pool) *ExpenseAdapter {
	return &ExpenseAdapter{db: pool}
}

func (a *ExpenseAdapter) Name() string {
	return "expenses"
}

func (a *ExpenseAdapter) Events(ctx context.Context, cur string, limit int) ([]domain.SourceEvent, string, error) {
	pos, err := parseCursor(cur)
	if err != nil {
		return nil, "", err
	}

	rows, err := a.db.Query(ctx,
		`SELECT id, incurred_date, amount
		 FROM core_expense
		 WHERE (incurred_date, id) > ($1::date, $2::bigint)
		 ORDER BY incurred_date, id
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
			id           int64
			incurredDate pgtype.Date
			amount       pgtype.Numeric
		)

		if err := rows.Scan(&id, &incurredDate, &amount); err != nil {
			return nil, "", err
		}

		value := numericToDecimal(amount)
		events = append(events, domain.SourceEvent{
			SourceType:  domain.SourceExpense,
			SourceID:    strconv.FormatInt(id, 10),
			EffectiveAt: incurredDate.Time.UTC(),
			Kind:        domain.EventOriginal,
			Lines: []domain.DraftLine{
				{AccountCode: domain.AccountOperatingExpense, Direction: domain.Debit, Amount: value},
				{AccountCode: domain.AccountCash, Direction: domain.Credit, Amount: value},
			},
		})

		last = cursor{date: incurredDate.Time, id: id}
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
