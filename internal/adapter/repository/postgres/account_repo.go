package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/eduops/courseledger/internal/domain"
)

// AccountRepository implements usecase.AccountRepository over the static
// chart of accounts.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Bootstrap inserts any chart accounts not yet present. Existing rows are
// left untouched so a redeploy never mutates the chart underneath posted
// lines.
func (r *AccountRepository) Bootstrap(ctx context.Context, accounts []domain.Account) error {
	batch := &pgx.Batch{}
	for _, account := range accounts {
		batch.Queue(
			`INSERT INTO accounts (code, name, kind, created_at)
			 VALUES ($1, $2, $3, NOW())
			 ON CONFLICT (code) DO NOTHING`,
			account.Code, account.Name, string(account.Kind),
		)
	}

	return r.pool.SendBatch(ctx, batch).Close()
}

// GetByCode retrieves an account by code.
func (r *AccountRepository) GetByCode(ctx context.Context, code string) (*domain.Account, error) {
	var (
		account domain.Account
		kind    string
	)

	err := r.pool.QueryRow(ctx,
		`SELECT code, name, kind FROM accounts WHERE code = $1`,
		code,
	).Scan(&account.Code, &account.Name, &kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}

		return nil, err
	}

	account.Kind = domain.AccountKind(kind)

	return &account, nil
}

// List lists the chart of accounts in code order.
func (r *AccountRepository) List(ctx context.Context) ([]*domain.Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT code, name, kind FROM accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		var (
			account domain.Account
			kind    string
		)

		if err := rows.Scan(&account.Code, &account.Name, &kind); err != nil {
			return nil, err
		}

		account.Kind = domain.AccountKind(kind)
		accounts = append(accounts, &account)
	}

	return accounts, rows.Err()
}

// Type conversion helpers.
func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric

	_ = n.Scan(d.String())

	return n
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}

	d, _ := decimal.NewFromString(n.Int.String())
	if n.Exp != 0 {
		d = d.Shift(n.Exp)
	}

	return d
}

func timeToPgTimestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func timePtrToPgTimestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}

	return pgtype.Timestamptz{Time: *t, Valid: true}
}
