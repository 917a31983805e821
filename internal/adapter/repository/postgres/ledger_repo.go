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
	"github.com/eduops/courseledger/internal/usecase"
)

// LedgerRepository implements usecase.LedgerRepository. Ledger rows are
// append-only: this type has no UPDATE or DELETE statement for transactions
// or lines, and Truncate is only reachable from a rebuild run.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// ReserveSequences advances the sequence counter row by n inside tx and
// returns the first reserved value. The counter row is the serialization
// point between concurrent appends; rolling tx back rolls the counter back
// too, so committed sequences are gap-free.
func (r *LedgerRepository) ReserveSequences(ctx context.Context, tx usecase.Transaction, n int) (int64, error) {
	pgxTx := tx.(*Tx).PgxTx()

	var last int64
	err := pgxTx.QueryRow(ctx,
		`UPDATE ledger_head SET last_sequence = last_sequence + $1 WHERE id = 1 RETURNING last_sequence`,
		n,
	).Scan(&last)
	if err != nil {
		return 0, err
	}

	return last - int64(n) + 1, nil
}

// Insert persists a transaction and its lines within tx.
func (r *LedgerRepository) Insert(ctx context.Context, tx usecase.Transaction, txn *domain.Transaction) error {
	pgxTx := tx.(*Tx).PgxTx()

	_, err := pgxTx.Exec(ctx,
		`INSERT INTO ledger_transactions (id, source_type, source_id, effective_at, created_at, reversal_of)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		txn.ID, txn.SourceType, txn.SourceID,
		timeToPgTimestamptz(txn.EffectiveAt), timeToPgTimestamptz(txn.CreatedAt), txn.ReversalOf,
	)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, line := range txn.Lines {
		batch.Queue(
			`INSERT INTO ledger_lines (id, transaction_id, account_code, direction, amount, sequence, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			line.ID, line.TransactionID, line.AccountCode, string(line.Direction),
			decimalToNumeric(line.Amount), line.Sequence, timeToPgTimestamptz(line.CreatedAt),
		)
	}

	return pgxTx.SendBatch(ctx, batch).Close()
}

// GetByID retrieves a transaction with its lines.
func (r *LedgerRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, source_type, source_id, effective_at, created_at, reversal_of
		 FROM ledger_transactions WHERE id = $1`,
		id,
	)

	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}

		return nil, err
	}

	if err := r.loadLines(ctx, []*domain.Transaction{txn}); err != nil {
		return nil, err
	}

	return txn, nil
}

// FindReversal returns the reversal referencing txID, or nil when the
// transaction has not been reversed.
func (r *LedgerRepository) FindReversal(ctx context.Context, txID string) (*domain.Transaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, source_type, source_id, effective_at, created_at, reversal_of
		 FROM ledger_transactions WHERE reversal_of = $1`,
		txID,
	)

	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}

	if err := r.loadLines(ctx, []*domain.Transaction{txn}); err != nil {
		return nil, err
	}

	return txn, nil
}

// LatestUnreversedBySource returns the most recent original posting for a
// source record that has no reversal yet.
func (r *LedgerRepository) LatestUnreversedBySource(ctx context.Context, sourceType, sourceID string) (*domain.Transaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT t.id, t.source_type, t.source_id, t.effective_at, t.created_at, t.reversal_of
		 FROM ledger_transactions t
		 WHERE t.source_type = $1 AND t.source_id = $2
		   AND t.reversal_of IS NULL
		   AND NOT EXISTS (SELECT 1 FROM ledger_transactions rev WHERE rev.reversal_of = t.id)
		 ORDER BY t.created_at DESC, t.id DESC
		 LIMIT 1`,
		sourceType, sourceID,
	)

	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}

		return nil, err
	}

	if err := r.loadLines(ctx, []*domain.Transaction{txn}); err != nil {
		return nil, err
	}

	return txn, nil
}

// ListByAccount lists transactions touching an account, newest first.
func (r *LedgerRepository) ListByAccount(ctx context.Context, accountCode string, limit, offset int) ([]*domain.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT t.id, t.source_type, t.source_id, t.effective_at, t.created_at, t.reversal_of
		 FROM ledger_transactions t
		 WHERE EXISTS (SELECT 1 FROM ledger_lines l WHERE l.transaction_id = t.id AND l.account_code = $1)
		 ORDER BY t.created_at DESC, t.id DESC
		 LIMIT $2 OFFSET $3`,
		accountCode, limit, offset,
	)
	if err != nil {
		return nil, err
	}

	txns, err := scanTransactions(rows)
	if err != nil {
		return nil, err
	}

	if err := r.loadLines(ctx, txns); err != nil {
		return nil, err
	}

	return txns, nil
}

// ListBySource lists every transaction derived from one source record in
// posting order.
func (r *LedgerRepository) ListBySource(ctx context.Context, sourceType, sourceID string) ([]*domain.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, source_type, source_id, effective_at, created_at, reversal_of
		 FROM ledger_transactions
		 WHERE source_type = $1 AND source_id = $2
		 ORDER BY created_at, id`,
		sourceType, sourceID,
	)
	if err != nil {
		return nil, err
	}

	txns, err := scanTransactions(rows)
	if err != nil {
		return nil, err
	}

	if err := r.loadLines(ctx, txns); err != nil {
		return nil, err
	}

	return txns, nil
}

// AccountDebitCreditSum folds all lines for the account at or before asOf
// (unbounded when nil), returning debit minus credit.
func (r *LedgerRepository) AccountDebitCreditSum(ctx context.Context, accountCode string, asOf *time.Time) (decimal.Decimal, error) {
	var sum pgtype.Numeric
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN direction = 'debit' THEN amount ELSE -amount END), 0)
		 FROM ledger_lines
		 WHERE account_code = $1 AND ($2::timestamptz IS NULL OR created_at <= $2)`,
		accountCode, timePtrToPgTimestamptz(asOf),
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}

	return numericToDecimal(sum), nil
}

// AccountDeltaAfter folds lines for the account with sequence strictly
// greater than afterSeq, returning the delta and the highest sequence seen.
func (r *LedgerRepository) AccountDeltaAfter(ctx context.Context, accountCode string, afterSeq int64) (decimal.Decimal, int64, error) {
	var (
		sum    pgtype.Numeric
		maxSeq pgtype.Int8
	)
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN direction = 'debit' THEN amount ELSE -amount END), 0), MAX(sequence)
		 FROM ledger_lines
		 WHERE account_code = $1 AND sequence > $2`,
		accountCode, afterSeq,
	).Scan(&sum, &maxSeq)
	if err != nil {
		return decimal.Zero, 0, err
	}

	last := afterSeq
	if maxSeq.Valid {
		last = maxSeq.Int64
	}

	return numericToDecimal(sum), last, nil
}

// TrialBalanceSum is debit minus credit over every line; zero for any valid
// ledger state.
func (r *LedgerRepository) TrialBalanceSum(ctx context.Context, asOf *time.Time) (decimal.Decimal, error) {
	var sum pgtype.Numeric
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN direction = 'debit' THEN amount ELSE -amount END), 0)
		 FROM ledger_lines
		 WHERE $1::timestamptz IS NULL OR created_at <= $1`,
		timePtrToPgTimestamptz(asOf),
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}

	return numericToDecimal(sum), nil
}

// Counts returns the number of transactions and lines in the ledger.
func (r *LedgerRepository) Counts(ctx context.Context) (int64, int64, error) {
	var transactions, lines int64
	err := r.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM ledger_transactions), (SELECT COUNT(*) FROM ledger_lines)`,
	).Scan(&transactions, &lines)
	if err != nil {
		return 0, 0, err
	}

	return transactions, lines, nil
}

// Truncate removes every transaction and line and resets the sequence
// counter. The rebuild engine is the only caller.
func (r *LedgerRepository) Truncate(ctx context.Context, tx usecase.Transaction) error {
	pgxTx := tx.(*Tx).PgxTx()

	if _, err := pgxTx.Exec(ctx, `TRUNCATE ledger_lines, ledger_transactions`); err != nil {
		return err
	}

	_, err := pgxTx.Exec(ctx, `UPDATE ledger_head SET last_sequence = 0 WHERE id = 1`)

	return err
}

// loadLines attaches ordered lines to each transaction in one query.
func (r *LedgerRepository) loadLines(ctx context.Context, txns []*domain.Transaction) error {
	if len(txns) == 0 {
		return nil
	}

	ids := make([]string, 0, len(txns))
	byID := make(map[string]*domain.Transaction, len(txns))
	for _, txn := range txns {
		ids = append(ids, txn.ID)
		byID[txn.ID] = txn
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, transaction_id, account_code, direction, amount, sequence, created_at
		 FROM ledger_lines
		 WHERE transaction_id = ANY($1)
		 ORDER BY sequence`,
		ids,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			line      domain.Line
			direction string
			amount    pgtype.Numeric
			createdAt pgtype.Timestamptz
		)

		if err := rows.Scan(&line.ID, &line.TransactionID, &line.AccountCode,
			&direction, &amount, &line.Sequence, &createdAt); err != nil {
			return err
		}

		line.Direction = domain.Direction(direction)
		line.Amount = numericToDecimal(amount)
		line.CreatedAt = createdAt.Time

		txn := byID[line.TransactionID]
		txn.Lines = append(txn.Lines, line)
	}

	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		txn         domain.Transaction
		effectiveAt pgtype.Timestamptz
		createdAt   pgtype.Timestamptz
		reversalOf  *string
	)

	if err := row.Scan(&txn.ID, &txn.SourceType, &txn.SourceID,
		&effectiveAt, &createdAt, &reversalOf); err != nil {
		return nil, err
	}

	txn.EffectiveAt = effectiveAt.Time
	txn.CreatedAt = createdAt.Time
	txn.ReversalOf = reversalOf

	return &txn, nil
}

func scanTransactions(rows pgx.Rows) ([]*domain.Transaction, error) {
	defer rows.Close()

	var txns []*domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}

	return txns, rows.Err()
}
