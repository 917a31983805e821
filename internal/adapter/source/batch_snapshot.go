package source

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/eduops/courseledger/internal/domain"
)

// BatchSnapshotAdapter emits ledger events for billing snapshots of
// completed batches. Each snapshot accrues the provider's share of delivery
// at the contracted per-student transfer price: Dr oem_transfer /
// Cr oem_payable.
type BatchSnapshotAdapter struct {
	db querier
}

// NewBatchSnapshotAdapter creates a new BatchSnapshotAdapter.
func NewBatchSnapshotAdapter(pool *pgxpool.Pool) *BatchSnapshotAdapter {
	return &BatchSnapshotAdapter{db: pool}
}

func (a *BatchSnapshotAdapter) Name() string {
	return "batch_snapshots"
}

func (a *BatchSnapshotAdapter) Events(ctx context.Context, cur string, limit int) ([]domain.SourceEvent, string, error) {
	pos, err := parseCursor(cur)
	if err != nil {
		return nil, "", err
	}

	// The accrual is frozen at snapshot time, so the student count comes
	// from the snapshot row, not the live batch.
	rows, err := a.db.Query(ctx,
		`SELECT s.id, s.created_at, s.number_of_students, c.oem_transfer_price
		 FROM core_batchsnapshot s
		 JOIN core_batch b ON b.id = s.batch_id
		 JOIN core_contract c ON c.id = b.contract_id
		 WHERE s.status = 'completed'
		   AND (s.created_at::date, s.id) > ($1::date, $2::bigint)
		 ORDER BY s.created_at::date, s.id
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
			id            int64
			createdAt     pgtype.Timestamptz
			students      int64
			transferPrice pgtype.Numeric
		)

		if err := rows.Scan(&id, &createdAt, &students, &transferPrice); err != nil {
			return nil, "", err
		}

		last = cursor{date: createdAt.Time, id: id}
		served++

		share := numericToDecimal(transferPrice).Mul(decimal.NewFromInt(students))
		if !share.IsPositive() {
			continue
		}

		events = append(events, domain.SourceEvent{
			SourceType:  domain.SourceBatchSnapshot,
			SourceID:    strconv.FormatInt(id, 10),
			EffectiveAt: createdAt.Time.UTC(),
			Kind:        domain.EventOriginal,
			Lines: []domain.DraftLine{
				{AccountCode: domain.AccountOEMTransfer, Direction: domain.Debit, Amount: share},
				{AccountCode: domain.AccountOEMPayable, Direction: domain.Credit, Amount: share},
			},
		})
	}

	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	if served < limit {
		return events, "", nil
	}

	return events, last.String(), nil
}
