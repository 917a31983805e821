package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eduops/courseledger/internal/usecase"
)

// RebuildRunRepository implements usecase.RebuildRunRepository. Run records
// survive a process restart, so an operator can see that a crashed rebuild
// left the ledger non-authoritative and resume it.
type RebuildRunRepository struct {
	pool *pgxpool.Pool
}

// NewRebuildRunRepository creates a new RebuildRunRepository.
func NewRebuildRunRepository(pool *pgxpool.Pool) *RebuildRunRepository {
	return &RebuildRunRepository{pool: pool}
}

// Create persists a new run record.
func (r *RebuildRunRepository) Create(ctx context.Context, run *usecase.RebuildRun) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO rebuild_runs (id, mode, state, cursor, transactions, lines, error, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, string(run.Mode), string(run.State), run.Cursor,
		run.Transactions, run.Lines, run.Error,
		timeToPgTimestamptz(run.StartedAt), timePtrToPgTimestamptz(run.FinishedAt),
	)

	return err
}

// Update persists a state transition or progress checkpoint.
func (r *RebuildRunRepository) Update(ctx context.Context, run *usecase.RebuildRun) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE rebuild_runs
		 SET state = $2, cursor = $3, transactions = $4, lines = $5, error = $6, finished_at = $7
		 WHERE id = $1`,
		run.ID, string(run.State), run.Cursor, run.Transactions, run.Lines,
		run.Error, timePtrToPgTimestamptz(run.FinishedAt),
	)

	return err
}

// Latest returns the most recently started run, or nil when none exists.
func (r *RebuildRunRepository) Latest(ctx context.Context) (*usecase.RebuildRun, error) {
	var (
		run        usecase.RebuildRun
		mode       string
		state      string
		startedAt  pgtype.Timestamptz
		finishedAt pgtype.Timestamptz
	)

	err := r.pool.QueryRow(ctx,
		`SELECT id, mode, state, cursor, transactions, lines, error, started_at, finished_at
		 FROM rebuild_runs
		 ORDER BY started_at DESC, id DESC
		 LIMIT 1`,
	).Scan(&run.ID, &mode, &state, &run.Cursor, &run.Transactions, &run.Lines,
		&run.Error, &startedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}

	run.Mode = usecase.RebuildMode(mode)
	run.State = usecase.RebuildState(state)
	run.StartedAt = startedAt.Time
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}

	return &run, nil
}
