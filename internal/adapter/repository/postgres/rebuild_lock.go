package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eduops/courseledger/internal/domain"
	"github.com/eduops/courseledger/internal/usecase"
)

// Advisory lock key shared by every process touching the ledger store.
const rebuildLockKey = int64(0x4C454447) // "LEDG"

// RebuildLock implements usecase.RebuildLock on postgres advisory locks.
// Appends take the shared side transaction-scoped; a rebuild run holds the
// exclusive side on a dedicated session, so a crashed rebuild releases its
// lease when the connection drops.
type RebuildLock struct {
	pool *pgxpool.Pool
}

// NewRebuildLock creates a new RebuildLock.
func NewRebuildLock(pool *pgxpool.Pool) *RebuildLock {
	return &RebuildLock{pool: pool}
}

// AcquireShared takes the shared lease inside tx. It fails fast with
// domain.ErrRebuildInProgress instead of queueing behind an exclusive
// holder.
func (l *RebuildLock) AcquireShared(ctx context.Context, tx usecase.Transaction) error {
	pgxTx := tx.(*Tx).PgxTx()

	var acquired bool
	err := pgxTx.QueryRow(ctx,
		`SELECT pg_try_advisory_xact_lock_shared($1)`,
		rebuildLockKey,
	).Scan(&acquired)
	if err != nil {
		return err
	}

	if !acquired {
		return domain.ErrRebuildInProgress
	}

	return nil
}

// AcquireExclusive takes the exclusive lease on a connection pinned for the
// lifetime of the run. The returned release func unlocks and returns the
// connection to the pool.
func (l *RebuildLock) AcquireExclusive(ctx context.Context) (func(context.Context) error, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, rebuildLockKey).Scan(&acquired); err != nil {
		conn.Release()
		return nil, err
	}

	if !acquired {
		conn.Release()
		return nil, fmt.Errorf("%w: exclusive store lease is held", domain.ErrRebuildInProgress)
	}

	release := func(ctx context.Context) error {
		defer conn.Release()

		var unlocked bool
		if err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, rebuildLockKey).Scan(&unlocked); err != nil {
			return err
		}

		if !unlocked {
			return fmt.Errorf("rebuild lease %d was not held at release", rebuildLockKey)
		}

		return nil
	}

	return release, nil
}
