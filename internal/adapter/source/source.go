// Package source adapts the course administration application's billing
// tables into ledger domain events. The tables belong to another system and
// are consumed strictly read-only; each adapter enumerates its full history
// in a stable (effective date, id) order with keyset pagination.
package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// querier is the subset of pgxpool.Pool the adapters need.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// cursor is the keyset position (effective date, row id) of the last row
// served. The zero cursor starts from the beginning of history.
type cursor struct {
	date time.Time
	id   int64
}

func (c cursor) String() string {
	return c.date.Format("2006-01-02") + "|" + strconv.FormatInt(c.id, 10)
}

func parseCursor(s string) (cursor, error) {
	if s == "" {
		return cursor{}, nil
	}

	datePart, idPart, found := strings.Cut(s, "|")
	if !found {
		return cursor{}, fmt.Errorf("malformed history cursor %q", s)
	}

	date, err := time.Parse("2006-01-02", datePart)
	if err != nil {
		return cursor{}, fmt.Errorf("malformed history cursor %q: %w", s, err)
	}

	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return cursor{}, fmt.Errorf("malformed history cursor %q: %w", s, err)
	}

	return cursor{date: date, id: id}, nil
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
