package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction marks a line as a debit or a credit.
type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// Flip returns the opposite direction.
func (d Direction) Flip() Direction {
	if d == Debit {
		return Credit
	}

	return Debit
}

// Valid reports whether d is one of the two known directions.
func (d Direction) Valid() bool {
	return d == Debit || d == Credit
}

// Transaction is a balanced group of ledger lines representing one financial
// event. Transactions are immutable once appended; the only sanctioned undo
// is appending a reversal transaction.
type Transaction struct {
	ID          string
	SourceType  string
	SourceID    string
	EffectiveAt time.Time
	CreatedAt   time.Time
	ReversalOf  *string
	Lines       []Line
}

// SourceRef returns the source pointer in "type:id" form, e.g. "invoice:42".
func (t *Transaction) SourceRef() string {
	return t.SourceType + ":" + t.SourceID
}

// Line is one debit or credit entry against one account. Sequence is a
// global, gap-free, strictly increasing number assigned at append time; it
// totally orders the ledger.
type Line struct {
	ID            string
	TransactionID string
	AccountCode   string
	Direction     Direction
	Amount        decimal.Decimal
	Sequence      int64
	CreatedAt     time.Time
}

// DraftLine is one proposed line of a not-yet-persisted transaction.
type DraftLine struct {
	AccountCode string
	Direction   Direction
	Amount      decimal.Decimal
}

// Draft is the input to the transaction writer: a balanced set of lines
// attributed to one originating domain record.
type Draft struct {
	SourceType  string
	SourceID    string
	EffectiveAt time.Time
	ReversalOf  *string
	Lines       []DraftLine
}

// Validate checks the draft against the ledger invariants, in order: at
// least two lines, every amount strictly positive, debits equal credits
// exactly, every referenced account known. It writes nothing.
func (d *Draft) Validate(registry *Registry) error {
	if len(d.Lines) < 2 {
		return fmt.Errorf("%w: transaction needs at least two lines, got %d", ErrImbalancedTransaction, len(d.Lines))
	}

	debits := decimal.Zero
	credits := decimal.Zero

	for _, line := range d.Lines {
		if !line.Direction.Valid() {
			return fmt.Errorf("%w: direction %q", ErrInvalidAmount, line.Direction)
		}

		if line.Amount.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w: %s %s on %s", ErrInvalidAmount, line.Direction, line.Amount, line.AccountCode)
		}

		switch line.Direction {
		case Debit:
			debits = debits.Add(line.Amount)
		case Credit:
			credits = credits.Add(line.Amount)
		}
	}

	if !debits.Equal(credits) {
		return fmt.Errorf("%w: debits %s != credits %s", ErrImbalancedTransaction, debits, credits)
	}

	for _, line := range d.Lines {
		if _, ok := registry.Lookup(line.AccountCode); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownAccount, line.AccountCode)
		}
	}

	return nil
}

// Reversed returns a draft that exactly negates the transaction: the same
// accounts and amounts with every direction flipped, pointing back at the
// original via ReversalOf.
func (t *Transaction) Reversed() Draft {
	id := t.ID
	lines := make([]DraftLine, 0, len(t.Lines))

	for _, line := range t.Lines {
		lines = append(lines, DraftLine{
			AccountCode: line.AccountCode,
			Direction:   line.Direction.Flip(),
			Amount:      line.Amount,
		})
	}

	return Draft{
		SourceType:  t.SourceType,
		SourceID:    t.SourceID,
		EffectiveAt: t.EffectiveAt,
		ReversalOf:  &id,
		Lines:       lines,
	}
}
