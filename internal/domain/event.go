package domain

import "time"

// Source types emitted by the billing subsystems.
const (
	SourceInvoice       = "invoice"
	SourcePayment       = "payment"
	SourceOEMPayment    = "oem_payment"
	SourceExpense       = "expense"
	SourceBatchSnapshot = "batch_snapshot"
)

// EventKind distinguishes an original posting from a correction reversal.
type EventKind string

const (
	EventOriginal EventKind = "original"
	EventReversal EventKind = "reversal"
)

// SourceEvent is one domain event emitted or enumerated by a source
// adapter: enough information to build a balanced set of lines. Reversal
// events reference the source event they undo; during replay they are just
// one more ordered event, the engine never synthesizes reversals itself.
type SourceEvent struct {
	SourceType      string
	SourceID        string
	EffectiveAt     time.Time
	Kind            EventKind
	ReversalOfEvent string
	Lines           []DraftLine
}

// Before defines the deterministic global replay order:
// (EffectiveAt, SourceType, SourceID). It is independent of which adapter
// produced the event and of adapter iteration order.
func (e SourceEvent) Before(other SourceEvent) bool {
	if !e.EffectiveAt.Equal(other.EffectiveAt) {
		return e.EffectiveAt.Before(other.EffectiveAt)
	}

	if e.SourceType != other.SourceType {
		return e.SourceType < other.SourceType
	}

	return e.SourceID < other.SourceID
}

// Draft converts the event into a writer draft. resolveReversal maps the
// reversed source event to the persisted transaction id, if any.
func (e SourceEvent) Draft(reversalOfTxID *string) Draft {
	lines := make([]DraftLine, len(e.Lines))
	copy(lines, e.Lines)

	return Draft{
		SourceType:  e.SourceType,
		SourceID:    e.SourceID,
		EffectiveAt: e.EffectiveAt,
		ReversalOf:  reversalOfTxID,
		Lines:       lines,
	}
}

// Outbox event types.
const (
	EventTypeTransactionAppended = "ledger.transaction.appended"
	EventTypeTransactionReversed = "ledger.transaction.reversed"
)

// OutboxEvent is a store-resident record of a ledger event awaiting
// publication. The writer only ever touches the store; a separate publisher
// loop drains the outbox.
type OutboxEvent struct {
	ID          string
	EventType   string
	AggregateID string
	Payload     map[string]any
	CreatedAt   time.Time
	PublishedAt *time.Time
	Published   bool
}

// TransactionAppendedEvent payload
type TransactionAppendedEvent struct {
	TransactionID string `json:"transaction_id"`
	SourceType    string `json:"source_type"`
	SourceID      string `json:"source_id"`
	LineCount     int    `json:"line_count"`
	EffectiveAt   string `json:"effective_at"`
}

// TransactionReversedEvent payload
type TransactionReversedEvent struct {
	ReversalID    string `json:"reversal_id"`
	TransactionID string `json:"transaction_id"`
	SourceType    string `json:"source_type"`
	SourceID      string `json:"source_id"`
}
