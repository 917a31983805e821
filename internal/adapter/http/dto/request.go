package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/eduops/courseledger/internal/domain"
)

// LineRequest is one leg of a transaction in API requests. Amount is a
// string so clients cannot lose precision to float encoding.
type LineRequest struct {
	AccountCode string `json:"account_code"`
	Direction   string `json:"direction"`
	Amount      string `json:"amount"`
}

// AppendTransactionRequest represents a request to append a transaction.
type AppendTransactionRequest struct {
	SourceType  string        `json:"source_type"`
	SourceID    string        `json:"source_id"`
	EffectiveAt time.Time     `json:"effective_at"`
	Lines       []LineRequest `json:"lines"`
}

// ToDraft converts the request to a domain draft.
func (r *AppendTransactionRequest) ToDraft() (domain.Draft, error) {
	lines := make([]domain.DraftLine, 0, len(r.Lines))
	for _, line := range r.Lines {
		amount, err := decimal.NewFromString(line.Amount)
		if err != nil {
			return domain.Draft{}, err
		}

		lines = append(lines, domain.DraftLine{
			AccountCode: line.AccountCode,
			Direction:   domain.Direction(line.Direction),
			Amount:      amount,
		})
	}

	return domain.Draft{
		SourceType:  r.SourceType,
		SourceID:    r.SourceID,
		EffectiveAt: r.EffectiveAt,
		Lines:       lines,
	}, nil
}
