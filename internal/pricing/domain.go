package pricing

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Offer is the best discount negotiated for a product and counterparty.
type Offer struct {
	ID              int64            `json:"id"`
	Percentage      decimal.Decimal  `json:"percentage"`
	MinimumQuantity *decimal.Decimal `json:"minimum_quantity,omitempty"`
}

// Query identifies a best discount lookup.
type Query struct {
	ProductID        int64
	CounterpartyKind string
	CounterpartyID   int64
}

func (q Query) key() string {
	return strings.Join([]string{
		"pricing",
		"best",
		strconv.FormatInt(q.ProductID, 10),
		q.CounterpartyKind,
		strconv.FormatInt(q.CounterpartyID, 10),
	}, ":")
}

// Lookup outcomes reported to the LookupRecorder.
const (
	OutcomeFound   = "found"
	OutcomeNone    = "none"
	OutcomeFailure = "failure"
)
