// Package orders persists order requests and purchases submitted by the composer.
package orders

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/composer"
)

// tables names the storage of one flow.
type tables struct {
	orders            string
	lines             string
	counterparty      string
	counterpartyTable string
}

var flowTables = map[composer.FlowKind]tables{
	composer.FlowOrderRequest: {
		orders:            "order_requests",
		lines:             "order_request_lines",
		counterparty:      "client_id",
		counterpartyTable: "clients",
	},
	composer.FlowPurchase: {
		orders:            "purchases",
		lines:             "purchase_lines",
		counterparty:      "supplier_id",
		counterpartyTable: "suppliers",
	},
}

func tablesFor(flow composer.FlowKind) (tables, error) {
	t, ok := flowTables[flow]
	if !ok {
		return tables{}, fmt.Errorf("orders: unknown flow %q", flow)
	}
	return t, nil
}

// Header is the order row.
type Header struct {
	ID             int64
	Number         string
	CounterpartyID int64
	Total          decimal.Decimal
}

// LineRecord is one stored line with its computed amounts.
type LineRecord struct {
	ProductID       int64
	Quantity        decimal.Decimal
	Weight          *decimal.Decimal
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
	DiscountAmount  decimal.Decimal
	LineTotal       decimal.Decimal
	LineOrder       int
}

// SubmittedEvent is published after an order is stored.
type SubmittedEvent struct {
	Action         string            `json:"action"`
	OrderID        int64             `json:"order_id"`
	Number         string            `json:"number"`
	Flow           composer.FlowKind `json:"flow"`
	CounterpartyID int64             `json:"counterparty_id"`
	Lines          int               `json:"lines"`
	Total          decimal.Decimal   `json:"total"`
	At             time.Time         `json:"at"`
}

const (
	ActionCreated = "created"
	ActionUpdated = "updated"
)
