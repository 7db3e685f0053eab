package composer

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// FlowKind names the screen a composer serves.
type FlowKind string

const (
	FlowOrderRequest FlowKind = "order_request"
	FlowPurchase     FlowKind = "purchase"
)

// Flow configures quantity rules, lookups and serialization for one kind of order.
type Flow struct {
	Kind         FlowKind
	Counterparty CounterpartyKind
	// QuantityPlaces is 1 for fractional flows and 0 for integral ones.
	QuantityPlaces  int32
	MinQuantity     decimal.Decimal
	InitialQuantity decimal.Decimal
	// ResolveDiscounts starts a best discount lookup for every added line.
	ResolveDiscounts bool
	// TracksWeight serializes weight on create; edits always carry it.
	TracksWeight bool
	CreatePerm   string
	EditPerm     string
	// OverridePerm guards manual price and discount edits; empty allows them.
	OverridePerm string
	NumberPrefix string
}

var (
	// OrderRequestFlow sells to a client with fractional quantities.
	OrderRequestFlow = Flow{
		Kind:             FlowOrderRequest,
		Counterparty:     CounterpartyClient,
		QuantityPlaces:   1,
		MinQuantity:      decimal.RequireFromString("0.1"),
		InitialQuantity:  decimal.RequireFromString("1.0"),
		ResolveDiscounts: true,
		CreatePerm:       shared.PermOrderRequestCreate,
		EditPerm:         shared.PermOrderRequestEdit,
		OverridePerm:     shared.PermPricingOverride,
		NumberPrefix:     "OR",
	}
	// PurchaseFlow buys from a supplier with whole quantities.
	PurchaseFlow = Flow{
		Kind:             FlowPurchase,
		Counterparty:     CounterpartySupplier,
		QuantityPlaces:   0,
		MinQuantity:      decimal.NewFromInt(1),
		InitialQuantity:  decimal.NewFromInt(1),
		ResolveDiscounts: true,
		TracksWeight:     true,
		CreatePerm:       shared.PermPurchaseCreate,
		EditPerm:         shared.PermPurchaseEdit,
		NumberPrefix:     "PU",
	}
)

// FlowByKind returns the flow registered for kind.
func FlowByKind(kind FlowKind) (Flow, error) {
	switch kind {
	case FlowOrderRequest:
		return OrderRequestFlow, nil
	case FlowPurchase:
		return PurchaseFlow, nil
	}
	return Flow{}, fmt.Errorf("composer: unknown flow %q", kind)
}

// NormalizeQuantity rounds to the flow's step and clamps to its minimum.
func (f Flow) NormalizeQuantity(v decimal.Decimal) decimal.Decimal {
	v = v.Round(f.QuantityPlaces)
	if v.LessThan(f.MinQuantity) {
		return f.MinQuantity
	}
	return v
}
