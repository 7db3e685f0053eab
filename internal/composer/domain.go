package composer

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/pricing"
)

// CounterpartyKind distinguishes clients (order requests) from suppliers (purchases).
type CounterpartyKind string

const (
	CounterpartyClient   CounterpartyKind = "client"
	CounterpartySupplier CounterpartyKind = "supplier"
)

// Counterparty is the client or supplier an order is attached to.
type Counterparty struct {
	ID   int64            `json:"id"`
	Name string           `json:"name"`
	Kind CounterpartyKind `json:"kind"`
}

func (c Counterparty) sameAs(other Counterparty) bool {
	return c.Kind == other.Kind && c.ID == other.ID
}

// CatalogProduct is a read-only product as returned by catalog search.
type CatalogProduct struct {
	ID             int64            `json:"id"`
	Name           string           `json:"name"`
	Price          decimal.Decimal  `json:"price"`
	Stock          *decimal.Decimal `json:"stock,omitempty"`
	AvailableStock *decimal.Decimal `json:"available_stock,omitempty"`
	InternalCode   *string          `json:"internal_code,omitempty"`
	Barcode        *string          `json:"barcode,omitempty"`
	ImageURL       *string          `json:"image_url,omitempty"`
}

// Line is one product entry of a composition.
type Line struct {
	ProductID                  int64            `json:"product_id"`
	Name                       string           `json:"name"`
	ImageURL                   *string          `json:"image_url,omitempty"`
	Quantity                   decimal.Decimal  `json:"quantity"`
	Weight                     decimal.Decimal  `json:"weight"`
	UnitPrice                  decimal.Decimal  `json:"unit_price"`
	DiscountPercentage         decimal.Decimal  `json:"discount_percentage"`
	MinimumQuantityForDiscount *decimal.Decimal `json:"minimum_quantity_for_discount,omitempty"`
	DiscountOfferID            *int64           `json:"discount_offer_id,omitempty"`
	IsLoadingDiscount          bool             `json:"is_loading_discount"`
	AvailableStock             *decimal.Decimal `json:"available_stock,omitempty"`

	// token identifies the insertion; lookups started for an earlier
	// insertion of the same product never apply to this one.
	token uint64
}

func (l Line) terms() pricing.Terms {
	return pricing.Terms{
		Quantity:        l.Quantity,
		UnitPrice:       l.UnitPrice,
		DiscountPercent: l.DiscountPercentage,
		MinimumQuantity: l.MinimumQuantityForDiscount,
	}
}

// EffectiveDiscount is the stored percentage when the quantity qualifies, else zero.
func (l Line) EffectiveDiscount() decimal.Decimal {
	return pricing.EffectiveDiscount(l.terms())
}

// Subtotal is quantity × unit price × (1 − effective discount/100).
func (l Line) Subtotal() decimal.Decimal {
	return pricing.LineSubtotal(l.terms())
}

// ExceedsStock flags a quantity above the stock snapshot. It is advisory only.
func (l Line) ExceedsStock() bool {
	return l.AvailableStock != nil && l.Quantity.GreaterThan(*l.AvailableStock)
}

// LineUpdate is an edit of one line. Nil fields are left unchanged.
type LineUpdate struct {
	Quantity           *decimal.Decimal
	Weight             *decimal.Decimal
	UnitPrice          *decimal.Decimal
	DiscountPercentage *decimal.Decimal
}

// Empty reports whether u changes nothing.
func (u LineUpdate) Empty() bool {
	return u.Quantity == nil && u.Weight == nil && u.UnitPrice == nil && u.DiscountPercentage == nil
}

func (u LineUpdate) overrides() bool {
	return u.UnitPrice != nil || u.DiscountPercentage != nil
}

func (u LineUpdate) validate() error {
	var problems []Problem
	if u.Weight != nil && u.Weight.IsNegative() {
		problems = append(problems, Problem{Field: "weight", Message: "must not be negative"})
	}
	if u.UnitPrice != nil && u.UnitPrice.IsNegative() {
		problems = append(problems, Problem{Field: "unit_price", Message: "must not be negative"})
	}
	if u.DiscountPercentage != nil && !pricing.PercentageInRange(*u.DiscountPercentage) {
		problems = append(problems, Problem{Field: "discount_percentage", Message: "must be between 0 and 100"})
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// LineItem is the serialized form of a line sent to the order store.
type LineItem struct {
	ProductID int64            `json:"product_id"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Weight    *decimal.Decimal `json:"weight,omitempty"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	Discount  *decimal.Decimal `json:"discount,omitempty"`
}

// Submission is what the composer hands to the order store.
type Submission struct {
	Flow           FlowKind   `json:"flow"`
	CounterpartyID int64      `json:"counterparty_id"`
	Lines          []LineItem `json:"lines"`
}

// PersistedLine is a stored line used to seed edit sessions.
type PersistedLine struct {
	ProductID       int64            `json:"product_id"`
	Name            string           `json:"name"`
	ImageURL        *string          `json:"image_url,omitempty"`
	Quantity        decimal.Decimal  `json:"quantity"`
	Weight          decimal.Decimal  `json:"weight"`
	UnitPrice       decimal.Decimal  `json:"unit_price"`
	Discount        decimal.Decimal  `json:"discount"`
	MinimumQuantity *decimal.Decimal `json:"minimum_quantity,omitempty"`
	AvailableStock  *decimal.Decimal `json:"available_stock,omitempty"`
}

// PersistedOrder is an order request or purchase as stored externally.
type PersistedOrder struct {
	ID           int64           `json:"id"`
	Number       string          `json:"number"`
	Flow         FlowKind        `json:"flow"`
	Counterparty Counterparty    `json:"counterparty"`
	Lines        []PersistedLine `json:"lines"`
	Total        decimal.Decimal `json:"total"`
}
