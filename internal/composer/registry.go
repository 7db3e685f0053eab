package composer

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/pricing"
)

// Registry maps product IDs to lines, keeping insertion order.
// It is not safe for concurrent use; Composer serialises access.
type Registry struct {
	flow      Flow
	order     []int64
	lines     map[int64]*Line
	nextToken uint64
}

// NewRegistry returns an empty registry for flow.
func NewRegistry(flow Flow) *Registry {
	return &Registry{flow: flow, lines: make(map[int64]*Line)}
}

// Len returns the number of lines.
func (r *Registry) Len() int {
	return len(r.order)
}

// Has reports whether productID has a line.
func (r *Registry) Has(productID int64) bool {
	_, ok := r.lines[productID]
	return ok
}

// Get returns a copy of the line for productID.
func (r *Registry) Get(productID int64) (Line, bool) {
	line, ok := r.lines[productID]
	if !ok {
		return Line{}, false
	}
	return *line, true
}

// Lines returns copies of all lines in insertion order.
func (r *Registry) Lines() []Line {
	out := make([]Line, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.lines[id])
	}
	return out
}

// Add inserts a line for p. It is a no-op returning false when p is present.
// loading marks the line as waiting for a discount lookup.
func (r *Registry) Add(p CatalogProduct, loading bool) (token uint64, added bool) {
	if r.Has(p.ID) {
		return 0, false
	}
	r.nextToken++
	line := &Line{
		ProductID:          p.ID,
		Name:               p.Name,
		ImageURL:           p.ImageURL,
		Quantity:           r.flow.InitialQuantity,
		Weight:             decimal.Zero,
		UnitPrice:          p.Price,
		DiscountPercentage: decimal.Zero,
		IsLoadingDiscount:  loading,
		AvailableStock:     p.AvailableStock,
		token:              r.nextToken,
	}
	r.lines[p.ID] = line
	r.order = append(r.order, p.ID)
	return line.token, true
}

// Seed inserts a stored line as-is. Duplicates are ignored.
func (r *Registry) Seed(p PersistedLine) bool {
	if r.Has(p.ProductID) {
		return false
	}
	r.nextToken++
	r.lines[p.ProductID] = &Line{
		ProductID:                  p.ProductID,
		Name:                       p.Name,
		ImageURL:                   p.ImageURL,
		Quantity:                   p.Quantity,
		Weight:                     p.Weight,
		UnitPrice:                  p.UnitPrice,
		DiscountPercentage:         p.Discount,
		MinimumQuantityForDiscount: p.MinimumQuantity,
		AvailableStock:             p.AvailableStock,
		token:                      r.nextToken,
	}
	r.order = append(r.order, p.ProductID)
	return true
}

// Remove deletes the line for productID unconditionally.
func (r *Registry) Remove(productID int64) bool {
	if !r.Has(productID) {
		return false
	}
	delete(r.lines, productID)
	for i, id := range r.order {
		if id == productID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Clear removes every line. Tokens keep increasing so earlier lookups stay stale.
func (r *Registry) Clear() {
	r.order = nil
	r.lines = make(map[int64]*Line)
}

// ApplyOffer stores a lookup result if the insertion identified by token is
// still present. It reports whether the result was applied.
func (r *Registry) ApplyOffer(productID int64, token uint64, offer pricing.Offer, found bool) bool {
	line, ok := r.lines[productID]
	if !ok || line.token != token {
		return false
	}
	line.IsLoadingDiscount = false
	if !found {
		line.DiscountPercentage = decimal.Zero
		line.MinimumQuantityForDiscount = nil
		line.DiscountOfferID = nil
		return true
	}
	id := offer.ID
	line.DiscountPercentage = offer.Percentage
	line.MinimumQuantityForDiscount = offer.MinimumQuantity
	line.DiscountOfferID = &id
	return true
}

// SetQuantity normalises v for the flow and stores it. The discount offer is
// kept; only its applicability changes with quantity.
func (r *Registry) SetQuantity(productID int64, v decimal.Decimal) (decimal.Decimal, error) {
	v = r.flow.NormalizeQuantity(v)
	if err := r.Update(productID, LineUpdate{Quantity: &v}); err != nil {
		return decimal.Zero, err
	}
	return v, nil
}

// SetWeight stores a non-negative weight.
func (r *Registry) SetWeight(productID int64, v decimal.Decimal) error {
	return r.Update(productID, LineUpdate{Weight: &v})
}

// SetUnitPrice stores a non-negative unit price.
func (r *Registry) SetUnitPrice(productID int64, v decimal.Decimal) error {
	return r.Update(productID, LineUpdate{UnitPrice: &v})
}

// SetDiscountPercentage stores a manual discount in [0,100]. A manual value
// has no quantity threshold and supersedes any pending lookup.
func (r *Registry) SetDiscountPercentage(productID int64, v decimal.Decimal) error {
	return r.Update(productID, LineUpdate{DiscountPercentage: &v})
}

// Update validates every field of u and applies them together. Nothing
// changes when any field is rejected.
func (r *Registry) Update(productID int64, u LineUpdate) error {
	line, ok := r.lines[productID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrLineNotFound, productID)
	}
	if err := u.validate(); err != nil {
		return err
	}
	if u.Quantity != nil {
		line.Quantity = r.flow.NormalizeQuantity(*u.Quantity)
	}
	if u.Weight != nil {
		line.Weight = *u.Weight
	}
	if u.UnitPrice != nil {
		line.UnitPrice = *u.UnitPrice
	}
	if u.DiscountPercentage != nil {
		r.nextToken++
		line.token = r.nextToken
		line.DiscountPercentage = *u.DiscountPercentage
		line.MinimumQuantityForDiscount = nil
		line.DiscountOfferID = nil
		line.IsLoadingDiscount = false
	}
	return nil
}

// Total is the sum of line subtotals.
func (r *Registry) Total() decimal.Decimal {
	terms := make([]pricing.Terms, 0, len(r.order))
	for _, id := range r.order {
		terms = append(terms, r.lines[id].terms())
	}
	return pricing.Total(terms)
}
