package pricing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// PercentageInRange reports whether pct lies in [0,100].
func PercentageInRange(pct decimal.Decimal) bool {
	return !pct.IsNegative() && !pct.GreaterThan(hundred)
}

// Terms is the pricing state of a single line.
type Terms struct {
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
	MinimumQuantity *decimal.Decimal
}

// Qualifies reports whether the quantity reaches the discount threshold.
// A missing threshold always qualifies; the comparison is inclusive.
func (t Terms) Qualifies() bool {
	if t.MinimumQuantity == nil {
		return true
	}
	return t.Quantity.GreaterThanOrEqual(*t.MinimumQuantity)
}

// EffectiveDiscount returns the percentage actually applied to the line.
func EffectiveDiscount(t Terms) decimal.Decimal {
	if !t.Qualifies() {
		return decimal.Zero
	}
	return t.DiscountPercent
}

// CalculateLineTotals splits a line into gross amount, discount amount and net total.
func CalculateLineTotals(t Terms) (grossAmount, discountAmount, lineTotal decimal.Decimal) {
	grossAmount = t.Quantity.Mul(t.UnitPrice)
	discountAmount = grossAmount.Mul(EffectiveDiscount(t)).Div(hundred)
	lineTotal = grossAmount.Sub(discountAmount)
	return
}

// LineSubtotal is quantity × unit price × (1 − effective discount/100).
func LineSubtotal(t Terms) decimal.Decimal {
	_, _, total := CalculateLineTotals(t)
	return total
}

// Total sums line subtotals without intermediate rounding.
func Total(lines []Terms) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(LineSubtotal(line))
	}
	return total
}
