package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func TestLineSubtotalThresholdExample(t *testing.T) {
	cases := []struct {
		quantity string
		want     string
	}{
		{"4", "400"},
		{"5", "450"},
		{"6", "540"},
	}
	for _, tc := range cases {
		terms := Terms{
			Quantity:        dec(tc.quantity),
			UnitPrice:       dec("100"),
			DiscountPercent: dec("10"),
			MinimumQuantity: decPtr("5"),
		}
		assertDecimal(t, tc.want, LineSubtotal(terms))
	}
}

func TestEffectiveDiscountAcrossQuantityDomain(t *testing.T) {
	minimum := dec("5")
	for q := dec("0.1"); q.LessThanOrEqual(dec("10")); q = q.Add(dec("0.1")) {
		terms := Terms{Quantity: q, UnitPrice: dec("1"), DiscountPercent: dec("15"), MinimumQuantity: &minimum}
		got := EffectiveDiscount(terms)
		if q.LessThan(minimum) {
			assert.Truef(t, got.IsZero(), "quantity %s below threshold", q)
		} else {
			assertDecimal(t, "15", got)
		}
	}
}

func TestEffectiveDiscountAtThresholdIsInclusive(t *testing.T) {
	terms := Terms{Quantity: dec("5.0"), DiscountPercent: dec("10"), MinimumQuantity: decPtr("5")}
	assertDecimal(t, "10", EffectiveDiscount(terms))

	terms.Quantity = dec("4.9")
	assertDecimal(t, "0", EffectiveDiscount(terms))
}

func TestEffectiveDiscountWithoutMinimum(t *testing.T) {
	terms := Terms{Quantity: dec("0.1"), DiscountPercent: dec("20")}
	assertDecimal(t, "20", EffectiveDiscount(terms))
}

func TestTotalTwoLines(t *testing.T) {
	lines := []Terms{
		{Quantity: dec("2"), UnitPrice: dec("50"), DiscountPercent: dec("0")},
		{Quantity: dec("1"), UnitPrice: dec("30"), DiscountPercent: dec("20"), MinimumQuantity: decPtr("1")},
	}
	assertDecimal(t, "124", Total(lines))

	reversed := []Terms{lines[1], lines[0]}
	assert.True(t, Total(lines).Equal(Total(reversed)))
}

func TestCalculateLineTotals(t *testing.T) {
	gross, discount, total := CalculateLineTotals(Terms{
		Quantity:        dec("3"),
		UnitPrice:       dec("19.99"),
		DiscountPercent: dec("33.33"),
	})
	assertDecimal(t, "59.97", gross)
	assertDecimal(t, "19.988001", discount)
	assertDecimal(t, "39.981999", total)
}

func TestParseOffer(t *testing.T) {
	minimum := "5.000"
	offer, err := parseOffer(7, "12.50", &minimum)
	assert.NoError(t, err)
	assert.Equal(t, int64(7), offer.ID)
	assertDecimal(t, "12.5", offer.Percentage)
	assertDecimal(t, "5", *offer.MinimumQuantity)

	_, err = parseOffer(8, "120", nil)
	assert.Error(t, err)

	_, err = parseOffer(9, "abc", nil)
	assert.Error(t, err)
}

func TestPercentageInRange(t *testing.T) {
	assert.True(t, PercentageInRange(dec("0")))
	assert.True(t, PercentageInRange(dec("100")))
	assert.True(t, PercentageInRange(dec("12.5")))
	assert.False(t, PercentageInRange(dec("-0.01")))
	assert.False(t, PercentageInRange(dec("100.01")))
}
