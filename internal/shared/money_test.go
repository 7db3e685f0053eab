package shared

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestRoundForDisplay(t *testing.T) {
	amount := decimal.RequireFromString("39.981999")
	assert.Equal(t, "39.98", RoundForDisplay(amount, "USD").String())
	assert.Equal(t, "40", RoundForDisplay(amount, "JPY").String())
	assert.Equal(t, "39.98", RoundForDisplay(amount, "???").String())
}

func TestFormatAmount(t *testing.T) {
	out := FormatAmount(decimal.NewFromInt(124), "USD", language.AmericanEnglish)
	assert.Contains(t, out, "$")
	assert.Contains(t, out, "124.00")

	assert.Equal(t, "12.50", FormatAmount(decimal.RequireFromString("12.5"), "nope", language.English))
}
