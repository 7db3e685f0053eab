package shared

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// RoundForDisplay rounds amount to the minor unit of the ISO currency code.
// Amounts are only rounded when presented, never during computation.
func RoundForDisplay(amount decimal.Decimal, code string) decimal.Decimal {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return amount.Round(2)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return amount.Round(int32(scale))
}

// FormatAmount renders amount with the currency symbol for the given locale.
func FormatAmount(amount decimal.Decimal, code string, tag language.Tag) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return amount.StringFixed(2)
	}
	value, _ := RoundForDisplay(amount, code).Float64()
	return message.NewPrinter(tag).Sprint(currency.Symbol(unit.Amount(value)))
}
