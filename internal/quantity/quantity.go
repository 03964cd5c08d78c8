// Package quantity holds the precision of the NUMERIC(20, 6) ledger columns
// that every stored amount shares.
package quantity

import "github.com/shopspring/decimal"

const (
	// Scale is the number of decimal places kept by the ledger columns.
	Scale = 6
	// IntegerDigits is what remains of the column precision for the integer part.
	IntegerDigits = 20 - Scale
)

var ceiling = decimal.New(1, IntegerDigits)

// Fits reports whether d is a non-negative amount the ledger can store
// without rounding or overflow.
func Fits(d decimal.Decimal) bool {
	if d.IsNegative() || !d.LessThan(ceiling) {
		return false
	}
	return d.Equal(d.Truncate(Scale))
}
