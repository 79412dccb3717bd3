// Package pricing holds the tax rules applied to cart summaries and
// order totals.
package pricing

import "github.com/shopspring/decimal"

// TaxRate is the flat GST rate applied to every order subtotal.
var TaxRate = decimal.NewFromFloat(0.18)

// Tax returns the tax on a subtotal, rounded to 2 decimal places.
func Tax(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(TaxRate).Round(2)
}

// Total returns subtotal plus tax.
func Total(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Add(Tax(subtotal))
}
