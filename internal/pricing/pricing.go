// Package pricing computes order money amounts in a currency without minor
// units. Unit prices and modifier adjustments are rounded individually before
// they are multiplied by quantity, so totals never accumulate fractions.
package pricing

import (
	"github.com/shopspring/decimal"
)

// DefaultTaxRate is applied when no rate is configured.
var DefaultTaxRate = decimal.NewFromFloat(0.10)

var half = decimal.NewFromFloat(0.5)

// Line is one order item as priced at order time.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int32
	Modifiers []decimal.Decimal
}

// Totals are whole currency units. Total is always Subtotal + Tax.
type Totals struct {
	Subtotal int64 `json:"subtotal"`
	Tax      int64 `json:"tax"`
	Total    int64 `json:"total"`
}

// Calculator applies a fixed tax rate.
type Calculator struct {
	TaxRate decimal.Decimal
}

// NewCalculator returns a Calculator using rate, or DefaultTaxRate when rate is zero.
func NewCalculator(rate decimal.Decimal) Calculator {
	if rate.IsZero() {
		rate = DefaultTaxRate
	}
	return Calculator{TaxRate: rate}
}

// Round rounds half up toward positive infinity: 12000.5 becomes 12001 and
// -12000.5 becomes -12000.
func Round(d decimal.Decimal) int64 {
	return d.Add(half).Floor().IntPart()
}

// LineSubtotal is round(price)*qty plus round(adjustment)*qty for each modifier.
func LineSubtotal(l Line) int64 {
	qty := int64(l.Quantity)
	sub := Round(l.UnitPrice) * qty
	for _, m := range l.Modifiers {
		sub += Round(m) * qty
	}
	return sub
}

// Subtotal sums the line subtotals.
func Subtotal(lines []Line) int64 {
	var sub int64
	for _, l := range lines {
		sub += LineSubtotal(l)
	}
	return sub
}

// Totals derives tax and total from an already computed subtotal.
func (c Calculator) Totals(subtotal int64) Totals {
	tax := Round(decimal.NewFromInt(subtotal).Mul(c.TaxRate))
	return Totals{Subtotal: subtotal, Tax: tax, Total: subtotal + tax}
}

// Compute prices a new order.
func (c Calculator) Compute(lines []Line) Totals {
	return c.Totals(Subtotal(lines))
}

// AddTo prices lines appended to an order whose persisted subtotal is
// existing. The persisted subtotal is taken as is and never re-rounded.
func (c Calculator) AddTo(existing int64, lines []Line) Totals {
	return c.Totals(existing + Subtotal(lines))
}
