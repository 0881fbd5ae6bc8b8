// Package cart defines the immutable cart snapshot the discount engine
// evaluates. Snapshots are built by the caller; the engine never mutates them.
package cart

import "github.com/shopspring/decimal"

// Line is a single cart line item.
type Line struct {
	ProductID  string
	CategoryID string
	UnitPrice  decimal.Decimal
	Quantity   int
}

// Total returns the line total: unit price times quantity.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Snapshot is a point-in-time view of a cart: ordered line items, the
// precomputed subtotal, and the shipping fee. It stays fixed for the
// duration of one evaluation.
type Snapshot struct {
	Lines       []Line
	Subtotal    decimal.Decimal
	ShippingFee decimal.Decimal
}

// New builds a Snapshot from lines and a shipping fee, computing the subtotal.
func New(lines []Line, shippingFee decimal.Decimal) Snapshot {
	return Snapshot{
		Lines:       lines,
		Subtotal:    SumLines(lines),
		ShippingFee: shippingFee,
	}
}

// SumLines returns the sum of line totals across all items.
func SumLines(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Total())
	}
	return sum
}
