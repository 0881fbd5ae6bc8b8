package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/ecomkit/promostack/internal/domain/cart"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Discount is the raw discount a single validated coupon would produce on a
// cart, before any stacking composition.
type Discount struct {
	// Amount is the monetary discount. Always in [0, eligible subtotal].
	Amount decimal.Decimal
	// Lines holds the indexes of the cart lines the discount was computed
	// against. Nil for an unscoped whole-cart coupon.
	Lines []int
	// Shipping marks the amount as a shipping waiver rather than an item
	// discount. Shipping waivers never reduce the cart subtotal.
	Shipping bool
}

// RawDiscount computes the raw discount of a validated coupon against the
// original cart subtotal.
func RawDiscount(c *Coupon, snap cart.Snapshot) (Discount, error) {
	return RawDiscountWithin(c, snap, snap.Subtotal)
}

// RawDiscountWithin is RawDiscount with an upper bound on the eligible base
// amount. Sequential stacking passes the running remaining amount here so a
// later Percentage or FixedAmount coupon computes against the discounted
// base; FreeShipping and BuyNGetN ignore the bound and always use the
// original cart.
func RawDiscountWithin(c *Coupon, snap cart.Snapshot, remaining decimal.Decimal) (Discount, error) {
	switch c.Kind {
	case KindFixedAmount:
		m := matchLines(c, snap)
		base := decimal.Min(m.subtotal, remaining)
		amount := decimal.Min(c.Value, base)
		return Discount{Amount: capAmount(c, amount).Round(2), Lines: m.indexes}, nil

	case KindPercentage:
		m := matchLines(c, snap)
		base := decimal.Min(m.subtotal, remaining)
		amount := base.Mul(c.Value).Div(hundred)
		return Discount{Amount: capAmount(c, amount).Round(2), Lines: m.indexes}, nil

	case KindFreeShipping:
		// Value is a subtotal threshold here, not a currency amount.
		if snap.Subtotal.LessThan(c.Value) {
			return Discount{}, reject(c, ReasonThresholdNotMet, "")
		}
		amount := capAmount(c, snap.ShippingFee)
		return Discount{Amount: floorAtZero(amount).Round(2), Shipping: true}, nil

	case KindBuyNGetN:
		return buyNGetNDiscount(c, snap)

	case KindBundle:
		return bundleDiscount(c, snap)

	default:
		return Discount{}, errors.Errorf("unsupported coupon kind: %q", c.Kind)
	}
}

// buyNGetNDiscount grants GetQuantity free units per BuyQuantity matching
// units, priced at the weighted average unit price of the matching lines.
// Free units never exceed the matching quantity, so the amount never
// exceeds the eligible subtotal.
func buyNGetNDiscount(c *Coupon, snap cart.Snapshot) (Discount, error) {
	m := matchLines(c, snap)
	if m.quantity < c.BuyQuantity {
		return Discount{}, reject(c, ReasonNoMatchingItems, "matching quantity below buy threshold")
	}

	freeUnits := m.quantity / c.BuyQuantity * c.GetQuantity
	if freeUnits > m.quantity {
		freeUnits = m.quantity
	}

	avgPrice := m.subtotal.Div(decimal.NewFromInt(int64(m.quantity)))
	amount := avgPrice.Mul(decimal.NewFromInt(int64(freeUnits)))
	return Discount{Amount: capAmount(c, amount).Round(2), Lines: m.indexes}, nil
}

// bundleDiscount applies the coupon value to the summed price of exactly the
// bundle's products, as a fixed amount or a percentage per BundleMode.
func bundleDiscount(c *Coupon, snap cart.Snapshot) (Discount, error) {
	wanted := make(map[string]bool, len(c.Products))
	for _, id := range c.Products {
		wanted[id] = true
	}

	seen := make(map[string]bool, len(wanted))
	bundleTotal := zero
	var lines []int
	for i, line := range snap.Lines {
		if !wanted[line.ProductID] {
			continue
		}
		seen[line.ProductID] = true
		bundleTotal = bundleTotal.Add(line.Total())
		lines = append(lines, i)
	}
	for _, id := range c.Products {
		if !seen[id] {
			return Discount{}, reject(c, ReasonNoMatchingItems, "bundle product missing: "+id)
		}
	}

	var amount decimal.Decimal
	if c.BundleMode == BundlePercent {
		amount = decimal.Min(bundleTotal.Mul(c.Value).Div(hundred), bundleTotal)
	} else {
		amount = decimal.Min(c.Value, bundleTotal)
	}
	return Discount{Amount: capAmount(c, amount).Round(2), Lines: lines}, nil
}

// capAmount applies the coupon's own MaxDiscount cap when present and clamps
// negatives to zero.
func capAmount(c *Coupon, amount decimal.Decimal) decimal.Decimal {
	if c.MaxDiscount.IsPositive() {
		amount = decimal.Min(amount, c.MaxDiscount)
	}
	return floorAtZero(amount)
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
