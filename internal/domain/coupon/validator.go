package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/ecomkit/promostack/internal/domain/cart"
)

// Validator checks a single coupon's eligibility in isolation against a cart
// and a requesting user. Checks run in a fixed order and short-circuit on
// the first failure, which becomes the rejection reason. The validator is
// read-only: it only reads usage counters, never writes them.
type Validator struct {
	usage UsageReader
	now   func() time.Time
}

// NewValidator creates a Validator backed by the given usage counter reader.
func NewValidator(usage UsageReader) *Validator {
	return &Validator{usage: usage, now: time.Now}
}

// WithClock returns a copy of the validator using the given time source.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	return &Validator{usage: v.usage, now: now}
}

// Validate runs the eligibility checks for one coupon. It returns nil when
// the coupon is eligible, a *RejectionError when it is not, and a plain
// error only for ledger read failures. Given identical inputs and identical
// ledger state, the result is identical.
func (v *Validator) Validate(ctx context.Context, c *Coupon, snap cart.Snapshot, userID string) error {
	if err := c.CheckDefinition(); err != nil {
		return err
	}

	if c.Status != StatusActive {
		return reject(c, ReasonInactive, string(c.Status))
	}

	// Expiry is derived, not stored: an Active coupon past its window is
	// rejected here rather than waiting for a stored status transition.
	now := v.now().UTC()
	if now.Before(c.ValidFrom) || !now.Before(c.ValidUntil) {
		return reject(c, ReasonOutsideWindow, "")
	}

	if c.MaxUses > 0 || c.MaxUsesPerUser > 0 {
		counts, err := v.usage.Counts(ctx, c.ID, userID)
		if err != nil {
			return errors.Wrap(err, "read usage counters")
		}
		if c.MaxUses > 0 && counts.Global >= c.MaxUses {
			return reject(c, ReasonUsageLimit, "")
		}
		if c.MaxUsesPerUser > 0 && counts.User >= c.MaxUsesPerUser {
			return reject(c, ReasonUserLimit, "")
		}
	}

	if snap.Subtotal.LessThan(c.MinCartAmount) {
		return reject(c, ReasonBelowMinimum, "")
	}

	return v.checkScope(c, snap)
}

// checkScope verifies that the cart contains at least one line the coupon
// applies to. Unscoped coupons match everything; BuyNGetN additionally
// requires enough matching quantity to earn at least the buy threshold.
func (v *Validator) checkScope(c *Coupon, snap cart.Snapshot) error {
	if c.Kind == KindBundle {
		if missing := missingBundleProducts(c, snap); missing != "" {
			return reject(c, ReasonNoMatchingItems, "bundle product missing: "+missing)
		}
		return nil
	}

	m := matchLines(c, snap)
	if !c.Unrestricted() && len(m.indexes) == 0 {
		return reject(c, ReasonNoMatchingItems, "")
	}
	if c.Kind == KindBuyNGetN && m.quantity < c.BuyQuantity {
		return reject(c, ReasonNoMatchingItems, "matching quantity below buy threshold")
	}
	return nil
}

// match holds the discount-eligible subset of a cart for one coupon.
type match struct {
	indexes  []int
	subtotal decimal.Decimal
	quantity int
}

// matchLines computes the set of cart lines a coupon's scope covers. A line
// matches when its product is listed, its category is listed, or the coupon
// carries no restriction at all.
func matchLines(c *Coupon, snap cart.Snapshot) match {
	products := make(map[string]bool, len(c.Products))
	for _, id := range c.Products {
		products[id] = true
	}
	categories := make(map[string]bool, len(c.Categories))
	for _, id := range c.Categories {
		categories[id] = true
	}

	all := len(products) == 0 && len(categories) == 0

	m := match{subtotal: zero}
	for i, line := range snap.Lines {
		if !all && !products[line.ProductID] && !categories[line.CategoryID] {
			continue
		}
		m.indexes = append(m.indexes, i)
		m.subtotal = m.subtotal.Add(line.Total())
		m.quantity += line.Quantity
	}
	return m
}

// missingBundleProducts returns the first bundle product absent from the
// cart, or "" when every bundle product is present with quantity >= 1.
func missingBundleProducts(c *Coupon, snap cart.Snapshot) string {
	present := make(map[string]int, len(snap.Lines))
	for _, line := range snap.Lines {
		present[line.ProductID] += line.Quantity
	}
	for _, id := range c.Products {
		if present[id] < 1 {
			return id
		}
	}
	return ""
}
