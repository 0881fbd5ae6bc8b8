// Package coupon defines the coupon model, single-coupon eligibility
// validation, and per-kind raw discount computation.
package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported coupon discount strategies.
type Kind string

const (
	// KindFixedAmount subtracts a fixed monetary amount, capped at the
	// eligible subtotal.
	KindFixedAmount Kind = "fixed_amount"
	// KindPercentage subtracts a percentage of the eligible subtotal.
	KindPercentage Kind = "percentage"
	// KindFreeShipping waives the shipping fee once the cart subtotal
	// reaches the coupon's threshold (stored in Value).
	KindFreeShipping Kind = "free_shipping"
	// KindBuyNGetN grants free units for every BuyQuantity units of
	// matching products.
	KindBuyNGetN Kind = "buy_n_get_n"
	// KindBundle discounts a fixed named set of products when all of them
	// are present in the cart.
	KindBundle Kind = "bundle"
)

// Status enumerates coupon lifecycle states. Only Active coupons are
// eligible for evaluation.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusExpired  Status = "expired"
	StatusArchived Status = "archived"
)

// BundleMode selects how a Bundle coupon's Value is interpreted.
type BundleMode string

const (
	// BundleFixed subtracts Value from the bundle items' subtotal.
	BundleFixed BundleMode = "fixed"
	// BundlePercent subtracts Value percent of the bundle items' subtotal.
	BundlePercent BundleMode = "percent"
)

// ErrNotFound is returned by catalog lookups when no coupon matches.
var ErrNotFound = errors.New("coupon not found")

// Coupon is a single promotional rule. Definitions are supplied by the
// catalog and are immutable during an evaluation; only the usage ledger's
// counters change over a coupon's lifetime.
type Coupon struct {
	ID   string
	Code string

	Kind  Kind
	Value decimal.Decimal

	// Validity window [ValidFrom, ValidUntil), compared as UTC instants.
	ValidFrom  time.Time
	ValidUntil time.Time
	Status     Status

	// MaxUses and MaxUsesPerUser cap redemptions; zero means unlimited.
	MaxUses        int
	MaxUsesPerUser int

	// Applicability scope. Empty Products and Categories means the coupon
	// applies to the whole cart. A non-positive MaxDiscount means no cap.
	MinCartAmount decimal.Decimal
	MaxDiscount   decimal.Decimal
	Products      []string
	Categories    []string

	// BuyNGetN parameters.
	BuyQuantity int
	GetQuantity int

	// Bundle parameters. An unset BundleMode means BundleFixed.
	BundleMode BundleMode

	// Stacking metadata.
	CanStack        bool
	CompatibleKinds []Kind
	Priority        int
	MaxStackCount   int
}

// CheckDefinition verifies the data-model invariants of the coupon
// definition. A violation is a catalog configuration error, reported as
// ReasonMalformedRule and never silently clamped.
func (c *Coupon) CheckDefinition() error {
	switch c.Kind {
	case KindFixedAmount, KindPercentage, KindBuyNGetN:
		if !c.Value.IsPositive() {
			return reject(c, ReasonMalformedRule, "value must be positive")
		}
	case KindFreeShipping, KindBundle:
	default:
		return reject(c, ReasonMalformedRule, fmt.Sprintf("unknown kind %q", c.Kind))
	}

	if c.Kind == KindPercentage && c.Value.GreaterThan(hundred) {
		return reject(c, ReasonMalformedRule, "percentage value exceeds 100")
	}
	if c.Kind == KindBuyNGetN && (c.BuyQuantity < 1 || c.GetQuantity < 1) {
		return reject(c, ReasonMalformedRule, "buy and get quantities must be at least 1")
	}
	if c.Kind == KindBundle && len(c.Products) == 0 {
		return reject(c, ReasonMalformedRule, "bundle requires at least one product")
	}
	if !c.ValidUntil.After(c.ValidFrom) {
		return reject(c, ReasonMalformedRule, "validity window end must be after start")
	}
	return nil
}

// Unrestricted reports whether the coupon applies to every cart line.
func (c *Coupon) Unrestricted() bool {
	return len(c.Products) == 0 && len(c.Categories) == 0
}

// Counts is a snapshot of a coupon's redemption counters for one user.
type Counts struct {
	Global int
	User   int
}

// UsageReader provides read-only access to usage ledger counters. Preview
// reads through this interface and never writes.
type UsageReader interface {
	Counts(ctx context.Context, couponID, userID string) (Counts, error)
}
