// Package stacking governs how coupons combine: which kinds may stack with a
// primary coupon, in what order discounts apply, and how combined totals are
// capped.
package stacking

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/ecomkit/promostack/internal/domain/coupon"
)

// Logic enumerates the composition semantics of a combination.
type Logic string

const (
	// LogicSequential applies coupons in priority order against a shrinking
	// remaining amount.
	LogicSequential Logic = "sequential"
	// LogicParallel computes each coupon independently against the original
	// cart and sums the results.
	LogicParallel Logic = "parallel"
	// LogicExclusive keeps only the single highest-ranked coupon.
	LogicExclusive Logic = "exclusive"
)

// ErrNoRule is returned by rule sources when no stacking rule exists for a
// primary kind. The resolver then falls back to DefaultRule.
var ErrNoRule = errors.New("no stacking rule for kind")

// Rule governs how a primary coupon kind may combine with others.
type Rule struct {
	PrimaryKind     coupon.Kind
	CompatibleKinds []coupon.Kind

	// Priorities overrides coupon priorities per kind inside a combination.
	// Kinds without an entry keep the coupon's own priority.
	Priorities map[coupon.Kind]int

	// MaxCombinations bounds how many coupons, primary included, may apply
	// together. Always >= 1.
	MaxCombinations int

	Logic Logic

	// MinCartAmount gates the whole combination; below it every candidate
	// is rejected.
	MinCartAmount decimal.Decimal

	// MaxTotalDiscount caps the summed item discount of the combination.
	// Non-positive means no cap.
	MaxTotalDiscount decimal.Decimal
}

// DefaultRule is the synthesized rule used when no stacking rule exists for
// a primary kind: the coupon may not combine with anything.
func DefaultRule(kind coupon.Kind) Rule {
	return Rule{
		PrimaryKind:     kind,
		MaxCombinations: 1,
		Logic:           LogicExclusive,
	}
}

// CheckDefinition verifies the rule's data-model invariants.
func (r *Rule) CheckDefinition() error {
	if r.MaxCombinations < 1 {
		return errors.Errorf("stacking rule for %s: max combinations must be at least 1", r.PrimaryKind)
	}
	switch r.Logic {
	case LogicSequential, LogicParallel, LogicExclusive:
	default:
		return errors.Errorf("stacking rule for %s: unknown logic %q", r.PrimaryKind, r.Logic)
	}
	if r.MaxTotalDiscount.IsNegative() {
		return errors.Errorf("stacking rule for %s: negative total discount cap", r.PrimaryKind)
	}
	return nil
}

// allows reports whether the rule permits the given secondary kind.
func (r *Rule) allows(kind coupon.Kind) bool {
	for _, k := range r.CompatibleKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// priorityOf returns the effective priority of a coupon inside this
// combination: the rule's per-kind override when present, the coupon's own
// priority otherwise.
func (r *Rule) priorityOf(c *coupon.Coupon) int {
	if p, ok := r.Priorities[c.Kind]; ok {
		return p
	}
	return c.Priority
}

// Source provides stacking rule lookup by primary coupon kind. It returns
// ErrNoRule when no rule is configured for the kind.
type Source interface {
	RuleForKind(ctx context.Context, kind coupon.Kind) (*Rule, error)
}
