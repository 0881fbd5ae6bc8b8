package stacking

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ecomkit/promostack/internal/domain/cart"
	"github.com/ecomkit/promostack/internal/domain/coupon"
)

// Applied is one coupon's contribution to a resolution.
type Applied struct {
	CouponID string
	Code     string
	Discount decimal.Decimal
	// Capped marks a contribution reduced by the rule's total discount cap.
	Capped bool
	// Shipping marks the contribution as a shipping waiver.
	Shipping bool
}

// Rejected is one coupon excluded from a resolution, with the reason.
type Rejected struct {
	CouponID string
	Code     string
	Reason   coupon.Reason
}

// Result is the outcome of one stacking resolution. It is never persisted
// by the engine; callers render totals from it and later commit the applied
// coupon IDs through the usage ledger.
type Result struct {
	OriginalTotal decimal.Decimal
	TotalDiscount decimal.Decimal
	FinalTotal    decimal.Decimal
	Applied       []Applied
	Rejected      []Rejected
}

// AppliedIDs returns the coupon IDs of the applied list, in application order.
func (r *Result) AppliedIDs() []string {
	ids := make([]string, len(r.Applied))
	for i, a := range r.Applied {
		ids[i] = a.CouponID
	}
	return ids
}

// Resolve combines one validated primary coupon with zero or more validated
// secondary candidates under the given stacking rule. It is a pure function:
// no ledger reads or writes, identical inputs produce identical results.
func Resolve(rule Rule, primary *coupon.Coupon, secondaries []*coupon.Coupon, snap cart.Snapshot) Result {
	res := Result{
		OriginalTotal: snap.Subtotal.Add(snap.ShippingFee),
	}

	// A primary that cannot stack behaves as if no rule existed for it.
	if !primary.CanStack {
		rule = DefaultRule(primary.Kind)
	}

	// Compatibility filter: the rule must allow the secondary's kind, and
	// the secondary's own stacking metadata must accept the primary.
	candidates := []*coupon.Coupon{primary}
	for _, s := range secondaries {
		if !rule.allows(s.Kind) || !s.CanStack || !acceptsPrimary(s, primary.Kind) {
			res.Rejected = append(res.Rejected, Rejected{CouponID: s.ID, Code: s.Code, Reason: coupon.ReasonIncompatibleKind})
			continue
		}
		candidates = append(candidates, s)
	}

	// The combination minimum rejects the whole surviving set, primary
	// included.
	if snap.Subtotal.LessThan(rule.MinCartAmount) {
		for _, c := range candidates {
			res.Rejected = append(res.Rejected, Rejected{CouponID: c.ID, Code: c.Code, Reason: coupon.ReasonCombinationMinimum})
		}
		res.FinalTotal = res.OriginalTotal
		res.TotalDiscount = decimal.Zero
		return res
	}

	// Deterministic ordering: ascending effective priority, ties broken by
	// ascending coupon ID.
	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := rule.priorityOf(candidates[i]), rule.priorityOf(candidates[j])
		if pi != pj {
			return pi < pj
		}
		return candidates[i].ID < candidates[j].ID
	})

	maxCombos := rule.MaxCombinations
	if primary.MaxStackCount > 0 && primary.MaxStackCount < maxCombos {
		maxCombos = primary.MaxStackCount
	}
	if len(candidates) > maxCombos {
		for _, c := range candidates[maxCombos:] {
			res.Rejected = append(res.Rejected, Rejected{CouponID: c.ID, Code: c.Code, Reason: coupon.ReasonCombinationLimit})
		}
		candidates = candidates[:maxCombos]
	}

	if rule.Logic == LogicExclusive && len(candidates) > 1 {
		for _, c := range candidates[1:] {
			res.Rejected = append(res.Rejected, Rejected{CouponID: c.ID, Code: c.Code, Reason: coupon.ReasonExclusiveRule})
		}
		candidates = candidates[:1]
	}

	res.Applied = applyCandidates(rule, candidates, snap, &res)
	trimToCap(rule, snap, &res)
	finishTotals(snap, &res)
	return res
}

// acceptsPrimary reports whether a secondary coupon's compatibility list
// allows the primary kind. An empty list accepts any kind.
func acceptsPrimary(s *coupon.Coupon, primaryKind coupon.Kind) bool {
	if len(s.CompatibleKinds) == 0 {
		return true
	}
	for _, k := range s.CompatibleKinds {
		if k == primaryKind {
			return true
		}
	}
	return false
}

// applyCandidates computes each kept coupon's discount under the rule's
// composition logic. Candidates whose matcher rejects them (free-shipping
// threshold, vanished bundle) move to the rejected list.
func applyCandidates(rule Rule, candidates []*coupon.Coupon, snap cart.Snapshot, res *Result) []Applied {
	applied := make([]Applied, 0, len(candidates))

	// Sequential logic maintains a running remaining amount; Parallel and
	// Exclusive always compute against the original subtotal.
	remaining := snap.Subtotal

	for _, c := range candidates {
		var (
			d   coupon.Discount
			err error
		)
		if rule.Logic == LogicSequential {
			d, err = coupon.RawDiscountWithin(c, snap, remaining)
		} else {
			d, err = coupon.RawDiscount(c, snap)
		}
		if err != nil {
			reason, ok := coupon.ReasonOf(err)
			if !ok {
				reason = coupon.ReasonMalformedRule
			}
			res.Rejected = append(res.Rejected, Rejected{CouponID: c.ID, Code: c.Code, Reason: reason})
			continue
		}

		if rule.Logic == LogicSequential && !d.Shipping {
			remaining = remaining.Sub(d.Amount)
			if remaining.IsNegative() {
				remaining = decimal.Zero
			}
		}

		applied = append(applied, Applied{
			CouponID: c.ID,
			Code:     c.Code,
			Discount: d.Amount,
			Shipping: d.Shipping,
		})
	}
	return applied
}

// trimToCap enforces the combined item-discount ceiling: the rule's
// MaxTotalDiscount when present, and the cart subtotal always. Excess is
// removed from the lowest-ranked coupons first; a partially reduced coupon
// is flagged Capped, a zeroed one moves to the rejected list.
func trimToCap(rule Rule, snap cart.Snapshot, res *Result) {
	limit := snap.Subtotal
	if rule.MaxTotalDiscount.IsPositive() && rule.MaxTotalDiscount.LessThan(limit) {
		limit = rule.MaxTotalDiscount
	}

	itemSum := decimal.Zero
	for _, a := range res.Applied {
		if !a.Shipping {
			itemSum = itemSum.Add(a.Discount)
		}
	}
	excess := itemSum.Sub(limit)
	if !excess.IsPositive() {
		return
	}

	kept := res.Applied[:0]
	dropped := make([]Rejected, 0, 1)
	for i := len(res.Applied) - 1; i >= 0; i-- {
		a := res.Applied[i]
		if a.Shipping || !excess.IsPositive() {
			continue
		}
		cut := decimal.Min(a.Discount, excess)
		a.Discount = a.Discount.Sub(cut)
		excess = excess.Sub(cut)
		if a.Discount.IsZero() {
			dropped = append(dropped, Rejected{CouponID: a.CouponID, Code: a.Code, Reason: coupon.ReasonCappedOut})
			a.CouponID = "" // mark for removal
		} else if cut.IsPositive() {
			a.Capped = true
		}
		res.Applied[i] = a
	}
	for _, a := range res.Applied {
		if a.CouponID != "" {
			kept = append(kept, a)
		}
	}
	res.Applied = kept
	res.Rejected = append(res.Rejected, dropped...)
}

// finishTotals computes the discount sum and the clamped final total:
// max(0, subtotal - item discounts) plus the shipping fee net of waivers.
func finishTotals(snap cart.Snapshot, res *Result) {
	itemSum := decimal.Zero
	shipSum := decimal.Zero
	for _, a := range res.Applied {
		if a.Shipping {
			shipSum = shipSum.Add(a.Discount)
		} else {
			itemSum = itemSum.Add(a.Discount)
		}
	}
	shipSum = decimal.Min(shipSum, snap.ShippingFee)

	goods := snap.Subtotal.Sub(itemSum)
	if goods.IsNegative() {
		goods = decimal.Zero
	}

	res.TotalDiscount = itemSum.Add(shipSum).Round(2)
	res.FinalTotal = goods.Add(snap.ShippingFee.Sub(shipSum)).Round(2)
}
