package coupon

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Reason is a structured rejection code. Rejections are recoverable: a
// rejected coupon is excluded from the resolution while the rest of the
// evaluation proceeds.
type Reason string

const (
	// ReasonMalformedRule marks a coupon or stacking rule that violates a
	// data-model invariant. A configuration error, not a user error.
	ReasonMalformedRule Reason = "malformed_rule"
	// ReasonNotFound marks a code with no matching catalog entry.
	ReasonNotFound Reason = "not_found"
	// ReasonInactive marks a coupon whose status is not Active.
	ReasonInactive Reason = "inactive"
	// ReasonOutsideWindow marks a coupon evaluated outside [ValidFrom, ValidUntil).
	ReasonOutsideWindow Reason = "outside_validity_window"
	// ReasonUsageLimit marks a coupon whose global redemption cap is exhausted.
	ReasonUsageLimit Reason = "usage_limit_reached"
	// ReasonUserLimit marks a coupon whose per-user cap is exhausted.
	ReasonUserLimit Reason = "user_limit_reached"
	// ReasonBelowMinimum marks a cart subtotal below the coupon's minimum.
	ReasonBelowMinimum Reason = "below_minimum_amount"
	// ReasonNoMatchingItems marks a scoped coupon with no eligible cart lines.
	ReasonNoMatchingItems Reason = "no_matching_items"
	// ReasonThresholdNotMet marks a free-shipping coupon whose subtotal
	// threshold is not reached.
	ReasonThresholdNotMet Reason = "threshold_not_met"
	// ReasonIncompatibleKind marks a secondary coupon the stacking rule
	// does not allow alongside the primary.
	ReasonIncompatibleKind Reason = "incompatible_kind"
	// ReasonExclusiveRule marks coupons displaced by an exclusive rule,
	// under which only one coupon may apply.
	ReasonExclusiveRule Reason = "exclusive_rule"
	// ReasonCombinationMinimum marks a whole combination rejected because
	// the cart is below the stacking rule's minimum.
	ReasonCombinationMinimum Reason = "combination_minimum_not_met"
	// ReasonCombinationLimit marks coupons truncated past the stacking
	// rule's maximum combination size.
	ReasonCombinationLimit Reason = "combination_limit_exceeded"
	// ReasonCappedOut marks coupons whose contribution fell to zero under
	// the stacking rule's total discount cap.
	ReasonCappedOut Reason = "capped_out"
	// ReasonPrimaryRejected marks secondaries that had no valid primary
	// coupon to combine with.
	ReasonPrimaryRejected Reason = "primary_rejected"
)

// RejectionError carries a structured rejection for a single coupon.
type RejectionError struct {
	Code   string
	Reason Reason
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("coupon %s rejected: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("coupon %s rejected: %s (%s)", e.Code, e.Reason, e.Detail)
}

// ReasonOf extracts the rejection reason from an error. The second return
// value is false when err is not a rejection.
func ReasonOf(err error) (Reason, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}

func reject(c *Coupon, reason Reason, detail string) error {
	return &RejectionError{Code: c.Code, Reason: reason, Detail: detail}
}
