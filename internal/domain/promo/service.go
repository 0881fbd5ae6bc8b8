// Package promo is the engine facade: the side-effect-free preview path
// (validate, match, resolve) and the one-time commit path that consumes
// usage through the ledger.
package promo

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/ecomkit/promostack/internal/domain/cart"
	"github.com/ecomkit/promostack/internal/domain/coupon"
	"github.com/ecomkit/promostack/internal/domain/ledger"
	"github.com/ecomkit/promostack/internal/domain/stacking"
)

// Catalog provides read-only coupon definition lookup. Lookups by code are
// case-insensitive; implementations normalize as they see fit.
type Catalog interface {
	FindByCode(ctx context.Context, code string) (*coupon.Coupon, error)
	FindByID(ctx context.Context, id string) (*coupon.Coupon, error)
}

// Service wires the validator, matcher, resolver, and ledger into the two
// call patterns the surrounding application consumes.
type Service struct {
	catalog   Catalog
	rules     stacking.Source
	ledger    ledger.Ledger
	validator *coupon.Validator
}

// NewService creates the engine facade with the required collaborators.
func NewService(catalog Catalog, rules stacking.Source, l ledger.Ledger) *Service {
	return &Service{
		catalog:   catalog,
		rules:     rules,
		ledger:    l,
		validator: coupon.NewValidator(l),
	}
}

// WithClock replaces the validator's time source. Used by tests to pin the
// evaluation instant.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.validator = s.validator.WithClock(now)
	return s
}

// PreviewRequest is the input to one resolution attempt.
type PreviewRequest struct {
	PrimaryCode    string
	SecondaryCodes []string
	Cart           cart.Snapshot
	UserID         string
}

// Preview resolves which coupons apply to the cart and what the resulting
// totals are. It is a pure function of its inputs plus the current ledger
// snapshot: safe to call on every cart change, no side effects. Ineligible
// candidates land in the result's rejected list; only an unknown primary
// code or an infrastructure failure is an error.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (*stacking.Result, error) {
	primaryCode := normalizeCode(req.PrimaryCode)
	if primaryCode == "" {
		return nil, errors.New("primary coupon code required")
	}

	primary, err := s.catalog.FindByCode(ctx, primaryCode)
	if err != nil {
		return nil, errors.Wrapf(err, "lookup primary coupon %q", primaryCode)
	}

	if err := s.validator.Validate(ctx, primary, req.Cart, req.UserID); err != nil {
		return s.previewWithoutPrimary(ctx, primary, req, err)
	}

	rule, err := s.ruleFor(ctx, primary.Kind)
	if err != nil {
		return nil, err
	}

	secondaries, rejected, err := s.validateSecondaries(ctx, req)
	if err != nil {
		return nil, err
	}

	res := stacking.Resolve(rule, primary, secondaries, req.Cart)
	res.Rejected = append(rejected, res.Rejected...)
	return &res, nil
}

// previewWithoutPrimary builds the best-effort result when the primary
// coupon itself is rejected: nothing applies, the primary carries its own
// reason, and each secondary is reported as lacking a primary.
func (s *Service) previewWithoutPrimary(ctx context.Context, primary *coupon.Coupon, req PreviewRequest, vErr error) (*stacking.Result, error) {
	reason, ok := coupon.ReasonOf(vErr)
	if !ok {
		return nil, vErr
	}

	res := &stacking.Result{
		OriginalTotal: req.Cart.Subtotal.Add(req.Cart.ShippingFee),
		FinalTotal:    req.Cart.Subtotal.Add(req.Cart.ShippingFee),
		Rejected: []stacking.Rejected{
			{CouponID: primary.ID, Code: primary.Code, Reason: reason},
		},
	}
	for _, code := range req.SecondaryCodes {
		code = normalizeCode(code)
		rej := stacking.Rejected{Code: code, Reason: coupon.ReasonPrimaryRejected}
		if c, err := s.catalog.FindByCode(ctx, code); err == nil {
			rej.CouponID = c.ID
			rej.Code = c.Code
		} else if !errors.Is(err, coupon.ErrNotFound) {
			return nil, errors.Wrapf(err, "lookup secondary coupon %q", code)
		}
		res.Rejected = append(res.Rejected, rej)
	}
	return res, nil
}

// validateSecondaries looks up and validates each secondary candidate.
// Unknown codes and validation failures are collected as rejections, not
// errors; only infrastructure failures abort the preview.
func (s *Service) validateSecondaries(ctx context.Context, req PreviewRequest) ([]*coupon.Coupon, []stacking.Rejected, error) {
	var (
		valid    []*coupon.Coupon
		rejected []stacking.Rejected
	)
	for _, code := range req.SecondaryCodes {
		code = normalizeCode(code)
		if code == "" {
			continue
		}

		c, err := s.catalog.FindByCode(ctx, code)
		if err != nil {
			if errors.Is(err, coupon.ErrNotFound) {
				rejected = append(rejected, stacking.Rejected{Code: code, Reason: coupon.ReasonNotFound})
				continue
			}
			return nil, nil, errors.Wrapf(err, "lookup secondary coupon %q", code)
		}

		if err := s.validator.Validate(ctx, c, req.Cart, req.UserID); err != nil {
			reason, ok := coupon.ReasonOf(err)
			if !ok {
				return nil, nil, err
			}
			rejected = append(rejected, stacking.Rejected{CouponID: c.ID, Code: c.Code, Reason: reason})
			continue
		}
		valid = append(valid, c)
	}
	return valid, rejected, nil
}

// ruleFor loads the stacking rule for a primary kind, synthesizing the
// exclusive default when none is configured.
func (s *Service) ruleFor(ctx context.Context, kind coupon.Kind) (stacking.Rule, error) {
	rule, err := s.rules.RuleForKind(ctx, kind)
	if err != nil {
		if errors.Is(err, stacking.ErrNoRule) {
			return stacking.DefaultRule(kind), nil
		}
		return stacking.Rule{}, errors.Wrapf(err, "lookup stacking rule for %s", kind)
	}
	if err := rule.CheckDefinition(); err != nil {
		return stacking.Rule{}, err
	}
	return *rule, nil
}

// Commit consumes one use of every applied coupon for the user. Invoked
// exactly once per finalized order, after payment confirmation, never
// during preview. The batch is all-or-nothing: a single exhausted cap
// fails the whole commit with ledger.ErrConflict and mutates nothing.
func (s *Service) Commit(ctx context.Context, couponIDs []string, userID string) error {
	if len(couponIDs) == 0 {
		return errors.New("no coupons to commit")
	}

	reservations := make([]ledger.Reservation, 0, len(couponIDs))
	for _, id := range couponIDs {
		c, err := s.catalog.FindByID(ctx, id)
		if err != nil {
			return errors.Wrapf(err, "lookup coupon %s", id)
		}
		reservations = append(reservations, ledger.Reservation{
			CouponID:   c.ID,
			GlobalCap:  c.MaxUses,
			PerUserCap: c.MaxUsesPerUser,
		})
	}

	if err := s.ledger.Commit(ctx, userID, reservations); err != nil {
		return errors.Wrap(err, "commit coupon usage")
	}
	return nil
}

// normalizeCode upper-cases and trims a human-entered coupon code.
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
