// Package ledger tracks per-coupon redemption counters and performs the
// atomic commit step that consumes usage when an order is finalized. It is
// the only component permitted to mutate usage state; the preview path only
// reads snapshots of its counters.
package ledger

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/ecomkit/promostack/internal/domain/coupon"
)

// ErrConflict is returned when commit-time re-validation fails: a cap was
// consumed by a concurrent commit between preview and commit. The caller
// must re-preview and retry; no counters were mutated.
var ErrConflict = errors.New("usage ledger conflict")

// ConflictError names the coupon whose cap re-validation failed. It matches
// ErrConflict under errors.Is.
type ConflictError struct {
	CouponID string
	PerUser  bool
}

func (e *ConflictError) Error() string {
	scope := "global"
	if e.PerUser {
		scope = "per-user"
	}
	return fmt.Sprintf("coupon %s: %s usage cap exhausted", e.CouponID, scope)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// Reservation is one coupon's slot claim inside a commit batch. Caps are
// carried from the coupon definition; zero means unlimited.
type Reservation struct {
	CouponID   string
	GlobalCap  int
	PerUserCap int
}

// Ledger combines snapshot counter reads with the atomic batch commit.
//
// Commit re-validates every reservation's caps against current state, then
// increments the global and per-user counters for all of them as a single
// all-or-nothing operation. On any failure the whole batch fails and no
// counter changes.
type Ledger interface {
	coupon.UsageReader
	Commit(ctx context.Context, userID string, reservations []Reservation) error
}
