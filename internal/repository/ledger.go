package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ecomkit/promostack/internal/domain/coupon"
	"github.com/ecomkit/promostack/internal/domain/ledger"
)

const (
	getGlobalCountSQL = `SELECT global_count FROM coupon_usage WHERE coupon_id = $1`
	getUserCountSQL   = `SELECT used_count FROM coupon_user_usage WHERE coupon_id = $1 AND user_id = $2`

	ensureUsageRowSQL = `INSERT INTO coupon_usage (coupon_id, global_count)
		VALUES ($1, 0) ON CONFLICT (coupon_id) DO NOTHING`
	lockUsageRowSQL = `SELECT global_count FROM coupon_usage
		WHERE coupon_id = $1 FOR UPDATE`
	bumpGlobalSQL = `UPDATE coupon_usage SET global_count = global_count + 1
		WHERE coupon_id = $1`

	bumpUserSQL = `INSERT INTO coupon_user_usage (coupon_id, user_id, used_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (coupon_id, user_id) DO UPDATE
		SET used_count = coupon_user_usage.used_count + 1`
)

var _ ledger.Ledger = (*LedgerRepository)(nil)

// LedgerRepository implements ledger.Ledger backed by PostgreSQL. Commit
// serializes per-coupon increments with row locks inside one transaction,
// which gives both the per-coupon cap guarantee and batch atomicity.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository returns a LedgerRepository that uses the given pool.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// Counts returns a snapshot read of one coupon's counters. Missing rows
// read as zero: a coupon that was never redeemed has no usage row yet.
func (r *LedgerRepository) Counts(ctx context.Context, couponID, userID string) (coupon.Counts, error) {
	var counts coupon.Counts

	err := r.pool.QueryRow(ctx, getGlobalCountSQL, couponID).Scan(&counts.Global)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return coupon.Counts{}, fmt.Errorf("reading global count for %s: %w", couponID, err)
	}

	err = r.pool.QueryRow(ctx, getUserCountSQL, couponID, userID).Scan(&counts.User)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return coupon.Counts{}, fmt.Errorf("reading user count for %s: %w", couponID, err)
	}

	return counts, nil
}

// Commit consumes one use of every reserved coupon for the user in a single
// transaction. Usage rows are locked in sorted coupon-ID order to avoid
// deadlocks between concurrent batches; caps are re-checked under the lock
// so a cap of C never admits more than C successful commits. Any exhausted
// cap rolls back the whole batch with a ledger.ConflictError.
func (r *LedgerRepository) Commit(ctx context.Context, userID string, reservations []ledger.Reservation) error {
	if len(reservations) == 0 {
		return nil
	}

	sorted := make([]ledger.Reservation, len(reservations))
	copy(sorted, reservations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CouponID < sorted[j].CouponID })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].CouponID == sorted[i-1].CouponID {
			return errors.Errorf("duplicate coupon %s in commit batch", sorted[i].CouponID)
		}
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning commit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, res := range sorted {
		if _, err := tx.Exec(ctx, ensureUsageRowSQL, res.CouponID); err != nil {
			return fmt.Errorf("ensuring usage row for %s: %w", res.CouponID, err)
		}

		var global int
		if err := tx.QueryRow(ctx, lockUsageRowSQL, res.CouponID).Scan(&global); err != nil {
			return fmt.Errorf("locking usage row for %s: %w", res.CouponID, err)
		}
		if res.GlobalCap > 0 && global >= res.GlobalCap {
			return &ledger.ConflictError{CouponID: res.CouponID}
		}

		if res.PerUserCap > 0 {
			var used int
			err := tx.QueryRow(ctx, getUserCountSQL, res.CouponID, userID).Scan(&used)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("reading user count for %s: %w", res.CouponID, err)
			}
			if used >= res.PerUserCap {
				return &ledger.ConflictError{CouponID: res.CouponID, PerUser: true}
			}
		}

		if _, err := tx.Exec(ctx, bumpGlobalSQL, res.CouponID); err != nil {
			return fmt.Errorf("incrementing global count for %s: %w", res.CouponID, err)
		}
		if _, err := tx.Exec(ctx, bumpUserSQL, res.CouponID, userID); err != nil {
			return fmt.Errorf("incrementing user count for %s: %w", res.CouponID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing usage batch: %w", err)
	}
	return nil
}
