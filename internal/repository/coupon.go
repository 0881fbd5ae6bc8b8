package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ecomkit/promostack/internal/domain/coupon"
	"github.com/ecomkit/promostack/internal/domain/promo"
)

const (
	couponColumns = `id, code, kind, value, valid_from, valid_until, status,
		max_uses, max_uses_per_user, min_cart_amount, max_discount,
		products, categories, buy_quantity, get_quantity, bundle_mode,
		can_stack, compatible_kinds, priority, max_stack_count`

	getCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	getCouponByIDSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE id = $1`

	upsertCouponSQL = `INSERT INTO coupons (
			id, code, kind, value, valid_from, valid_until, status,
			max_uses, max_uses_per_user, min_cart_amount, max_discount,
			products, categories, buy_quantity, get_quantity, bundle_mode,
			can_stack, compatible_kinds, priority, max_stack_count
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		ON CONFLICT (code) DO UPDATE SET
			kind = EXCLUDED.kind,
			value = EXCLUDED.value,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			status = EXCLUDED.status,
			max_uses = EXCLUDED.max_uses,
			max_uses_per_user = EXCLUDED.max_uses_per_user,
			min_cart_amount = EXCLUDED.min_cart_amount,
			max_discount = EXCLUDED.max_discount,
			products = EXCLUDED.products,
			categories = EXCLUDED.categories,
			buy_quantity = EXCLUDED.buy_quantity,
			get_quantity = EXCLUDED.get_quantity,
			bundle_mode = EXCLUDED.bundle_mode,
			can_stack = EXCLUDED.can_stack,
			compatible_kinds = EXCLUDED.compatible_kinds,
			priority = EXCLUDED.priority,
			max_stack_count = EXCLUDED.max_stack_count,
			updated_at = now()`
)

var _ promo.Catalog = (*CouponRepository)(nil)

// CouponRepository implements promo.Catalog backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive).
// Returns coupon.ErrNotFound when no matching coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.findOne(ctx, getCouponByCodeSQL, code)
}

// FindByID looks up a coupon by its identifier.
// Returns coupon.ErrNotFound when no matching coupon exists.
func (r *CouponRepository) FindByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.findOne(ctx, getCouponByIDSQL, id)
}

func (r *CouponRepository) findOne(ctx context.Context, sql, arg string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("querying coupon %q: %w", arg, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("querying coupon %q: %w", arg, err)
	}
	return c, nil
}

// Upsert inserts or refreshes a coupon definition. Used by the ingest and
// seed tools, never by the engine itself.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		c.ID, c.Code, string(c.Kind), c.Value, c.ValidFrom, c.ValidUntil, string(c.Status),
		c.MaxUses, c.MaxUsesPerUser, c.MinCartAmount, c.MaxDiscount,
		c.Products, c.Categories, c.BuyQuantity, c.GetQuantity, string(c.BundleMode),
		c.CanStack, kindsToStrings(c.CompatibleKinds), c.Priority, c.MaxStackCount,
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (*coupon.Coupon, error) {
	var (
		c               coupon.Coupon
		kind            string
		status          string
		bundleMode      string
		compatibleKinds []string
		validFrom       time.Time
		validUntil      time.Time
		maxDiscount     decimal.Decimal
	)
	err := row.Scan(
		&c.ID, &c.Code, &kind, &c.Value, &validFrom, &validUntil, &status,
		&c.MaxUses, &c.MaxUsesPerUser, &c.MinCartAmount, &maxDiscount,
		&c.Products, &c.Categories, &c.BuyQuantity, &c.GetQuantity, &bundleMode,
		&c.CanStack, &compatibleKinds, &c.Priority, &c.MaxStackCount,
	)
	if err != nil {
		return nil, err
	}

	c.Kind = coupon.Kind(kind)
	c.Status = coupon.Status(status)
	c.BundleMode = coupon.BundleMode(bundleMode)
	c.ValidFrom = validFrom.UTC()
	c.ValidUntil = validUntil.UTC()
	c.MaxDiscount = maxDiscount
	c.CompatibleKinds = stringsToKinds(compatibleKinds)
	return &c, nil
}

func kindsToStrings(kinds []coupon.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func stringsToKinds(kinds []string) []coupon.Kind {
	if len(kinds) == 0 {
		return nil
	}
	out := make([]coupon.Kind, len(kinds))
	for i, k := range kinds {
		out[i] = coupon.Kind(k)
	}
	return out
}
