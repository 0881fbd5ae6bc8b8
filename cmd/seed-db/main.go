// Command seed-db loads a demo coupon catalog and stacking rule set into the
// database for local development.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ecomkit/promostack/internal/domain/coupon"
	"github.com/ecomkit/promostack/internal/domain/stacking"
	"github.com/ecomkit/promostack/internal/repository"
)

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL); err != nil {
		slog.Error("seeding failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("database seeded successfully")
}

func run(ctx context.Context, databaseURL string) error {
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	coupons := repository.NewCouponRepository(pool)
	for _, c := range demoCoupons() {
		if err := coupons.Upsert(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}
		slog.Info("seeded coupon", slog.String("code", c.Code), slog.String("kind", string(c.Kind)))
	}

	rules := repository.NewStackingRuleRepository(pool)
	for _, r := range demoRules() {
		if err := rules.Upsert(ctx, r); err != nil {
			return errors.Wrapf(err, "upsert stacking rule %s", r.PrimaryKind)
		}
		slog.Info("seeded stacking rule", slog.String("primary_kind", string(r.PrimaryKind)))
	}

	return nil
}

func demoCoupons() []*coupon.Coupon {
	now := time.Now().UTC()
	from := now.AddDate(0, -1, 0)
	until := now.AddDate(1, 0, 0)

	return []*coupon.Coupon{
		{
			ID:              uuid.New().String(),
			Code:            "WELCOME100",
			Kind:            coupon.KindFixedAmount,
			Value:           decimal.NewFromInt(100),
			ValidFrom:       from,
			ValidUntil:      until,
			Status:          coupon.StatusActive,
			MaxUsesPerUser:  1,
			MinCartAmount:   decimal.NewFromInt(500),
			CanStack:        true,
			CompatibleKinds: []coupon.Kind{coupon.KindPercentage, coupon.KindFreeShipping},
			Priority:        10,
			MaxStackCount:   3,
		},
		{
			ID:              uuid.New().String(),
			Code:            "SAVE10",
			Kind:            coupon.KindPercentage,
			Value:           decimal.NewFromInt(10),
			ValidFrom:       from,
			ValidUntil:      until,
			Status:          coupon.StatusActive,
			MaxDiscount:     decimal.NewFromInt(200),
			CanStack:        true,
			CompatibleKinds: []coupon.Kind{coupon.KindFixedAmount, coupon.KindFreeShipping},
			Priority:        50,
		},
		{
			ID:         uuid.New().String(),
			Code:       "SHIPFREE",
			Kind:       coupon.KindFreeShipping,
			Value:      decimal.NewFromInt(300),
			ValidFrom:  from,
			ValidUntil: until,
			Status:     coupon.StatusActive,
			CanStack:   true,
			Priority:   90,
		},
		{
			ID:          uuid.New().String(),
			Code:        "COFFEE3FOR2",
			Kind:        coupon.KindBuyNGetN,
			Value:       decimal.NewFromInt(1),
			ValidFrom:   from,
			ValidUntil:  until,
			Status:      coupon.StatusActive,
			Products:    []string{"coffee-beans-250g"},
			BuyQuantity: 2,
			GetQuantity: 1,
			Priority:    30,
		},
		{
			ID:         uuid.New().String(),
			Code:       "BREAKFASTSET",
			Kind:       coupon.KindBundle,
			Value:      decimal.NewFromInt(15),
			ValidFrom:  from,
			ValidUntil: until,
			Status:     coupon.StatusActive,
			Products:   []string{"coffee-beans-250g", "croissant-box"},
			BundleMode: coupon.BundlePercent,
			Priority:   20,
		},
		{
			ID:         uuid.New().String(),
			Code:       "FLASH50",
			Kind:       coupon.KindFixedAmount,
			Value:      decimal.NewFromInt(50),
			ValidFrom:  from,
			ValidUntil: until,
			Status:     coupon.StatusActive,
			MaxUses:    100,
			Categories: []string{"electronics"},
			Priority:   5,
		},
	}
}

func demoRules() []*stacking.Rule {
	return []*stacking.Rule{
		{
			PrimaryKind:     coupon.KindFixedAmount,
			CompatibleKinds: []coupon.Kind{coupon.KindPercentage, coupon.KindFreeShipping},
			Priorities: map[coupon.Kind]int{
				coupon.KindFixedAmount: 10,
				coupon.KindPercentage:  50,
			},
			MaxCombinations:  3,
			Logic:            stacking.LogicSequential,
			MaxTotalDiscount: decimal.NewFromInt(500),
		},
		{
			PrimaryKind:     coupon.KindPercentage,
			CompatibleKinds: []coupon.Kind{coupon.KindFreeShipping},
			MaxCombinations: 2,
			Logic:           stacking.LogicParallel,
		},
		{
			PrimaryKind:     coupon.KindBundle,
			MaxCombinations: 1,
			Logic:           stacking.LogicExclusive,
		},
	}
}
