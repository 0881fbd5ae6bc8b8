package stacking

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecomkit/promostack/internal/domain/cart"
	"github.com/ecomkit/promostack/internal/domain/coupon"
)

func thousandCart() cart.Snapshot {
	return cart.New([]cart.Line{
		{ProductID: "p1", UnitPrice: decimal.NewFromInt(1000), Quantity: 1},
	}, decimal.NewFromInt(50))
}

func fixed100(id string, priority int) *coupon.Coupon {
	return &coupon.Coupon{
		ID: id, Code: "F100-" + id, Kind: coupon.KindFixedAmount,
		Value: decimal.NewFromInt(100), CanStack: true, Priority: priority,
	}
}

func percent10(id string, priority int) *coupon.Coupon {
	return &coupon.Coupon{
		ID: id, Code: "P10-" + id, Kind: coupon.KindPercentage,
		Value: decimal.NewFromInt(10), CanStack: true, Priority: priority,
	}
}

func TestResolve_SequentialVsParallel(t *testing.T) {
	snap := thousandCart()
	primary := fixed100("a", 10)
	secondary := percent10("b", 20)

	rule := Rule{
		PrimaryKind:     coupon.KindFixedAmount,
		CompatibleKinds: []coupon.Kind{coupon.KindPercentage},
		MaxCombinations: 2,
	}

	t.Run("sequential applies the percentage to the reduced base", func(t *testing.T) {
		rule := rule
		rule.Logic = LogicSequential

		res := Resolve(rule, primary, []*coupon.Coupon{secondary}, snap)

		require.Len(t, res.Applied, 2)
		assert.Equal(t, "100", res.Applied[0].Discount.String())
		// 10% of the remaining 900.
		assert.Equal(t, "90", res.Applied[1].Discount.String())
		assert.Equal(t, "190", res.TotalDiscount.String())
		assert.Equal(t, "860", res.FinalTotal.String())
	})

	t.Run("parallel computes both against the original cart", func(t *testing.T) {
		rule := rule
		rule.Logic = LogicParallel

		res := Resolve(rule, primary, []*coupon.Coupon{secondary}, snap)

		require.Len(t, res.Applied, 2)
		assert.Equal(t, "100", res.Applied[0].Discount.String())
		assert.Equal(t, "100", res.Applied[1].Discount.String())
		assert.Equal(t, "200", res.TotalDiscount.String())
		assert.Equal(t, "850", res.FinalTotal.String())
	})
}

func TestResolve_ExclusiveKeepsHighestRanked(t *testing.T) {
	snap := thousandCart()
	primary := fixed100("b", 20)
	secondary := percent10("a", 10)

	rule := Rule{
		PrimaryKind:     coupon.KindFixedAmount,
		CompatibleKinds: []coupon.Kind{coupon.KindPercentage},
		MaxCombinations: 2,
		Logic:           LogicExclusive,
	}

	res := Resolve(rule, primary, []*coupon.Coupon{secondary}, snap)

	// The secondary outranks the primary, so the primary is displaced.
	require.Len(t, res.Applied, 1)
	assert.Equal(t, "a", res.Applied[0].CouponID)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "b", res.Rejected[0].CouponID)
	assert.Equal(t, coupon.ReasonExclusiveRule, res.Rejected[0].Reason)
}

func TestResolve_PriorityTieBreaksOnID(t *testing.T) {
	snap := thousandCart()
	primary := fixed100("z", 10)
	secondary := percent10("a", 10)

	rule := Rule{
		PrimaryKind:     coupon.KindFixedAmount,
		CompatibleKinds: []coupon.Kind{coupon.KindPercentage},
		MaxCombinations: 2,
		Logic:           LogicSequential,
	}

	res := Resolve(rule, primary, []*coupon.Coupon{secondary}, snap)

	require.Len(t, res.Applied, 2)
	assert.Equal(t, "a", res.Applied[0].CouponID)
	assert.Equal(t, "z", res.Applied[1].CouponID)
}

func TestResolve_RulePriorityOverridesCouponPriority(t *testing.T) {
	snap := thousandCart()
	// The coupon priorities say percentage first; the rule flips the order.
	primary := fixed100("a", 90)
	secondary := percent10("b", 10)

	rule := Rule{
		PrimaryKind:     coupon.KindFixedAmount,
		CompatibleKinds: []coupon.Kind{coupon.KindPercentage},
		Priorities: map[coupon.Kind]int{
			coupon.KindFixedAmount: 1,
			coupon.KindPercentage:  2,
		},
		MaxCombinations: 2,
		Logic:           LogicSequential,
	}

	res := Resolve(rule, primary, []*coupon.Coupon{secondary}, snap)

	require.Len(t, res.Applied, 2)
	assert.Equal(t, "a", res.Applied[0].CouponID)
}

func TestResolve_TotalDiscountCapTrimsLowestRankedFirst(t *testing.T) {
	snap := cart.New([]cart.Line{
		{ProductID: "p1", UnitPrice: decimal.NewFromInt(400), Quantity: 1},
	}, decimal.Zero)

	primary := &coupon.Coupon{
		ID: "a", Code: "F30", Kind: coupon.KindFixedAmount,
		Value: decimal.NewFromInt(30), CanStack: true, Priority: 10,
	}
	secondary := &coupon.Coupon{
		ID: "b", Code: "P10", Kind: coupon.KindPercentage,
		Value: decimal.NewFromInt(10), CanStack: true, Priority: 20,
	}

	rule := Rule{
		PrimaryKind:      coupon.KindFixedAmount,
		CompatibleKinds:  []coupon.Kind{coupon.KindPercentage},
		MaxCombinations:  2,
		Logic:            LogicParallel,
		MaxTotalDiscount: decimal.NewFromInt(50),
	}

	res := Resolve(rule, primary, []*coupon.Coupon{secondary}, snap)

	// Raw contributions are 30 and 40; the cap of 50 trims the
	// lower-priority percentage coupon down to 20.
	require.Len(t, res.Applied, 2)
	assert.Equal(t, "30", res.Applied[0].Discount.String())
	assert.False(t, res.Applied[0].Capped)
	assert.Equal(t, "20", res.Applied[1].Discount.String())
	assert.True(t, res.Applied[1].Capped)
	assert.Equal(t, "50", res.TotalDiscount.String())
	assert.Equal(t, "350", res.FinalTotal.String())
}

func TestResolve_CapZeroesOutLowestRanked(t *testing.T) {
	snap := cart.New([]cart.Line{
		{ProductID: "p1", UnitPrice: decimal.NewFromInt(400), Quantity: 1},
	}, decimal.Zero)

	primary := &coupon.Coupon{
		ID: "a", Code: "F30", Kind: coupon.KindFixedAmount,
		Value: decimal.NewFromInt(30), CanStack: true, Priority: 10,
	}
	secondary := &coupon.Coupon{
		ID: "b", Code: "P10", Kind: coupon.KindPercentage,
		Value: decimal.NewFromInt(10), CanStack: true, Priority: 20,
	}

	rule := Rule{
		PrimaryKind:      coupon.KindFixedAmount,
		CompatibleKinds:  []coupon.Kind{coupon.KindPercentage},
		MaxCombinations:  2,
		Logic:            LogicParallel,
		MaxTotalDiscount: decimal.NewFromInt(25),
	}

	res := Resolve(rule, primary, []*coupon.Coupon{secondary}, snap)

	// The cap of 25 consumes the whole percentage contribution and part of
	// the fixed one.
	require.Len(t, res.Applied, 1)
	assert.Equal(t, "a", res.Applied[0].CouponID)
	assert.Equal(t, "25", res.Applied[0].Discount.String())
	assert.True(t, res.Applied[0].Capped)

	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "b", res.Rejected[0].CouponID)
	assert.Equal(t, coupon.ReasonCappedOut, res.Rejected[0].Reason)
}

func TestResolve_DiscountNeverExceedsSubtotal(t *testing.T) {
	snap := cart.New([]cart.Line{
		{ProductID: "p1", UnitPrice: decimal.NewFromInt(80), Quantity: 1},
	}, decimal.NewFromInt(20))

	primary := &coupon.Coupon{
		ID: "a", Code: "F70", Kind: coupon.KindFixedAmount,
		Value: decimal.NewFromInt(70), CanStack: true, Priority: 10,
	}
	secondary := &coupon.Coupon{
		ID: "b", Code: "F60", Kind: coupon.KindFixedAmount,
		Value: decimal.NewFromInt(60), CanStack: true, Priority: 20,
	}

	rule := Rule{
		PrimaryKind:     coupon.KindFixedAmount,
		CompatibleKinds: []coupon.Kind{coupon.KindFixedAmount},
		MaxCombinations: 2,
		Logic:           LogicParallel,
	}

	res := Resolve(rule, primary, []*coupon.Coupon{secondary}, snap)

	assert.Equal(t, "80", res.TotalDiscount.String())
	// Shipping is still owed.
	assert.Equal(t, "20", res.FinalTotal.String())
	assert.False(t, res.FinalTotal.IsNegative())
}

func TestResolve_CombinationMinimumRejectsEveryone(t *testing.T) {
	snap := cart.New([]cart.Line{
		{ProductID: "p1", UnitPrice: decimal.NewFromInt(100), Quantity: 1},
	}, decimal.Zero)

	primary := fixed100("a", 10)
	secondary := percent10("b", 20)

	rule := Rule{
		PrimaryKind:     coupon.KindFixedAmount,
		CompatibleKinds: []coupon.Kind{coupon.KindPercentage},
		MaxCombinations: 2,
		Logic:           LogicSequential,
		MinCartAmount:   decimal.NewFromInt(500),
	}

	res := Resolve(rule, primary, []*coupon.Coupon{secondary}, snap)

	assert.Empty(t, res.Applied)
	require.Len(t, res.Rejected, 2)
	for _, r := range res.Rejected {
		assert.Equal(t, coupon.ReasonCombinationMinimum, r.Reason)
	}
	assert.Equal(t, "0", res.TotalDiscount.String())
	assert.True(t, res.FinalTotal.Equal(res.OriginalTotal))
}

func TestResolve_CombinationLimitTruncates(t *testing.T) {
	snap := thousandCart()
	primary := fixed100("a", 10)
	secondaries := []*coupon.Coupon{
		percent10("b", 20),
		percent10("c", 30),
	}

	rule := Rule{
		PrimaryKind:     coupon.KindFixedAmount,
		CompatibleKinds: []coupon.Kind{coupon.KindPercentage},
		MaxCombinations: 2,
		Logic:           LogicSequential,
	}

	res := Resolve(rule, primary, secondaries, snap)

	require.Len(t, res.Applied, 2)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "c", res.Rejected[0].CouponID)
	assert.Equal(t, coupon.ReasonCombinationLimit, res.Rejected[0].Reason)
}

func TestResolve_PrimaryMaxStackCountTightensRule(t *testing.T) {
	snap := thousandCart()
	primary := fixed100("a", 10)
	primary.MaxStackCount = 1
	secondary := percent10("b", 20)

	rule := Rule{
		PrimaryKind:     coupon.KindFixedAmount,
		CompatibleKinds: []coupon.Kind{coupon.KindPercentage},
		MaxCombinations: 5,
		Logic:           LogicSequential,
	}

	res := Resolve(rule, primary, []*coupon.Coupon{secondary}, snap)

	require.Len(t, res.Applied, 1)
	assert.Equal(t, "a", res.Applied[0].CouponID)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, coupon.ReasonCombinationLimit, res.Rejected[0].Reason)
}

func TestResolve_IncompatibleSecondaryRejected(t *testing.T) {
	snap := thousandCart()
	primary := fixed100("a", 10)

	tests := []struct {
		name      string
		secondary *coupon.Coupon
	}{
		{
			name: "kind not in rule compatibility list",
			secondary: &coupon.Coupon{
				ID: "b", Code: "SHIP", Kind: coupon.KindFreeShipping,
				Value: decimal.NewFromInt(100), CanStack: true,
			},
		},
		{
			name: "secondary cannot stack",
			secondary: &coupon.Coupon{
				ID: "b", Code: "SOLO", Kind: coupon.KindPercentage,
				Value: decimal.NewFromInt(10), CanStack: false,
			},
		},
		{
			name: "secondary does not accept the primary kind",
			secondary: &coupon.Coupon{
				ID: "b", Code: "PICKY", Kind: coupon.KindPercentage,
				Value: decimal.NewFromInt(10), CanStack: true,
				CompatibleKinds: []coupon.Kind{coupon.KindBundle},
			},
		},
	}

	rule := Rule{
		PrimaryKind:     coupon.KindFixedAmount,
		CompatibleKinds: []coupon.Kind{coupon.KindPercentage},
		MaxCombinations: 2,
		Logic:           LogicSequential,
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Resolve(rule, primary, []*coupon.Coupon{tt.secondary}, snap)

			require.Len(t, res.Applied, 1)
			assert.Equal(t, "a", res.Applied[0].CouponID)
			require.Len(t, res.Rejected, 1)
			assert.Equal(t, coupon.ReasonIncompatibleKind, res.Rejected[0].Reason)
		})
	}
}

func TestResolve_NonStackingPrimaryFallsBackToExclusive(t *testing.T) {
	snap := thousandCart()
	primary := fixed100("a", 10)
	primary.CanStack = false
	secondary := percent10("b", 20)

	rule := Rule{
		PrimaryKind:     coupon.KindFixedAmount,
		CompatibleKinds: []coupon.Kind{coupon.KindPercentage},
		MaxCombinations: 3,
		Logic:           LogicParallel,
	}

	res := Resolve(rule, primary, []*coupon.Coupon{secondary}, snap)

	require.Len(t, res.Applied, 1)
	assert.Equal(t, "a", res.Applied[0].CouponID)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, coupon.ReasonIncompatibleKind, res.Rejected[0].Reason)
}

func TestResolve_ShippingWaiverDoesNotReduceRemaining(t *testing.T) {
	snap := thousandCart()
	primary := &coupon.Coupon{
		ID: "a", Code: "SHIP", Kind: coupon.KindFreeShipping,
		Value: decimal.NewFromInt(500), CanStack: true, Priority: 10,
	}
	secondary := percent10("b", 20)

	rule := Rule{
		PrimaryKind:     coupon.KindFreeShipping,
		CompatibleKinds: []coupon.Kind{coupon.KindPercentage},
		MaxCombinations: 2,
		Logic:           LogicSequential,
	}

	res := Resolve(rule, primary, []*coupon.Coupon{secondary}, snap)

	require.Len(t, res.Applied, 2)
	assert.True(t, res.Applied[0].Shipping)
	assert.Equal(t, "50", res.Applied[0].Discount.String())
	// The percentage still sees the full subtotal.
	assert.Equal(t, "100", res.Applied[1].Discount.String())
	// 1050 original, minus 100 items and 50 shipping.
	assert.Equal(t, "900", res.FinalTotal.String())
}

func TestResolve_Deterministic(t *testing.T) {
	snap := thousandCart()
	primary := fixed100("m", 10)
	secondaries := []*coupon.Coupon{
		percent10("c", 10),
		percent10("a", 10),
		percent10("b", 10),
	}

	rule := Rule{
		PrimaryKind:     coupon.KindFixedAmount,
		CompatibleKinds: []coupon.Kind{coupon.KindPercentage},
		MaxCombinations: 4,
		Logic:           LogicSequential,
	}

	first := Resolve(rule, primary, secondaries, snap)
	for i := 0; i < 5; i++ {
		again := Resolve(rule, primary, secondaries, snap)
		assert.Equal(t, first.AppliedIDs(), again.AppliedIDs())
		assert.True(t, first.FinalTotal.Equal(again.FinalTotal))
	}

	// Equal priorities sort by coupon ID.
	assert.Equal(t, []string{"a", "b", "c", "m"}, first.AppliedIDs())
}
