package coupon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecomkit/promostack/internal/domain/cart"
)

func TestRawDiscount_FixedAmount(t *testing.T) {
	snap := cart.New([]cart.Line{
		{ProductID: "p1", CategoryID: "food", UnitPrice: decimal.NewFromInt(100), Quantity: 2},
		{ProductID: "p2", CategoryID: "drinks", UnitPrice: decimal.NewFromInt(50), Quantity: 1},
	}, decimal.NewFromInt(30))

	tests := []struct {
		name   string
		coupon *Coupon
		want   string
	}{
		{
			name:   "whole-cart fixed amount",
			coupon: &Coupon{Code: "F100", Kind: KindFixedAmount, Value: decimal.NewFromInt(100)},
			want:   "100",
		},
		{
			name:   "fixed amount capped at eligible subtotal",
			coupon: &Coupon{Code: "F999", Kind: KindFixedAmount, Value: decimal.NewFromInt(999)},
			want:   "250",
		},
		{
			name: "scoped fixed amount capped at matching lines",
			coupon: &Coupon{
				Code: "F80", Kind: KindFixedAmount, Value: decimal.NewFromInt(80),
				Products: []string{"p2"},
			},
			want: "50",
		},
		{
			name: "own max discount cap applies",
			coupon: &Coupon{
				Code: "F100CAP", Kind: KindFixedAmount, Value: decimal.NewFromInt(100),
				MaxDiscount: decimal.NewFromInt(60),
			},
			want: "60",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RawDiscount(tt.coupon, snap)
			require.NoError(t, err)
			assert.True(t, got.Amount.Equal(decimal.RequireFromString(tt.want)),
				"expected %s, got %s", tt.want, got.Amount)
			assert.False(t, got.Shipping)
		})
	}
}

func TestRawDiscount_Percentage(t *testing.T) {
	snap := cart.New([]cart.Line{
		{ProductID: "p1", CategoryID: "food", UnitPrice: decimal.NewFromInt(100), Quantity: 2},
		{ProductID: "p2", CategoryID: "drinks", UnitPrice: decimal.NewFromFloat(33.33), Quantity: 1},
	}, decimal.Zero)

	t.Run("whole cart percentage rounds to cents", func(t *testing.T) {
		c := &Coupon{Code: "P10", Kind: KindPercentage, Value: decimal.NewFromInt(10)}
		got, err := RawDiscount(c, snap)
		require.NoError(t, err)
		// 10% of 233.33 = 23.333, rounded half-up to 23.33.
		assert.Equal(t, "23.33", got.Amount.String())
	})

	t.Run("category scoped percentage", func(t *testing.T) {
		c := &Coupon{
			Code: "P50", Kind: KindPercentage, Value: decimal.NewFromInt(50),
			Categories: []string{"food"},
		}
		got, err := RawDiscount(c, snap)
		require.NoError(t, err)
		assert.Equal(t, "100", got.Amount.String())
		assert.Equal(t, []int{0}, got.Lines)
	})
}

func TestRawDiscountWithin_RemainingBound(t *testing.T) {
	snap := cart.New([]cart.Line{
		{ProductID: "p1", UnitPrice: decimal.NewFromInt(1000), Quantity: 1},
	}, decimal.Zero)

	t.Run("percentage computes against the remaining base", func(t *testing.T) {
		c := &Coupon{Code: "P10", Kind: KindPercentage, Value: decimal.NewFromInt(10)}
		got, err := RawDiscountWithin(c, snap, decimal.NewFromInt(900))
		require.NoError(t, err)
		assert.Equal(t, "90", got.Amount.String())
	})

	t.Run("fixed amount never exceeds the remaining base", func(t *testing.T) {
		c := &Coupon{Code: "F100", Kind: KindFixedAmount, Value: decimal.NewFromInt(100)}
		got, err := RawDiscountWithin(c, snap, decimal.NewFromInt(40))
		require.NoError(t, err)
		assert.Equal(t, "40", got.Amount.String())
	})
}

func TestRawDiscount_FreeShipping(t *testing.T) {
	snap := cart.New([]cart.Line{
		{ProductID: "p1", UnitPrice: decimal.NewFromInt(200), Quantity: 1},
	}, decimal.NewFromInt(25))

	t.Run("threshold met waives the shipping fee", func(t *testing.T) {
		c := &Coupon{Code: "SHIP", Kind: KindFreeShipping, Value: decimal.NewFromInt(150)}
		got, err := RawDiscount(c, snap)
		require.NoError(t, err)
		assert.Equal(t, "25", got.Amount.String())
		assert.True(t, got.Shipping)
	})

	t.Run("threshold not met", func(t *testing.T) {
		c := &Coupon{Code: "SHIP", Kind: KindFreeShipping, Value: decimal.NewFromInt(300)}
		_, err := RawDiscount(c, snap)
		reason, ok := ReasonOf(err)
		require.True(t, ok)
		assert.Equal(t, ReasonThresholdNotMet, reason)
	})

	t.Run("shipping waiver ignores the remaining bound", func(t *testing.T) {
		c := &Coupon{Code: "SHIP", Kind: KindFreeShipping, Value: decimal.NewFromInt(150)}
		got, err := RawDiscountWithin(c, snap, decimal.NewFromInt(1))
		require.NoError(t, err)
		assert.Equal(t, "25", got.Amount.String())
	})
}

func TestRawDiscount_BuyNGetN(t *testing.T) {
	tests := []struct {
		name  string
		lines []cart.Line
		buy   int
		get   int
		scope []string
		want  string
	}{
		{
			name: "buy 2 get 1 on five units",
			lines: []cart.Line{
				{ProductID: "p1", UnitPrice: decimal.NewFromInt(10), Quantity: 5},
			},
			buy: 2, get: 1, scope: []string{"p1"},
			// 5/2 = 2 groups, 2 free units at 10 each.
			want: "20",
		},
		{
			name: "free units capped at matching quantity",
			lines: []cart.Line{
				{ProductID: "p1", UnitPrice: decimal.NewFromInt(10), Quantity: 3},
			},
			buy: 1, get: 5, scope: []string{"p1"},
			want: "30",
		},
		{
			name: "mixed prices use the weighted average",
			lines: []cart.Line{
				{ProductID: "p1", UnitPrice: decimal.NewFromInt(10), Quantity: 2},
				{ProductID: "p2", UnitPrice: decimal.NewFromInt(40), Quantity: 2},
			},
			buy: 3, get: 1, scope: []string{"p1", "p2"},
			// avg price (20+80)/4 = 25, one free unit.
			want: "25",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Coupon{
				Code: "BNGN", Kind: KindBuyNGetN, Value: decimal.NewFromInt(1),
				Products: tt.scope, BuyQuantity: tt.buy, GetQuantity: tt.get,
			}
			got, err := RawDiscount(c, cart.New(tt.lines, decimal.Zero))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Amount.String())
		})
	}

	t.Run("below buy threshold", func(t *testing.T) {
		c := &Coupon{
			Code: "BNGN", Kind: KindBuyNGetN, Value: decimal.NewFromInt(1),
			Products: []string{"p1"}, BuyQuantity: 4, GetQuantity: 1,
		}
		snap := cart.New([]cart.Line{
			{ProductID: "p1", UnitPrice: decimal.NewFromInt(10), Quantity: 3},
		}, decimal.Zero)

		_, err := RawDiscount(c, snap)
		reason, ok := ReasonOf(err)
		require.True(t, ok)
		assert.Equal(t, ReasonNoMatchingItems, reason)
	})
}

func TestRawDiscount_Bundle(t *testing.T) {
	snap := cart.New([]cart.Line{
		{ProductID: "p1", UnitPrice: decimal.NewFromInt(60), Quantity: 1},
		{ProductID: "p2", UnitPrice: decimal.NewFromInt(40), Quantity: 1},
		{ProductID: "p3", UnitPrice: decimal.NewFromInt(500), Quantity: 1},
	}, decimal.Zero)

	t.Run("fixed bundle discount over bundle items only", func(t *testing.T) {
		c := &Coupon{
			Code: "SET", Kind: KindBundle, Value: decimal.NewFromInt(30),
			Products: []string{"p1", "p2"},
		}
		got, err := RawDiscount(c, snap)
		require.NoError(t, err)
		assert.Equal(t, "30", got.Amount.String())
		assert.Equal(t, []int{0, 1}, got.Lines)
	})

	t.Run("fixed bundle value capped at bundle subtotal", func(t *testing.T) {
		c := &Coupon{
			Code: "SET", Kind: KindBundle, Value: decimal.NewFromInt(500),
			Products: []string{"p1", "p2"},
		}
		got, err := RawDiscount(c, snap)
		require.NoError(t, err)
		assert.Equal(t, "100", got.Amount.String())
	})

	t.Run("percent bundle discount", func(t *testing.T) {
		c := &Coupon{
			Code: "SET", Kind: KindBundle, Value: decimal.NewFromInt(25),
			Products: []string{"p1", "p2"}, BundleMode: BundlePercent,
		}
		got, err := RawDiscount(c, snap)
		require.NoError(t, err)
		assert.Equal(t, "25", got.Amount.String())
	})

	t.Run("missing bundle product", func(t *testing.T) {
		c := &Coupon{
			Code: "SET", Kind: KindBundle, Value: decimal.NewFromInt(30),
			Products: []string{"p1", "p9"},
		}
		_, err := RawDiscount(c, snap)
		reason, ok := ReasonOf(err)
		require.True(t, ok)
		assert.Equal(t, ReasonNoMatchingItems, reason)
	})
}
