package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeBuyBudgetSafety(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		price    float64
		budget   float64
		fee      float64
		slippage float64
	}{
		{"typical", 50_000_000, 200_000, 0.0005, 0.0005},
		{"zero fee", 1000, 10_000, 0, 0.001},
		{"zero slippage", 1000, 10_000, 0.0005, 0},
		{"tiny budget", 123.45, 1, 0.0005, 0.0005},
		{"huge fee", 100, 100_000, 0.1, 0.01},
		{"full million", 100_000_000, 1_000_000, 0.0005, 0.0005},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fill := ComputeBuy(tt.price, tt.budget, tt.fee, tt.slippage)

			assert.Greater(t, fill.Quantity, 0.0)
			assert.LessOrEqual(t, fill.Outlay, tt.budget*(1+1e-12),
				"total outlay must never exceed the budget")
			assert.InDelta(t, tt.price*(1+tt.slippage), fill.Price, tt.price*1e-12)
			assert.InDelta(t, fill.Cost+fill.Fee, fill.Outlay, 1e-9)
			assert.InDelta(t, fill.Price*fill.Quantity, fill.Cost, 1e-6)
		})
	}
}

func TestComputeBuyResolvesAgainstFee(t *testing.T) {
	t.Parallel()

	// With any positive fee the naive quantity overshoots, so the solved
	// quantity must satisfy cost*(1+fee) == budget exactly.
	fill := ComputeBuy(100, 10_000, 0.0005, 0)
	assert.InDelta(t, 10_000, fill.Outlay, 1e-9)
	assert.InDelta(t, 10_000/(100*1.0005), fill.Quantity, 1e-12)
}

func TestComputeBuyZeroCases(t *testing.T) {
	t.Parallel()

	assert.Zero(t, ComputeBuy(100, 0, 0.0005, 0.0005).Quantity)
	assert.Zero(t, ComputeBuy(100, -50, 0.0005, 0.0005).Quantity)
	assert.Zero(t, ComputeBuy(0, 1000, 0.0005, 0.0005).Quantity)
	assert.Zero(t, ComputeBuy(-1, 1000, 0.0005, 0.0005).Quantity)
}

func TestComputeSell(t *testing.T) {
	t.Parallel()

	fill := ComputeSell(99.0, 10, 0.0005, 0.0005)

	wantPrice := 99.0 * (1 - 0.0005)
	assert.InDelta(t, wantPrice, fill.Price, 1e-12)
	assert.InDelta(t, wantPrice*10*0.0005, fill.Fee, 1e-9)
	assert.InDelta(t, wantPrice*10*(1-0.0005), fill.Proceeds, 1e-9)
}

func TestComputeSellNoSlippageForLadderFills(t *testing.T) {
	t.Parallel()

	fill := ComputeSell(100.5, 2, 0.0005, 0)
	assert.InDelta(t, 100.5, fill.Price, 1e-12)
	assert.InDelta(t, 100.5*2*(1-0.0005), fill.Proceeds, 1e-9)
}

func TestBuySellRoundTripLosesFeesOnly(t *testing.T) {
	t.Parallel()

	buy := ComputeBuy(100, 10_000, 0.0005, 0)
	sell := ComputeSell(buy.Price, buy.Quantity, 0.0005, 0)

	// Same price in and out: the only loss is the two fee legs.
	wantLoss := buy.Fee + sell.Fee
	assert.InDelta(t, buy.Outlay-sell.Proceeds, wantLoss, 1e-9)
}
