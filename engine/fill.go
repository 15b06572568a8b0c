package engine

// The fill model is shared verbatim by the backtest and live paths. Both
// functions are pure: no I/O, no state.

// BuyFill is the result of sizing a market buy under a budget constraint.
type BuyFill struct {
	Price    float64 // reference price inflated by slippage
	Quantity float64
	Cost     float64 // Price * Quantity
	Fee      float64
	Outlay   float64 // Cost + Fee, never above the supplied budget
}

// SellFill is the result of pricing a market sell.
type SellFill struct {
	Price    float64 // reference price deflated by slippage
	Fee      float64
	Proceeds float64 // credited to cash, net of fee
}

// ComputeBuy sizes a buy of at most budget at referencePrice. Entry-side
// slippage inflates the fill price. If the naive quantity's total outlay
// (cost plus fee) would exceed the budget, the quantity is re-solved so
// that cost*(1+feeRate) == budget exactly. A non-positive budget or
// reference price yields a zero fill, which callers must skip.
func ComputeBuy(referencePrice, budget, feeRate, slippageRate float64) BuyFill {
	if budget <= 0 || referencePrice <= 0 {
		return BuyFill{}
	}

	price := referencePrice * (1 + slippageRate)
	qty := budget / price
	cost := price * qty
	fee := cost * feeRate

	if cost+fee > budget {
		qty = budget / (price * (1 + feeRate))
		cost = price * qty
		fee = cost * feeRate
	}
	if qty <= 0 {
		return BuyFill{}
	}

	return BuyFill{
		Price:    price,
		Quantity: qty,
		Cost:     cost,
		Fee:      fee,
		Outlay:   cost + fee,
	}
}

// ComputeSell prices a sell of quantity at referencePrice. Exit-side
// slippage deflates the fill price; the fee is taken out of the proceeds.
// Ladder exits pass slippageRate zero (fills are assumed exactly at the
// rung target).
func ComputeSell(referencePrice, quantity, feeRate, slippageRate float64) SellFill {
	price := referencePrice * (1 - slippageRate)
	gross := price * quantity
	fee := gross * feeRate

	return SellFill{
		Price:    price,
		Fee:      fee,
		Proceeds: gross - fee,
	}
}
