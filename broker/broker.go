// Package broker defines the order-execution surface the live trader
// needs from an exchange. Orders are market orders only: buys spend a
// fixed KRW amount, sells liquidate a fixed volume.
package broker

import "context"

// Balance is one currency balance on the exchange account.
type Balance struct {
	Currency     string
	Available    float64
	Locked       float64
	AvgBuyPrice  float64
	UnitCurrency string
}

// Broker submits orders and reads account balances. Implementations
// return the exchange order id so fills can be reconciled later.
type Broker interface {
	Accounts(ctx context.Context) ([]Balance, error)
	MarketBuy(ctx context.Context, mkt string, krwAmount float64) (orderID string, err error)
	MarketSell(ctx context.Context, mkt string, volume float64) (orderID string, err error)
}
