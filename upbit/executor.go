package upbit

import (
	"context"

	"github.com/JHSEO0807/upbit-autotrade-bot-study/broker"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/engine"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/resilience"
)

// Executor adapts a broker to the position engine's order hook. Orders
// are retried under the policy; after exhaustion the engine abandons
// the action for the tick and re-evaluates on the next bar. The order
// id is discarded, the engine has no use for it.
type Executor struct {
	Broker broker.Broker
	Retry  resilience.Policy
}

var _ engine.Executor = (*Executor)(nil)

func NewExecutor(b broker.Broker, retry resilience.Policy) *Executor {
	return &Executor{Broker: b, Retry: retry}
}

func (e *Executor) MarketBuy(ctx context.Context, instrument string, krwAmount float64) error {
	return resilience.Retry(ctx, e.Retry, func() error {
		_, err := e.Broker.MarketBuy(ctx, instrument, krwAmount)
		return err
	})
}

func (e *Executor) MarketSell(ctx context.Context, instrument string, quantity float64) error {
	return resilience.Retry(ctx, e.Retry, func() error {
		_, err := e.Broker.MarketSell(ctx, instrument, quantity)
		return err
	})
}
