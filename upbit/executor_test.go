package upbit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JHSEO0807/upbit-autotrade-bot-study/broker"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/resilience"
)

type scriptedBroker struct {
	failures int
	buys     int
	sells    int
}

func (s *scriptedBroker) Accounts(context.Context) ([]broker.Balance, error) { return nil, nil }

func (s *scriptedBroker) MarketBuy(_ context.Context, _ string, _ float64) (string, error) {
	s.buys++
	if s.buys <= s.failures {
		return "", errors.New("rate limited")
	}
	return "order-1", nil
}

func (s *scriptedBroker) MarketSell(_ context.Context, _ string, _ float64) (string, error) {
	s.sells++
	if s.sells <= s.failures {
		return "", errors.New("rate limited")
	}
	return "order-2", nil
}

func TestExecutorRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	b := &scriptedBroker{failures: 2}
	exec := NewExecutor(b, resilience.Policy{MaxAttempts: 3})

	require.NoError(t, exec.MarketBuy(context.Background(), "KRW-BTC", 100_000))
	assert.Equal(t, 3, b.buys)
}

func TestExecutorSurfacesExhaustion(t *testing.T) {
	t.Parallel()

	b := &scriptedBroker{failures: 10}
	exec := NewExecutor(b, resilience.Policy{MaxAttempts: 2})

	err := exec.MarketSell(context.Background(), "KRW-BTC", 0.5)
	assert.ErrorIs(t, err, resilience.ErrExhausted)
	assert.Equal(t, 2, b.sells)
}
