package universe

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JHSEO0807/upbit-autotrade-bot-study/market"
)

func tick(m string, change, volume float64) market.Ticker {
	return market.Ticker{Market: m, SignedChangeRate: change, AccTradePrice24h: volume}
}

func TestFilterTradable(t *testing.T) {
	t.Parallel()

	in := []market.Ticker{
		tick("KRW-BTC", 0.05, 50e9),
		tick("KRW-ETH", -0.02, 90e9), // falling
		tick("KRW-XRP", 0.10, 5e9),   // thin
		tick("KRW-SOL", 0.01, 20e9),  // exactly at threshold
	}

	got := FilterTradable(in, 20e9)
	assert.Equal(t, []market.Ticker{in[0], in[3]}, got)
}

func TestRankTopOrdersByChangeRate(t *testing.T) {
	t.Parallel()

	in := []market.Ticker{
		tick("KRW-AAA", 0.02, 0),
		tick("KRW-BBB", 0.09, 0),
		tick("KRW-CCC", 0.05, 0),
		tick("KRW-DDD", 0.01, 0),
	}

	top, ranks := RankTop(in, 3)
	assert.Equal(t, []string{"KRW-BBB", "KRW-CCC", "KRW-AAA"}, top)
	assert.Equal(t, map[string]int{"KRW-BBB": 1, "KRW-CCC": 2, "KRW-AAA": 3}, ranks)
}

func TestRankTopShortInput(t *testing.T) {
	t.Parallel()

	top, ranks := RankTop([]market.Ticker{tick("KRW-AAA", 0.02, 0)}, 20)
	assert.Equal(t, []string{"KRW-AAA"}, top)
	assert.Len(t, ranks, 1)
}
