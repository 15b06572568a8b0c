// Package universe selects which markets the live trader watches: the
// volume-filtered tradable set and the top-N daily gainers, plus the
// one-round candidate window that admits fast risers.
package universe

import (
	"sort"

	"github.com/JHSEO0807/upbit-autotrade-bot-study/market"
)

// FilterTradable keeps markets with a positive 24h change and enough
// traded value to absorb a market order. Order is preserved.
func FilterTradable(tickers []market.Ticker, volumeThreshold float64) []market.Ticker {
	out := make([]market.Ticker, 0, len(tickers))
	for _, t := range tickers {
		if t.SignedChangeRate > 0 && t.AccTradePrice24h >= volumeThreshold {
			out = append(out, t)
		}
	}
	return out
}

// RankTop orders tickers by descending 24h change rate and returns the
// top n market codes together with their 1-based ranks. Ties keep the
// input order.
func RankTop(tickers []market.Ticker, n int) ([]string, map[string]int) {
	sorted := make([]market.Ticker, len(tickers))
	copy(sorted, tickers)
	sort.SliceStable(sorted, func(i, k int) bool {
		return sorted[i].SignedChangeRate > sorted[k].SignedChangeRate
	})

	if n > len(sorted) {
		n = len(sorted)
	}
	top := make([]string, 0, n)
	ranks := make(map[string]int, n)
	for i := 0; i < n; i++ {
		top = append(top, sorted[i].Market)
		ranks[sorted[i].Market] = i + 1
	}
	return top, ranks
}
