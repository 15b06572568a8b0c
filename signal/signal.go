// Package signal computes the per-bar inputs the position engine
// consumes: an entry predicate and a fast trend line whose down-turn
// drives the reversal exit. Three rules are built in; all indicator
// math beyond the ichimoku conversion lines comes from go-talib.
package signal

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"github.com/JHSEO0807/upbit-autotrade-bot-study/market"
)

// Rule names accepted by Compute.
const (
	RuleIchimoku = "ichimoku"
	RuleBreakout = "breakout"
	RuleRank     = "rank"
)

// Config holds the indicator periods. Zero values fall back to the
// defaults below.
type Config struct {
	Rule string

	TenkanPeriod int // ichimoku conversion line
	KijunPeriod  int // ichimoku base line
	DIPeriod     int
	StochPeriod  int
	SMAPeriod    int // long filter for the ichimoku rule

	FastSMA int // breakout alignment
	MidSMA  int
	SlowSMA int
	RangeK  float64 // breakout target = open + prevRange * K

	RSIPeriod int // trend line for the rank rule
}

// Defaults returns the periods the strategies were tuned with.
func Defaults(rule string) Config {
	return Config{
		Rule:         rule,
		TenkanPeriod: 9,
		KijunPeriod:  26,
		DIPeriod:     14,
		StochPeriod:  14,
		SMAPeriod:    48,
		FastSMA:      5,
		MidSMA:       10,
		SlowSMA:      20,
		RangeK:       0.5,
		RSIPeriod:    14,
	}
}

// Snapshot is the rule output for the latest closed bar. Ready is false
// while the candle history is shorter than the rule's warm-up; the
// engine must treat a not-ready trend as unusable.
type Snapshot struct {
	Buy       bool
	Trend     float64
	TrendPrev float64
	Ready     bool
}

// Compute evaluates one rule over an oldest-first candle series and
// returns the snapshot for the final bar.
func Compute(cfg Config, candles []market.Candle) (Snapshot, error) {
	def := Defaults(cfg.Rule)
	fillDefaults(&cfg, def)

	switch cfg.Rule {
	case RuleIchimoku:
		return ichimoku(cfg, candles), nil
	case RuleBreakout:
		return breakout(cfg, candles), nil
	case RuleRank:
		return rankTrend(cfg, candles), nil
	default:
		return Snapshot{}, fmt.Errorf("signal: unknown rule %q", cfg.Rule)
	}
}

func fillDefaults(cfg *Config, def Config) {
	if cfg.TenkanPeriod <= 0 {
		cfg.TenkanPeriod = def.TenkanPeriod
	}
	if cfg.KijunPeriod <= 0 {
		cfg.KijunPeriod = def.KijunPeriod
	}
	if cfg.DIPeriod <= 0 {
		cfg.DIPeriod = def.DIPeriod
	}
	if cfg.StochPeriod <= 0 {
		cfg.StochPeriod = def.StochPeriod
	}
	if cfg.SMAPeriod <= 0 {
		cfg.SMAPeriod = def.SMAPeriod
	}
	if cfg.FastSMA <= 0 {
		cfg.FastSMA = def.FastSMA
	}
	if cfg.MidSMA <= 0 {
		cfg.MidSMA = def.MidSMA
	}
	if cfg.SlowSMA <= 0 {
		cfg.SlowSMA = def.SlowSMA
	}
	if cfg.RangeK <= 0 {
		cfg.RangeK = def.RangeK
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = def.RSIPeriod
	}
}

func split(candles []market.Candle) (highs, lows, closes []float64) {
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	closes = make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	return highs, lows, closes
}

// midline is the ichimoku conversion/base line: the midpoint of the
// rolling high/low over the period. go-talib has no ichimoku, so this
// stays hand-rolled.
func midline(highs, lows []float64, period int) []float64 {
	out := make([]float64, len(highs))
	for i := range out {
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		hi, lo := highs[i], lows[i]
		for k := i - period + 1; k < i; k++ {
			hi = math.Max(hi, highs[k])
			lo = math.Min(lo, lows[k])
		}
		out[i] = (hi + lo) / 2
	}
	return out
}

// ichimoku buys on a fresh tenkan/kijun golden cross confirmed by
// directional movement, stochastic RSI, and a long moving-average
// filter. The tenkan line is the trend.
func ichimoku(cfg Config, candles []market.Candle) Snapshot {
	warmup := cfg.KijunPeriod + 1
	if w := cfg.SMAPeriod + 1; w > warmup {
		warmup = w
	}
	if w := cfg.StochPeriod*2 + 5; w > warmup {
		warmup = w
	}
	if len(candles) < warmup {
		return Snapshot{}
	}

	highs, lows, closes := split(candles)
	i := len(candles) - 1

	tenkan := midline(highs, lows, cfg.TenkanPeriod)
	kijun := midline(highs, lows, cfg.KijunPeriod)
	sma := talib.Sma(closes, cfg.SMAPeriod)
	plusDI := talib.PlusDI(highs, lows, closes, cfg.DIPeriod)
	minusDI := talib.MinusDI(highs, lows, closes, cfg.DIPeriod)
	fastK, fastD := talib.StochRsi(closes, cfg.StochPeriod, cfg.StochPeriod, 5, talib.SMA)

	crossed := tenkan[i] > kijun[i] && tenkan[i-1] <= kijun[i-1]
	buy := crossed &&
		plusDI[i] > minusDI[i] &&
		fastK[i] > fastD[i] &&
		closes[i] > sma[i]

	return Snapshot{
		Buy:       buy,
		Trend:     tenkan[i],
		TrendPrev: tenkan[i-1],
		Ready:     usable(tenkan[i], tenkan[i-1]),
	}
}

// breakout buys when the short moving averages are stacked bullishly
// and the bar traded through the volatility target, open plus the
// previous bar's range scaled by K. The fast average is the trend.
func breakout(cfg Config, candles []market.Candle) Snapshot {
	warmup := cfg.SlowSMA + 1
	if len(candles) < warmup {
		return Snapshot{}
	}

	_, _, closes := split(candles)
	i := len(candles) - 1

	fast := talib.Sma(closes, cfg.FastSMA)
	mid := talib.Sma(closes, cfg.MidSMA)
	slow := talib.Sma(closes, cfg.SlowSMA)

	prev := candles[i-1]
	target := candles[i].Open + (prev.High-prev.Low)*cfg.RangeK

	buy := fast[i] > mid[i] && mid[i] > slow[i] && candles[i].High >= target

	return Snapshot{
		Buy:       buy,
		Trend:     fast[i],
		TrendPrev: fast[i-1],
		Ready:     usable(fast[i], fast[i-1]),
	}
}

// rankTrend never buys; entries for the rank strategy come from the
// candidate window. It supplies RSI as the trend so a momentum
// down-turn exits the position.
func rankTrend(cfg Config, candles []market.Candle) Snapshot {
	warmup := cfg.RSIPeriod + 2
	if len(candles) < warmup {
		return Snapshot{}
	}

	_, _, closes := split(candles)
	i := len(candles) - 1

	rsi := talib.Rsi(closes, cfg.RSIPeriod)

	return Snapshot{
		Trend:     rsi[i],
		TrendPrev: rsi[i-1],
		Ready:     usable(rsi[i], rsi[i-1]),
	}
}

func usable(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
