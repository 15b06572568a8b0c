// Package market holds the value types shared by every component: OHLCV
// candles and 24h ticker snapshots, both quoted in KRW.
package market

import (
	"math"
	"time"
)

// Candle represents one OHLCV sample for an instrument over a fixed interval.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Valid reports whether every price field is finite and positive and the
// bar is internally consistent. Invalid bars are skipped as no-op ticks;
// they must never drive a state transition.
func (c Candle) Valid() bool {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close} {
		if !validPrice(v) {
			return false
		}
	}
	if math.IsNaN(c.Volume) || math.IsInf(c.Volume, 0) || c.Volume < 0 {
		return false
	}
	if c.High < c.Low {
		return false
	}
	return !c.Time.IsZero()
}

func validPrice(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// ValidPrice reports whether v can be used as an execution reference price.
func ValidPrice(v float64) bool { return validPrice(v) }
