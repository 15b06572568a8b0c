package engine

import (
	"fmt"
	"sort"
	"time"
)

// Status of a position. A flat instrument simply has no Position; Closed
// and flat are equivalent. Positions are never reused across entries, so
// the fired-trigger set always starts empty.
type Status string

const (
	StatusOpen            Status = "OPEN"
	StatusPartiallyExited Status = "PARTIALLY_EXITED"
	StatusClosed          Status = "CLOSED"
)

// Position is one open investment in a single instrument.
type Position struct {
	Instrument string
	EntryPrice float64 // fill price including slippage, fixed at entry
	Quantity   float64 // remaining units, monotonically non-increasing
	EntryTime  time.Time
	Status     Status

	acquired float64 // quantity bought at entry, for conservation checks
	fired    map[float64]bool
}

func newPosition(instrument string, entryPrice, quantity float64, entryTime time.Time) *Position {
	return &Position{
		Instrument: instrument,
		EntryPrice: entryPrice,
		Quantity:   quantity,
		EntryTime:  entryTime,
		Status:     StatusOpen,
		acquired:   quantity,
		fired:      make(map[float64]bool),
	}
}

// Fired reports whether the ladder rung at triggerPct has already been
// consumed for this position.
func (p *Position) Fired(triggerPct float64) bool {
	return p.fired[triggerPct]
}

func (p *Position) markFired(triggerPct float64) {
	p.fired[triggerPct] = true
}

// FiredTriggers returns the consumed rung percentages in ascending order.
func (p *Position) FiredTriggers() []float64 {
	out := make([]float64, 0, len(p.fired))
	for pct := range p.fired {
		out = append(out, pct)
	}
	sort.Float64s(out)
	return out
}

// reduce removes qty units. Selling more than remains is an accounting
// bug, not a market condition: it aborts loudly instead of clamping.
func (p *Position) reduce(qty float64) {
	const tolerance = 1e-9
	if qty <= 0 || qty > p.Quantity*(1+tolerance)+tolerance {
		panic(fmt.Sprintf("engine: sell quantity %.12f exceeds remaining %.12f for %s",
			qty, p.Quantity, p.Instrument))
	}

	p.Quantity -= qty
	if p.Quantity <= p.acquired*tolerance {
		p.Quantity = 0
		p.Status = StatusClosed
	} else {
		p.Status = StatusPartiallyExited
	}
}

// PositionState is the serializable form of a Position, used for durable
// snapshots and read-only accessors.
type PositionState struct {
	Instrument string    `json:"instrument"`
	EntryPrice float64   `json:"entry_price"`
	Quantity   float64   `json:"quantity"`
	EntryTime  time.Time `json:"entry_time"`
	Fired      []float64 `json:"fired_triggers,omitempty"`
	Status     Status    `json:"status"`
}

func (p *Position) state() PositionState {
	return PositionState{
		Instrument: p.Instrument,
		EntryPrice: p.EntryPrice,
		Quantity:   p.Quantity,
		EntryTime:  p.EntryTime,
		Fired:      p.FiredTriggers(),
		Status:     p.Status,
	}
}

func positionFromState(s PositionState) *Position {
	p := newPosition(s.Instrument, s.EntryPrice, s.Quantity, s.EntryTime)
	p.Status = s.Status
	for _, pct := range s.Fired {
		p.fired[pct] = true
	}
	return p
}
