// Package engine owns the per-instrument position lifecycle: entry
// admission, the partial-exit ladder, stop-loss, trend-reversal exit, and
// forced liquidation, together with the fee/slippage fill accounting both
// backtest and live trading share.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JHSEO0807/upbit-autotrade-bot-study/internal/id"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/journal"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/market"
)

// Rung is one step of the partial-exit ladder.
type Rung struct {
	TriggerPct float64 // profit over entry, percent
	Fraction   float64 // fraction of *remaining* quantity to liquidate
}

// Config holds the rule parameters. StopLossPct is negative.
type Config struct {
	InvestRatio  float64
	FeeRate      float64
	SlippageRate float64
	StopLossPct  float64
	Ladder       []Rung
	TrendExit    bool
	MaxHoldings  int // 0 disables the cap
	MinOrderKRW  float64
}

// Signals carries the externally computed per-bar inputs: the entry
// predicate and the fast trend line used for the reversal exit.
type Signals struct {
	Entry      bool
	Trend      float64
	TrendPrev  float64
	TrendValid bool
}

// Executor submits real orders before the engine commits a fill. A nil
// executor (backtest, dry-run) always succeeds. When an executor call
// fails the action is abandoned for this tick and position state is left
// exactly as it was; the next tick re-evaluates from scratch.
type Executor interface {
	MarketBuy(ctx context.Context, instrument string, krwAmount float64) error
	MarketSell(ctx context.Context, instrument string, quantity float64) error
}

// Engine drives every position through its lifecycle. All mutations of
// cash and positions happen under one mutex; callers may fan out data
// fetches but must funnel OnBar calls for the same instrument through a
// single goroutine at a time.
type Engine struct {
	mu        sync.Mutex
	cfg       Config
	cash      float64
	positions map[string]*Position
	journal   journal.Journal
	exec      Executor
	log       *zap.SugaredLogger
}

func New(cfg Config, initialCash float64, j journal.Journal, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ladder := make([]Rung, len(cfg.Ladder))
	copy(ladder, cfg.Ladder)
	sort.Slice(ladder, func(i, k int) bool { return ladder[i].TriggerPct < ladder[k].TriggerPct })
	cfg.Ladder = ladder

	return &Engine{
		cfg:       cfg,
		cash:      initialCash,
		positions: make(map[string]*Position),
		journal:   j,
		log:       log,
	}
}

// SetExecutor installs the live order-execution adapter.
func (e *Engine) SetExecutor(exec Executor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exec = exec
}

// OnBar advances one instrument by one bar, applying the exit rules in
// their fixed priority order (stop-loss, ladder, trend exit) or admitting
// an entry when flat. Malformed bars are skipped without any state
// change. The returned error only ever reports a journal write failure.
func (e *Engine) OnBar(ctx context.Context, instrument string, c market.Candle, sig Signals) error {
	if !c.Valid() {
		e.log.Debugw("skipping invalid bar", "instrument", instrument)
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pos, held := e.positions[instrument]
	if !held || pos.Quantity <= 0 {
		if sig.Entry {
			return e.enterLocked(ctx, instrument, c)
		}
		return nil
	}

	// 1) Stop-loss wins over every other exit on the same tick.
	stopPrice := pos.EntryPrice * (1 + e.cfg.StopLossPct/100)
	if c.Low <= stopPrice {
		_, err := e.sellLocked(ctx, pos, stopPrice, pos.Quantity, e.cfg.SlippageRate,
			journal.ReasonStopLoss, c.Time)
		return err
	}

	// 2) Ladder rungs, ascending; several may fire within one bar. Fills
	// are assumed exactly at the rung target, fee only.
	for _, rung := range e.cfg.Ladder {
		if pos.Quantity <= 0 {
			break
		}
		if pos.Fired(rung.TriggerPct) {
			continue
		}
		target := pos.EntryPrice * (1 + rung.TriggerPct/100)
		if c.High < target {
			continue
		}

		qty := pos.Quantity * rung.Fraction
		reason := journal.ReasonPartial(rung.TriggerPct)
		ok, err := e.sellLocked(ctx, pos, target, qty, 0, reason, c.Time)
		if err != nil {
			return err
		}
		if !ok {
			// Order submission failed; retry the whole ladder next tick.
			break
		}
		pos.markFired(rung.TriggerPct)
	}

	// 3) Trend-reversal exit on whatever quantity the ladder left.
	if e.cfg.TrendExit && pos.Quantity > 0 && sig.TrendValid && sig.Trend < sig.TrendPrev {
		_, err := e.sellLocked(ctx, pos, c.Close, pos.Quantity, e.cfg.SlippageRate,
			journal.ReasonTrendExit, c.Time)
		return err
	}

	return nil
}

func (e *Engine) enterLocked(ctx context.Context, instrument string, c market.Candle) error {
	if e.cfg.MaxHoldings > 0 && e.openCountLocked() >= e.cfg.MaxHoldings {
		e.log.Debugw("entry skipped, holdings cap reached",
			"instrument", instrument, "max", e.cfg.MaxHoldings)
		return nil
	}

	budget := e.cash * e.cfg.InvestRatio
	if budget < e.cfg.MinOrderKRW {
		e.log.Debugw("entry skipped, budget below exchange minimum",
			"instrument", instrument, "budget", budget)
		return nil
	}

	fill := ComputeBuy(c.Close, budget, e.cfg.FeeRate, e.cfg.SlippageRate)
	if fill.Quantity <= 0 {
		return nil
	}

	if e.exec != nil {
		if err := e.exec.MarketBuy(ctx, instrument, fill.Outlay); err != nil {
			e.log.Warnw("buy order failed, skipping entry this tick",
				"instrument", instrument, "error", err)
			return nil
		}
	}

	e.cash -= fill.Outlay
	e.positions[instrument] = newPosition(instrument, fill.Price, fill.Quantity, c.Time)

	e.log.Infow("entered position",
		"instrument", instrument,
		"price", fill.Price,
		"quantity", fill.Quantity,
		"outlay", fill.Outlay,
		"cash", e.cash,
	)

	return e.journal.RecordTrade(journal.TradeRecord{
		ID:         id.New(),
		Side:       journal.Buy,
		Instrument: instrument,
		Time:       c.Time,
		Price:      fill.Price,
		Quantity:   fill.Quantity,
		CashAfter:  e.cash,
		Reason:     journal.ReasonEntry,
	})
}

// sellLocked executes one exit fill. It reports ok=false when the live
// order was refused, in which case nothing was mutated.
func (e *Engine) sellLocked(ctx context.Context, pos *Position, refPrice, qty, slippage float64,
	reason string, ts time.Time) (bool, error) {

	if e.exec != nil {
		if err := e.exec.MarketSell(ctx, pos.Instrument, qty); err != nil {
			e.log.Warnw("sell order failed, abandoning action this tick",
				"instrument", pos.Instrument, "reason", reason, "error", err)
			if reason != journal.ReasonForcedExit {
				return false, nil
			}
			// Forced exits never block shutdown: close the book locally and
			// leave reconciliation to the operator.
			e.log.Errorw("forced exit order refused; local state closed anyway",
				"instrument", pos.Instrument, "quantity", qty)
		}
	}

	fill := ComputeSell(refPrice, qty, e.cfg.FeeRate, slippage)
	pos.reduce(qty)
	e.cash += fill.Proceeds
	if pos.Quantity <= 0 {
		delete(e.positions, pos.Instrument)
	}

	pnl := (fill.Price - pos.EntryPrice) / pos.EntryPrice * 100

	e.log.Infow("exited",
		"instrument", pos.Instrument,
		"reason", reason,
		"price", fill.Price,
		"quantity", qty,
		"pnl_pct", pnl,
		"remaining", pos.Quantity,
		"cash", e.cash,
	)

	return true, e.journal.RecordTrade(journal.TradeRecord{
		ID:         id.New(),
		Side:       journal.Sell,
		Instrument: pos.Instrument,
		Time:       ts,
		Price:      fill.Price,
		Quantity:   qty,
		CashAfter:  e.cash,
		PnlPct:     pnl,
		Reason:     reason,
	})
}

// ForceExit liquidates any remaining quantity of one instrument at the
// last available reference price. Used at the end of a bounded run, on
// shutdown, and when an instrument drops out of the universe.
func (e *Engine) ForceExit(ctx context.Context, instrument string, refPrice float64, ts time.Time) error {
	if !market.ValidPrice(refPrice) {
		return fmt.Errorf("engine: invalid forced-exit price %v for %s", refPrice, instrument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pos, held := e.positions[instrument]
	if !held || pos.Quantity <= 0 {
		return nil
	}
	_, err := e.sellLocked(ctx, pos, refPrice, pos.Quantity, e.cfg.SlippageRate,
		journal.ReasonForcedExit, ts)
	return err
}

// ForceExitAll liquidates every open position using the supplied last
// prices. Instruments without a price are reported back so the caller can
// log them; their state is left open for a later attempt.
func (e *Engine) ForceExitAll(ctx context.Context, prices map[string]float64, ts time.Time) (skipped []string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	instruments := make([]string, 0, len(e.positions))
	for instr := range e.positions {
		instruments = append(instruments, instr)
	}
	sort.Strings(instruments)

	for _, instr := range instruments {
		pos := e.positions[instr]
		price, ok := prices[instr]
		if !ok || !market.ValidPrice(price) {
			skipped = append(skipped, instr)
			continue
		}
		if _, err := e.sellLocked(ctx, pos, price, pos.Quantity, e.cfg.SlippageRate,
			journal.ReasonForcedExit, ts); err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}

// Cash returns the current account cash balance.
func (e *Engine) Cash() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cash
}

// Holds reports whether the instrument has an open position.
func (e *Engine) Holds(instrument string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[instrument]
	return ok && pos.Quantity > 0
}

// OpenPositions returns the state of every open position, sorted by
// instrument.
func (e *Engine) OpenPositions() []PositionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openStatesLocked()
}

// Equity values the account at the supplied prices: cash plus
// mark-to-market holdings. Instruments without a price contribute their
// entry-price value.
func (e *Engine) Equity(prices map[string]float64) journal.EquitySnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	holdings := 0.0
	for instr, pos := range e.positions {
		price, ok := prices[instr]
		if !ok || !market.ValidPrice(price) {
			price = pos.EntryPrice
		}
		holdings += pos.Quantity * price
	}
	return journal.EquitySnapshot{
		Cash:     e.cash,
		Holdings: holdings,
		Equity:   e.cash + holdings,
	}
}

// State is the serializable engine state.
type State struct {
	Cash      float64         `json:"cash"`
	Positions []PositionState `json:"positions"`
}

// Snapshot captures cash and all open positions.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{Cash: e.cash, Positions: e.openStatesLocked()}
}

// Restore replaces the engine state with a previously captured snapshot.
// Restoring then snapshotting again yields an identical state.
func (e *Engine) Restore(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cash = s.Cash
	e.positions = make(map[string]*Position, len(s.Positions))
	for _, ps := range s.Positions {
		if ps.Quantity <= 0 {
			continue
		}
		e.positions[ps.Instrument] = positionFromState(ps)
	}
}

func (e *Engine) openCountLocked() int {
	n := 0
	for _, pos := range e.positions {
		if pos.Quantity > 0 {
			n++
		}
	}
	return n
}

func (e *Engine) openStatesLocked() []PositionState {
	out := make([]PositionState, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, pos.state())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Instrument < out[k].Instrument })
	return out
}
