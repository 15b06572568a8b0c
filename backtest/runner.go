// Package backtest replays historical candles through the position
// engine and reports the outcome.
package backtest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JHSEO0807/upbit-autotrade-bot-study/engine"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/journal"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/market"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/signal"
)

// Result summarizes one backtest run.
type Result struct {
	Instrument  string
	InitialCash float64
	FinalCash   float64
	ReturnPct   float64
	Trades      int // round trips are counted by sells
	Wins        int
	WinRate     float64
	Start       time.Time
	End         time.Time
}

// Runner replays one instrument's candles bar by bar. Indicators are
// recomputed over the growing history exactly as the live loop sees
// them, so backtest and live behavior diverge only in order execution.
type Runner struct {
	Instrument  string
	InitialCash float64
	Engine      engine.Config
	Signal      signal.Config
	Journal     journal.Journal
	Log         *zap.SugaredLogger
}

// Run replays the candles and force-exits whatever remains at the last
// close. At least one bar is required.
func (r *Runner) Run(ctx context.Context, candles []market.Candle) (Result, error) {
	if len(candles) == 0 {
		return Result{}, fmt.Errorf("backtest: no candles")
	}

	mem := journal.NewMemory()
	sink := journal.Journal(mem)
	if r.Journal != nil {
		sink = journal.NewTee(mem, r.Journal)
	}

	eng := engine.New(r.Engine, r.InitialCash, sink, r.Log)

	for i := range candles {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		snap, err := signal.Compute(r.Signal, candles[:i+1])
		if err != nil {
			return Result{}, err
		}

		sig := engine.Signals{
			Entry:      snap.Buy && snap.Ready,
			Trend:      snap.Trend,
			TrendPrev:  snap.TrendPrev,
			TrendValid: snap.Ready,
		}
		if err := eng.OnBar(ctx, r.Instrument, candles[i], sig); err != nil {
			return Result{}, err
		}
	}

	last := candles[len(candles)-1]
	if err := eng.ForceExit(ctx, r.Instrument, last.Close, last.Time); err != nil {
		return Result{}, err
	}

	if err := sink.RecordEquity(equityAt(eng, last)); err != nil {
		return Result{}, err
	}

	return summarize(r.Instrument, r.InitialCash, eng.Cash(), mem.Trades(),
		candles[0].Time, last.Time), nil
}

func equityAt(eng *engine.Engine, last market.Candle) journal.EquitySnapshot {
	snap := eng.Equity(nil)
	snap.Time = last.Time
	return snap
}

func summarize(instrument string, initial, final float64, trades []journal.TradeRecord,
	start, end time.Time) Result {

	res := Result{
		Instrument:  instrument,
		InitialCash: initial,
		FinalCash:   final,
		Start:       start,
		End:         end,
	}
	if initial > 0 {
		res.ReturnPct = (final - initial) / initial * 100
	}

	for _, tr := range trades {
		if tr.Side != journal.Sell {
			continue
		}
		res.Trades++
		if tr.PnlPct > 0 {
			res.Wins++
		}
	}
	if res.Trades > 0 {
		res.WinRate = float64(res.Wins) / float64(res.Trades) * 100
	}
	return res
}
