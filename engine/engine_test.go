package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JHSEO0807/upbit-autotrade-bot-study/journal"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/market"
)

const instr = "KRW-BTC"

func testConfig() Config {
	return Config{
		InvestRatio:  1.0,
		FeeRate:      0.0005,
		SlippageRate: 0.0005,
		StopLossPct:  -1.0,
		Ladder: []Rung{
			{TriggerPct: 0.5, Fraction: 0.25},
			{TriggerPct: 1.0, Fraction: 0.25},
			{TriggerPct: 1.5, Fraction: 0.25},
		},
		TrendExit: true,
	}
}

func newTestEngine(t *testing.T, cfg Config, cash float64) (*Engine, *journal.Memory) {
	t.Helper()
	j := journal.NewMemory()
	return New(cfg, cash, j, nil), j
}

func bar(ts time.Time, o, h, l, c float64) market.Candle {
	return market.Candle{Time: ts, Open: o, High: h, Low: l, Close: c, Volume: 1}
}

// upTrend keeps the trend-exit rule quiet.
func upTrend() Signals {
	return Signals{Trend: 2, TrendPrev: 1, TrendValid: true}
}

func entrySignal() Signals {
	s := upTrend()
	s.Entry = true
	return s
}

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func enterAt100(t *testing.T, e *Engine) {
	t.Helper()
	require.NoError(t, e.OnBar(context.Background(), instr, bar(t0, 100, 100, 100, 100), entrySignal()))
	require.True(t, e.Holds(instr))
}

func TestEntryDebitsCashAndOpensPosition(t *testing.T) {
	t.Parallel()

	e, j := newTestEngine(t, testConfig(), 1_000_000)
	enterAt100(t, e)

	trades := j.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, journal.Buy, trades[0].Side)
	assert.Equal(t, journal.ReasonEntry, trades[0].Reason)
	assert.InDelta(t, 100*1.0005, trades[0].Price, 1e-9)

	// Full invest ratio: outlay equals the whole balance.
	assert.InDelta(t, 0, e.Cash(), 1e-6)

	ps := e.OpenPositions()
	require.Len(t, ps, 1)
	assert.Equal(t, StatusOpen, ps[0].Status)
	assert.InDelta(t, trades[0].Quantity, ps[0].Quantity, 1e-12)
}

func TestNoEntryWithoutSignal(t *testing.T) {
	t.Parallel()

	e, j := newTestEngine(t, testConfig(), 1_000_000)
	require.NoError(t, e.OnBar(context.Background(), instr, bar(t0, 100, 100, 100, 100), upTrend()))
	assert.False(t, e.Holds(instr))
	assert.Empty(t, j.Trades())
}

func TestLadderFiresMultipleRungsInOneBar(t *testing.T) {
	t.Parallel()

	e, j := newTestEngine(t, testConfig(), 1_000_000)
	enterAt100(t, e)
	entry := e.OpenPositions()[0].EntryPrice
	acquired := e.OpenPositions()[0].Quantity

	// High reaches +1.6% over the raw reference, spanning all three rungs
	// relative to the slipped entry price as well.
	high := entry * 1.016
	require.NoError(t, e.OnBar(context.Background(), instr,
		bar(t0.Add(5*time.Minute), entry, high, entry*0.999, entry*1.01), upTrend()))

	ps := e.OpenPositions()
	require.Len(t, ps, 1)
	assert.Equal(t, StatusPartiallyExited, ps[0].Status)
	assert.Equal(t, []float64{0.5, 1.0, 1.5}, ps[0].Fired)

	// 25% of remaining, three times: 0.75^3 of the acquired quantity left.
	assert.InDelta(t, acquired*0.75*0.75*0.75, ps[0].Quantity, 1e-9)

	trades := j.Trades()
	require.Len(t, trades, 4) // entry + three partials
	assert.Equal(t, "PARTIAL_0.5", trades[1].Reason)
	assert.Equal(t, "PARTIAL_1", trades[2].Reason)
	assert.Equal(t, "PARTIAL_1.5", trades[3].Reason)

	// Rung fills execute exactly at the target price: fee, no slippage.
	assert.InDelta(t, entry*1.005, trades[1].Price, 1e-9)
	assert.InDelta(t, entry*1.01, trades[2].Price, 1e-9)
	assert.InDelta(t, entry*1.015, trades[3].Price, 1e-9)
}

func TestLadderRungFiresAtMostOnce(t *testing.T) {
	t.Parallel()

	e, j := newTestEngine(t, testConfig(), 1_000_000)
	enterAt100(t, e)
	entry := e.OpenPositions()[0].EntryPrice

	// Two consecutive bars both crossing only the first rung.
	for i := 1; i <= 2; i++ {
		require.NoError(t, e.OnBar(context.Background(), instr,
			bar(t0.Add(time.Duration(i)*5*time.Minute), entry, entry*1.006, entry*0.998, entry*1.001),
			upTrend()))
	}

	partials := 0
	for _, tr := range j.Trades() {
		if tr.Reason == "PARTIAL_0.5" {
			partials++
		}
	}
	assert.Equal(t, 1, partials, "a rung must never fire twice per position")
}

func TestStopLossTakesPriorityOverLadder(t *testing.T) {
	t.Parallel()

	e, j := newTestEngine(t, testConfig(), 1_000_000)
	enterAt100(t, e)
	entry := e.OpenPositions()[0].EntryPrice

	// One bar whose high crosses rungs AND whose low crosses the stop.
	stop := entry * 0.99
	require.NoError(t, e.OnBar(context.Background(), instr,
		bar(t0.Add(5*time.Minute), entry, entry*1.02, stop*0.995, entry), upTrend()))

	assert.False(t, e.Holds(instr))

	trades := j.Trades()
	require.Len(t, trades, 2, "only entry and the stop-loss exit")
	last := trades[1]
	assert.Equal(t, journal.ReasonStopLoss, last.Reason)

	// Liquidation is priced at the threshold, not the bar's lower low,
	// with sell-side slippage applied.
	assert.InDelta(t, stop*(1-0.0005), last.Price, 1e-9)
	assert.InDelta(t, -1.0, last.PnlPct, 0.06)
}

func TestSpecLadderThenStopLossExample(t *testing.T) {
	t.Parallel()

	// Entry at 100 with ladder [0.5->25%, 1.0->25%, 1.5->25%]; a bar whose
	// high reaches +1.6% fires all three rungs leaving 42% of the entry
	// quantity (0.75^3); the next bar's low crossing -1% liquidates it.
	cfg := testConfig()
	cfg.SlippageRate = 0 // keep the arithmetic of the example exact
	e, j := newTestEngine(t, cfg, 1_000_000)

	require.NoError(t, e.OnBar(context.Background(), instr, bar(t0, 100, 100, 100, 100), entrySignal()))
	acquired := e.OpenPositions()[0].Quantity

	require.NoError(t, e.OnBar(context.Background(), instr,
		bar(t0.Add(5*time.Minute), 100, 101.6, 100, 101), upTrend()))
	remaining := e.OpenPositions()[0].Quantity
	assert.InDelta(t, acquired*math.Pow(0.75, 3), remaining, 1e-9)

	require.NoError(t, e.OnBar(context.Background(), instr,
		bar(t0.Add(10*time.Minute), 100, 100, 98.9, 99), upTrend()))
	assert.False(t, e.Holds(instr))

	last := j.Trades()[len(j.Trades())-1]
	assert.Equal(t, journal.ReasonStopLoss, last.Reason)
	assert.InDelta(t, 99.0, last.Price, 1e-9)
	assert.InDelta(t, remaining, last.Quantity, 1e-12)
}

func TestTrendExitLiquidatesRemainder(t *testing.T) {
	t.Parallel()

	e, j := newTestEngine(t, testConfig(), 1_000_000)
	enterAt100(t, e)
	entry := e.OpenPositions()[0].EntryPrice

	down := Signals{Trend: 1, TrendPrev: 2, TrendValid: true}
	closePx := entry * 1.002
	require.NoError(t, e.OnBar(context.Background(), instr,
		bar(t0.Add(5*time.Minute), entry, entry*1.006, entry*0.998, closePx), down))

	assert.False(t, e.Holds(instr))

	trades := j.Trades()
	last := trades[len(trades)-1]
	assert.Equal(t, journal.ReasonTrendExit, last.Reason)
	// Trend exit executes at the close with sell-side slippage; the +0.5%
	// rung fired first on the same bar.
	assert.Equal(t, "PARTIAL_0.5", trades[len(trades)-2].Reason)
	assert.InDelta(t, closePx*(1-0.0005), last.Price, 1e-9)
}

func TestTrendExitRequiresValidSignal(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, testConfig(), 1_000_000)
	enterAt100(t, e)
	entry := e.OpenPositions()[0].EntryPrice

	notReady := Signals{Trend: 1, TrendPrev: 2, TrendValid: false}
	require.NoError(t, e.OnBar(context.Background(), instr,
		bar(t0.Add(5*time.Minute), entry, entry*1.001, entry*0.998, entry), notReady))

	assert.True(t, e.Holds(instr), "warming-up trend data must not trigger an exit")
}

func TestQuantityConservation(t *testing.T) {
	t.Parallel()

	e, j := newTestEngine(t, testConfig(), 1_000_000)
	enterAt100(t, e)
	entry := e.OpenPositions()[0].EntryPrice

	// Ladder bar, then stop-loss bar.
	require.NoError(t, e.OnBar(context.Background(), instr,
		bar(t0.Add(5*time.Minute), entry, entry*1.011, entry*0.999, entry*1.005), upTrend()))
	require.NoError(t, e.OnBar(context.Background(), instr,
		bar(t0.Add(10*time.Minute), entry, entry, entry*0.985, entry*0.986), upTrend()))
	require.False(t, e.Holds(instr))

	var bought, sold float64
	for _, tr := range j.Trades() {
		switch tr.Side {
		case journal.Buy:
			bought += tr.Quantity
		case journal.Sell:
			sold += tr.Quantity
		}
	}
	assert.InDelta(t, bought, sold, 1e-9, "all acquired quantity must be accounted for")
}

func TestMalformedBarIsSkipped(t *testing.T) {
	t.Parallel()

	e, j := newTestEngine(t, testConfig(), 1_000_000)
	enterAt100(t, e)
	before := e.OpenPositions()[0]

	nan := bar(t0.Add(5*time.Minute), 100, 100, 50, 100)
	nan.Low = math.NaN()
	require.NoError(t, e.OnBar(context.Background(), instr, nan, upTrend()))

	after := e.OpenPositions()[0]
	assert.Equal(t, before, after, "invalid bar must not change any state")
	assert.Len(t, j.Trades(), 1)
}

func TestForceExitAll(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.InvestRatio = 0.4
	e, j := newTestEngine(t, cfg, 1_000_000)

	require.NoError(t, e.OnBar(context.Background(), "KRW-BTC", bar(t0, 100, 100, 100, 100), entrySignal()))
	require.NoError(t, e.OnBar(context.Background(), "KRW-ETH", bar(t0, 50, 50, 50, 50), entrySignal()))

	skipped, err := e.ForceExitAll(context.Background(),
		map[string]float64{"KRW-BTC": 101, "KRW-ETH": 49}, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, skipped)
	assert.Empty(t, e.OpenPositions())

	reasons := map[string]int{}
	for _, tr := range j.Trades() {
		reasons[tr.Reason]++
	}
	assert.Equal(t, 2, reasons[journal.ReasonForcedExit])
}

func TestForceExitAllReportsMissingPrices(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.InvestRatio = 0.4
	e, _ := newTestEngine(t, cfg, 1_000_000)
	require.NoError(t, e.OnBar(context.Background(), "KRW-BTC", bar(t0, 100, 100, 100, 100), entrySignal()))

	skipped, err := e.ForceExitAll(context.Background(), nil, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"KRW-BTC"}, skipped)
	assert.True(t, e.Holds("KRW-BTC"), "position stays open for a later attempt")
}

func TestMaxHoldingsCap(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.InvestRatio = 0.2
	cfg.MaxHoldings = 2
	e, _ := newTestEngine(t, cfg, 1_000_000)

	for _, m := range []string{"KRW-AAA", "KRW-BBB", "KRW-CCC"} {
		require.NoError(t, e.OnBar(context.Background(), m, bar(t0, 100, 100, 100, 100), entrySignal()))
	}

	assert.Len(t, e.OpenPositions(), 2)
	assert.False(t, e.Holds("KRW-CCC"))
}

func TestMinOrderSkipsDustEntries(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.InvestRatio = 0.2
	cfg.MinOrderKRW = 6000
	e, _ := newTestEngine(t, cfg, 10_000) // budget 2000 < 6000

	require.NoError(t, e.OnBar(context.Background(), instr, bar(t0, 100, 100, 100, 100), entrySignal()))
	assert.False(t, e.Holds(instr))
	assert.InDelta(t, 10_000, e.Cash(), 1e-9)
}

func TestFreshPositionResetsTriggers(t *testing.T) {
	t.Parallel()

	e, j := newTestEngine(t, testConfig(), 1_000_000)
	enterAt100(t, e)
	entry := e.OpenPositions()[0].EntryPrice

	// Fire the first rung, then stop out.
	require.NoError(t, e.OnBar(context.Background(), instr,
		bar(t0.Add(5*time.Minute), entry, entry*1.006, entry*0.998, entry), upTrend()))
	require.NoError(t, e.OnBar(context.Background(), instr,
		bar(t0.Add(10*time.Minute), entry, entry, entry*0.98, entry*0.985), upTrend()))
	require.False(t, e.Holds(instr))

	// Re-enter: the new position's trigger set starts empty and the same
	// rung may fire again.
	require.NoError(t, e.OnBar(context.Background(), instr,
		bar(t0.Add(15*time.Minute), 100, 100, 100, 100), entrySignal()))
	entry2 := e.OpenPositions()[0].EntryPrice
	assert.Empty(t, e.OpenPositions()[0].Fired)

	require.NoError(t, e.OnBar(context.Background(), instr,
		bar(t0.Add(20*time.Minute), entry2, entry2*1.006, entry2*0.998, entry2), upTrend()))

	partials := 0
	for _, tr := range j.Trades() {
		if tr.Reason == "PARTIAL_0.5" {
			partials++
		}
	}
	assert.Equal(t, 2, partials)
}

type flakyExecutor struct {
	buyErr  error
	sellErr error
	buys    int
	sells   int
}

func (f *flakyExecutor) MarketBuy(_ context.Context, _ string, _ float64) error {
	f.buys++
	return f.buyErr
}

func (f *flakyExecutor) MarketSell(_ context.Context, _ string, _ float64) error {
	f.sells++
	return f.sellErr
}

func TestFailedBuyOrderLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	e, j := newTestEngine(t, testConfig(), 1_000_000)
	exec := &flakyExecutor{buyErr: errors.New("exchange down")}
	e.SetExecutor(exec)

	require.NoError(t, e.OnBar(context.Background(), instr, bar(t0, 100, 100, 100, 100), entrySignal()))

	assert.Equal(t, 1, exec.buys)
	assert.False(t, e.Holds(instr))
	assert.InDelta(t, 1_000_000, e.Cash(), 1e-9)
	assert.Empty(t, j.Trades())
}

func TestFailedSellOrderLeavesPositionIntact(t *testing.T) {
	t.Parallel()

	e, j := newTestEngine(t, testConfig(), 1_000_000)
	enterAt100(t, e)
	entry := e.OpenPositions()[0].EntryPrice
	before := e.OpenPositions()[0]
	cashBefore := e.Cash()

	exec := &flakyExecutor{sellErr: errors.New("timeout")}
	e.SetExecutor(exec)

	// Stop-loss fires but the order is refused: no partial debit/credit.
	require.NoError(t, e.OnBar(context.Background(), instr,
		bar(t0.Add(5*time.Minute), entry, entry, entry*0.98, entry*0.985), upTrend()))

	assert.Equal(t, 1, exec.sells)
	assert.Equal(t, before, e.OpenPositions()[0])
	assert.InDelta(t, cashBefore, e.Cash(), 1e-12)
	assert.Len(t, j.Trades(), 1)

	// Next tick, with the exchange back, the same rule fires again.
	exec.sellErr = nil
	require.NoError(t, e.OnBar(context.Background(), instr,
		bar(t0.Add(10*time.Minute), entry, entry, entry*0.98, entry*0.985), upTrend()))
	assert.False(t, e.Holds(instr))
}

func TestFailedLadderOrderDoesNotConsumeTrigger(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, testConfig(), 1_000_000)
	enterAt100(t, e)
	entry := e.OpenPositions()[0].EntryPrice

	exec := &flakyExecutor{sellErr: errors.New("timeout")}
	e.SetExecutor(exec)

	require.NoError(t, e.OnBar(context.Background(), instr,
		bar(t0.Add(5*time.Minute), entry, entry*1.006, entry*0.999, entry*1.001), upTrend()))
	assert.Empty(t, e.OpenPositions()[0].Fired)

	exec.sellErr = nil
	require.NoError(t, e.OnBar(context.Background(), instr,
		bar(t0.Add(10*time.Minute), entry, entry*1.006, entry*0.999, entry*1.001), upTrend()))
	assert.Equal(t, []float64{0.5}, e.OpenPositions()[0].Fired)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.InvestRatio = 0.5
	e, _ := newTestEngine(t, cfg, 1_000_000)
	enterAt100(t, e)
	entry := e.OpenPositions()[0].EntryPrice

	// Partially exit so the snapshot carries fired triggers.
	require.NoError(t, e.OnBar(context.Background(), instr,
		bar(t0.Add(5*time.Minute), entry, entry*1.006, entry*0.999, entry*1.001), upTrend()))

	snap := e.Snapshot()

	restored := New(cfg, 0, journal.NewMemory(), nil)
	restored.Restore(snap)

	assert.Equal(t, snap, restored.Snapshot())

	// The restored position keeps its consumed trigger.
	require.NoError(t, restored.OnBar(context.Background(), instr,
		bar(t0.Add(10*time.Minute), entry, entry*1.006, entry*0.999, entry*1.001), upTrend()))
	assert.Equal(t, []float64{0.5}, restored.OpenPositions()[0].Fired)
}

func TestEquityMarksToMarket(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.InvestRatio = 0.5
	cfg.SlippageRate = 0
	cfg.FeeRate = 0
	e, _ := newTestEngine(t, cfg, 1_000_000)
	enterAt100(t, e)

	qty := e.OpenPositions()[0].Quantity
	snap := e.Equity(map[string]float64{instr: 110})

	assert.InDelta(t, 500_000, snap.Cash, 1e-6)
	assert.InDelta(t, qty*110, snap.Holdings, 1e-6)
	assert.InDelta(t, snap.Cash+snap.Holdings, snap.Equity, 1e-9)
}

func TestOverSellPanics(t *testing.T) {
	t.Parallel()

	p := newPosition(instr, 100, 1, t0)
	assert.Panics(t, func() { p.reduce(1.5) })
	assert.Panics(t, func() { p.reduce(-0.1) })
}
