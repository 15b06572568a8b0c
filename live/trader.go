// Package live runs the trading loop against a real exchange: ranking
// rounds over the market universe, candle-driven rule evaluation per
// instrument, durable snapshots, and a forced liquidation on shutdown.
package live

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JHSEO0807/upbit-autotrade-bot-study/engine"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/journal"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/market"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/resilience"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/signal"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/state"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/universe"
)

// MarketData is the read side of the exchange the loop consumes.
// *upbit.Client satisfies it.
type MarketData interface {
	Markets(ctx context.Context, quote string) ([]string, error)
	Tickers(ctx context.Context, markets []string) ([]market.Ticker, error)
	Candles(ctx context.Context, mkt string, unit, count int) ([]market.Candle, error)
}

// Options configures the loop.
type Options struct {
	Quote           string // quote currency, e.g. "KRW"
	TopN            int
	VolumeThreshold float64
	RefreshEvery    time.Duration // market list refresh cadence
	PollEvery       time.Duration // round cadence
	CandleUnit      int           // minutes
	CandleCount     int
	Workers         int
	Retry           resilience.Policy
	PriceTTL        time.Duration
	RatePerMin      int
	Signal          signal.Config
}

// Trader owns one live session.
type Trader struct {
	opts    Options
	data    MarketData
	engine  *engine.Engine
	journal journal.Journal
	store   *state.Store
	window  *universe.Window
	prices  *resilience.PriceCache
	limiter *resilience.RateLimiter
	log     *zap.SugaredLogger

	round       int64
	markets     []string
	refreshedAt time.Time
	now         func() time.Time
}

func NewTrader(opts Options, data MarketData, eng *engine.Engine, j journal.Journal,
	store *state.Store, log *zap.SugaredLogger) *Trader {

	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.RatePerMin <= 0 {
		opts.RatePerMin = 500
	}

	return &Trader{
		opts:    opts,
		data:    data,
		engine:  eng,
		journal: j,
		store:   store,
		window:  universe.NewWindow(),
		prices:  resilience.NewPriceCache(opts.PriceTTL),
		limiter: resilience.NewRateLimiter(opts.RatePerMin),
		log:     log,
	}
}

// Resume reloads a previous session's snapshot. A missing snapshot is a
// clean first start; anything else is fatal.
func (t *Trader) Resume() error {
	snap, err := t.store.Load()
	if err == state.ErrNoSnapshot {
		t.log.Infow("no snapshot, starting fresh")
		return nil
	}
	if err != nil {
		return err
	}

	t.engine.Restore(engine.State{Cash: snap.Cash, Positions: snap.Positions})
	t.window.Restore(snap.Round, snap.Candidates)
	t.round = snap.Round

	t.log.Infow("resumed from snapshot",
		"updated_at", snap.UpdatedAt,
		"cash", snap.Cash,
		"positions", len(snap.Positions),
		"round", snap.Round,
	)
	return nil
}

// Run executes rounds until the context is cancelled, then liquidates
// every open position at the last known prices and snapshots the final
// state.
func (t *Trader) Run(ctx context.Context) error {
	t.log.Infow("live loop starting",
		"top_n", t.opts.TopN,
		"poll", t.opts.PollEvery,
		"strategy", t.opts.Signal.Rule,
	)

	ticker := time.NewTicker(t.opts.PollEvery)
	defer ticker.Stop()

	for {
		if err := t.Step(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			// A failed round is survivable; the next one starts clean.
			t.log.Errorw("round failed", "round", t.round, "error", err)
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
			continue
		}
		break
	}

	return t.shutdown()
}

// Step runs one complete round: refresh the universe, rank it, evaluate
// every watched instrument, and snapshot if anything changed.
func (t *Trader) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.round++

	if err := t.refreshMarkets(ctx); err != nil {
		return err
	}

	tickers, err := t.fetchTickers(ctx)
	if err != nil {
		return err
	}

	tradable := universe.FilterTradable(tickers, t.opts.VolumeThreshold)
	top, ranks := universe.RankTop(tradable, t.opts.TopN)
	eligible := t.window.Advance(t.round, ranks)

	watch := t.watchSet(top, tickers)
	snaps := t.fetchSignals(ctx, watch)

	eligibleSet := make(map[string]bool, len(eligible))
	for _, instr := range eligible {
		eligibleSet[instr] = true
	}

	// Rule evaluation is serialized; only data fetches fan out.
	for _, instr := range watch {
		fs, ok := snaps[instr]
		if !ok {
			continue
		}

		entry := fs.snap.Buy && fs.snap.Ready
		if t.opts.Signal.Rule == signal.RuleRank {
			entry = eligibleSet[instr]
		}

		sig := engine.Signals{
			Entry:      entry,
			Trend:      fs.snap.Trend,
			TrendPrev:  fs.snap.TrendPrev,
			TrendValid: fs.snap.Ready,
		}
		if err := t.engine.OnBar(ctx, instr, fs.bar, sig); err != nil {
			return err
		}
	}

	if err := t.exitDelisted(ctx, tickers); err != nil {
		return err
	}

	if err := t.journal.RecordEquity(t.equityNow(tickers)); err != nil {
		return err
	}

	return t.snapshot()
}

func (t *Trader) refreshMarkets(ctx context.Context) error {
	if len(t.markets) > 0 && t.clock().Sub(t.refreshedAt) < t.opts.RefreshEvery {
		return nil
	}

	var markets []string
	err := resilience.Retry(ctx, t.opts.Retry, func() error {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		markets, err = t.data.Markets(ctx, t.opts.Quote)
		return err
	})
	if err != nil {
		return err
	}

	t.markets = markets
	t.refreshedAt = t.clock()
	t.log.Infow("market list refreshed", "markets", len(markets))
	return nil
}

func (t *Trader) fetchTickers(ctx context.Context) ([]market.Ticker, error) {
	var tickers []market.Ticker
	err := resilience.Retry(ctx, t.opts.Retry, func() error {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		tickers, err = t.data.Tickers(ctx, t.markets)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, tk := range tickers {
		t.prices.Put(tk.Market, tk.TradePrice)
	}
	return tickers, nil
}

// watchSet is the ranked top plus whatever is already held, so exits
// keep being evaluated after an instrument falls out of the top.
func (t *Trader) watchSet(top []string, tickers []market.Ticker) []string {
	listed := make(map[string]bool, len(tickers))
	for _, tk := range tickers {
		listed[tk.Market] = true
	}

	seen := make(map[string]bool, len(top))
	out := make([]string, 0, len(top))
	for _, instr := range top {
		seen[instr] = true
		out = append(out, instr)
	}
	for _, ps := range t.engine.OpenPositions() {
		if !seen[ps.Instrument] && listed[ps.Instrument] {
			out = append(out, ps.Instrument)
		}
	}
	return out
}

type fetched struct {
	bar  market.Candle
	snap signal.Snapshot
}

// fetchSignals pulls candle history for every watched instrument with a
// bounded worker pool and computes the rule snapshot per instrument.
// Instruments whose fetch ultimately fails are skipped this round.
func (t *Trader) fetchSignals(ctx context.Context, watch []string) map[string]fetched {
	type result struct {
		instr string
		f     fetched
		err   error
	}

	jobs := make(chan string)
	results := make(chan result)

	var wg sync.WaitGroup
	for w := 0; w < t.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for instr := range jobs {
				f, err := t.fetchOne(ctx, instr)
				results <- result{instr: instr, f: f, err: err}
			}
		}()
	}

	go func() {
		for _, instr := range watch {
			jobs <- instr
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	out := make(map[string]fetched, len(watch))
	for res := range results {
		if res.err != nil {
			t.log.Warnw("skipping instrument this round",
				"instrument", res.instr, "error", res.err)
			continue
		}
		out[res.instr] = res.f
	}
	return out
}

func (t *Trader) fetchOne(ctx context.Context, instr string) (fetched, error) {
	var candles []market.Candle
	err := resilience.Retry(ctx, t.opts.Retry, func() error {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		candles, err = t.data.Candles(ctx, instr, t.opts.CandleUnit, t.opts.CandleCount)
		return err
	})
	if err != nil {
		return fetched{}, err
	}

	snap, err := signal.Compute(t.opts.Signal, candles)
	if err != nil {
		return fetched{}, err
	}
	return fetched{bar: candles[len(candles)-1], snap: snap}, nil
}

// exitDelisted liquidates positions whose market vanished from the
// exchange listing, using the last cached price.
func (t *Trader) exitDelisted(ctx context.Context, tickers []market.Ticker) error {
	listed := make(map[string]bool, len(tickers))
	for _, tk := range tickers {
		listed[tk.Market] = true
	}

	for _, ps := range t.engine.OpenPositions() {
		if listed[ps.Instrument] {
			continue
		}
		price, ok := t.prices.Last(ps.Instrument)
		if !ok {
			t.log.Errorw("delisted instrument has no known price, keeping position",
				"instrument", ps.Instrument)
			continue
		}
		t.log.Warnw("instrument delisted, forcing exit",
			"instrument", ps.Instrument, "price", price)
		if err := t.engine.ForceExit(ctx, ps.Instrument, price, t.clock()); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trader) equityNow(tickers []market.Ticker) journal.EquitySnapshot {
	prices := make(map[string]float64, len(tickers))
	for _, tk := range tickers {
		prices[tk.Market] = tk.TradePrice
	}
	snap := t.engine.Equity(prices)
	snap.Time = t.clock()
	return snap
}

// snapshot persists the session. The round counter and candidate
// window move every round, so the snapshot is rewritten even when no
// trade happened; the write is atomic and small.
func (t *Trader) snapshot() error {
	es := t.engine.Snapshot()
	return t.store.Save(state.Snapshot{
		UpdatedAt:  t.clock(),
		Cash:       es.Cash,
		Positions:  es.Positions,
		Candidates: t.window.Pending(),
		Round:      t.round,
	})
}

// shutdown liquidates everything at the last known prices, writes a
// final snapshot, and logs the session summary.
func (t *Trader) shutdown() error {
	// The run context is gone; give the exits their own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	last := make(map[string]float64)
	for _, ps := range t.engine.OpenPositions() {
		if price, ok := t.prices.Last(ps.Instrument); ok {
			last[ps.Instrument] = price
		}
	}

	skipped, err := t.engine.ForceExitAll(ctx, last, t.clock())
	if err != nil {
		t.log.Errorw("forced liquidation failed", "error", err)
	}
	for _, instr := range skipped {
		t.log.Errorw("no price for forced exit, position left open", "instrument", instr)
	}

	if err := t.snapshot(); err != nil {
		t.log.Errorw("final snapshot failed", "error", err)
	}

	t.log.Infow("live loop stopped",
		"rounds", t.round,
		"cash", t.engine.Cash(),
		"open_positions", len(t.engine.OpenPositions()),
	)
	return t.journal.Close()
}

func (t *Trader) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}
