package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/JHSEO0807/upbit-autotrade-bot-study/backtest"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/config"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/logging"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/market"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/upbit"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay historical candles through the trading rules",
	Long: `Backtest replays minute candles through the entry, ladder,
stop-loss, and trend-exit rules and prints a run summary.

Candles come either from a CSV file (time,open,high,low,close,volume)
or are fetched from the exchange for the last N days.

Example:
  upbot backtest -c config.yaml -m KRW-BTC --csv data/krw-btc-5m.csv
  upbot backtest -c config.yaml -m KRW-BTC --days 7 --save data/krw-btc-5m.csv`,
	RunE: runBacktestCmd,
}

var (
	btConfigPath string
	btMarket     string
	btCSVPath    string
	btDays       int
	btSavePath   string
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVarP(&btConfigPath, "config", "c", "config.yaml", "path to config file")
	backtestCmd.Flags().StringVarP(&btMarket, "market", "m", "KRW-BTC", "market to backtest")
	backtestCmd.Flags().StringVar(&btCSVPath, "csv", "", "candle CSV file; fetched from the exchange when empty")
	backtestCmd.Flags().IntVar(&btDays, "days", 7, "days of history to fetch when no CSV is given")
	backtestCmd.Flags().StringVar(&btSavePath, "save", "", "write fetched candles to this CSV path")
}

func runBacktestCmd(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(btConfigPath)
	if err != nil {
		return err
	}

	log := logging.New(cfg.Logging.Level, "")
	defer log.Sync()

	ctx := cmd.Context()
	candles, err := loadOrFetchCandles(ctx, cfg)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return fmt.Errorf("no candles to replay")
	}

	j, err := openJournal(cfg)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	runner := &backtest.Runner{
		Instrument:  btMarket,
		InitialCash: cfg.Account.InitialCash,
		Engine:      engineConfig(cfg),
		Signal:      signalConfig(cfg),
		Journal:     j,
		Log:         log,
	}

	fmt.Printf("Backtesting %s with strategy %s over %d candles\n",
		btMarket, cfg.Trading.Strategy, len(candles))

	res, err := runner.Run(ctx, candles)
	if err != nil {
		return err
	}

	fmt.Printf("\nBacktest Complete!\n")
	fmt.Printf("  Period:      %s .. %s\n",
		res.Start.Format(time.RFC3339), res.End.Format(time.RFC3339))
	fmt.Printf("  Initial:     %.0f %s\n", res.InitialCash, cfg.Account.Currency)
	fmt.Printf("  Final:       %.0f %s\n", res.FinalCash, cfg.Account.Currency)
	fmt.Printf("  Return:      %+.2f%%\n", res.ReturnPct)
	fmt.Printf("  Sell fills:  %d (%d wins, %.1f%% win rate)\n",
		res.Trades, res.Wins, res.WinRate)
	return nil
}

func loadOrFetchCandles(ctx context.Context, cfg *config.Config) ([]market.Candle, error) {
	if btCSVPath != "" {
		return backtest.LoadCSV(btCSVPath)
	}

	client := upbit.NewClient(cfg.Exchange.BaseURL, "", "")
	since := time.Now().UTC().AddDate(0, 0, -btDays)

	fmt.Printf("Fetching %d days of %d-minute candles for %s\n",
		btDays, cfg.Live.CandleUnit, btMarket)

	candles, err := client.CandlesSince(ctx, btMarket, cfg.Live.CandleUnit, since)
	if err != nil {
		return nil, fmt.Errorf("fetch candles: %w", err)
	}

	if btSavePath != "" {
		f, err := os.Create(btSavePath)
		if err != nil {
			return nil, fmt.Errorf("create candle file: %w", err)
		}
		defer f.Close()
		if err := backtest.WriteCandles(f, candles); err != nil {
			return nil, err
		}
		fmt.Printf("Saved %d candles to %s\n", len(candles), btSavePath)
	}
	return candles, nil
}
