package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "upbot",
	Short: "Rule-based autotrading bot for Upbit KRW markets",
	Long: `Upbot trades Upbit KRW markets with a fixed rule set: budgeted
entries, a partial-exit profit ladder, a hard stop-loss, and a
trend-reversal exit.

It provides:
  - Backtesting against historical minute candles (CSV or fetched)
  - A live polling loop over the top daily gainers
  - SQLite or CSV trade journaling with equity snapshots
  - Crash-safe session snapshots for restart recovery`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
