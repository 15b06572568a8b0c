package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JHSEO0807/upbit-autotrade-bot-study/config"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/engine"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/journal"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/signal"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage bot configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE:  runConfigInit,
}

var configInitOut string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().StringVarP(&configInitOut, "out", "o", "config.yaml", "output path (.yaml or .json)")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOut); err != nil {
		return err
	}
	fmt.Printf("Wrote default configuration to %s\n", configInitOut)
	return nil
}

// engineConfig maps the file configuration onto the engine's rule
// parameters.
func engineConfig(cfg *config.Config) engine.Config {
	ladder := make([]engine.Rung, len(cfg.Trading.Ladder))
	for i, r := range cfg.Trading.Ladder {
		ladder[i] = engine.Rung{TriggerPct: r.TriggerPct, Fraction: r.Fraction}
	}
	return engine.Config{
		InvestRatio:  cfg.Trading.InvestRatio,
		FeeRate:      cfg.Trading.FeeRate,
		SlippageRate: cfg.Trading.SlippageRate,
		StopLossPct:  cfg.Trading.StopLossPct,
		Ladder:       ladder,
		TrendExit:    cfg.Trading.TrendExit,
		MaxHoldings:  cfg.Trading.MaxHoldings,
		MinOrderKRW:  cfg.Trading.MinOrderKRW,
	}
}

func signalConfig(cfg *config.Config) signal.Config {
	sc := signal.Defaults(cfg.Trading.Strategy)
	if cfg.Trading.BreakoutK > 0 {
		sc.RangeK = cfg.Trading.BreakoutK
	}
	return sc
}

func openJournal(cfg *config.Config) (journal.Journal, error) {
	switch cfg.Journal.Type {
	case "sqlite":
		return journal.NewSQLite(cfg.Journal.DBPath)
	case "csv":
		return journal.NewCSV(cfg.Journal.TradesFile, cfg.Journal.EquityFile)
	default:
		return nil, fmt.Errorf("unknown journal type %q", cfg.Journal.Type)
	}
}
