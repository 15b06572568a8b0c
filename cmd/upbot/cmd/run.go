package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JHSEO0807/upbit-autotrade-bot-study/broker"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/config"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/engine"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/live"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/logging"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/resilience"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/state"
	"github.com/JHSEO0807/upbit-autotrade-bot-study/upbit"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the live trading loop",
	Long: `Run polls the exchange, ranks the KRW markets by daily change,
and trades the configured strategy until interrupted. On SIGINT or
SIGTERM every open position is liquidated at the last known price and
the session snapshot is written for the next start.

With live.dry_run enabled no orders reach the exchange; fills are
simulated locally with the configured fee and slippage.`,
	RunE: runLive,
}

var runConfigPath string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "config.yaml", "path to config file")
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return err
	}

	log := logging.New(cfg.Logging.Level, cfg.Logging.File)
	defer log.Sync()

	j, err := openJournal(cfg)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	retryPolicy := resilience.Policy{
		MaxAttempts: cfg.Live.MaxRetries,
		BaseDelay:   time.Duration(cfg.Live.RetryDelayMS) * time.Millisecond,
		Multiplier:  cfg.Live.BackoffFactor,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := upbit.NewClient(cfg.Exchange.BaseURL, cfg.Exchange.AccessKey, cfg.Exchange.SecretKey)

	// Dry runs trade the configured paper cash; real runs trade what the
	// account actually holds. A restored snapshot overrides either.
	initialCash := cfg.Account.InitialCash
	if !cfg.Live.DryRun {
		balances, err := client.Accounts(ctx)
		if err != nil {
			return fmt.Errorf("verify exchange credentials: %w", err)
		}
		for _, b := range balances {
			log.Infow("exchange balance",
				"currency", b.Currency, "available", b.Available, "locked", b.Locked)
		}
		initialCash = liveInitialCash(balances, cfg.Account.Currency, initialCash)
	}

	eng := engine.New(engineConfig(cfg), initialCash, j, log)
	if cfg.Live.DryRun {
		log.Infow("dry run, orders are simulated locally")
	} else {
		eng.SetExecutor(upbit.NewExecutor(client, retryPolicy))
	}

	trader := live.NewTrader(live.Options{
		Quote:           cfg.Account.Currency,
		TopN:            cfg.Universe.TopN,
		VolumeThreshold: cfg.Universe.VolumeThreshold,
		RefreshEvery:    time.Duration(cfg.Universe.RefreshMinutes) * time.Minute,
		PollEvery:       time.Duration(cfg.Live.PollSeconds) * time.Second,
		CandleUnit:      cfg.Live.CandleUnit,
		CandleCount:     cfg.Live.CandleCount,
		Workers:         cfg.Live.Workers,
		Retry:           retryPolicy,
		PriceTTL:        time.Duration(cfg.Live.PriceCacheTTLSec) * time.Second,
		RatePerMin:      cfg.Live.RateLimitPerMin,
		Signal:          signalConfig(cfg),
	}, client, eng, j, state.NewStore(cfg.Live.StatePath), log)

	if err := trader.Resume(); err != nil {
		return fmt.Errorf("resume session: %w", err)
	}

	return trader.Run(ctx)
}

// liveInitialCash picks the spendable balance in the quote currency, or
// the configured fallback when the account holds none of it.
func liveInitialCash(balances []broker.Balance, currency string, fallback float64) float64 {
	for _, b := range balances {
		if b.Currency == currency && b.Available > 0 {
			return b.Available
		}
	}
	return fallback
}
