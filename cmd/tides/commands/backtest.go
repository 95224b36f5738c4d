package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/tides/internal/broker"
	"github.com/wonny/tides/internal/exchange/kraken"
	"github.com/wonny/tides/internal/pricing"
	"github.com/wonny/tides/internal/runner"
	"github.com/wonny/tides/internal/strategy"
	"github.com/wonny/tides/pkg/config"
	"github.com/wonny/tides/pkg/database"
	"github.com/wonny/tides/pkg/httputil"
	"github.com/wonny/tides/pkg/logger"
	"github.com/wonny/tides/pkg/timeutil"
)

// backtestCmd represents the backtest command
var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run strategies against historical bars",
}

var (
	backtestRunCmd = &cobra.Command{
		Use:   "run",
		Short: "Run a backtest over a date range",
		Long: `Replays a strategy bar by bar between two dates.

Bars come from the database when one is configured, falling back to the
exchange's public OHLC endpoint otherwise.

Example:
  go run ./cmd/tides backtest run --from 2026-01-01 --to 2026-06-30 --freq 1h
  go run ./cmd/tides backtest run --from 2026-01-01 --freq 4h --symbol ETH/USD`,
		RunE: runBacktest,
	}

	// Flags
	backtestFrom     string
	backtestTo       string
	backtestFreq     string
	backtestSymbol   string
	backtestFast     int
	backtestSlow     int
	backtestNotional float64
	backtestTaker    float64
	backtestMaker    float64
	backtestSlip     float64
)

func init() {
	rootCmd.AddCommand(backtestCmd)
	backtestCmd.AddCommand(backtestRunCmd)

	backtestRunCmd.Flags().StringVar(&backtestFrom, "from", "", "start date (YYYY-MM-DD, required)")
	backtestRunCmd.Flags().StringVar(&backtestTo, "to", "", "end date (YYYY-MM-DD, default: today)")
	backtestRunCmd.Flags().StringVar(&backtestFreq, "freq", "1h", "bar width (1m|5m|15m|30m|1h|4h|1d)")
	backtestRunCmd.Flags().StringVar(&backtestSymbol, "symbol", "BTC/USD", "instrument to trade")
	backtestRunCmd.Flags().IntVar(&backtestFast, "fast", 10, "fast moving average length")
	backtestRunCmd.Flags().IntVar(&backtestSlow, "slow", 30, "slow moving average length")
	backtestRunCmd.Flags().Float64Var(&backtestNotional, "notional", 10_000, "position size in quote currency")
	backtestRunCmd.Flags().Float64Var(&backtestTaker, "taker-fee", 0, "taker fee rate (default from env)")
	backtestRunCmd.Flags().Float64Var(&backtestMaker, "maker-fee", 0, "maker fee rate (default from env)")
	backtestRunCmd.Flags().Float64Var(&backtestSlip, "slip", 0, "slippage rate (default from env)")

	backtestRunCmd.MarkFlagRequired("from")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	from, err := time.Parse("2006-01-02", backtestFrom)
	if err != nil {
		return fmt.Errorf("invalid start date: %w", err)
	}
	to := time.Now().UTC()
	if backtestTo != "" {
		to, err = time.Parse("2006-01-02", backtestTo)
		if err != nil {
			return fmt.Errorf("invalid end date: %w", err)
		}
	}
	width, err := timeutil.ParseFreq(backtestFreq)
	if err != nil {
		return err
	}

	simCfg := cfg.Backtest
	if backtestTaker > 0 {
		simCfg.TakerFee = backtestTaker
	}
	if backtestMaker > 0 {
		simCfg.MakerFee = backtestMaker
	}
	if backtestSlip > 0 {
		simCfg.Slippage = backtestSlip
	}

	ctx := context.Background()

	hist, err := loadHistory(ctx, cfg, log, backtestSymbol, width, from, to)
	if err != nil {
		return err
	}

	sim := broker.NewSimBroker(hist, nil, simCfg, log)
	strat := strategy.NewMACross("macross", backtestSymbol, width, backtestFast, backtestSlow, backtestNotional)
	strat.Bind(sim, log)

	if err := runner.NewBacktest(sim, strat, log).Run(ctx, from, to); err != nil {
		return err
	}

	series := sim.PortfolioSeries(strat.Name())
	if len(series) == 0 {
		fmt.Println("No bars in range")
		return nil
	}
	final := series[len(series)-1]
	fmt.Printf("Bars:      %d\n", len(series))
	fmt.Printf("Final PnL: %.2f %s\n", final.Value, sim.Quote())
	fmt.Printf("Orders:    %d\n", len(sim.Orders(strat.Name())))
	return nil
}

// loadHistory assembles the bar history for one symbol, preferring the
// database and filling it from the exchange when empty.
func loadHistory(ctx context.Context, cfg *config.Config, log *logger.Logger, symbol string, width time.Duration, from, to time.Time) (*pricing.History, error) {
	rest := kraken.NewClient(cfg.Kraken, httputil.New(log), log)

	// warm-up margin so the strategy has bars before the window opens
	fetchFrom := from.Add(-width * time.Duration(backtestSlow+5))

	if cfg.Database.URL != "" {
		db, err := database.New(cfg.Database)
		if err != nil {
			return nil, err
		}
		defer db.Close()

		repo := pricing.NewRepository(db, log)
		hist, err := pricing.LoadHistory(ctx, repo, []string{symbol}, width, fetchFrom, to)
		if err != nil {
			return nil, err
		}
		if _, ok, _ := hist.PriceStart(ctx, symbol); ok {
			return hist, nil
		}

		log.WithField("symbol", symbol).Info("No stored bars, fetching from exchange")
		bars, err := fetchBars(ctx, rest, symbol, width, fetchFrom)
		if err != nil {
			return nil, err
		}
		if err := repo.SaveBars(ctx, symbol, width, bars); err != nil {
			log.WithError(err).Warn("Storing fetched bars failed")
		}
		hist.SetBars(symbol, bars)
		return hist, nil
	}

	bars, err := fetchBars(ctx, rest, symbol, width, fetchFrom)
	if err != nil {
		return nil, err
	}
	hist := pricing.NewHistory(width)
	hist.SetBars(symbol, bars)
	return hist, nil
}

// fetchBars pulls bars over the public OHLC endpoint.
func fetchBars(ctx context.Context, rest *kraken.Client, symbol string, width time.Duration, since time.Time) ([]pricing.Bar, error) {
	if err := rest.LoadMetadata(ctx); err != nil {
		return nil, err
	}
	candles, err := rest.OHLC(ctx, symbol, timeutil.FreqMinutes(width), since)
	if err != nil {
		return nil, err
	}

	bars := make([]pricing.Bar, 0, len(candles))
	for _, c := range candles {
		bars = append(bars, pricing.Bar{
			OpenTime: c.OpenTime,
			Open:     c.Open,
			High:     c.High,
			Low:      c.Low,
			Close:    c.Close,
			Volume:   c.Volume,
		})
	}
	return bars, nil
}
