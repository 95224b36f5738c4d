package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/tides/internal/api"
	"github.com/wonny/tides/internal/broker"
	"github.com/wonny/tides/internal/exchange/kraken"
	"github.com/wonny/tides/internal/journal"
	"github.com/wonny/tides/internal/pricing"
	"github.com/wonny/tides/internal/runner"
	"github.com/wonny/tides/internal/scheduler"
	"github.com/wonny/tides/internal/strategy"
	"github.com/wonny/tides/pkg/config"
	"github.com/wonny/tides/pkg/httputil"
	"github.com/wonny/tides/pkg/logger"
	"github.com/wonny/tides/pkg/redis"
	"github.com/wonny/tides/pkg/timeutil"
)

// liveCmd represents the live command
var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Run strategies against the exchange",
}

var (
	liveRunCmd = &cobra.Command{
		Use:   "run",
		Short: "Run a strategy live",
		Long: `Streams order updates and trade prints from Kraken and drives the
strategy once per bar. Positions and PnL persist to the data directory
and resume on restart. SIGINT or SIGTERM stops the run after draining
open orders.

Example:
  go run ./cmd/tides live run --freq 1h --symbol BTC/USD`,
		RunE: runLive,
	}

	// Flags
	liveFreq     string
	liveSymbol   string
	liveFast     int
	liveSlow     int
	liveNotional float64
)

func init() {
	rootCmd.AddCommand(liveCmd)
	liveCmd.AddCommand(liveRunCmd)

	liveRunCmd.Flags().StringVar(&liveFreq, "freq", "1h", "bar width (1m|5m|15m|30m|1h|4h|1d)")
	liveRunCmd.Flags().StringVar(&liveSymbol, "symbol", "BTC/USD", "instrument to trade")
	liveRunCmd.Flags().IntVar(&liveFast, "fast", 10, "fast moving average length")
	liveRunCmd.Flags().IntVar(&liveSlow, "slow", 30, "slow moving average length")
	liveRunCmd.Flags().Float64Var(&liveNotional, "notional", 10_000, "position size in quote currency")
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, closeLog := sessionLogger(cfg)
	defer closeLog()

	width, err := timeutil.ParseFreq(liveFreq)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// REST client and exchange metadata
	rest := kraken.NewClient(cfg.Kraken, httputil.New(log).WithRateLimit(1, 3), log)
	if err := rest.LoadMetadata(ctx); err != nil {
		return fmt.Errorf("load exchange metadata: %w", err)
	}

	// shared ticker cache, degraded to a no-op when redis is off
	rds, err := redis.New(cfg.Redis)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, continuing without cache")
		rds = redis.Disabled()
	}
	defer rds.Close()

	// pricing: trade stream first, cache and REST behind it
	source := pricing.NewLiveSource(rest, redis.NewCache(rds, "tides"), log)
	marketStream := kraken.NewMarketStream(cfg.Kraken, log)
	if err := source.AttachStream(marketStream, liveSymbol); err != nil {
		log.WithError(err).Warn("Trade subscription deferred until stream connects")
	}
	defer marketStream.Close()

	// broker on the private order stream
	orderStream := kraken.NewOrderStream(cfg.Kraken, rest, log)
	live := broker.NewLiveBroker(rest, orderStream, rest, source, log)
	live.Start()
	defer live.Close()

	strat := strategy.NewMACross("macross", liveSymbol, width, liveFast, liveSlow, liveNotional)
	strat.Bind(live, log)

	jnl, err := journal.New(cfg.DataDir, strat.Name(), log)
	if err != nil {
		return err
	}

	run := runner.New(live, strat, jnl, log)

	// periodic snapshots and reconciliation
	sched := scheduler.New(log)
	if err := sched.AddJob(scheduler.SnapshotJob(run.Snapshot)); err != nil {
		return err
	}
	if err := sched.AddJob(scheduler.ReconcileJob(live.AlignPositions)); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	// status API
	if cfg.APIEnabled {
		status := api.NewStatusHandler(live, []string{strat.Name()}, log)
		srv := api.New(cfg, log, api.NewRouter(status, log))
		go func() {
			if err := srv.Start(); err != nil {
				log.WithError(err).Error("API server stopped")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	// stop on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("Stop requested")
		run.Stop()
	}()

	return run.Run(ctx)
}

// sessionLogger tees the live session log into the data directory so a
// crashed run leaves a record next to its journal. Falls back to stdout
// when the directory is not writable.
func sessionLogger(cfg *config.Config) (*logger.Logger, func()) {
	noop := func() {}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return logger.New(cfg.LogLevel, cfg.LogFormat), noop
	}
	f, err := os.OpenFile(filepath.Join(cfg.DataDir, "session.log"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return logger.New(cfg.LogLevel, cfg.LogFormat), noop
	}
	log := logger.NewWriter(io.MultiWriter(os.Stdout, f), cfg.LogLevel)
	return log, func() { f.Close() }
}
