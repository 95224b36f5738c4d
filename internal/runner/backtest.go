package runner

import (
	"context"
	"time"

	"github.com/wonny/tides/internal/broker"
	"github.com/wonny/tides/internal/strategy"
	"github.com/wonny/tides/pkg/logger"
	"github.com/wonny/tides/pkg/timeutil"
)

// BacktestRunner replays the live cycle bar by bar against a simulated
// broker.
type BacktestRunner struct {
	broker *broker.SimBroker
	strat  strategy.Strategy
	logger *logger.Logger
}

// NewBacktest creates a backtest runner.
func NewBacktest(b *broker.SimBroker, s strategy.Strategy, log *logger.Logger) *BacktestRunner {
	return &BacktestRunner{
		broker: b,
		strat:  s,
		logger: log.WithField("strategy", s.Name()),
	}
}

// Run replays bars from `from` to `to`. The window snaps inward to bar
// boundaries and never extends past the last completed wall-clock bar.
//
// Each bar runs two fill passes. The first, before the strategy acts,
// fills orders left from earlier bars against the bar that just closed.
// The second, after Rebalance, fills only market orders, so an order
// placed at the close executes at that close rather than waiting a bar.
func (r *BacktestRunner) Run(ctx context.Context, from, to time.Time) error {
	width := r.strat.Width()
	start := timeutil.CeilBar(from, width)
	end := timeutil.LastBar(to, width)
	if last := timeutil.LastBar(time.Now().UTC(), width); end.After(last) {
		end = last
	}

	r.broker.Observe(r.strat.Name(), stratObserver{r.strat})

	// park the clock one bar before the window so Prepare sees no bars
	// of the run itself
	r.broker.History().SetNow(start.Add(-width))
	if err := r.strat.Prepare(ctx); err != nil {
		return err
	}

	r.logger.WithFields(map[string]interface{}{
		"from": start,
		"to":   end,
	}).Info("Backtest started")

	defer func() {
		if err := r.strat.OnExit(ctx); err != nil {
			r.logger.WithError(err).Error("Strategy exit hook failed")
		}
	}()

	for ts := start; !ts.After(end); ts = ts.Add(width) {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.broker.History().SetNow(ts)

		if err := r.broker.FillOrders(ctx, ""); err != nil {
			return err
		}
		if err := r.strat.ManageOpenOrders(ctx); err != nil {
			return err
		}
		if err := r.strat.Rebalance(ctx); err != nil {
			return err
		}
		if err := r.broker.FillOrders(ctx, broker.KindMarket); err != nil {
			return err
		}
		if err := r.broker.SnapPortfolio(ctx, r.strat.Name()); err != nil {
			return err
		}
	}

	r.logger.Info("Backtest finished")
	return nil
}

// stratObserver forwards terminal fills straight to the strategy; a
// backtest has no journal to feed.
type stratObserver struct{ s strategy.Strategy }

func (o stratObserver) OnFinishedOrder(ord *broker.Order) { o.s.OnFinishedOrder(ord) }
