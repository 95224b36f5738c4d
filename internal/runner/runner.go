// Package runner drives a strategy against a broker on its bar cadence.
// The live Runner paces itself on wall-clock bar boundaries; the
// BacktestRunner replays the same cycle against a virtual clock. Strategy
// code cannot tell the two apart.
package runner

import (
	"context"
	"sync"
	"time"

	"github.com/wonny/tides/internal/broker"
	"github.com/wonny/tides/internal/journal"
	"github.com/wonny/tides/internal/strategy"
	"github.com/wonny/tides/pkg/logger"
	"github.com/wonny/tides/pkg/timeutil"
)

// drainTimeout bounds how long shutdown waits for open orders to resolve.
const drainTimeout = 30 * time.Second

// Runner executes one strategy live.
type Runner struct {
	broker  broker.Broker
	strat   strategy.Strategy
	journal *journal.Journal
	logger  *logger.Logger

	stopCh     chan struct{}
	stopOnce   sync.Once
	finishOnce sync.Once
}

// New creates a live runner. The journal may be nil to run without
// persistence.
func New(b broker.Broker, s strategy.Strategy, j *journal.Journal, log *logger.Logger) *Runner {
	return &Runner{
		broker:  b,
		strat:   s,
		journal: j,
		logger:  log.WithField("strategy", s.Name()),
		stopCh:  make(chan struct{}),
	}
}

// Stop asks the run loop to exit after the current cycle. Safe to call
// more than once and from any goroutine.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// finishedOrders journals and forwards terminal fills.
type finishedOrders struct{ r *Runner }

func (f finishedOrders) OnFinishedOrder(o *broker.Order) {
	if f.r.journal != nil {
		if err := f.r.journal.AppendOrder(o); err != nil {
			f.r.logger.WithError(err).Error("Order journal write failed")
		}
	}
	f.r.strat.OnFinishedOrder(o)
}

// Run executes the strategy until Stop or a fatal error. Finalization
// runs exactly once on every exit path.
func (r *Runner) Run(ctx context.Context) error {
	defer r.finish(ctx)

	if err := r.broker.WaitReady(ctx); err != nil {
		return err
	}

	r.broker.Observe(r.strat.Name(), finishedOrders{r})

	if r.journal != nil {
		snap, err := r.journal.LoadLastSnapshot()
		if err != nil {
			return err
		}
		if snap != nil {
			r.broker.Resume(r.strat.Name(), snap.Pos, snap.TS, snap.PortVal)
		}
	}

	if err := r.strat.Prepare(ctx); err != nil {
		return err
	}
	r.logger.Info("Strategy running")

	width := r.strat.Width()
	for {
		// decisions land on bar closes, including the very first one:
		// a process started mid-bar waits out the remainder
		stopped, err := r.sleepToBar(ctx, timeutil.NextBar(r.broker.Now(), width))
		if stopped || err != nil {
			return err
		}

		if err := r.strat.ManageOpenOrders(ctx); err != nil {
			return err
		}
		if err := r.strat.Rebalance(ctx); err != nil {
			return err
		}
	}
}

// sleepToBar waits until the given boundary in short hops so Stop is
// honored promptly.
func (r *Runner) sleepToBar(ctx context.Context, until time.Time) (bool, error) {
	for r.broker.Now().Before(until) {
		select {
		case <-r.stopCh:
			return true, nil
		case <-ctx.Done():
			return true, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	select {
	case <-r.stopCh:
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	default:
		return false, nil
	}
}

// finish drains open orders, takes a final snapshot, and lets the
// strategy clean up.
func (r *Runner) finish(ctx context.Context) {
	r.finishOnce.Do(func() {
		r.logger.Info("Finishing strategy run")

		if err := r.broker.CancelAllOrders(ctx, r.strat.Name()); err != nil {
			r.logger.WithError(err).Error("Cancel on shutdown failed")
		}
		deadline := time.Now().Add(drainTimeout)
		for len(r.broker.OpenOrders(r.strat.Name())) > 0 && time.Now().Before(deadline) {
			time.Sleep(time.Second)
		}
		if n := len(r.broker.OpenOrders(r.strat.Name())); n > 0 {
			r.logger.WithField("orders", n).Warn("Open orders remained after drain")
		}

		if err := r.snapshot(ctx); err != nil {
			r.logger.WithError(err).Error("Final snapshot failed")
		}
		if err := r.strat.OnExit(ctx); err != nil {
			r.logger.WithError(err).Error("Strategy exit hook failed")
		}
		r.logger.Info("Strategy run finished")
	})
}

// snapshot values the portfolio and persists the sample.
func (r *Runner) snapshot(ctx context.Context) error {
	name := r.strat.Name()
	if err := r.broker.SnapPortfolio(ctx, name); err != nil {
		return err
	}
	if r.journal == nil {
		return nil
	}
	val, err := r.broker.PortfolioValue(ctx, name)
	if err != nil {
		return err
	}
	return r.journal.AppendSnapshot(r.broker.Now(), val, r.broker.Position(name))
}

// Snapshot is the periodic persistence hook the scheduler calls.
func (r *Runner) Snapshot(ctx context.Context) error {
	return r.snapshot(ctx)
}
