package strategy

import (
	"context"
	"time"

	"github.com/wonny/tides/internal/broker"
)

// Strategy is the trading logic the runner drives. Rebalance runs once per
// bar; the remaining hooks have no-op defaults on Base, so a strategy only
// implements what it uses.
type Strategy interface {
	Name() string
	Width() time.Duration

	// Prepare runs once before the first bar, after broker binding.
	Prepare(ctx context.Context) error

	// Rebalance is the per-bar decision hook.
	Rebalance(ctx context.Context) error

	// ManageOpenOrders runs before Rebalance each bar, for working
	// resting orders.
	ManageOpenOrders(ctx context.Context) error

	// OnFinishedOrder fires when one of this strategy's orders fully
	// fills.
	OnFinishedOrder(o *broker.Order)

	// OnExit runs once when the run finishes.
	OnExit(ctx context.Context) error
}
