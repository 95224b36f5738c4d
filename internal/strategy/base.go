package strategy

import (
	"context"
	"math"
	"time"

	"github.com/wonny/tides/internal/broker"
	"github.com/wonny/tides/internal/pricing"
	"github.com/wonny/tides/pkg/logger"
)

// Base carries the broker surface a strategy trades through. Embed it, set
// the name and bar width, and implement Rebalance; the other Strategy
// hooks default to no-ops here.
type Base struct {
	name   string
	width  time.Duration
	broker broker.Broker
	logger *logger.Logger
}

// NewBase creates the embeddable strategy core.
func NewBase(name string, width time.Duration) Base {
	return Base{name: name, width: width, logger: logger.Nop()}
}

// Bind attaches the broker and logger. The runner calls this before
// Prepare.
func (b *Base) Bind(br broker.Broker, log *logger.Logger) {
	b.broker = br
	b.logger = log.WithField("strategy", b.name)
}

func (b *Base) Name() string                               { return b.name }
func (b *Base) Width() time.Duration                       { return b.width }
func (b *Base) Prepare(ctx context.Context) error          { return nil }
func (b *Base) ManageOpenOrders(ctx context.Context) error { return nil }
func (b *Base) OnFinishedOrder(o *broker.Order)            {}
func (b *Base) OnExit(ctx context.Context) error           { return nil }

// Broker exposes the bound broker for hooks that need the full surface.
func (b *Base) Broker() broker.Broker { return b.broker }

// Logger returns the strategy-scoped logger.
func (b *Base) Logger() *logger.Logger { return b.logger }

// Now returns the broker clock, virtual in a backtest.
func (b *Base) Now() time.Time { return b.broker.Now() }

// CreateOrder places an order, rounding quantity and price to the
// instrument's precision. Orders below the exchange minimum are skipped
// with a warning rather than bounced by the exchange.
func (b *Base) CreateOrder(ctx context.Context, symbol string, qty float64, side broker.Side, limitPrice float64) (*broker.Order, error) {
	info, err := b.broker.Meta().PairInfo(symbol)
	if err != nil {
		return nil, err
	}

	qty = roundTo(qty, info.LotDecimals)
	limitPrice = roundTo(limitPrice, info.PairDecimals)

	if qty < info.OrderMin || qty == 0 {
		b.logger.WithFields(map[string]interface{}{
			"symbol": symbol,
			"qty":    qty,
			"min":    info.OrderMin,
		}).Warn("Order below exchange minimum, skipped")
		return nil, nil
	}

	return b.broker.CreateOrder(ctx, broker.OrderRequest{
		Strategy:   b.name,
		Symbol:     symbol,
		Qty:        qty,
		Side:       side,
		LimitPrice: limitPrice,
	})
}

// TradeToTarget moves the strategy's base-asset position to the target
// quantity with one market order.
func (b *Base) TradeToTarget(ctx context.Context, symbol string, target float64) (*broker.Order, error) {
	info, err := b.broker.Meta().PairInfo(symbol)
	if err != nil {
		return nil, err
	}

	delta := target - b.Position()[info.Base]
	if delta == 0 {
		return nil, nil
	}
	side := broker.SideBuy
	if delta < 0 {
		side = broker.SideSell
	}
	return b.CreateOrder(ctx, symbol, math.Abs(delta), side, 0)
}

// CancelOrder cancels this strategy's orders carrying a custom id.
func (b *Base) CancelOrder(ctx context.Context, customID string) error {
	return b.broker.CancelOrder(ctx, b.name, customID)
}

// CancelAllOrders cancels every open order of this strategy.
func (b *Base) CancelAllOrders(ctx context.Context) error {
	return b.broker.CancelAllOrders(ctx, b.name)
}

// OpenOrders returns this strategy's working orders.
func (b *Base) OpenOrders() []*broker.Order {
	return b.broker.OpenOrders(b.name)
}

// Position returns the strategy's asset holdings.
func (b *Base) Position() map[string]float64 {
	return b.broker.Position(b.name)
}

// PortfolioValue marks the strategy's holdings to market.
func (b *Base) PortfolioValue(ctx context.Context) (float64, error) {
	return b.broker.PortfolioValue(ctx, b.name)
}

// CurrentPrice returns the last trade price of a symbol.
func (b *Base) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return b.broker.Pricing().CurrentPrice(ctx, symbol)
}

// LastNBars returns the last n closed bars at the strategy's width,
// skipping the most recent lag bars.
func (b *Base) LastNBars(ctx context.Context, symbol string, n, lag int) ([]pricing.Bar, error) {
	return b.broker.Pricing().LastNBars(ctx, symbol, n, b.width, lag)
}

func roundTo(v float64, places int) float64 {
	if places <= 0 {
		return math.Round(v)
	}
	scale := math.Pow10(places)
	return math.Round(v*scale) / scale
}
