package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wonny/tides/internal/market"
	"github.com/wonny/tides/internal/pricing"
	"github.com/wonny/tides/pkg/logger"
)

// OrderObserver receives terminal fills for one strategy.
type OrderObserver interface {
	OnFinishedOrder(o *Order)
}

// Broker is the execution surface strategies and the runner see. The
// simulated and live brokers are interchangeable behind it.
type Broker interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	Route(ctx context.Context, o *Order) error
	CancelOrder(ctx context.Context, strategy, customID string) error
	CancelAllOrders(ctx context.Context, strategy string) error

	OpenOrders(strategy string) []*Order
	Orders(strategy string) []*Order
	Position(strategy string) map[string]float64
	PortfolioValue(ctx context.Context, strategy string) (float64, error)
	SnapPortfolio(ctx context.Context, strategy string) error
	PortfolioSeries(strategy string) []ValuePoint
	PositionSeries(strategy string) []PositionPoint

	Observe(strategy string, obs OrderObserver)
	Resume(strategy string, pos map[string]float64, ts time.Time, portVal float64)

	Pricing() pricing.Source
	Meta() market.MetadataSource
	Now() time.Time
	Quote() string
	WaitReady(ctx context.Context) error
}

// OrderRequest describes a trade intent. A zero LimitPrice means a market
// order. NoRoute leaves the order unsent so the caller can inspect it.
type OrderRequest struct {
	Strategy   string
	Symbol     string
	Qty        float64
	Side       Side
	LimitPrice float64
	CustomID   string
	NoRoute    bool
}

// ValuePoint is one portfolio valuation sample.
type ValuePoint struct {
	TS    time.Time
	Value float64
}

// PositionPoint is one position snapshot.
type PositionPoint struct {
	TS  time.Time
	Pos map[string]float64
}

// router is the mode-specific half of order handling.
type router interface {
	route(ctx context.Context, o *Order) error
	cancel(ctx context.Context, o *Order) error
}

// Book holds the bookkeeping shared by both broker modes: the order lists,
// the position ledger, portfolio history and observer registry. One mutex
// serializes every mutation, so fill application from stream callbacks and
// order creation from strategy code never interleave.
type Book struct {
	logger *logger.Logger
	meta   market.MetadataSource
	src    pricing.Source
	router router

	quote       string
	backtesting bool
	barWidth    time.Duration
	now         func() time.Time

	mu        sync.Mutex
	nextID    int64
	active    []*Order
	archived  []*Order
	ledger    *Ledger
	observers map[string]OrderObserver
	valSeries map[string][]ValuePoint
	posSeries map[string][]PositionPoint
}

func newBook(meta market.MetadataSource, src pricing.Source, quote string, log *logger.Logger) *Book {
	b := &Book{
		logger:    log,
		meta:      meta,
		src:       src,
		quote:     quote,
		now:       func() time.Time { return time.Now().UTC() },
		ledger:    NewLedger(),
		observers: make(map[string]OrderObserver),
		valSeries: make(map[string][]ValuePoint),
		posSeries: make(map[string][]PositionPoint),
	}
	return b
}

// Pricing returns the price source orders are valued against.
func (b *Book) Pricing() pricing.Source { return b.src }

// Meta returns the exchange metadata source.
func (b *Book) Meta() market.MetadataSource { return b.meta }

// Now returns the broker clock: wall time live, the virtual bar clock in a
// backtest.
func (b *Book) Now() time.Time { return b.now() }

// Quote returns the valuation currency.
func (b *Book) Quote() string { return b.quote }

// WaitReady is a no-op for book-only brokers; the live broker overrides it.
func (b *Book) WaitReady(ctx context.Context) error { return nil }

// Observe registers the observer for a strategy's terminal fills. One
// observer per strategy; a second registration replaces the first.
func (b *Book) Observe(strategy string, obs OrderObserver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers[strategy] = obs
}

// Resume seeds a strategy's positions and last known valuation from a
// journal, so a restarted live run continues its PnL series.
func (b *Book) Resume(strategy string, pos map[string]float64, ts time.Time, portVal float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ledger.Seed(strategy, pos)
	if !ts.IsZero() {
		b.valSeries[strategy] = append(b.valSeries[strategy], ValuePoint{TS: ts, Value: portVal})
		b.posSeries[strategy] = append(b.posSeries[strategy], PositionPoint{TS: ts, Pos: b.ledger.Position(strategy)})
	}
}

// CreateOrder builds an order from a trade intent, stamping the creation
// time and arrival price, and routes it unless the request says otherwise.
func (b *Book) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.Qty <= 0 {
		return nil, fmt.Errorf("%w: non-positive qty %v", ErrOrderRejected, req.Qty)
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return nil, fmt.Errorf("%w: invalid side %q", ErrOrderRejected, req.Side)
	}

	info, err := b.meta.PairInfo(req.Symbol)
	if err != nil {
		return nil, err
	}

	arrival, err := b.src.CurrentPrice(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("arrival price for %s: %w", req.Symbol, err)
	}

	kind := KindMarket
	if req.LimitPrice > 0 {
		kind = KindLimit
	}

	o := &Order{
		CustomID:   req.CustomID,
		Strategy:   req.Strategy,
		Symbol:     req.Symbol,
		Qty:        req.Qty,
		Side:       req.Side,
		Kind:       kind,
		LimitPrice: req.LimitPrice,
		CreatedAt:  b.now(),
		ArrivalPx:  arrival,
		Base:       info.Base,
		Quote:      info.Quote,
		Status:     StatusNew,
	}

	if req.NoRoute {
		return o, nil
	}
	if err := b.Route(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Route registers the order in the active book and hands it to the
// mode-specific execution path. In a backtest the order is first checked
// against the instrument's history start: a symbol whose series has not
// begun yet cannot be routed, because the series opens on a bar close and
// the first open is unknowable.
func (b *Book) Route(ctx context.Context, o *Order) error {
	if b.backtesting {
		start, ok, err := b.src.PriceStart(ctx, o.Symbol)
		if err != nil {
			return fmt.Errorf("price start for %s: %w", o.Symbol, err)
		}
		if !ok || b.now().Before(start.Add(b.barWidth)) {
			return fmt.Errorf("%w: %s has no price history at %s", ErrPricingUnavailable, o.Symbol, b.now().Format(time.RFC3339))
		}
	}

	b.mu.Lock()
	b.nextID++
	o.ID = b.nextID
	b.active = append(b.active, o)
	b.mu.Unlock()

	if err := b.router.route(ctx, o); err != nil {
		b.logger.WithError(err).WithField("symbol", o.Symbol).Error("Order rejected")
		return fmt.Errorf("%w: %s: %v", ErrOrderRejected, o, err)
	}
	b.logger.WithFields(map[string]interface{}{
		"strategy": o.Strategy,
		"symbol":   o.Symbol,
		"side":     o.Side,
		"qty":      o.Qty,
	}).Info("Order routed")
	return nil
}

// CancelOrder cancels the active orders matching a strategy and custom id.
func (b *Book) CancelOrder(ctx context.Context, strategy, customID string) error {
	for _, o := range b.OpenOrders(strategy) {
		if o.CustomID != customID {
			continue
		}
		if err := b.router.cancel(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

// CancelAllOrders cancels every active order of a strategy.
func (b *Book) CancelAllOrders(ctx context.Context, strategy string) error {
	for _, o := range b.OpenOrders(strategy) {
		if err := b.router.cancel(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

// OpenOrders returns a snapshot of the strategy's active orders.
func (b *Book) OpenOrders(strategy string) []*Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Order, 0, len(b.active))
	for _, o := range b.active {
		if o.Strategy == strategy {
			out = append(out, o)
		}
	}
	return out
}

// Orders returns active and archived orders of a strategy, oldest first.
func (b *Book) Orders(strategy string) []*Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Order
	for _, o := range b.archived {
		if o.Strategy == strategy {
			out = append(out, o)
		}
	}
	for _, o := range b.active {
		if o.Strategy == strategy {
			out = append(out, o)
		}
	}
	return out
}

// activeOrders returns a snapshot of every active order.
func (b *Book) activeOrders() []*Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Order, len(b.active))
	copy(out, b.active)
	return out
}

// orderByExchangeID scans the active book for an exchange-assigned id.
func (b *Book) orderByExchangeID(id string) *Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range b.active {
		if o.ExchangeID == id {
			return o
		}
	}
	return nil
}

// Position returns a copy of the strategy's positions.
func (b *Book) Position(strategy string) map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.Position(strategy)
}

// combinedPosition sums positions across strategies, for reconciliation.
func (b *Book) combinedPosition() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.Combined()
}

// PortfolioValue marks every position to the current price and returns the
// total in the quote currency.
func (b *Book) PortfolioValue(ctx context.Context, strategy string) (float64, error) {
	pos := b.Position(strategy)
	val := 0.0
	for asset, qty := range pos {
		if asset == b.quote {
			val += qty
			continue
		}
		px, err := b.src.CurrentPrice(ctx, asset+"/"+b.quote)
		if err != nil {
			return 0, fmt.Errorf("value %s: %w", asset, err)
		}
		val += qty * px
	}
	return val, nil
}

// SnapPortfolio appends a valuation and position sample at the current
// broker time. A second snapshot at the same timestamp overwrites the
// first, so each series stays strictly increasing in time.
func (b *Book) SnapPortfolio(ctx context.Context, strategy string) error {
	val, err := b.PortfolioValue(ctx, strategy)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	ts := b.now()

	vs := b.valSeries[strategy]
	if n := len(vs); n > 0 && vs[n-1].TS.Equal(ts) {
		vs[n-1].Value = val
	} else {
		vs = append(vs, ValuePoint{TS: ts, Value: val})
	}
	b.valSeries[strategy] = vs

	ps := b.posSeries[strategy]
	pos := b.ledger.Position(strategy)
	if n := len(ps); n > 0 && ps[n-1].TS.Equal(ts) {
		ps[n-1].Pos = pos
	} else {
		ps = append(ps, PositionPoint{TS: ts, Pos: pos})
	}
	b.posSeries[strategy] = ps
	return nil
}

// PortfolioSeries returns the strategy's valuation history.
func (b *Book) PortfolioSeries(strategy string) []ValuePoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ValuePoint, len(b.valSeries[strategy]))
	copy(out, b.valSeries[strategy])
	return out
}

// PositionSeries returns the strategy's position snapshot history.
func (b *Book) PositionSeries(strategy string) []PositionPoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PositionPoint, len(b.posSeries[strategy]))
	copy(out, b.posSeries[strategy])
	return out
}

// processFill is the single path every order update flows through. It
// applies the cumulative update, books the incremental fill into the
// ledger, archives terminal orders, and reports whether the order just
// closed so the caller can notify its observer outside the lock.
func (b *Book) processFill(o *Order, status Status, qtyFilled, ntnFilled, avgPx, fee float64) (notify OrderObserver) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fill := o.ApplyFill(status, qtyFilled, ntnFilled, avgPx, fee)
	if fill != nil {
		b.ledger.Apply(o.Strategy, o.Base, o.Quote, o.Side, fill.Qty, fill.Ntn, fill.Fee)
		b.logger.WithFields(map[string]interface{}{
			"strategy": o.Strategy,
			"symbol":   o.Symbol,
			"side":     o.Side,
			"qty":      fill.Qty,
			"avg_px":   avgPx,
		}).Debug("Fill booked")
	}

	if o.Status.Terminal() {
		o.EndedAt = b.now()
		for i, a := range b.active {
			if a == o {
				b.active = append(b.active[:i], b.active[i+1:]...)
				break
			}
		}
		b.archived = append(b.archived, o)
		if o.Status == StatusClosed {
			notify = b.observers[o.Strategy]
		}
	}
	return notify
}
