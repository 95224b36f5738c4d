package broker

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/wonny/tides/internal/exchange/kraken"
	"github.com/wonny/tides/internal/market"
	"github.com/wonny/tides/internal/pricing"
	"github.com/wonny/tides/pkg/logger"
)

// ExchangeAPI is the REST surface the live broker needs. *kraken.Client
// implements it.
type ExchangeAPI interface {
	AddOrder(ctx context.Context, symbol, side, ordertype string, volume, price float64) (string, error)
	CancelOrder(ctx context.Context, txid string) error
	Balance(ctx context.Context) (map[string]float64, error)
}

// OrderStream is the private order-update feed the live broker consumes.
type OrderStream interface {
	Start(hooks kraken.OrderStreamHooks)
	Close()
}

// LiveBroker routes orders to the exchange over REST and tracks their
// fills from the private websocket stream.
//
// Two races shape its locking. Routing holds ackMu across the REST call
// and the id registration, so a stream update arriving before the
// response is processed blocks until the id is recorded. And no order is
// sent while the readiness gate is down: an unsubscribed stream would
// drop the acknowledgement silently.
type LiveBroker struct {
	*Book
	api    ExchangeAPI
	stream OrderStream

	ackMu sync.Mutex
	ready *gate

	// otherPos is the exchange balance not attributable to any strategy,
	// captured on the first reconciliation and held fixed after.
	otherPos    map[string]float64
	otherLoaded bool
}

// NewLiveBroker creates a live broker. Call Start to open the order stream
// before routing anything.
func NewLiveBroker(api ExchangeAPI, stream OrderStream, meta market.MetadataSource, src pricing.Source, log *logger.Logger) *LiveBroker {
	b := &LiveBroker{
		Book:   newBook(meta, src, "USD", log),
		api:    api,
		stream: stream,
		ready:  newGate(),
	}
	b.Book.router = b
	return b
}

// Start opens the private order stream and keeps it open until Close.
func (b *LiveBroker) Start() {
	b.stream.Start(kraken.OrderStreamHooks{
		OnUpdate: b.handleOrderUpdate,
		OnReady: func() {
			b.logger.Info("Order stream ready")
			b.ready.Set()
		},
		OnReset: func() {
			b.logger.Warn("Order stream reset, gating order flow")
			b.ready.Clear()
		},
	})
}

// Close shuts the order stream down.
func (b *LiveBroker) Close() {
	b.stream.Close()
}

// WaitReady blocks until the order stream subscription is acknowledged.
func (b *LiveBroker) WaitReady(ctx context.Context) error {
	return b.ready.Wait(ctx)
}

// route sends the order to the exchange. The ack lock spans the REST call
// and the exchange-id registration so the stream handler cannot observe
// the id before it is recorded.
func (b *LiveBroker) route(ctx context.Context, o *Order) error {
	if err := b.ready.Wait(ctx); err != nil {
		return fmt.Errorf("wait for order stream: %w", err)
	}

	b.ackMu.Lock()
	defer b.ackMu.Unlock()

	txid, err := b.api.AddOrder(ctx, o.Symbol, string(o.Side), string(o.Kind), o.Qty, o.LimitPrice)
	if err != nil {
		return err
	}
	o.ExchangeID = txid
	return nil
}

// cancel asks the exchange to cancel. The terminal update arrives on the
// stream; a failed cancel is logged and the order stays active.
func (b *LiveBroker) cancel(ctx context.Context, o *Order) error {
	if err := b.api.CancelOrder(ctx, o.ExchangeID); err != nil {
		b.logger.WithError(err).WithField("txid", o.ExchangeID).Error("Cancel failed")
		return err
	}
	return nil
}

// handleOrderUpdate applies one stream update. An unrecognized id is
// retried under the ack lock: if a route is in flight, taking the lock
// waits out the registration, and the second lookup finds the order.
func (b *LiveBroker) handleOrderUpdate(id string, u kraken.OrderUpdate) {
	o := b.orderByExchangeID(id)
	if o == nil {
		b.ackMu.Lock()
		o = b.orderByExchangeID(id)
		b.ackMu.Unlock()
	}
	if o == nil {
		b.logger.WithField("txid", id).Warn("Update for unrecognized order dropped")
		return
	}

	status := o.Status
	if u.Status != "" {
		status = normalizeStatus(u.Status)
	}
	qty := o.QtyFilled
	if u.VolExec != nil {
		qty = *u.VolExec
	}
	ntn := o.NtnFilled
	if u.Cost != nil {
		ntn = *u.Cost
	}
	avgPx := o.AvgPx
	if u.AvgPrice != nil {
		avgPx = *u.AvgPrice
	}
	fee := o.Fee
	if u.Fee != nil {
		fee = *u.Fee
	}

	notify := b.processFill(o, status, qty, ntn, avgPx, fee)
	if err := b.SnapPortfolio(context.Background(), o.Strategy); err != nil {
		b.logger.WithError(err).WithField("strategy", o.Strategy).Error("Portfolio snapshot failed")
	}
	if notify != nil {
		notify.OnFinishedOrder(o)
	}
}

// normalizeStatus maps exchange lifecycle states onto the book's.
func normalizeStatus(s string) Status {
	switch s {
	case "pending":
		return StatusNew
	case "expired":
		return StatusCanceled
	default:
		return Status(s)
	}
}

// AlignPositions reconciles the ledger against the exchange balance. On
// the first call the difference between the two is recorded as holdings
// outside the engine and excluded from later comparisons. Drift is logged
// per asset; execution is never halted over it.
func (b *LiveBroker) AlignPositions(ctx context.Context) error {
	balance, err := b.api.Balance(ctx)
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}

	internal := b.combinedPosition()

	if !b.otherLoaded {
		b.otherPos = make(map[string]float64)
		for asset, qty := range balance {
			b.otherPos[asset] = qty - internal[asset]
		}
		b.otherLoaded = true
		b.logger.WithField("assets", len(b.otherPos)).Info("Captured non-strategy holdings baseline")
	}

	assets := make(map[string]struct{})
	for a := range balance {
		assets[a] = struct{}{}
	}
	for a := range internal {
		assets[a] = struct{}{}
	}
	for a := range b.otherPos {
		assets[a] = struct{}{}
	}

	matched := true
	for asset := range assets {
		dec := 8
		if d, ok := b.meta.AssetDecimals(asset); ok {
			dec = d
		}
		// compare slightly coarser than the exchange's own precision
		have := roundTo(balance[asset], dec-2)
		want := roundTo(internal[asset]+b.otherPos[asset], dec-2)
		if have != want {
			matched = false
			b.logger.WithFields(map[string]interface{}{
				"asset":    asset,
				"exchange": have,
				"ledger":   want,
			}).WithError(ErrPositionMismatch).Error("Position drift detected")
		}
	}
	if matched {
		b.logger.Info("Positions match exchange")
	}
	return nil
}

func roundTo(v float64, places int) float64 {
	if places < 0 {
		places = 0
	}
	scale := math.Pow10(places)
	return math.Round(v*scale) / scale
}
