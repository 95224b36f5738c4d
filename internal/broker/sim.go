package broker

import (
	"context"

	"github.com/wonny/tides/internal/market"
	"github.com/wonny/tides/internal/pricing"
	"github.com/wonny/tides/pkg/config"
	"github.com/wonny/tides/pkg/logger"
)

// SimBroker executes orders against historical bars. It shares all
// bookkeeping with the live broker; only the execution path differs, so a
// strategy backtested here runs unchanged against the exchange.
type SimBroker struct {
	*Book
	hist     *pricing.History
	takerFee float64
	makerFee float64
	slippage float64
}

// NewSimBroker creates a simulated broker on top of a bar history. The
// history's virtual clock is the broker clock. Symbols resolve through
// naive pair splitting unless a metadata source is given.
func NewSimBroker(hist *pricing.History, meta market.MetadataSource, cfg config.BacktestConfig, log *logger.Logger) *SimBroker {
	if meta == nil {
		meta = market.SplitMetadata{}
	}
	b := &SimBroker{
		Book:     newBook(meta, hist, "USD", log),
		hist:     hist,
		takerFee: cfg.TakerFee,
		makerFee: cfg.MakerFee,
		slippage: cfg.Slippage,
	}
	b.Book.router = b
	b.Book.backtesting = true
	b.Book.barWidth = hist.Width()
	b.Book.now = hist.Now
	return b
}

// History exposes the bar history so a runner can drive the virtual
// clock.
func (b *SimBroker) History() *pricing.History { return b.hist }

// route assigns nothing beyond the book registration; simulated orders
// rest in the book until FillOrders visits them.
func (b *SimBroker) route(ctx context.Context, o *Order) error { return nil }

// cancel closes the order at its current fill state.
func (b *SimBroker) cancel(ctx context.Context, o *Order) error {
	if notify := b.processFill(o, StatusCanceled, o.QtyFilled, o.NtnFilled, o.AvgPx, o.Fee); notify != nil {
		notify.OnFinishedOrder(o)
	}
	return nil
}

// FillOrders walks the active book and fills what the bar that just closed
// allows. An empty kind visits every order. Fills are always whole: the
// simulation has no partial fills.
//
// An order placed before the current bar trades at that bar's open, one
// placed at the current close trades at the close. A resting limit fills
// at its limit price when the bar's range crosses it; a limit that is
// already marketable at the open fills at the open, but only on its first
// visit, while it is still new. Unfilled new orders become open.
func (b *SimBroker) FillOrders(ctx context.Context, kind Kind) error {
	for _, o := range b.activeOrders() {
		if kind != "" && o.Kind != kind {
			continue
		}

		bars, err := b.hist.LastNBars(ctx, o.Symbol, 1, b.barWidth, 0)
		if err != nil {
			return err
		}

		px := 0.0
		taker := true
		if len(bars) == 1 {
			bar := bars[0]
			atOpen := o.CreatedAt.Before(b.hist.Now())

			switch o.Kind {
			case KindMarket:
				if atOpen {
					px = bar.Open
				} else {
					px = bar.Close
				}
				px += px * b.slippage * o.Side.sign()
			case KindLimit:
				switch o.Side {
				case SideBuy:
					if o.Status == StatusNew && atOpen && o.LimitPrice >= bar.Open {
						px = bar.Open
					} else if o.LimitPrice >= bar.Low {
						px = o.LimitPrice
						taker = false
					}
				case SideSell:
					if o.Status == StatusNew && atOpen && o.LimitPrice <= bar.Open {
						px = bar.Open
					} else if o.LimitPrice <= bar.High {
						px = o.LimitPrice
						taker = false
					}
				}
			}
		}

		var notify OrderObserver
		if px > 0 {
			ntn := px * o.Qty
			fee := ntn * b.makerFee
			if taker {
				fee = ntn * b.takerFee
			}
			notify = b.processFill(o, StatusClosed, o.Qty, ntn, px, fee)
		} else if o.Status == StatusNew {
			notify = b.processFill(o, StatusOpen, o.QtyFilled, o.NtnFilled, o.AvgPx, o.Fee)
		}
		if notify != nil {
			notify.OnFinishedOrder(o)
		}
	}
	return nil
}
