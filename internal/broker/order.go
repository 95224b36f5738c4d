package broker

import (
	"fmt"
	"time"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// sign returns +1 for buys and -1 for sells.
func (s Side) sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Kind is the order type. An order is a market order iff it has no limit
// price.
type Kind string

const (
	KindMarket Kind = "market"
	KindLimit  Kind = "limit"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusNew      Status = "new"
	StatusOpen     Status = "open"
	StatusClosed   Status = "closed"
	StatusCanceled Status = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusCanceled
}

// Order is one trade request and its fill history. The intent fields are
// immutable after creation; fill state mutates only through the book's
// fill path.
type Order struct {
	// Identity. ID is an internal sequence assigned at routing;
	// ExchangeID is set in live mode; CustomID is caller-supplied.
	ID         int64
	ExchangeID string
	CustomID   string

	// Intent.
	Strategy   string
	Symbol     string
	Qty        float64
	Side       Side
	Kind       Kind
	LimitPrice float64
	CreatedAt  time.Time
	ArrivalPx  float64 // price observed at creation, for slippage analysis

	// Currency pair, resolved from exchange metadata at creation.
	Base  string
	Quote string

	// Fill state. Cumulative fields never decrease.
	Status    Status
	QtyFilled float64
	NtnFilled float64
	AvgPx     float64
	Fee       float64
	EndedAt   time.Time
}

func (o *Order) String() string {
	return fmt.Sprintf("order to %s %v %s", o.Side, o.Qty, o.Symbol)
}

// Fill is the incremental delta produced by one order update.
type Fill struct {
	Qty    float64
	Ntn    float64
	Fee    float64
	Status Status
}

// ApplyFill applies a cumulative order update and returns the incremental
// fill, or nil when no cumulative field moved. The nil return is the sole
// de-duplication mechanism against repeated identical stream updates.
// A terminal order ignores updates entirely.
func (o *Order) ApplyFill(status Status, qtyFilled, ntnFilled, avgPx, fee float64) *Fill {
	if o.Status.Terminal() {
		return nil
	}

	var fill *Fill
	if qtyFilled != o.QtyFilled || ntnFilled != o.NtnFilled || fee != o.Fee {
		fill = &Fill{
			Qty:    qtyFilled - o.QtyFilled,
			Ntn:    ntnFilled - o.NtnFilled,
			Fee:    fee - o.Fee,
			Status: status,
		}
	}

	o.Status = status
	o.QtyFilled = qtyFilled
	o.NtnFilled = ntnFilled
	o.AvgPx = avgPx
	o.Fee = fee

	return fill
}
