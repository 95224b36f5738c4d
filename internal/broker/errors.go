package broker

import (
	"errors"

	"github.com/wonny/tides/internal/market"
)

// Error taxonomy. Stream disconnects are absorbed by the streaming layer
// and never surface here; everything below is either fatal to an order, to
// a run, or an operational alarm.
var (
	// ErrUnsupportedSymbol: metadata lookup failed. Fatal to the order.
	ErrUnsupportedSymbol = market.ErrUnsupportedSymbol

	// ErrPricingUnavailable: an instrument was routed in a backtest
	// before its price history begins. Fatal, aborts the run.
	ErrPricingUnavailable = errors.New("pricing unavailable")

	// ErrOrderRejected: the execution path refused an order. Logged and
	// propagated, terminating the affected strategy run.
	ErrOrderRejected = errors.New("order rejected")

	// ErrUnrecognizedUpdate: a stream update referenced an order id that
	// was never registered or is already archived. Logged and dropped.
	ErrUnrecognizedUpdate = errors.New("unrecognized order update")

	// ErrPositionMismatch: reconciliation found drift between the ledger
	// and the exchange. Logged as an error; execution continues.
	ErrPositionMismatch = errors.New("position mismatch")
)
