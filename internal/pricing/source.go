// Package pricing supplies current prices and historical bars to the
// brokers and strategies. The backtest implementation is deterministic and
// look-ahead free; the live implementation layers a trade stream and a
// cache over the exchange REST API.
package pricing

import (
	"context"
	"errors"
	"time"
)

// ErrNoPrice is returned when no price exists for a symbol at the current
// time. Valuation treats this as fatal rather than silently marking zero.
var ErrNoPrice = errors.New("no price available")

// Bar is one OHLCV aggregate keyed by bar-open time.
type Bar struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Source answers price queries. All bar queries return only bars that have
// fully closed at the source's notion of "now".
type Source interface {
	// CurrentPrice returns the latest trade (live) or latest bar close
	// (backtest) for a symbol.
	CurrentPrice(ctx context.Context, symbol string) (float64, error)

	// LastNBars returns up to n closed bars of the given width, oldest
	// first. lag drops that many bars from the recent end first.
	LastNBars(ctx context.Context, symbol string, n int, width time.Duration, lag int) ([]Bar, error)

	// PriceStart returns the open time of the earliest available bar,
	// with ok=false when the symbol has no history at all.
	PriceStart(ctx context.Context, symbol string) (start time.Time, ok bool, err error)
}
