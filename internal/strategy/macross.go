package strategy

import (
	"context"
	"time"

	"github.com/wonny/tides/internal/broker"
)

// MACross holds a fixed notional of one symbol while the fast moving
// average of closes sits above the slow one, and is flat otherwise.
type MACross struct {
	Base
	symbol   string
	fast     int
	slow     int
	notional float64
}

// NewMACross creates the crossover strategy. fast and slow are bar counts,
// notional is the position size in quote currency.
func NewMACross(name, symbol string, width time.Duration, fast, slow int, notional float64) *MACross {
	return &MACross{
		Base:     NewBase(name, width),
		symbol:   symbol,
		fast:     fast,
		slow:     slow,
		notional: notional,
	}
}

// Rebalance implements Strategy.
func (s *MACross) Rebalance(ctx context.Context) error {
	bars, err := s.LastNBars(ctx, s.symbol, s.slow, 0)
	if err != nil {
		return err
	}
	if len(bars) < s.slow {
		// still warming up
		return nil
	}

	slowAvg := 0.0
	for _, b := range bars {
		slowAvg += b.Close
	}
	slowAvg /= float64(len(bars))

	fastAvg := 0.0
	for _, b := range bars[len(bars)-s.fast:] {
		fastAvg += b.Close
	}
	fastAvg /= float64(s.fast)

	target := 0.0
	if fastAvg > slowAvg {
		target = s.notional / bars[len(bars)-1].Close
	}

	_, err = s.TradeToTarget(ctx, s.symbol, target)
	return err
}

// OnFinishedOrder implements Strategy.
func (s *MACross) OnFinishedOrder(o *broker.Order) {
	s.Logger().WithFields(map[string]interface{}{
		"symbol": o.Symbol,
		"side":   o.Side,
		"qty":    o.QtyFilled,
		"avg_px": o.AvgPx,
	}).Info("Order filled")
}
