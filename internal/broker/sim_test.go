package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/tides/internal/pricing"
	"github.com/wonny/tides/pkg/config"
	"github.com/wonny/tides/pkg/logger"
)

var simStart = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

// hour returns the n-th bar boundary of the test session.
func hour(n int) time.Time { return simStart.Add(time.Duration(n) * time.Hour) }

func newTestSim(t *testing.T, cfg config.BacktestConfig, bars map[string][]pricing.Bar) *SimBroker {
	t.Helper()
	hist := pricing.NewHistory(time.Hour)
	for symbol, b := range bars {
		hist.SetBars(symbol, b)
	}
	return NewSimBroker(hist, nil, cfg, logger.Nop())
}

// twoBarSession is a minimal backtest: one bar closing at 100 and a
// second opening at 102.
func twoBarSession() map[string][]pricing.Bar {
	return map[string][]pricing.Bar{
		"BTC/USD": {
			{OpenTime: hour(0), Open: 99, High: 101, Low: 98, Close: 100, Volume: 5},
			{OpenTime: hour(1), Open: 102, High: 103, Low: 101, Close: 102.5, Volume: 5},
		},
	}
}

func TestFillOrders_MarketFillsAtNextBarOpen(t *testing.T) {
	cfg := config.BacktestConfig{TakerFee: 0.0026}
	sim := newTestSim(t, cfg, twoBarSession())
	ctx := context.Background()

	sim.History().SetNow(hour(1))
	o, err := sim.CreateOrder(ctx, OrderRequest{
		Strategy: "s1", Symbol: "BTC/USD", Qty: 1, Side: SideBuy,
	})
	require.NoError(t, err)
	require.Equal(t, StatusNew, o.Status)
	assert.Equal(t, 100.0, o.ArrivalPx)

	// the next bar closes and the pending order trades at its open
	sim.History().SetNow(hour(2))
	require.NoError(t, sim.FillOrders(ctx, ""))

	assert.Equal(t, StatusClosed, o.Status)
	assert.Equal(t, 102.0, o.AvgPx)
	assert.Equal(t, 1.0, o.QtyFilled)
	assert.InDelta(t, 102*0.0026, o.Fee, 1e-12)

	pos := sim.Position("s1")
	assert.Equal(t, 1.0, pos["BTC"])
	assert.InDelta(t, -102-102*0.0026, pos["USD"], 1e-12)
	assert.Empty(t, sim.OpenOrders("s1"))
}

func TestFillOrders_MarketSameBarFillsAtClose(t *testing.T) {
	sim := newTestSim(t, config.BacktestConfig{}, twoBarSession())
	ctx := context.Background()

	sim.History().SetNow(hour(1))
	o, err := sim.CreateOrder(ctx, OrderRequest{
		Strategy: "s1", Symbol: "BTC/USD", Qty: 0.5, Side: SideBuy,
	})
	require.NoError(t, err)

	// the post-rebalance pass runs at the same virtual time the order
	// was created
	require.NoError(t, sim.FillOrders(ctx, KindMarket))

	assert.Equal(t, StatusClosed, o.Status)
	assert.Equal(t, 100.0, o.AvgPx)
}

func TestFillOrders_SlippageDirection(t *testing.T) {
	tests := []struct {
		side   Side
		wantPx float64
	}{
		{SideBuy, 100 * 1.001},
		{SideSell, 100 * 0.999},
	}

	for _, tt := range tests {
		t.Run(string(tt.side), func(t *testing.T) {
			sim := newTestSim(t, config.BacktestConfig{Slippage: 0.001}, twoBarSession())
			ctx := context.Background()

			sim.History().SetNow(hour(1))
			o, err := sim.CreateOrder(ctx, OrderRequest{
				Strategy: "s1", Symbol: "BTC/USD", Qty: 1, Side: tt.side,
			})
			require.NoError(t, err)
			require.NoError(t, sim.FillOrders(ctx, KindMarket))

			assert.InDelta(t, tt.wantPx, o.AvgPx, 1e-12)
		})
	}
}

func TestFillOrders_MarketableLimitFillsAtOpen(t *testing.T) {
	bars := map[string][]pricing.Bar{
		"BTC/USD": {
			{OpenTime: hour(0), Open: 99, High: 101, Low: 98, Close: 100},
			{OpenTime: hour(1), Open: 95, High: 99, Low: 94, Close: 97},
		},
	}
	sim := newTestSim(t, config.BacktestConfig{TakerFee: 0.002, MakerFee: 0.001}, bars)
	ctx := context.Background()

	sim.History().SetNow(hour(1))
	o, err := sim.CreateOrder(ctx, OrderRequest{
		Strategy: "s1", Symbol: "BTC/USD", Qty: 1, Side: SideBuy, LimitPrice: 100,
	})
	require.NoError(t, err)
	require.Equal(t, KindLimit, o.Kind)

	// the bar opens below the buy limit while the order is still new, so
	// it trades at the better open price
	sim.History().SetNow(hour(2))
	require.NoError(t, sim.FillOrders(ctx, ""))

	assert.Equal(t, StatusClosed, o.Status)
	assert.Equal(t, 95.0, o.AvgPx)
	// an aggressive fill pays the taker rate
	assert.InDelta(t, 95*0.002, o.Fee, 1e-12)
}

func TestFillOrders_RestingLimitFillsAtLimitPrice(t *testing.T) {
	bars := map[string][]pricing.Bar{
		"BTC/USD": {
			{OpenTime: hour(0), Open: 99, High: 101, Low: 98, Close: 100},
			{OpenTime: hour(1), Open: 105, High: 106, Low: 101, Close: 104}, // never crosses 100
			{OpenTime: hour(2), Open: 95, High: 99, Low: 94, Close: 97},     // opens through the limit
		},
	}
	sim := newTestSim(t, config.BacktestConfig{TakerFee: 0.002, MakerFee: 0.001}, bars)
	ctx := context.Background()

	sim.History().SetNow(hour(1))
	o, err := sim.CreateOrder(ctx, OrderRequest{
		Strategy: "s1", Symbol: "BTC/USD", Qty: 1, Side: SideBuy, LimitPrice: 100,
	})
	require.NoError(t, err)

	sim.History().SetNow(hour(2))
	require.NoError(t, sim.FillOrders(ctx, ""))
	assert.Equal(t, StatusOpen, o.Status)
	assert.Equal(t, 0.0, o.QtyFilled)

	// the order already rested a bar, so the open-price improvement no
	// longer applies; it fills at its own limit
	sim.History().SetNow(hour(3))
	require.NoError(t, sim.FillOrders(ctx, ""))

	assert.Equal(t, StatusClosed, o.Status)
	assert.Equal(t, 100.0, o.AvgPx)
	assert.InDelta(t, 100*0.001, o.Fee, 1e-12)
}

func TestRoute_PricingUnavailable(t *testing.T) {
	bars := map[string][]pricing.Bar{
		"BTC/USD": {{OpenTime: hour(0), Open: 99, High: 101, Low: 98, Close: 100}},
		"ETH/USD": {{OpenTime: hour(5), Open: 10, High: 11, Low: 9, Close: 10.5}},
	}
	sim := newTestSim(t, config.BacktestConfig{}, bars)
	ctx := context.Background()
	sim.History().SetNow(hour(1))

	// series that has not begun yet
	late := &Order{Strategy: "s1", Symbol: "ETH/USD", Qty: 1, Side: SideBuy, Kind: KindMarket, Status: StatusNew}
	err := sim.Route(ctx, late)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPricingUnavailable))

	// symbol with no series at all
	missing := &Order{Strategy: "s1", Symbol: "XRP/USD", Qty: 1, Side: SideBuy, Kind: KindMarket, Status: StatusNew}
	err = sim.Route(ctx, missing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPricingUnavailable))

	// the first close is the earliest routable moment
	ok := &Order{Strategy: "s1", Symbol: "BTC/USD", Qty: 1, Side: SideBuy, Kind: KindMarket, Status: StatusNew}
	assert.NoError(t, sim.Route(ctx, ok))
}

func TestCancelAllOrders(t *testing.T) {
	sim := newTestSim(t, config.BacktestConfig{}, twoBarSession())
	ctx := context.Background()

	sim.History().SetNow(hour(1))
	o, err := sim.CreateOrder(ctx, OrderRequest{
		Strategy: "s1", Symbol: "BTC/USD", Qty: 1, Side: SideBuy, LimitPrice: 50,
	})
	require.NoError(t, err)

	require.NoError(t, sim.CancelAllOrders(ctx, "s1"))

	assert.Equal(t, StatusCanceled, o.Status)
	assert.Empty(t, sim.OpenOrders("s1"))
	assert.Empty(t, sim.Position("s1"))
	assert.Len(t, sim.Orders("s1"), 1)
}

type recordingObserver struct {
	finished []*Order
}

func (r *recordingObserver) OnFinishedOrder(o *Order) { r.finished = append(r.finished, o) }

func TestObserverFiresOncePerClosedOrder(t *testing.T) {
	sim := newTestSim(t, config.BacktestConfig{}, twoBarSession())
	ctx := context.Background()

	obs := &recordingObserver{}
	sim.Observe("s1", obs)

	sim.History().SetNow(hour(1))
	o, err := sim.CreateOrder(ctx, OrderRequest{
		Strategy: "s1", Symbol: "BTC/USD", Qty: 1, Side: SideBuy,
	})
	require.NoError(t, err)

	sim.History().SetNow(hour(2))
	require.NoError(t, sim.FillOrders(ctx, ""))
	require.NoError(t, sim.FillOrders(ctx, "")) // second pass must not refire

	require.Len(t, obs.finished, 1)
	assert.Same(t, o, obs.finished[0])
}

func TestSnapPortfolio(t *testing.T) {
	sim := newTestSim(t, config.BacktestConfig{}, twoBarSession())
	ctx := context.Background()

	sim.History().SetNow(hour(1))
	_, err := sim.CreateOrder(ctx, OrderRequest{
		Strategy: "s1", Symbol: "BTC/USD", Qty: 1, Side: SideBuy,
	})
	require.NoError(t, err)
	require.NoError(t, sim.FillOrders(ctx, KindMarket))

	require.NoError(t, sim.SnapPortfolio(ctx, "s1"))
	require.NoError(t, sim.SnapPortfolio(ctx, "s1")) // same ts overwrites

	series := sim.PortfolioSeries("s1")
	require.Len(t, series, 1)
	// paid 100 for one BTC marked at 100
	assert.InDelta(t, 0, series[0].Value, 1e-12)

	sim.History().SetNow(hour(2))
	require.NoError(t, sim.SnapPortfolio(ctx, "s1"))

	series = sim.PortfolioSeries("s1")
	require.Len(t, series, 2)
	// BTC marked at the 102.5 close
	assert.InDelta(t, 2.5, series[1].Value, 1e-12)
}
