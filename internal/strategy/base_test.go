package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/tides/internal/broker"
	"github.com/wonny/tides/internal/market"
	"github.com/wonny/tides/internal/pricing"
	"github.com/wonny/tides/pkg/config"
	"github.com/wonny/tides/pkg/logger"
)

var baseMeta = market.StaticMetadata{
	"BTC/USD": {Symbol: "BTC/USD", Base: "BTC", Quote: "USD", PairDecimals: 1, LotDecimals: 4, OrderMin: 0.01},
}

type probe struct {
	Base
}

func (p *probe) Rebalance(ctx context.Context) error { return nil }

func newBoundProbe(t *testing.T) (*probe, *broker.SimBroker) {
	t.Helper()
	start := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	hist := pricing.NewHistory(time.Hour)
	hist.SetBars("BTC/USD", []pricing.Bar{
		{OpenTime: start, Open: 99, High: 101, Low: 98, Close: 100},
	})
	hist.SetNow(start.Add(time.Hour))

	sim := broker.NewSimBroker(hist, baseMeta, config.BacktestConfig{}, logger.Nop())
	p := &probe{Base: NewBase("probe", time.Hour)}
	p.Bind(sim, logger.Nop())
	return p, sim
}

func TestCreateOrderRoundsToInstrumentPrecision(t *testing.T) {
	p, _ := newBoundProbe(t)

	o, err := p.CreateOrder(context.Background(), "BTC/USD", 0.123456, broker.SideBuy, 100.123)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, 0.1235, o.Qty)
	assert.Equal(t, 100.1, o.LimitPrice)
}

func TestCreateOrderSkipsBelowMinimum(t *testing.T) {
	p, sim := newBoundProbe(t)

	o, err := p.CreateOrder(context.Background(), "BTC/USD", 0.004, broker.SideBuy, 0)
	require.NoError(t, err)
	assert.Nil(t, o, "sub-minimum order must be skipped, not routed")
	assert.Empty(t, sim.OpenOrders("probe"))
}

func TestCreateOrderUnknownSymbol(t *testing.T) {
	p, _ := newBoundProbe(t)

	_, err := p.CreateOrder(context.Background(), "DOGE/USD", 1, broker.SideBuy, 0)
	assert.ErrorIs(t, err, market.ErrUnsupportedSymbol)
}

func TestTradeToTarget(t *testing.T) {
	p, sim := newBoundProbe(t)
	ctx := context.Background()

	o, err := p.TradeToTarget(ctx, "BTC/USD", 2)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, broker.SideBuy, o.Side)
	assert.Equal(t, 2.0, o.Qty)

	require.NoError(t, sim.FillOrders(ctx, broker.KindMarket))
	require.Equal(t, 2.0, p.Position()["BTC"])

	// already at target: no order
	o, err = p.TradeToTarget(ctx, "BTC/USD", 2)
	require.NoError(t, err)
	assert.Nil(t, o)

	// reduce: sells the difference
	o, err = p.TradeToTarget(ctx, "BTC/USD", 0.5)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, broker.SideSell, o.Side)
	assert.Equal(t, 1.5, o.Qty)
}
