package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wonny/tides/internal/exchange/kraken"
	"github.com/wonny/tides/pkg/logger"
	"github.com/wonny/tides/pkg/redis"
	"github.com/wonny/tides/pkg/timeutil"
)

// tickerTTL bounds how stale a cached ticker price may be.
const tickerTTL = 5 * time.Second

// LiveSource answers price queries against the exchange. Last-trade prices
// come from the public trade stream when one is attached, then from the
// shared cache, then from the REST ticker.
type LiveSource struct {
	rest   *kraken.Client
	cache  *redis.Cache
	logger *logger.Logger

	lastMu sync.RWMutex
	last   map[string]float64
}

// NewLiveSource creates a live price source.
func NewLiveSource(rest *kraken.Client, cache *redis.Cache, log *logger.Logger) *LiveSource {
	return &LiveSource{
		rest:   rest,
		cache:  cache,
		logger: log,
		last:   make(map[string]float64),
	}
}

// AttachStream subscribes the source to trade prints so CurrentPrice can
// answer without a REST round trip. Stream prices die with the
// connection: the reset hook clears them so a gap never serves stale
// marks.
func (s *LiveSource) AttachStream(stream *kraken.MarketStream, symbols ...string) error {
	stream.Start(kraken.MarketStreamHooks{
		OnTrade: s.handleTrade,
		OnReset: s.clearLast,
	})
	return stream.SubscribeTrades(symbols...)
}

func (s *LiveSource) handleTrade(t kraken.TradeTick) {
	s.lastMu.Lock()
	s.last[t.Symbol] = t.Price
	s.lastMu.Unlock()
}

func (s *LiveSource) clearLast() {
	s.lastMu.Lock()
	s.last = make(map[string]float64)
	s.lastMu.Unlock()
}

// CurrentPrice implements Source.
func (s *LiveSource) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	s.lastMu.RLock()
	px, ok := s.last[symbol]
	s.lastMu.RUnlock()
	if ok {
		return px, nil
	}

	if s.cache != nil {
		var cached float64
		if hit, _ := s.cache.Get(ctx, "ticker:"+symbol, &cached); hit {
			return cached, nil
		}
	}

	px, err := s.rest.LastPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrNoPrice, symbol, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, "ticker:"+symbol, px, tickerTTL); err != nil {
			s.logger.WithError(err).Debug("Ticker cache write failed")
		}
	}
	return px, nil
}

// LastNBars implements Source. The still-forming bar Kraken appends is
// dropped so callers only ever see closed bars.
func (s *LiveSource) LastNBars(ctx context.Context, symbol string, n int, width time.Duration, lag int) ([]Bar, error) {
	interval := timeutil.FreqMinutes(width)
	since := time.Now().UTC().Add(-width * time.Duration(n+lag+2))

	candles, err := s.rest.OHLC(ctx, symbol, interval, since)
	if err != nil {
		return nil, fmt.Errorf("fetch bars for %s: %w", symbol, err)
	}

	now := time.Now().UTC()
	bars := make([]Bar, 0, len(candles))
	for _, c := range candles {
		if c.OpenTime.Add(width).After(now) {
			continue
		}
		bars = append(bars, Bar{
			OpenTime: c.OpenTime,
			Open:     c.Open,
			High:     c.High,
			Low:      c.Low,
			Close:    c.Close,
			Volume:   c.Volume,
		})
	}

	if lag > 0 {
		if lag >= len(bars) {
			return nil, nil
		}
		bars = bars[:len(bars)-lag]
	}
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars, nil
}

// PriceStart implements Source. Live routing never gates on history start,
// but the reconciliation report uses it for context.
func (s *LiveSource) PriceStart(ctx context.Context, symbol string) (time.Time, bool, error) {
	candles, err := s.rest.OHLC(ctx, symbol, timeutil.FreqMinutes(24*time.Hour), time.Time{})
	if err != nil {
		return time.Time{}, false, err
	}
	if len(candles) == 0 {
		return time.Time{}, false, nil
	}
	return candles[0].OpenTime, true, nil
}
