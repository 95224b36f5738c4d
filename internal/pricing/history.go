package pricing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// History is the backtest price source: preloaded bars plus a virtual
// clock owned by the backtest runner. Queries never see a bar that closes
// after the current virtual time.
type History struct {
	width time.Duration

	mu   sync.RWMutex
	now  time.Time
	bars map[string][]Bar
}

// NewHistory creates an empty history for bars of the given width.
func NewHistory(width time.Duration) *History {
	return &History{
		width: width,
		bars:  make(map[string][]Bar),
	}
}

// SetBars installs the bar series for a symbol, sorted by open time.
func (h *History) SetBars(symbol string, bars []Bar) {
	sorted := append([]Bar(nil), bars...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].OpenTime.Before(sorted[j].OpenTime)
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	h.bars[symbol] = sorted
}

// SetNow advances the virtual clock. Called once per simulated step.
func (h *History) SetNow(ts time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = ts
}

// Now returns the current virtual time.
func (h *History) Now() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.now
}

// Width returns the bar width the history was built at.
func (h *History) Width() time.Duration {
	return h.width
}

// closedBars returns the bars for symbol whose close time is at or before
// the virtual clock.
func (h *History) closedBars(symbol string) []Bar {
	bars := h.bars[symbol]
	cut := sort.Search(len(bars), func(i int) bool {
		return bars[i].OpenTime.Add(h.width).After(h.now)
	})
	return bars[:cut]
}

// CurrentPrice implements Source: the close of the latest closed bar.
func (h *History) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	closed := h.closedBars(symbol)
	if len(closed) == 0 {
		return 0, fmt.Errorf("%w: %s at %s", ErrNoPrice, symbol, h.now.Format(time.RFC3339))
	}
	return closed[len(closed)-1].Close, nil
}

// LastNBars implements Source.
func (h *History) LastNBars(ctx context.Context, symbol string, n int, width time.Duration, lag int) ([]Bar, error) {
	if width != h.width {
		return nil, fmt.Errorf("history holds %s bars, requested %s", h.width, width)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	closed := h.closedBars(symbol)
	if lag > 0 {
		if lag >= len(closed) {
			return nil, nil
		}
		closed = closed[:len(closed)-lag]
	}
	if len(closed) > n {
		closed = closed[len(closed)-n:]
	}
	return append([]Bar(nil), closed...), nil
}

// PriceStart implements Source. Unlike the bar queries it reports the very
// first bar regardless of the clock: routing uses it to reject orders
// placed before history begins.
func (h *History) PriceStart(ctx context.Context, symbol string) (time.Time, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	bars := h.bars[symbol]
	if len(bars) == 0 {
		return time.Time{}, false, nil
	}
	return bars[0].OpenTime, true, nil
}
