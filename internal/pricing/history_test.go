package pricing

import (
	"context"
	"errors"
	"testing"
	"time"
)

var histStart = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

func histBar(n int, close float64) Bar {
	return Bar{
		OpenTime: histStart.Add(time.Duration(n) * time.Hour),
		Open:     close - 1,
		High:     close + 1,
		Low:      close - 2,
		Close:    close,
	}
}

func newTestHistory() *History {
	h := NewHistory(time.Hour)
	h.SetBars("BTC/USD", []Bar{histBar(2, 102), histBar(0, 100), histBar(1, 101)})
	return h
}

func TestHistoryCurrentPrice(t *testing.T) {
	h := newTestHistory()
	ctx := context.Background()

	// before any bar closes
	h.SetNow(histStart.Add(30 * time.Minute))
	if _, err := h.CurrentPrice(ctx, "BTC/USD"); !errors.Is(err, ErrNoPrice) {
		t.Errorf("pre-history price error = %v, want ErrNoPrice", err)
	}

	// exactly on the first close
	h.SetNow(histStart.Add(time.Hour))
	px, err := h.CurrentPrice(ctx, "BTC/USD")
	if err != nil {
		t.Fatalf("CurrentPrice() error: %v", err)
	}
	if px != 100 {
		t.Errorf("price at first close = %v, want 100", px)
	}

	// a later bar, mid-bar: the forming bar stays invisible
	h.SetNow(histStart.Add(2*time.Hour + 30*time.Minute))
	px, _ = h.CurrentPrice(ctx, "BTC/USD")
	if px != 101 {
		t.Errorf("mid-bar price = %v, want 101", px)
	}

	if _, err := h.CurrentPrice(ctx, "XRP/USD"); !errors.Is(err, ErrNoPrice) {
		t.Errorf("unknown symbol error = %v, want ErrNoPrice", err)
	}
}

func TestHistoryLastNBars(t *testing.T) {
	h := newTestHistory()
	ctx := context.Background()
	h.SetNow(histStart.Add(3 * time.Hour))

	bars, err := h.LastNBars(ctx, "BTC/USD", 2, time.Hour, 0)
	if err != nil {
		t.Fatalf("LastNBars() error: %v", err)
	}
	if len(bars) != 2 || bars[0].Close != 101 || bars[1].Close != 102 {
		t.Errorf("bars = %+v", bars)
	}

	// lag drops the most recent closed bars
	bars, err = h.LastNBars(ctx, "BTC/USD", 2, time.Hour, 1)
	if err != nil {
		t.Fatalf("LastNBars(lag) error: %v", err)
	}
	if len(bars) != 2 || bars[1].Close != 101 {
		t.Errorf("lagged bars = %+v", bars)
	}

	// wrong width is a caller bug
	if _, err := h.LastNBars(ctx, "BTC/USD", 2, 5*time.Minute, 0); err == nil {
		t.Error("width mismatch not rejected")
	}
}

func TestHistoryPriceStartIgnoresClock(t *testing.T) {
	h := newTestHistory()
	ctx := context.Background()
	h.SetNow(histStart.Add(-24 * time.Hour))

	start, ok, err := h.PriceStart(ctx, "BTC/USD")
	if err != nil || !ok {
		t.Fatalf("PriceStart() = %v, %v, %v", start, ok, err)
	}
	if !start.Equal(histStart) {
		t.Errorf("start = %v, want %v", start, histStart)
	}

	_, ok, err = h.PriceStart(ctx, "XRP/USD")
	if err != nil || ok {
		t.Errorf("unknown symbol PriceStart ok = %v, err = %v", ok, err)
	}
}
