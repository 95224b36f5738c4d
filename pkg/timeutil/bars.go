// Package timeutil provides bar-boundary arithmetic shared by the runner,
// the simulated broker and the pricing layer. Bar boundaries are aligned to
// UTC midnight, so every supported frequency divides the day evenly.
package timeutil

import (
	"fmt"
	"time"
)

// Supported bar frequencies.
var freqs = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

// ParseFreq converts a frequency label ("1m", "5m", "15m", "30m", "1h",
// "4h", "1d") to a bar width.
func ParseFreq(freq string) (time.Duration, error) {
	d, ok := freqs[freq]
	if !ok {
		return 0, fmt.Errorf("unsupported frequency %q", freq)
	}
	return d, nil
}

// FreqMinutes returns the bar width in whole minutes, the unit Kraken's
// OHLC endpoints and subscription frames use.
func FreqMinutes(width time.Duration) int {
	return int(width / time.Minute)
}

// LastBar returns the latest bar boundary at or before t.
func LastBar(t time.Time, width time.Duration) time.Time {
	return t.UTC().Truncate(width)
}

// NextBar returns the first bar boundary strictly after t.
func NextBar(t time.Time, width time.Duration) time.Time {
	return LastBar(t, width).Add(width)
}

// CeilBar returns t when t is already on a boundary, otherwise the next one.
func CeilBar(t time.Time, width time.Duration) time.Time {
	last := LastBar(t, width)
	if last.Equal(t.UTC()) {
		return last
	}
	return last.Add(width)
}
