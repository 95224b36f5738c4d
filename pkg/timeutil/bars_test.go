package timeutil

import (
	"testing"
	"time"
)

func TestParseFreq(t *testing.T) {
	tests := []struct {
		freq    string
		want    time.Duration
		wantErr bool
	}{
		{"1m", time.Minute, false},
		{"15m", 15 * time.Minute, false},
		{"1h", time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"2h", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseFreq(tt.freq)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFreq(%q) error = %v, wantErr %v", tt.freq, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFreq(%q) = %v, want %v", tt.freq, got, tt.want)
		}
	}
}

func TestBarBoundaries(t *testing.T) {
	mid := time.Date(2026, 3, 5, 10, 37, 12, 0, time.UTC)
	onBoundary := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)

	if got := LastBar(mid, time.Hour); !got.Equal(onBoundary) {
		t.Errorf("LastBar = %v, want %v", got, onBoundary)
	}
	if got := NextBar(mid, time.Hour); !got.Equal(onBoundary.Add(time.Hour)) {
		t.Errorf("NextBar = %v, want %v", got, onBoundary.Add(time.Hour))
	}

	// NextBar is strict even on a boundary; CeilBar is not
	if got := NextBar(onBoundary, time.Hour); !got.Equal(onBoundary.Add(time.Hour)) {
		t.Errorf("NextBar on boundary = %v", got)
	}
	if got := CeilBar(onBoundary, time.Hour); !got.Equal(onBoundary) {
		t.Errorf("CeilBar on boundary = %v, want identity", got)
	}
	if got := CeilBar(mid, time.Hour); !got.Equal(onBoundary.Add(time.Hour)) {
		t.Errorf("CeilBar mid-bar = %v", got)
	}
}

func TestFreqMinutes(t *testing.T) {
	if got := FreqMinutes(4 * time.Hour); got != 240 {
		t.Errorf("FreqMinutes(4h) = %d, want 240", got)
	}
}
