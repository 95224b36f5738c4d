package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/tides/pkg/database"
	"github.com/wonny/tides/pkg/logger"
	"github.com/wonny/tides/pkg/timeutil"
)

// Repository reads and writes historical bars in PostgreSQL. The bars
// table is populated out of band (collector jobs); backtests only read.
type Repository struct {
	db     *database.DB
	logger *logger.Logger
}

// NewRepository creates a bar repository.
func NewRepository(db *database.DB, log *logger.Logger) *Repository {
	return &Repository{db: db, logger: log}
}

// LoadBars returns bars for one symbol and width within [from, to), oldest
// first.
func (r *Repository) LoadBars(ctx context.Context, symbol string, width time.Duration, from, to time.Time) ([]Bar, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT open_time, open, high, low, close, volume
		FROM ohlc_bars
		WHERE symbol = $1 AND freq_minutes = $2
		  AND open_time >= $3 AND open_time < $4
		ORDER BY open_time`,
		symbol, timeutil.FreqMinutes(width), from, to)
	if err != nil {
		return nil, fmt.Errorf("query bars for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []Bar
	for rows.Next() {
		var b Bar
		if err := rows.Scan(&b.OpenTime, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar for %s: %w", symbol, err)
		}
		b.OpenTime = b.OpenTime.UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// SaveBars upserts a bar series for a symbol.
func (r *Repository) SaveBars(ctx context.Context, symbol string, width time.Duration, bars []Bar) error {
	for _, b := range bars {
		_, err := r.db.Pool.Exec(ctx, `
			INSERT INTO ohlc_bars (symbol, freq_minutes, open_time, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (symbol, freq_minutes, open_time) DO UPDATE
			SET open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			    close = EXCLUDED.close, volume = EXCLUDED.volume`,
			symbol, timeutil.FreqMinutes(width), b.OpenTime,
			b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			return fmt.Errorf("upsert bar %s %s: %w", symbol, b.OpenTime.Format(time.RFC3339), err)
		}
	}
	return nil
}

// LoadHistory builds a backtest History covering [from, to) for the given
// symbols. Symbols with no stored bars are left out; routing rejects them
// later with a pricing error.
func LoadHistory(ctx context.Context, repo *Repository, symbols []string, width time.Duration, from, to time.Time) (*History, error) {
	h := NewHistory(width)
	for _, symbol := range symbols {
		bars, err := repo.LoadBars(ctx, symbol, width, from, to)
		if err != nil {
			return nil, err
		}
		if len(bars) == 0 {
			repo.logger.Warnf("No stored bars for %s", symbol)
			continue
		}
		h.SetBars(symbol, bars)
	}
	return h, nil
}
