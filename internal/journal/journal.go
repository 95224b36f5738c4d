// Package journal persists per-strategy trading records as append-only
// CSVs under the data directory: orders.csv for finished orders and
// pos_pnl.csv for periodic valuation snapshots. A live run reloads the
// last snapshot on startup so its position and PnL series continue across
// restarts.
package journal

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/wonny/tides/internal/broker"
	"github.com/wonny/tides/pkg/logger"
)

var ordersHeader = []string{
	"created_at", "ended_at", "strategy", "symbol", "side", "kind",
	"qty", "limit_px", "arrival_px", "qty_filled", "ntn_filled",
	"avg_px", "fee", "status", "custom_id", "exchange_id",
}

var posPnlHeader = []string{"ts", "port_val", "pnl", "positions"}

// Journal writes one strategy's records.
type Journal struct {
	dir      string
	strategy string
	logger   *logger.Logger
	lastVal  float64
	hasLast  bool
}

// New opens (creating if needed) the journal directory for a strategy.
func New(dataDir, strategy string, log *logger.Logger) (*Journal, error) {
	dir := filepath.Join(dataDir, strategy)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &Journal{dir: dir, strategy: strategy, logger: log}, nil
}

func (j *Journal) ordersPath() string { return filepath.Join(j.dir, "orders.csv") }
func (j *Journal) posPnlPath() string { return filepath.Join(j.dir, "pos_pnl.csv") }

// appendRow opens the file for append, writing the header first on a
// fresh file.
func appendRow(path string, header, row []string) error {
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(header); err != nil {
			return err
		}
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// AppendOrder records one finished order.
func (j *Journal) AppendOrder(o *broker.Order) error {
	row := []string{
		o.CreatedAt.UTC().Format(time.RFC3339),
		o.EndedAt.UTC().Format(time.RFC3339),
		o.Strategy,
		o.Symbol,
		string(o.Side),
		string(o.Kind),
		formatFloat(o.Qty),
		formatFloat(o.LimitPrice),
		formatFloat(o.ArrivalPx),
		formatFloat(o.QtyFilled),
		formatFloat(o.NtnFilled),
		formatFloat(o.AvgPx),
		formatFloat(o.Fee),
		string(o.Status),
		o.CustomID,
		o.ExchangeID,
	}
	return appendRow(j.ordersPath(), ordersHeader, row)
}

// AppendSnapshot records one valuation sample. PnL is the change since
// the previous snapshot, zero on the very first.
func (j *Journal) AppendSnapshot(ts time.Time, portVal float64, pos map[string]float64) error {
	pnl := 0.0
	if j.hasLast {
		pnl = portVal - j.lastVal
	}

	posJSON, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	row := []string{
		ts.UTC().Format(time.RFC3339),
		formatFloat(portVal),
		formatFloat(pnl),
		string(posJSON),
	}
	if err := appendRow(j.posPnlPath(), posPnlHeader, row); err != nil {
		return err
	}
	j.lastVal = portVal
	j.hasLast = true
	return nil
}

// Snapshot is one restored pos_pnl row.
type Snapshot struct {
	TS      time.Time
	PortVal float64
	Pos     map[string]float64
}

// LoadLastSnapshot returns the most recent snapshot, if any. It also
// seeds the journal's PnL baseline so the series continues seamlessly.
func (j *Journal) LoadLastSnapshot() (*Snapshot, error) {
	f, err := os.Open(j.posPnlPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read pos_pnl journal: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	last := rows[len(rows)-1]
	if len(last) != len(posPnlHeader) {
		return nil, fmt.Errorf("malformed pos_pnl row: %v", last)
	}

	ts, err := time.Parse(time.RFC3339, last[0])
	if err != nil {
		return nil, err
	}
	portVal, err := strconv.ParseFloat(last[1], 64)
	if err != nil {
		return nil, err
	}
	pos := make(map[string]float64)
	if err := json.Unmarshal([]byte(last[3]), &pos); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	j.lastVal = portVal
	j.hasLast = true
	j.logger.WithFields(map[string]interface{}{
		"strategy": j.strategy,
		"ts":       ts,
		"port_val": portVal,
	}).Info("Resumed journal snapshot")
	return &Snapshot{TS: ts, PortVal: portVal, Pos: pos}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
