package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/tides/internal/broker"
	"github.com/wonny/tides/pkg/logger"
)

func TestJournalAppendOrder(t *testing.T) {
	dir := t.TempDir()
	j, err := New(dir, "s1", logger.Nop())
	require.NoError(t, err)

	o := &broker.Order{
		Strategy:   "s1",
		Symbol:     "BTC/USD",
		Side:       broker.SideBuy,
		Kind:       broker.KindMarket,
		Qty:        1,
		Status:     broker.StatusClosed,
		QtyFilled:  1,
		NtnFilled:  102,
		AvgPx:      102,
		Fee:        0.26,
		ExchangeID: "TX1",
		CreatedAt:  time.Date(2026, 1, 2, 1, 0, 0, 0, time.UTC),
		EndedAt:    time.Date(2026, 1, 2, 2, 0, 0, 0, time.UTC),
	}
	require.NoError(t, j.AppendOrder(o))
	require.NoError(t, j.AppendOrder(o))

	f, err := os.Open(filepath.Join(dir, "s1", "orders.csv"))
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus two rows")
	assert.Equal(t, ordersHeader, rows[0])
	assert.Equal(t, "BTC/USD", rows[1][3])
	assert.Equal(t, "102", rows[1][10])
	assert.Equal(t, "TX1", rows[1][15])
}

func TestJournalSnapshotAndResume(t *testing.T) {
	dir := t.TempDir()
	j, err := New(dir, "s1", logger.Nop())
	require.NoError(t, err)

	// fresh journal has nothing to resume
	snap, err := j.LoadLastSnapshot()
	require.NoError(t, err)
	assert.Nil(t, snap)

	t1 := time.Date(2026, 1, 2, 1, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	require.NoError(t, j.AppendSnapshot(t1, 1000, map[string]float64{"BTC": 1, "USD": -102}))
	require.NoError(t, j.AppendSnapshot(t2, 1010, map[string]float64{"BTC": 1, "USD": -102}))

	// a new journal instance resumes from the last row
	j2, err := New(dir, "s1", logger.Nop())
	require.NoError(t, err)
	snap, err = j2.LoadLastSnapshot()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.TS.Equal(t2))
	assert.Equal(t, 1010.0, snap.PortVal)
	assert.Equal(t, map[string]float64{"BTC": 1, "USD": -102}, snap.Pos)

	// the resumed baseline carries the PnL series forward
	require.NoError(t, j2.AppendSnapshot(t2.Add(time.Hour), 1015, nil))

	f, err := os.Open(filepath.Join(dir, "s1", "pos_pnl.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "0", rows[1][2], "first snapshot has no baseline")
	assert.Equal(t, "10", rows[2][2])
	assert.Equal(t, "5", rows[3][2], "resumed journal continues the diff")
}
