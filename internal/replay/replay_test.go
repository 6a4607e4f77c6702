package replay

import (
	"compress/gzip"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaindrift/mdrecorder/internal/orderbook"
)

const testSymbol = "BTCUSDT"
const testDay = "20260101"

func writeGzipCSV(t *testing.T, path string, header []string, rows [][]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	gz := gzip.NewWriter(f)
	defer gz.Close()
	w := csv.NewWriter(gz)
	require.NoError(t, w.Write(header))
	for _, row := range rows {
		require.NoError(t, w.Write(row))
	}
	w.Flush()
	require.NoError(t, w.Error())
}

func writeGzipNDJSON(t *testing.T, path string, lines []string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	gz := gzip.NewWriter(f)
	defer gz.Close()
	for _, l := range lines {
		_, err := gz.Write([]byte(l + "\n"))
		require.NoError(t, err)
	}
}

func writePlainCSV(t *testing.T, path string, header []string, rows [][]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	w := csv.NewWriter(f)
	require.NoError(t, w.Write(header))
	for _, row := range rows {
		require.NoError(t, w.Write(row))
	}
	w.Flush()
	require.NoError(t, w.Error())
}

// buildFixtureDay writes a minimal recorded day: one snapshot_loaded event,
// two in-order depth diffs, one trade.
func buildFixtureDay(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	day := DayDir(root, testSymbol, testDay)

	snapPath := filepath.Join(day, "snapshots", "snapshot_000001_initial.csv")
	writePlainCSV(t, snapPath,
		[]string{"run_id", "event_id", "side", "price", "qty", "lastUpdateId"},
		[][]string{
			{"1", "1", "bid", "100.00000000", "1.00000000", "100"},
			{"1", "1", "ask", "101.00000000", "1.00000000", "100"},
		})

	eventsPath := filepath.Join(day, "events_"+testSymbol+"_"+testDay+".csv.gz")
	writeGzipCSV(t, eventsPath,
		[]string{"event_id", "recv_time_ms", "recv_seq", "run_id", "type", "epoch_id", "details_json"},
		[][]string{
			{"1", "1000", "1", "1", "snapshot_loaded", "0",
				`{"tag":"initial","path":"snapshots/snapshot_000001_initial.csv","lastUpdateId":100}`},
		})

	diffsPath := filepath.Join(day, "diffs", "depth_diffs_"+testSymbol+"_"+testDay+".ndjson.gz")
	writeGzipNDJSON(t, diffsPath, []string{
		`{"recv_ms":1001,"recv_seq":2,"E":1001,"U":101,"u":101,"b":[["100.00000000","2.00000000"]],"a":[]}`,
		`{"recv_ms":1002,"recv_seq":3,"E":1002,"U":102,"u":102,"b":[],"a":[["101.00000000","3.00000000"]]}`,
	})

	tradesPath := filepath.Join(day, "trades_ws_"+testSymbol+"_"+testDay+".csv.gz")
	writeGzipCSV(t, tradesPath,
		[]string{"event_time_ms", "recv_time_ms", "recv_seq", "run_id", "trade_id", "trade_time_ms",
			"price", "qty", "is_buyer_maker", "side", "ord_type", "exchange", "symbol"},
		[][]string{
			{"1003", "1003", "4", "1", "77", "1003", "100.50000000", "0.50000000", "true", "sell", "market", "binance", testSymbol},
		})

	return root
}

func TestDayReplaysSnapshotDiffsAndTrades(t *testing.T) {
	root := buildFixtureDay(t)

	var trades []TradeRow
	stats, err := Day(Options{
		Root:     root,
		Symbol:   testSymbol,
		YYYYMMDD: testDay,
		Exchange: "binance",
		OnTick:   func(recvMs int64, book *orderbook.Base) {},
		OnTrade:  func(tr TradeRow) { trades = append(trades, tr) },
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SnapshotsLoaded)
	assert.Equal(t, 2, stats.DepthMsgs)
	assert.Equal(t, 1, stats.TradeMsgs)
	assert.Equal(t, 0, stats.Gaps)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(4), *trades[0].RecvSeq)
}

func TestDayAppliesTimeWindowFilter(t *testing.T) {
	root := buildFixtureDay(t)

	var tickCount int
	minMs := int64(1002)
	stats, err := Day(Options{
		Root:      root,
		Symbol:    testSymbol,
		YYYYMMDD:  testDay,
		Exchange:  "binance",
		TimeMinMs: &minMs,
		OnTick:    func(recvMs int64, book *orderbook.Base) { tickCount++ },
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DepthMsgs)
	assert.Equal(t, 1, tickCount)
}

func TestFindDepthDiffsFileFallsBackToWildcard(t *testing.T) {
	root := t.TempDir()
	day := DayDir(root, testSymbol, testDay)
	writeGzipNDJSON(t, filepath.Join(day, "diffs", "depth_diffs_"+testSymbol+"_20251231.ndjson.gz"), nil)

	f, err := FindDepthDiffsFile(root, testSymbol, testDay)
	require.NoError(t, err)
	assert.True(t, strings.Contains(f, "20251231"))
}

func TestFindDepthDiffsFileErrorsWhenMissing(t *testing.T) {
	root := t.TempDir()
	_, err := FindDepthDiffsFile(root, testSymbol, testDay)
	assert.Error(t, err)
}
