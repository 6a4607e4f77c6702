package recorder

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaindrift/mdrecorder/internal/adapter"
	"github.com/chaindrift/mdrecorder/internal/config"
	"github.com/chaindrift/mdrecorder/internal/orderbook"
	"github.com/chaindrift/mdrecorder/internal/sync"
)

func newTestConfig(t *testing.T) *config.Recorder {
	t.Helper()
	return &config.Recorder{
		Exchange: "fakeseq",
		Symbol:   "btcusdt",
		Window: config.Window{
			StartHHMM:    "00:00",
			EndHHMM:      "23:59",
			EndDayOffset: 0,
			TZ:           "UTC",
		},
		WSPingIntervalS:        20,
		WSNoDataWarnS:          30,
		WSReconnectBackoffS:    1,
		WSReconnectBackoffMaxS: 5,
		StoreDepthDiffs:        true,
		LiveStream:             false,
		DataDir:                t.TempDir(),
		MetadataStrict:         false,
	}
}

func TestRecorderHandleDiffWritesOrderbookRowsAndMonotonicSeq(t *testing.T) {
	t.Setenv("MM_METADATA_FETCH", "false")
	t.Setenv("MM_METADATA_STRICT", "false")

	cfg := newTestConfig(t)
	rec, err := newForTest(cfg)
	require.NoError(t, err)
	defer rec.closeWriters()

	lastUID := int64(100)
	require.NoError(t, rec.engine.AdoptSnapshot(sync.BookSnapshot{
		Bids:         []orderbook.PriceLevel{{Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1)}},
		Asks:         []orderbook.PriceLevel{{Price: decimal.NewFromInt(101), Qty: decimal.NewFromInt(1)}},
		LastUpdateID: &lastUID,
	}))
	assert.False(t, rec.engine.Synced()) // adoption alone does not sync; the first bridging diff does

	ctx := context.Background()
	rec.handleDiff(ctx, sync.DepthDiff{
		EventTimeMs: 1000, SeqFrom: 101, SeqTo: 101,
		Bids: []orderbook.PriceLevel{{Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(2)}},
	})
	rec.handleDiff(ctx, sync.DepthDiff{
		EventTimeMs: 1001, SeqFrom: 102, SeqTo: 102,
		Asks: []orderbook.PriceLevel{{Price: decimal.NewFromInt(101), Qty: decimal.NewFromInt(3)}},
	})

	assert.Equal(t, int64(2), rec.state.OBRowsWritten)
	require.NoError(t, rec.obWriter.Close())

	rows := readCSVGzip(t, rec.obWriter.path)
	require.Len(t, rows, 3) // header + 2 rows
	seq1 := rows[1][2]
	seq2 := rows[2][2]
	assert.NotEqual(t, seq1, seq2)
}

func TestRecorderResyncOnGapBumpsCountersAndPhase(t *testing.T) {
	t.Setenv("MM_METADATA_FETCH", "false")
	t.Setenv("MM_METADATA_STRICT", "false")

	cfg := newTestConfig(t)
	rec, err := newForTest(cfg)
	require.NoError(t, err)
	defer rec.closeWriters()

	lastUID := int64(100)
	require.NoError(t, rec.engine.AdoptSnapshot(sync.BookSnapshot{LastUpdateID: &lastUID}))

	rec.handleDiff(context.Background(), sync.DepthDiff{EventTimeMs: 2000, SeqFrom: 500, SeqTo: 600})

	assert.Equal(t, 1, rec.state.ResyncCount)
	assert.Equal(t, PhaseResyncing, rec.state.Phase)
}

func TestRecorderEmitEventIncrementsEventIDAndRecvSeq(t *testing.T) {
	t.Setenv("MM_METADATA_FETCH", "false")
	t.Setenv("MM_METADATA_STRICT", "false")

	cfg := newTestConfig(t)
	rec, err := newForTest(cfg)
	require.NoError(t, err)
	defer rec.closeWriters()

	e1 := rec.emitEvent("test_event", map[string]interface{}{"a": 1})
	e2 := rec.emitEvent("test_event", map[string]interface{}{"a": 2})
	assert.Equal(t, e1+1, e2)
	assert.Equal(t, int64(2), rec.state.RecvSeq)
}

// newForTest builds a Recorder directly (bypassing New's REST metadata
// resolution and directory layout) so driver logic can be exercised
// against an in-memory bridging engine without any network access.
func newForTest(cfg *config.Recorder) (*Recorder, error) {
	rec := &Recorder{
		cfg:          cfg,
		adapter:      adapter.Binance{},
		exchange:     "fakeseq",
		symbol:       "btcusdt",
		symbolFS:     "btcusdt",
		dayDir:       cfg.DataDir,
		runID:        1,
		windowEnd:    fixedFutureWindowEnd(),
		windowTZ:     mustUTC(),
		snapshotsDir: filepath.Join(cfg.DataDir, "snapshots"),
	}
	rec.state.Phase = PhaseConnecting
	rec.book = orderbook.New("fakeseq", "btcusdt", decimal.Zero, true)
	rec.engine = sync.NewBridgingEngine(rec.book, 1000)
	if err := os.MkdirAll(rec.snapshotsDir, 0o755); err != nil {
		return nil, err
	}
	if err := rec.openWriters("19700101"); err != nil {
		return nil, err
	}
	return rec, nil
}

func mustUTC() *time.Location { return time.UTC }

func fixedFutureWindowEnd() time.Time {
	return time.Now().In(time.UTC).Add(24 * time.Hour)
}

func readCSVGzip(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()
	rows, err := csv.NewReader(gz).ReadAll()
	require.NoError(t, err)
	return rows
}
