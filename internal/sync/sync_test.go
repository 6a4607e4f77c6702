package sync

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaindrift/mdrecorder/internal/orderbook"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func lvl(price, qty string) orderbook.PriceLevel {
	return orderbook.PriceLevel{Price: dec(price), Qty: dec(qty)}
}

func i64(v int64) *int64 { return &v }

func newBridging(maxBuf int) *BridgingEngine {
	book := orderbook.New("binance", "BTCUSDT", decimal.Zero, true)
	return NewBridgingEngine(book, maxBuf)
}

// S3 — buffer overflow applies uniformly to all engine variants.
func TestBridgingEngineBufferOverflow(t *testing.T) {
	e := newBridging(2)
	r1 := e.Feed(DepthDiff{SeqFrom: 1, SeqTo: 1})
	r2 := e.Feed(DepthDiff{SeqFrom: 2, SeqTo: 2})
	r3 := e.Feed(DepthDiff{SeqFrom: 3, SeqTo: 3})

	assert.Equal(t, OutcomeBuffered, r1.Outcome)
	assert.Equal(t, OutcomeBuffered, r2.Outcome)
	assert.Equal(t, OutcomeGap, r3.Outcome)
	assert.Equal(t, "buffer_overflow", r3.Reason)
}

func TestChecksumEngineBufferOverflow(t *testing.T) {
	book := orderbook.New("kraken", "XBT/USD", decimal.Zero, true)
	e := NewChecksumEngine(book, 10, 10, 2, KrakenChecksum)
	r1 := e.Feed(DepthDiff{})
	r2 := e.Feed(DepthDiff{})
	r3 := e.Feed(DepthDiff{})
	assert.Equal(t, OutcomeBuffered, r1.Outcome)
	assert.Equal(t, OutcomeBuffered, r2.Outcome)
	assert.Equal(t, OutcomeGap, r3.Outcome)
	assert.Equal(t, "buffer_overflow", r3.Reason)
}

func TestAdoptSnapshotRequiresLastUpdateID(t *testing.T) {
	e := newBridging(10)
	err := e.AdoptSnapshot(BookSnapshot{Bids: nil, Asks: nil, LastUpdateID: nil})
	require.ErrorIs(t, err, errMissingLastUpdateID)
}

// S1 — Binance bridge scenario.
func TestBridgingEngineBridgeScenario(t *testing.T) {
	e := newBridging(10)
	require.NoError(t, e.AdoptSnapshot(BookSnapshot{
		Bids:         []orderbook.PriceLevel{lvl("100", "1")},
		Asks:         []orderbook.PriceLevel{lvl("101", "1")},
		LastUpdateID: i64(10),
	}))

	r1 := e.Feed(DepthDiff{SeqFrom: 10, SeqTo: 11})
	assert.Equal(t, OutcomeSynced, r1.Outcome)
	assert.True(t, e.Synced())
	assert.Equal(t, 1, e.EpochID())

	r2 := e.Feed(DepthDiff{SeqFrom: 12, SeqTo: 12})
	assert.Equal(t, OutcomeApplied, r2.Outcome)
	require.NotNil(t, e.Book().LastUpdateID)
	assert.Equal(t, int64(12), *e.Book().LastUpdateID)
}

// S2 — Binance bridge impossible.
func TestBridgingEngineBridgeImpossible(t *testing.T) {
	e := newBridging(10)
	require.NoError(t, e.AdoptSnapshot(BookSnapshot{
		Bids:         []orderbook.PriceLevel{lvl("100", "1")},
		Asks:         []orderbook.PriceLevel{lvl("101", "1")},
		LastUpdateID: i64(10),
	}))

	r := e.Feed(DepthDiff{SeqFrom: 50, SeqTo: 51})
	assert.Equal(t, OutcomeGap, r.Outcome)
	assert.Equal(t, "bridge_impossible", r.Reason)
}

func TestBridgeUsesLastUpdateIDPlusOneCondition(t *testing.T) {
	e := newBridging(10)
	require.NoError(t, e.AdoptSnapshot(BookSnapshot{
		Bids:         []orderbook.PriceLevel{lvl("100", "1")},
		Asks:         []orderbook.PriceLevel{lvl("101", "1")},
		LastUpdateID: i64(100),
	}))

	// U=101 <= last_update_id+1 = 101 <= u=105, so the first frame bridges;
	// the next in-order frame then applies normally.
	r1 := e.Feed(DepthDiff{SeqFrom: 101, SeqTo: 105})
	assert.Equal(t, OutcomeSynced, r1.Outcome)

	r2 := e.Feed(DepthDiff{SeqFrom: 106, SeqTo: 106})
	assert.Equal(t, OutcomeApplied, r2.Outcome)
	assert.True(t, e.Synced())
	assert.Equal(t, int64(106), *e.Book().LastUpdateID)
}

// S4 — Kraken checksum mismatch.
func TestKrakenChecksumMismatchIsGap(t *testing.T) {
	book := orderbook.New("kraken", "XBT/USD", decimal.Zero, true)
	e := NewChecksumEngine(book, 25, 10, 10, KrakenChecksum)
	require.NoError(t, e.AdoptSnapshot(BookSnapshot{
		Bids: []orderbook.PriceLevel{lvl("100.0", "1.0")},
		Asks: []orderbook.PriceLevel{lvl("101.0", "2.0")},
	}))

	bad := uint32(123)
	r := e.Feed(DepthDiff{
		Bids:     []orderbook.PriceLevel{lvl("100.0", "1.5")},
		Checksum: &bad,
	})
	assert.Equal(t, OutcomeGap, r.Outcome)
	assert.False(t, e.Synced())
}

func TestKrakenChecksumMatchesKnownValue(t *testing.T) {
	book := orderbook.New("kraken", "XBT/USD", decimal.Zero, true)
	e := NewChecksumEngine(book, 25, 10, 10, KrakenChecksum)
	require.NoError(t, e.AdoptSnapshot(BookSnapshot{
		Bids: []orderbook.PriceLevel{lvl("100.0", "1.0")},
		Asks: []orderbook.PriceLevel{lvl("101.0", "2.0")},
	}))
	computed, _ := KrakenChecksum(e.Book(), 10)
	r := e.Feed(DepthDiff{Checksum: &computed})
	assert.Equal(t, OutcomeApplied, r.Outcome)
	assert.True(t, e.Synced())
}

// Locks in the fix for a real recorder default: the book truncates to 25
// levels (Kraken.NormalizeDepth's rounded-up default) but the wire checksum
// is still computed over only the top 10, so a book with >10 bid/ask levels
// must still validate against a checksum taken over just the top 10.
func TestKrakenChecksumUsesTop10RegardlessOfBookDepth(t *testing.T) {
	book := orderbook.New("kraken", "XBT/USD", decimal.Zero, true)
	e := NewChecksumEngine(book, 25, 10, 10, KrakenChecksum)

	bids := make([]orderbook.PriceLevel, 0, 15)
	asks := make([]orderbook.PriceLevel, 0, 15)
	for i := 0; i < 15; i++ {
		bids = append(bids, lvl(fmt.Sprintf("%d.0", 100-i), "1.0"))
		asks = append(asks, lvl(fmt.Sprintf("%d.0", 101+i), "1.0"))
	}
	require.NoError(t, e.AdoptSnapshot(BookSnapshot{Bids: bids, Asks: asks}))

	// The real exchange checksum only ever covers the top 10 — compute it
	// that way here, not over the full 25-level truncated book.
	computed, _ := KrakenChecksum(e.Book(), 10)
	r := e.Feed(DepthDiff{Checksum: &computed})
	assert.Equal(t, OutcomeApplied, r.Outcome)
	assert.True(t, e.Synced())

	// A checksum taken over the full 25-level book would NOT match and
	// must not be what the engine validates against.
	wrongWidth, _ := KrakenChecksum(e.Book(), 25)
	assert.NotEqual(t, computed, wrongWidth)
}

func TestBitfinexChecksumMismatchIsGap(t *testing.T) {
	book := orderbook.New("bitfinex", "BTCUSD", decimal.Zero, false)
	e := NewChecksumEngine(book, 25, 25, 10, BitfinexChecksum)
	require.NoError(t, e.AdoptSnapshot(BookSnapshot{
		Bids: []orderbook.PriceLevel{lvl("100.0", "0.5")},
		Asks: []orderbook.PriceLevel{lvl("101.0", "0.4")},
	}))

	bad := uint32(123)
	r := e.Feed(DepthDiff{Checksum: &bad})
	assert.Equal(t, OutcomeGap, r.Outcome)
}

func TestEpochIncrementsExactlyOnceOnResync(t *testing.T) {
	e := newBridging(10)
	require.NoError(t, e.AdoptSnapshot(BookSnapshot{
		Bids:         []orderbook.PriceLevel{lvl("100", "1")},
		Asks:         []orderbook.PriceLevel{lvl("101", "1")},
		LastUpdateID: i64(10),
	}))
	e.Feed(DepthDiff{SeqFrom: 10, SeqTo: 11})
	assert.Equal(t, 1, e.EpochID())

	// force a gap, then resync
	e.Feed(DepthDiff{SeqFrom: 999, SeqTo: 999})
	assert.False(t, e.Synced())
	e.Reset()

	require.NoError(t, e.AdoptSnapshot(BookSnapshot{
		Bids:         []orderbook.PriceLevel{lvl("100", "1")},
		Asks:         []orderbook.PriceLevel{lvl("101", "1")},
		LastUpdateID: i64(50),
	}))
	e.Feed(DepthDiff{SeqFrom: 50, SeqTo: 51})
	assert.Equal(t, 2, e.EpochID())
}
