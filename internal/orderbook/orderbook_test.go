package orderbook

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func lvl(price, qty string) PriceLevel {
	return PriceLevel{Price: dec(price), Qty: dec(qty)}
}

func i64(v int64) *int64 { return &v }

func TestTickAlignmentTolerance(t *testing.T) {
	b := New("binance", "BTCUSDT", dec("0.01"), true)
	err := b.LoadSnapshot([]PriceLevel{lvl("1.0000000000000002", "1")}, nil, i64(1))
	require.NoError(t, err, "tiny rounding error must be tolerated")
	bids, _ := b.TopN(1)
	require.Len(t, bids, 1)
	assert.True(t, bids[0].Price.Equal(dec("1.0000000000000002")))
}

func TestTickAlignmentRejectsLargeMismatch(t *testing.T) {
	b := New("binance", "BTCUSDT", dec("0.01"), true)
	err := b.LoadSnapshot([]PriceLevel{lvl("1.005", "1")}, nil, i64(1))
	var tickErr *ErrTickAlignment
	require.ErrorAs(t, err, &tickErr)
}

func TestBitfinexNonStrictWarnsOnly(t *testing.T) {
	b := New("bitfinex", "BTCUSD", dec("0.01"), false)
	err := b.LoadSnapshot([]PriceLevel{lvl("1.005", "1")}, nil, nil)
	require.NoError(t, err, "non-strict books must not fail on tick misalignment")
}

// S1 — Binance bridge scenario from spec §8.
func TestApplyDiffBridgeScenario(t *testing.T) {
	b := New("binance", "BTCUSDT", decimal.Zero, true)
	require.NoError(t, b.LoadSnapshot([]PriceLevel{lvl("100", "1")}, []PriceLevel{lvl("101", "1")}, i64(10)))

	res := b.ApplyDiff(10, 11, nil, nil)
	assert.Equal(t, Applied, res)
	require.NotNil(t, b.LastUpdateID)
	assert.Equal(t, int64(11), *b.LastUpdateID)

	res = b.ApplyDiff(12, 12, nil, nil)
	assert.Equal(t, Applied, res)
	assert.Equal(t, int64(12), *b.LastUpdateID)
}

func TestApplyDiffGapWhenUAheadOfCursor(t *testing.T) {
	b := New("binance", "BTCUSDT", decimal.Zero, true)
	require.NoError(t, b.LoadSnapshot([]PriceLevel{lvl("100", "1")}, []PriceLevel{lvl("101", "1")}, i64(10)))

	before := *b.LastUpdateID
	res := b.ApplyDiff(50, 51, nil, nil)
	assert.Equal(t, Gap, res)
	assert.Equal(t, before, *b.LastUpdateID, "book must not mutate on gap")
}

func TestApplyDiffStaleIsIdempotent(t *testing.T) {
	b := New("binance", "BTCUSDT", decimal.Zero, true)
	require.NoError(t, b.LoadSnapshot([]PriceLevel{lvl("100", "1")}, []PriceLevel{lvl("101", "1")}, i64(10)))

	bidsBefore, asksBefore := b.TopN(10)
	res := b.ApplyDiff(5, 10, []PriceLevel{lvl("100", "99")}, nil)
	assert.Equal(t, Stale, res)
	bidsAfter, asksAfter := b.TopN(10)
	assert.Equal(t, bidsBefore, bidsAfter)
	assert.Equal(t, asksBefore, asksAfter)
}

func TestVerifyDetectsCrossedBook(t *testing.T) {
	b := New("binance", "BTCUSDT", decimal.Zero, true)
	require.NoError(t, b.LoadSnapshot([]PriceLevel{lvl("101", "1")}, []PriceLevel{lvl("100", "1")}, i64(1)))
	assert.Error(t, b.Verify())
}

func TestTopNOrderingAndRollover(t *testing.T) {
	b := New("binance", "BTCUSDT", decimal.Zero, true)
	require.NoError(t, b.LoadSnapshot(
		[]PriceLevel{lvl("100", "1"), lvl("99", "1"), lvl("98", "1")},
		[]PriceLevel{lvl("101", "1"), lvl("102", "1"), lvl("103", "1")},
		i64(1)))

	bids, asks := b.TopN(2)
	require.Len(t, bids, 2)
	require.Len(t, asks, 2)
	assert.True(t, bids[0].Price.Equal(dec("100")))
	assert.True(t, bids[1].Price.Equal(dec("99")))
	assert.True(t, asks[0].Price.Equal(dec("101")))
	assert.True(t, asks[1].Price.Equal(dec("102")))

	// cancel top bid level -> deeper liquidity should surface
	res := b.ApplyDiff(2, 2, []PriceLevel{lvl("100", "0")}, nil)
	require.Equal(t, Applied, res)
	bids, _ = b.TopN(2)
	require.Len(t, bids, 2)
	assert.True(t, bids[0].Price.Equal(dec("99")))
}

func TestApplyLevelsTruncatesToDepth(t *testing.T) {
	b := New("kraken", "XBT/USD", decimal.Zero, true)
	require.NoError(t, b.LoadSnapshot(nil, nil, nil))
	b.ApplyLevels(
		[]PriceLevel{lvl("100", "1"), lvl("99", "1"), lvl("98", "1")},
		[]PriceLevel{lvl("101", "1"), lvl("102", "1"), lvl("103", "1")},
		2)
	bids, asks := b.TopN(10)
	assert.Len(t, bids, 2)
	assert.Len(t, asks, 2)
}
