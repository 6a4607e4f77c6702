package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitfinexNormalizeSymbol(t *testing.T) {
	b := NewBitfinex()
	assert.Equal(t, "tBTCUSD", b.NormalizeSymbol("BTC/USD"))
	assert.Equal(t, "tBTCUSD", b.NormalizeSymbol("btc-usd"))
	assert.Equal(t, "tBTCUSD", b.NormalizeSymbol("tBTCUSD"))
}

func TestBitfinexNormalizeDepthAlwaysTwentyFive(t *testing.T) {
	b := NewBitfinex()
	assert.Equal(t, 25, b.NormalizeDepth(10))
	assert.Equal(t, 25, b.NormalizeDepth(500))
}

func TestBitfinexCapturesChanIDFromSubscribedAck(t *testing.T) {
	b := NewBitfinex()
	_, err := b.ParseWSMessage([]byte(`{"event":"subscribed","channel":"book","chanId":17,"pair":"tBTCUSD"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(17), b.bookChanID.Load())

	_, err = b.ParseWSMessage([]byte(`{"event":"subscribed","channel":"trades","chanId":18,"pair":"tBTCUSD"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(18), b.tradesChanID.Load())
}

func TestBitfinexHeartbeatIgnored(t *testing.T) {
	b := NewBitfinex()
	b.bookChanID.Store(17)
	msg, err := b.ParseWSMessage([]byte(`[17,"hb"]`))
	require.NoError(t, err)
	assert.Empty(t, msg.Diffs)
}

func TestBitfinexChecksumFrame(t *testing.T) {
	b := NewBitfinex()
	b.bookChanID.Store(17)
	msg, err := b.ParseWSMessage([]byte(`[17,"cs",123456]`))
	require.NoError(t, err)
	require.Len(t, msg.Diffs, 1)
	require.NotNil(t, msg.Diffs[0].Checksum)
	assert.Equal(t, uint32(123456), *msg.Diffs[0].Checksum)
}

func TestBitfinexBookSnapshot(t *testing.T) {
	b := NewBitfinex()
	b.bookChanID.Store(17)
	msg, err := b.ParseWSMessage([]byte(`[17,[[100.0,1,0.5],[101.0,1,-0.4]]]`))
	require.NoError(t, err)
	require.Len(t, msg.Snapshots, 1)
	assert.Len(t, msg.Snapshots[0].Bids, 1)
	assert.Len(t, msg.Snapshots[0].Asks, 1)
}

func TestBitfinexBookUpdateDeletion(t *testing.T) {
	b := NewBitfinex()
	b.bookChanID.Store(17)
	// count == 0 with positive amount means delete from bids
	msg, err := b.ParseWSMessage([]byte(`[17,[100.0,0,1]]`))
	require.NoError(t, err)
	require.Len(t, msg.Diffs, 1)
	require.Len(t, msg.Diffs[0].Bids, 1)
	assert.True(t, msg.Diffs[0].Bids[0].Qty.IsZero())
}

func TestBitfinexBookUpdateUpsert(t *testing.T) {
	b := NewBitfinex()
	b.bookChanID.Store(17)
	msg, err := b.ParseWSMessage([]byte(`[17,[100.0,1,0.75]]`))
	require.NoError(t, err)
	require.Len(t, msg.Diffs, 1)
	require.Len(t, msg.Diffs[0].Bids, 1)
	assert.Equal(t, "0.75", msg.Diffs[0].Bids[0].Qty.String())
}

func TestBitfinexTradeSnapshotAndUpdate(t *testing.T) {
	b := NewBitfinex()
	b.tradesChanID.Store(18)

	msg, err := b.ParseWSMessage([]byte(`[18,[[1,1700000000000,0.5,100.0]]]`))
	require.NoError(t, err)
	require.Len(t, msg.Trades, 1)
	assert.Equal(t, "buy", msg.Trades[0].Side)

	msg, err = b.ParseWSMessage([]byte(`[18,"te",2,1700000001000,-0.3,99.0]`))
	require.NoError(t, err)
	assert.Empty(t, msg.Trades, "te is a provisional trade event and must be ignored")

	msg, err = b.ParseWSMessage([]byte(`[18,"tu",2,1700000001000,-0.3,99.0]`))
	require.NoError(t, err)
	require.Len(t, msg.Trades, 1)
	assert.Equal(t, "sell", msg.Trades[0].Side)
	assert.True(t, msg.Trades[0].IsBuyerMaker)
}
