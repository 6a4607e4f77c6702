package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestResolveEnvOverrideShortCircuits(t *testing.T) {
	t.Setenv("MM_PRICE_TICK_SIZE", "0.01")
	r := NewResolver()
	info, err := r.Resolve(context.Background(), "binance", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "env", info.Source)
	assert.True(t, info.TickSize.Equal(mustDec("0.01")))
}

func TestResolveMetadataFetchDisabled(t *testing.T) {
	t.Setenv("MM_METADATA_FETCH", "false")
	r := NewResolver()
	_, err := r.Resolve(context.Background(), "binance", "BTCUSDT")
	require.Error(t, err)
}

func TestResolveBinanceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"symbols":[{"filters":[{"filterType":"PRICE_FILTER","tickSize":"0.00010000"}]}]}`))
	}))
	defer srv.Close()

	r := NewResolver()
	r.BinanceBaseURL = srv.URL
	r.Limiter = rate.NewLimiter(rate.Inf, 1)
	info, err := r.Resolve(context.Background(), "binance", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "metadata", info.Source)
	assert.True(t, info.TickSize.Equal(mustDec("0.0001")))
}

func TestResolveFallsBackToDefaultWhenNotStrict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	t.Setenv("MM_METADATA_STRICT", "false")
	r := NewResolver()
	r.BinanceBaseURL = srv.URL
	r.Limiter = rate.NewLimiter(rate.Inf, 1)
	r.RetryMax = 1
	info, err := r.Resolve(context.Background(), "binance", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "default", info.Source)
	assert.True(t, info.TickSize.Equal(DefaultTickSize))
}

func TestBitfinexPairKeyStripsMarker(t *testing.T) {
	assert.Equal(t, "btcusd", bitfinexPairKey("tBTCUSD"))
	assert.Equal(t, "btcusd", bitfinexPairKey("BTC/USD"))
}
