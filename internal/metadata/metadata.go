// Package metadata resolves per-symbol price tick size from each
// exchange's public REST API, with env overrides and a strict/non-strict
// failure mode (spec §4.8 ADD). Grounded on
// original_source/mm_recorder/metadata.py's resolve_price_tick_size.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/chaindrift/mdrecorder/internal/gclog"
)

// DefaultTickSize is used when the metadata fetch fails and
// MM_METADATA_STRICT is false, matching local_orderbook.get_default_tick_size.
// A disabled fetch (MM_METADATA_FETCH=false) is an error, not this default.
var DefaultTickSize = decimal.New(1, -8)

// TickInfo is the resolved tick size plus provenance.
type TickInfo struct {
	Exchange string
	Symbol   string
	TickSize decimal.Decimal
	Source   string // "env" | "metadata" | "default"
}

// Resolver fetches tick sizes over REST, rate-limited to be a polite
// client against exchange metadata endpoints shared across many symbols.
type Resolver struct {
	HTTPClient *http.Client
	Limiter    *rate.Limiter

	BinanceBaseURL  string
	KrakenBaseURL   string
	BitfinexBaseURL string

	RetryMax         int
	RetryBackoff     time.Duration
	RetryBackoffMax  time.Duration
	Timeout          time.Duration
}

// NewResolver builds a Resolver with the spec's documented defaults.
func NewResolver() *Resolver {
	return &Resolver{
		HTTPClient:      &http.Client{Timeout: 10 * time.Second},
		Limiter:         rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		BinanceBaseURL:  envOr("BINANCE_REST_BASE_URL", "https://api.binance.com"),
		KrakenBaseURL:   envOr("KRAKEN_REST_BASE_URL", "https://api.kraken.com"),
		BitfinexBaseURL: envOr("BITFINEX_REST_BASE_URL", "https://api.bitfinex.com"),
		RetryMax:        3,
		RetryBackoff:    500 * time.Millisecond,
		RetryBackoffMax: 5 * time.Second,
		Timeout:         10 * time.Second,
	}
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envBool(name string, def bool) bool {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y":
		return true
	default:
		return false
	}
}

// Resolve implements the env-override -> metadata-fetch -> default fallback
// chain. MM_PRICE_TICK_SIZE short-circuits everything; MM_METADATA_FETCH=false
// disables fetching outright; MM_METADATA_STRICT (default true) controls
// whether a fetch failure is fatal or falls back to DefaultTickSize.
func (r *Resolver) Resolve(ctx context.Context, exchange, symbol string) (TickInfo, error) {
	if override := os.Getenv("MM_PRICE_TICK_SIZE"); override != "" {
		tick, err := decimal.NewFromString(override)
		if err != nil {
			return TickInfo{}, errors.Wrapf(err, "metadata: invalid MM_PRICE_TICK_SIZE %q", override)
		}
		return TickInfo{Exchange: exchange, Symbol: symbol, TickSize: tick, Source: "env"}, nil
	}

	if !envBool("MM_METADATA_FETCH", true) {
		return TickInfo{}, errors.New("metadata: MM_METADATA_FETCH is disabled; set MM_PRICE_TICK_SIZE to proceed")
	}

	tick, err := r.fetchWithRetry(ctx, exchange, symbol)
	if err != nil {
		if envBool("MM_METADATA_STRICT", true) {
			return TickInfo{}, errors.Wrapf(err, "metadata: fetch failed for %s %s", exchange, symbol)
		}
		gclog.Warnf(gclog.ConfigMgr, "metadata fetch failed for %s %s, falling back to default tick size: %v", exchange, symbol, err)
		return TickInfo{Exchange: exchange, Symbol: symbol, TickSize: DefaultTickSize, Source: "default"}, nil
	}
	return TickInfo{Exchange: exchange, Symbol: symbol, TickSize: tick, Source: "metadata"}, nil
}

func (r *Resolver) fetchWithRetry(ctx context.Context, exchange, symbol string) (decimal.Decimal, error) {
	attempts := r.RetryMax
	if attempts < 1 {
		attempts = 1
	}
	delay := r.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := r.Limiter.Wait(ctx); err != nil {
			return decimal.Decimal{}, err
		}
		tick, err := r.fetchOnce(ctx, exchange, symbol)
		if err == nil {
			return tick, nil
		}
		lastErr = err
		if attempt >= attempts {
			break
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return decimal.Decimal{}, ctx.Err()
			}
			delay *= 2
			if delay > r.RetryBackoffMax {
				delay = r.RetryBackoffMax
			}
		}
	}
	return decimal.Decimal{}, lastErr
}

func (r *Resolver) fetchOnce(ctx context.Context, exchange, symbol string) (decimal.Decimal, error) {
	switch strings.ToLower(strings.TrimSpace(exchange)) {
	case "binance":
		return r.fetchBinance(ctx, symbol)
	case "kraken":
		return r.fetchKraken(ctx, symbol)
	case "bitfinex":
		return r.fetchBitfinex(ctx, symbol)
	default:
		return decimal.Decimal{}, fmt.Errorf("metadata: unsupported exchange %q", exchange)
	}
}

func (r *Resolver) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "mdrecorder")
	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("metadata: %s returned status %d", rawURL, resp.StatusCode)
	}
	return body, nil
}

type binanceExchangeInfo struct {
	Symbols []struct {
		Filters []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

func (r *Resolver) fetchBinance(ctx context.Context, symbol string) (decimal.Decimal, error) {
	u := fmt.Sprintf("%s/api/v3/exchangeInfo?symbol=%s", r.BinanceBaseURL, symbol)
	body, err := r.get(ctx, u)
	if err != nil {
		return decimal.Decimal{}, err
	}
	var info binanceExchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return decimal.Decimal{}, err
	}
	if len(info.Symbols) == 0 {
		return decimal.Decimal{}, fmt.Errorf("metadata: binance exchangeInfo returned no symbols for %s", symbol)
	}
	for _, f := range info.Symbols[0].Filters {
		if f.FilterType == "PRICE_FILTER" && f.TickSize != "" {
			return decimal.NewFromString(f.TickSize)
		}
	}
	return decimal.Decimal{}, fmt.Errorf("metadata: binance exchangeInfo missing PRICE_FILTER tickSize for %s", symbol)
}

type krakenAssetPairsResponse struct {
	Error  []string `json:"error"`
	Result map[string]struct {
		TickSize     string `json:"tick_size"`
		PairDecimals *int   `json:"pair_decimals"`
	} `json:"result"`
}

func (r *Resolver) fetchKraken(ctx context.Context, symbol string) (decimal.Decimal, error) {
	u := fmt.Sprintf("%s/0/public/AssetPairs?pair=%s", r.KrakenBaseURL, symbol)
	body, err := r.get(ctx, u)
	if err != nil {
		return decimal.Decimal{}, err
	}
	var resp krakenAssetPairsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Decimal{}, err
	}
	if len(resp.Error) > 0 {
		return decimal.Decimal{}, fmt.Errorf("metadata: kraken AssetPairs error for %s: %v", symbol, resp.Error)
	}
	if len(resp.Result) == 0 {
		return decimal.Decimal{}, fmt.Errorf("metadata: kraken AssetPairs returned no result for %s", symbol)
	}
	for _, info := range resp.Result {
		if info.TickSize != "" {
			return decimal.NewFromString(info.TickSize)
		}
		if info.PairDecimals != nil {
			return decimal.New(1, 0).DivRound(decimal.New(10, 0).Pow(decimal.New(int64(*info.PairDecimals), 0)), 16), nil
		}
		return decimal.Decimal{}, fmt.Errorf("metadata: kraken AssetPairs missing tick_size/pair_decimals for %s", symbol)
	}
	return decimal.Decimal{}, fmt.Errorf("metadata: kraken AssetPairs returned no usable entry for %s", symbol)
}

type bitfinexSymbolDetail struct {
	Pair           string `json:"pair"`
	PricePrecision *int   `json:"price_precision"`
}

// bitfinexPairKey reproduces the adapter's symbol-stripping, without the
// leading exchange-type marker ("t" spot, "f" funding), matching
// _bitfinex_pair_key in the source metadata module.
func bitfinexPairKey(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.NewReplacer("/", "", "-", "", ":", "").Replace(s)
	if strings.HasPrefix(s, "T") || strings.HasPrefix(s, "F") {
		s = s[1:]
	}
	return strings.ToLower(s)
}

func (r *Resolver) fetchBitfinex(ctx context.Context, symbol string) (decimal.Decimal, error) {
	u := fmt.Sprintf("%s/v1/symbols_details", r.BitfinexBaseURL)
	body, err := r.get(ctx, u)
	if err != nil {
		return decimal.Decimal{}, err
	}
	var rows []bitfinexSymbolDetail
	if err := json.Unmarshal(body, &rows); err != nil {
		return decimal.Decimal{}, err
	}
	key := bitfinexPairKey(symbol)
	for _, row := range rows {
		if row.Pair != key {
			continue
		}
		if row.PricePrecision == nil {
			return decimal.Decimal{}, fmt.Errorf("metadata: bitfinex symbols_details missing price_precision for %s", key)
		}
		gclog.Warnf(gclog.ConfigMgr,
			"bitfinex does not publish a fixed tick size; derived from price_precision=%d (significant digits)", *row.PricePrecision)
		return decimal.New(1, 0).DivRound(decimal.New(10, 0).Pow(decimal.New(int64(*row.PricePrecision), 0)), 16), nil
	}
	return decimal.Decimal{}, fmt.Errorf("metadata: bitfinex symbols_details missing pair=%s", key)
}
