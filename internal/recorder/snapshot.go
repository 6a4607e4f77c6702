package recorder

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/chaindrift/mdrecorder/internal/orderbook"
)

// RestClient fetches an initial order book snapshot over REST. Only
// Binance's depth endpoint is implemented (spec §4.5: Kraken/Bitfinex
// bootstrap straight from the WS "snapshot" frame and never need a REST
// client), matching make_rest_client's exchange dispatch.
type RestClient interface {
	GetOrderBook(ctx context.Context, symbol string, limit int) (RestSnapshot, error)
}

// RestSnapshot is the raw REST payload shape, validated before use.
type RestSnapshot struct {
	Bids         [][2]string
	Asks         [][2]string
	LastUpdateID int64
}

type BinanceRestClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewBinanceRestClient(baseURL string) *BinanceRestClient {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &BinanceRestClient{BaseURL: baseURL, HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

type binanceDepthResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

func (c *BinanceRestClient) GetOrderBook(ctx context.Context, symbol string, limit int) (RestSnapshot, error) {
	url := fmt.Sprintf("%s/api/v3/depth?symbol=%s&limit=%d", c.BaseURL, symbol, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return RestSnapshot{}, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return RestSnapshot{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return RestSnapshot{}, err
	}
	if resp.StatusCode >= 400 {
		return RestSnapshot{}, fmt.Errorf("recorder: binance depth endpoint returned status %d", resp.StatusCode)
	}
	var parsed binanceDepthResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return RestSnapshot{}, err
	}
	return RestSnapshot{Bids: parsed.Bids, Asks: parsed.Asks, LastUpdateID: parsed.LastUpdateID}, nil
}

// MakeRestClient mirrors make_rest_client: only Binance gets one.
func MakeRestClient(exchange string) RestClient {
	if exchange == "binance" {
		return NewBinanceRestClient("")
	}
	return nil
}

func callWithRetry(attempts int, backoff, backoffMax time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	delay := backoff
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt >= attempts {
			break
		}
		if delay > 0 {
			time.Sleep(delay)
			delay *= 2
			if delay > backoffMax {
				delay = backoffMax
			}
		}
	}
	return lastErr
}

// RecordRestSnapshot fetches a REST snapshot, loads it into a fresh
// order book, and persists CSV+JSON audit copies under snapshotsDir,
// matching snapshot.py's record_rest_snapshot. tag distinguishes
// multiple snapshots per day (e.g. "initial", "resync_000003").
func RecordRestSnapshot(ctx context.Context, client RestClient, symbol, exchangeName, symbolFS, snapshotsDir string, limit int, runID, eventID int64, tag string) (*orderbook.Base, string, int64, error) {
	if client == nil {
		return nil, "", 0, errors.New("recorder: REST snapshot requires a client for this exchange")
	}

	var snap RestSnapshot
	err := callWithRetry(3, 500*time.Millisecond, 5*time.Second, func() error {
		var fetchErr error
		snap, fetchErr = client.GetOrderBook(ctx, symbol, limit)
		return fetchErr
	})
	if err != nil {
		return nil, "", 0, errors.Wrap(err, "recorder: REST snapshot fetch failed")
	}

	book := orderbook.New(exchangeName, symbol, decimal.Zero, true)
	lastUpdateID := snap.LastUpdateID
	if err := book.LoadSnapshot(decLevelsRest(snap.Bids), decLevelsRest(snap.Asks), &lastUpdateID); err != nil {
		return nil, "", 0, errors.Wrap(err, "recorder: invalid REST snapshot payload")
	}

	path := filepath.Join(snapshotsDir, fmt.Sprintf("snapshot_%06d_%s.csv", eventID, tag))
	if err := writeSnapshotCSV(path, runID, eventID, book, lastUpdateID, nil); err != nil {
		return nil, "", 0, err
	}
	return book, path, lastUpdateID, nil
}

func decLevelsRest(raw [][2]string) []orderbook.PriceLevel {
	out := make([]orderbook.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		p, err := decimal.NewFromString(pair[0])
		if err != nil {
			continue
		}
		q, err := decimal.NewFromString(pair[1])
		if err != nil {
			continue
		}
		out = append(out, orderbook.PriceLevel{Price: p, Qty: q})
	}
	return out
}

// writeSnapshotCSV writes run_id,event_id,side,price,qty,lastUpdateId[,checksum]
// rows sorted descending by price for bids and ascending for asks, matching
// write_snapshot_csv's decimal-formatted output (8 fixed decimals).
func writeSnapshotCSV(path string, runID, eventID int64, book *orderbook.Base, lastUpdateID int64, checksum *uint32) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"run_id", "event_id", "side", "price", "qty", "lastUpdateId"}
	if checksum != nil {
		header = append(header, "checksum")
	}
	if err := w.Write(header); err != nil {
		return err
	}

	bids := append([]orderbook.PriceLevel{}, []orderbook.PriceLevel(book.Bids)...)
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	for _, lvl := range bids {
		row := []string{fmt.Sprint(runID), fmt.Sprint(eventID), "bid", lvl.Price.StringFixed(8), lvl.Qty.StringFixed(8), fmt.Sprint(lastUpdateID)}
		if checksum != nil {
			row = append(row, fmt.Sprint(*checksum))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	asks := append([]orderbook.PriceLevel{}, []orderbook.PriceLevel(book.Asks)...)
	sort.SliceStable(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })
	for _, lvl := range asks {
		row := []string{fmt.Sprint(runID), fmt.Sprint(eventID), "ask", lvl.Price.StringFixed(8), lvl.Qty.StringFixed(8), fmt.Sprint(lastUpdateID)}
		if checksum != nil {
			row = append(row, fmt.Sprint(*checksum))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// WriteSnapshotJSON persists the raw REST/WS payload alongside the CSV,
// matching write_snapshot_json's "preserve the raw payload" behavior.
func WriteSnapshotJSON(path string, payload interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
