package adapter

import (
	"fmt"
	"strings"

	"github.com/buger/jsonparser"

	"github.com/chaindrift/mdrecorder/internal/orderbook"
	"github.com/chaindrift/mdrecorder/internal/sync"
)

// Binance implements Adapter for the combined-stream depth@100ms + trade
// feed, grounded on mm_recorder/exchanges/binance.py.
type Binance struct{}

func (Binance) Name() string          { return "binance" }
func (Binance) SyncMode() SyncMode    { return ModeSequence }
func (Binance) NormalizeDepth(d int) int { return d }

func (Binance) NormalizeSymbol(userSymbol string) string {
	return strings.ToUpper(strings.TrimSpace(userSymbol))
}

func (b Binance) SymbolFS(exchangeSymbol string) string {
	return strings.ToLower(b.NormalizeSymbol(exchangeSymbol))
}

func (b Binance) WSURL(symbol string) string {
	sym := strings.ToLower(b.NormalizeSymbol(symbol))
	return fmt.Sprintf("wss://stream.binance.com:9443/stream?streams=%s@depth@100ms/%s@trade", sym, sym)
}

// SubscribeMessages is empty: Binance's combined-stream URL already
// selects the channels, matching the original adapter's no-op override.
func (Binance) SubscribeMessages(string, int) []interface{} { return nil }

func (Binance) CreateSyncEngine(book *orderbook.Base, _ int) sync.Engine {
	return sync.NewBridgingEngine(book, 1000)
}

// ParseWSMessage unwraps the combined-stream envelope {"stream":...,
// "data":{...}} and classifies on the inner "e" field ("depthUpdate" vs
// "trade"), peeking with jsonparser before committing to a full parse.
func (Binance) ParseWSMessage(raw []byte) (ParsedMessage, error) {
	var out ParsedMessage
	payload := raw
	if data, _, _, err := jsonparser.Get(raw, "data"); err == nil {
		payload = data
	}

	eventType, err := jsonparser.GetString(payload, "e")
	if err != nil {
		return out, nil // heartbeat/control frame, nothing to do
	}

	switch eventType {
	case "depthUpdate":
		diff, err := parseBinanceDepth(payload)
		if err != nil {
			return out, err
		}
		out.Diffs = append(out.Diffs, diff)
	case "trade":
		t, err := parseBinanceTrade(payload)
		if err != nil {
			return out, err
		}
		out.Trades = append(out.Trades, t)
	}
	return out, nil
}

func parseBinanceDepth(payload []byte) (sync.DepthDiff, error) {
	eventMs, _ := jsonparser.GetInt(payload, "E")
	U, _ := jsonparser.GetInt(payload, "U")
	u, _ := jsonparser.GetInt(payload, "u")

	bids := extractLevelPairs(payload, "b")
	asks := extractLevelPairs(payload, "a")

	return sync.DepthDiff{
		EventTimeMs: eventMs,
		SeqFrom:     U,
		SeqTo:       u,
		Bids:        decLevels(bids),
		Asks:        decLevels(asks),
	}, nil
}

func parseBinanceTrade(payload []byte) (Trade, error) {
	eventMs, _ := jsonparser.GetInt(payload, "E")
	tradeID, _ := jsonparser.GetInt(payload, "t")
	tradeMs, _ := jsonparser.GetInt(payload, "T")
	priceStr, _ := jsonparser.GetString(payload, "p")
	qtyStr, _ := jsonparser.GetString(payload, "q")
	isMaker, _ := jsonparser.GetBoolean(payload, "m")

	parsed := decLevels([][2]string{{priceStr, qtyStr}})
	if len(parsed) == 0 {
		return Trade{}, fmt.Errorf("binance: unparsable trade price/qty")
	}
	p, q := parsed[0].Price, parsed[0].Qty

	side := "sell"
	if !isMaker {
		side = "buy"
	}
	return Trade{
		EventTimeMs:  eventMs,
		TradeID:      tradeID,
		TradeTimeMs:  tradeMs,
		Price:        p,
		Qty:          q,
		IsBuyerMaker: isMaker,
		Side:         side,
		Raw:          payload,
	}, nil
}

// extractLevelPairs reads a jsonparser array of [price,qty] string arrays.
func extractLevelPairs(payload []byte, key string) [][2]string {
	var out [][2]string
	_, _ = jsonparser.ArrayEach(payload, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
		var pair [2]string
		idx := 0
		_, _ = jsonparser.ArrayEach(value, func(v []byte, _ jsonparser.ValueType, _ int, _ error) {
			if idx < 2 {
				pair[idx] = string(v)
			}
			idx++
		})
		out = append(out, pair)
	}, key)
	return out
}
