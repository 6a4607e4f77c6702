package adapter

import (
	"encoding/json"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/chaindrift/mdrecorder/internal/orderbook"
	"github.com/chaindrift/mdrecorder/internal/sync"
)

var krakenAllowedDepths = [...]int{10, 25, 100, 500, 1000}

// Kraken implements Adapter for the Kraken v2 WS API (checksum discipline),
// grounded on mm_recorder/exchanges/kraken.py.
type Kraken struct{}

func (Kraken) Name() string       { return "kraken" }
func (Kraken) SyncMode() SyncMode { return ModeChecksum }

func (Kraken) NormalizeDepth(depth int) int {
	for _, d := range krakenAllowedDepths {
		if depth <= d {
			return d
		}
	}
	return krakenAllowedDepths[len(krakenAllowedDepths)-1]
}

// NormalizeSymbol converts user symbols into Kraken's BASE/QUOTE form.
func (Kraken) NormalizeSymbol(userSymbol string) string {
	s := strings.ToUpper(strings.TrimSpace(userSymbol))
	switch {
	case strings.Contains(s, "/"):
		return s
	case strings.Contains(s, "-"):
		parts := strings.SplitN(s, "-", 2)
		return parts[0] + "/" + parts[1]
	case len(s) >= 6:
		return s[:len(s)-3] + "/" + s[len(s)-3:]
	default:
		return s
	}
}

func (k Kraken) SymbolFS(exchangeSymbol string) string {
	return strings.ToLower(strings.ReplaceAll(k.NormalizeSymbol(exchangeSymbol), "/", ""))
}

func (Kraken) WSURL(string) string { return "wss://ws.kraken.com/v2" }

type krakenSubscribeParams struct {
	Channel  string   `json:"channel"`
	Symbol   []string `json:"symbol"`
	Depth    int      `json:"depth,omitempty"`
	Snapshot bool     `json:"snapshot"`
}

type krakenSubscribeMessage struct {
	Method string                `json:"method"`
	Params krakenSubscribeParams `json:"params"`
}

func (k Kraken) SubscribeMessages(symbol string, depth int) []interface{} {
	sym := k.NormalizeSymbol(symbol)
	d := k.NormalizeDepth(depth)
	return []interface{}{
		krakenSubscribeMessage{Method: "subscribe", Params: krakenSubscribeParams{
			Channel: "book", Symbol: []string{sym}, Depth: d, Snapshot: true,
		}},
		krakenSubscribeMessage{Method: "subscribe", Params: krakenSubscribeParams{
			Channel: "trade", Symbol: []string{sym}, Snapshot: true,
		}},
	}
}

// krakenChecksumDepth is the exchange-fixed width of Kraken's wire
// checksum: the top 10 levels, regardless of the subscribed book depth.
const krakenChecksumDepth = 10

func (Kraken) CreateSyncEngine(book *orderbook.Base, depth int) sync.Engine {
	return sync.NewChecksumEngine(book, depth, krakenChecksumDepth, 1000, sync.KrakenChecksum)
}

type krakenBookLevel struct {
	Price string `json:"price"`
	Qty   string `json:"qty"`
}

type krakenBookEntry struct {
	Bids      []krakenBookLevel `json:"bids"`
	Asks      []krakenBookLevel `json:"asks"`
	Checksum  *uint32           `json:"checksum"`
	Timestamp string            `json:"timestamp"`
}

type krakenTradeEntry struct {
	TradeID   *int64 `json:"trade_id"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Qty       string `json:"qty"`
	Timestamp string `json:"timestamp"`
}

type krakenEnvelope struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
}

// ParseWSMessage handles Kraken v2's multiplexed {"channel":"book"|"trade",
// "type":"snapshot"|"update","data":[...]} envelope.
func (Kraken) ParseWSMessage(raw []byte) (ParsedMessage, error) {
	var out ParsedMessage
	var env krakenEnvelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return out, nil // control frame (heartbeat/status), ignore
	}

	switch env.Channel {
	case "book":
		var entries []krakenBookEntry
		if err := sonic.Unmarshal(env.Data, &entries); err != nil {
			return out, err
		}
		for _, e := range entries {
			bids := krakenLevels(e.Bids)
			asks := krakenLevels(e.Asks)
			eventMs := parseKrakenTimestampMs(e.Timestamp)
			switch env.Type {
			case "snapshot":
				out.Snapshots = append(out.Snapshots, sync.BookSnapshot{Bids: bids, Asks: asks, Checksum: e.Checksum})
			case "update":
				out.Diffs = append(out.Diffs, sync.DepthDiff{EventTimeMs: eventMs, Bids: bids, Asks: asks, Checksum: e.Checksum})
			}
		}
	case "trade":
		var entries []krakenTradeEntry
		if err := sonic.Unmarshal(env.Data, &entries); err != nil {
			return out, err
		}
		for i, e := range entries {
			levels := decLevels([][2]string{{e.Price, e.Qty}})
			if len(levels) == 0 {
				continue
			}
			eventMs := parseKrakenTimestampMs(e.Timestamp)
			tradeID := int64(eventMs)*1000 + int64(i)
			if e.TradeID != nil {
				tradeID = *e.TradeID
			}
			isBuyerMaker := !strings.EqualFold(e.Side, "buy")
			out.Trades = append(out.Trades, Trade{
				EventTimeMs:  eventMs,
				TradeID:      tradeID,
				TradeTimeMs:  eventMs,
				Price:        levels[0].Price,
				Qty:          levels[0].Qty,
				IsBuyerMaker: isBuyerMaker,
				Side:         strings.ToLower(e.Side),
				Raw:          raw,
			})
		}
	}
	return out, nil
}

func krakenLevels(levels []krakenBookLevel) []orderbook.PriceLevel {
	pairs := make([][2]string, 0, len(levels))
	for _, l := range levels {
		pairs = append(pairs, [2]string{l.Price, l.Qty})
	}
	return decLevels(pairs)
}

// parseKrakenTimestampMs accepts Kraken's RFC3339 timestamp and converts
// to epoch milliseconds; unparsable timestamps yield 0 rather than erroring
// the whole frame (spec §7 ParseError is frame-scoped, not fatal).
func parseKrakenTimestampMs(ts string) int64 {
	t, err := parseRFC3339Ms(ts)
	if err != nil {
		return 0
	}
	return t
}
