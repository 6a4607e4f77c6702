package adapter

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/bytedance/sonic"

	"github.com/chaindrift/mdrecorder/internal/orderbook"
	syncpkg "github.com/chaindrift/mdrecorder/internal/sync"
)

// Bitfinex implements Adapter for the v2 public WS API (checksum
// discipline), grounded on mm_recorder/exchanges/bitfinex.py. Unlike
// Binance/Kraken it is stateful: channel IDs are assigned per-connection
// by the "subscribed" ack and must be tracked to demultiplex later frames.
type Bitfinex struct {
	bookChanID   atomic.Int64
	tradesChanID atomic.Int64
}

func NewBitfinex() *Bitfinex {
	b := &Bitfinex{}
	b.bookChanID.Store(-1)
	b.tradesChanID.Store(-1)
	return b
}

func (*Bitfinex) Name() string          { return "bitfinex" }
func (*Bitfinex) SyncMode() SyncMode    { return ModeChecksum }
func (*Bitfinex) NormalizeDepth(int) int { return 25 }

// NormalizeSymbol strips separators and prefixes the Bitfinex "t" marker.
func (*Bitfinex) NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.NewReplacer("/", "", "-", "", ":", "").Replace(s)
	if s == "" {
		return s
	}
	s = strings.TrimPrefix(s, "T")
	return "t" + s
}

func (b *Bitfinex) SymbolFS(exchangeSymbol string) string {
	return strings.ToLower(strings.TrimPrefix(b.NormalizeSymbol(exchangeSymbol), "t"))
}

func (*Bitfinex) WSURL(string) string { return "wss://api.bitfinex.com/ws/2" }

type bitfinexConfMessage struct {
	Event string `json:"event"`
	Flags int    `json:"flags"`
}

type bitfinexBookSubscribe struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Pair    string `json:"pair"`
	Prec    string `json:"prec"`
	Freq    string `json:"freq"`
	Len     int    `json:"len"`
}

type bitfinexTradesSubscribe struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Pair    string `json:"pair"`
}

func (b *Bitfinex) SubscribeMessages(symbol string, _ int) []interface{} {
	pair := b.NormalizeSymbol(symbol)
	return []interface{}{
		bitfinexConfMessage{Event: "conf", Flags: 131072},
		bitfinexBookSubscribe{Event: "subscribe", Channel: "book", Pair: pair, Prec: "P0", Freq: "F0", Len: 25},
		bitfinexTradesSubscribe{Event: "subscribe", Channel: "trades", Pair: pair},
	}
}

// bitfinexChecksumDepth is 25 for both book truncation and the checksum
// window — Bitfinex has no split between subscribed depth and checksum
// width the way Kraken does.
const bitfinexChecksumDepth = 25

func (*Bitfinex) CreateSyncEngine(book *orderbook.Base, _ int) syncpkg.Engine {
	return syncpkg.NewChecksumEngine(book, bitfinexChecksumDepth, bitfinexChecksumDepth, 1000, syncpkg.BitfinexChecksum)
}

type bitfinexSubscribedAck struct {
	Event   string `json:"event"`
	ChanID  int64  `json:"chanId"`
	Channel string `json:"channel"`
}

// ParseWSMessage handles Bitfinex v2's two message shapes: JSON objects
// (event acks/errors/info) and JSON arrays ([chanId, payload...]) framed
// per-channel, demultiplexed using the chanId captured from the
// "subscribed" ack.
func (b *Bitfinex) ParseWSMessage(raw []byte) (ParsedMessage, error) {
	var out ParsedMessage

	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var ack bitfinexSubscribedAck
		if err := sonic.Unmarshal(raw, &ack); err != nil {
			return out, nil
		}
		if ack.Event == "subscribed" {
			switch ack.Channel {
			case "book":
				b.bookChanID.Store(ack.ChanID)
			case "trades":
				b.tradesChanID.Store(ack.ChanID)
			}
		}
		return out, nil
	}

	var data []interface{}
	if err := sonic.Unmarshal(raw, &data); err != nil {
		return out, err
	}
	if len(data) == 0 {
		return out, nil
	}
	chanID, ok := asInt64(data[0])
	if !ok {
		return out, nil
	}

	switch chanID {
	case b.bookChanID.Load():
		b.parseBookFrame(data, &out)
	case b.tradesChanID.Load():
		b.parseTradesFrame(data, raw, &out)
	}
	return out, nil
}

func (b *Bitfinex) parseBookFrame(data []interface{}, out *ParsedMessage) {
	if len(data) < 2 {
		return
	}
	if s, ok := data[1].(string); ok {
		switch s {
		case "hb":
			return
		case "cs":
			if len(data) < 3 {
				return
			}
			cs, _ := asInt64(data[2])
			checksum := uint32(cs)
			out.Diffs = append(out.Diffs, syncpkg.DepthDiff{Checksum: &checksum})
			return
		}
	}

	if rows, ok := data[1].([]interface{}); ok && len(rows) > 0 {
		if _, isNested := rows[0].([]interface{}); isNested {
			var bids, asks []orderbook.PriceLevel
			for _, r := range rows {
				row, ok := r.([]interface{})
				if !ok || len(row) < 3 {
					continue
				}
				price := toStr(row[0])
				amountVal, amountStr := signedAmount(row[2])
				lvl, ok := makeLevel(price, amountStr)
				if !ok {
					continue
				}
				if amountVal > 0 {
					bids = append(bids, lvl)
				} else {
					asks = append(asks, lvl)
				}
			}
			out.Snapshots = append(out.Snapshots, syncpkg.BookSnapshot{Bids: bids, Asks: asks})
			return
		}

		// single-level update: [chanId, [price, count, amount]]
		if len(rows) >= 3 {
			applyBookUpdate(toStr(rows[0]), rows[1], rows[2], out)
		}
		return
	}

	// flattened update: [chanId, price, count, amount]
	if len(data) >= 4 {
		applyBookUpdate(toStr(data[1]), data[2], data[3], out)
	}
}

func applyBookUpdate(priceStr string, countRaw, amountRaw interface{}, out *ParsedMessage) {
	count, _ := asInt64(countRaw)
	amountVal, amountStr := signedAmount(amountRaw)

	var bids, asks []orderbook.PriceLevel
	if count == 0 {
		lvl, ok := makeLevel(priceStr, "0")
		if !ok {
			return
		}
		if amountVal < 0 {
			asks = append(asks, lvl)
		} else {
			bids = append(bids, lvl)
		}
	} else {
		lvl, ok := makeLevel(priceStr, amountStr)
		if !ok {
			return
		}
		if amountVal > 0 {
			bids = append(bids, lvl)
		} else {
			asks = append(asks, lvl)
		}
	}
	out.Diffs = append(out.Diffs, syncpkg.DepthDiff{Bids: bids, Asks: asks})
}

func (b *Bitfinex) parseTradesFrame(data []interface{}, raw []byte, out *ParsedMessage) {
	if len(data) < 2 {
		return
	}
	if s, ok := data[1].(string); ok {
		if s == "hb" {
			return
		}
		if s == "te" {
			return // only the confirmed "tu" update is recorded, matching the source adapter
		}
		if s == "tu" {
			if len(data) < 6 {
				return
			}
			if t, ok := bitfinexTradeFromFields(data[2], data[3], data[4], data[5], "tu", raw); ok {
				out.Trades = append(out.Trades, t)
			}
			return
		}
		return
	}

	// snapshot: [chanId, [[trade_id, mts, amount, price], ...]]
	if entries, ok := data[1].([]interface{}); ok {
		for _, e := range entries {
			entry, ok := e.([]interface{})
			if !ok || len(entry) < 4 {
				continue
			}
			if t, ok := bitfinexTradeFromFields(entry[0], entry[1], entry[2], entry[3], "snapshot", raw); ok {
				out.Trades = append(out.Trades, t)
			}
		}
	}
}

func bitfinexTradeFromFields(idRaw, tsRaw, amountRaw, priceRaw interface{}, kind string, raw []byte) (Trade, bool) {
	tradeID, _ := asInt64(idRaw)
	tsMs, _ := asInt64(tsRaw)
	amountVal, amountStr := signedAmount(amountRaw)
	priceStr := toStr(priceRaw)

	lvl, ok := makeLevel(priceStr, amountStr)
	if !ok {
		return Trade{}, false
	}

	side := "sell"
	isBuyerMaker := true
	if amountVal > 0 {
		side = "buy"
		isBuyerMaker = false
	}
	_ = kind
	return Trade{
		EventTimeMs:  tsMs,
		TradeID:      tradeID,
		TradeTimeMs:  tsMs,
		Price:        lvl.Price,
		Qty:          lvl.Qty,
		IsBuyerMaker: isBuyerMaker,
		Side:         side,
		Raw:          raw,
	}, true
}

func makeLevel(priceStr, qtyStr string) (orderbook.PriceLevel, bool) {
	levels := decLevels([][2]string{{priceStr, qtyStr}})
	if len(levels) == 0 {
		return orderbook.PriceLevel{}, false
	}
	return levels[0], true
}

// signedAmount returns the float value (for sign) and the absolute-value
// decimal string (amounts are stored unsigned in PriceLevel.Qty, matching
// the Python adapter's sign-stripping before constructing rows).
func signedAmount(raw interface{}) (float64, string) {
	v, str := asFloatAndString(raw)
	if v < 0 {
		str = strings.TrimPrefix(str, "-")
	}
	return v, str
}

func asFloatAndString(raw interface{}) (float64, string) {
	switch v := raw.(type) {
	case float64:
		return v, strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f, v
	default:
		return 0, fmt.Sprintf("%v", v)
	}
}

func toStr(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asInt64(raw interface{}) (int64, bool) {
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
