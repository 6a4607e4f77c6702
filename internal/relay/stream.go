package relay

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

// loadSnapshotRaw reads a snapshot_*.json file verbatim, matching
// relay.py's _load_snapshot_data.
func loadSnapshotRaw(path string) map[string]interface{} {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var data map[string]interface{}
	if err := json.Unmarshal(b, &data); err != nil {
		return nil
	}
	return data
}

func levelPairs(raw interface{}) [][2]float64 {
	arr, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([][2]float64, 0, len(arr))
	for _, item := range arr {
		pair, ok := item.([]interface{})
		if !ok || len(pair) < 2 {
			continue
		}
		p := toFloat(pair[0])
		q := toFloat(pair[1])
		out = append(out, [2]float64{p, q})
	}
	return out
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// streamDepth tails a symbol's snapshot + depth diffs, sending snapshot,
// spread, and periodic order-book-levels messages, matching relay.py's
// _stream_loop's diff-related branches.
func (s *Server) streamDepth(ctx context.Context, conn *websocket.Conn, exchange, symbol string) {
	paths, err := ResolveLatestPaths(s.cfg.DataDir, exchange, symbol)
	if err != nil {
		_ = s.sendStatus(conn, exchange, symbol, "invalid params: "+err.Error())
		return
	}
	if paths.DayDir == "" {
		_ = s.sendStatus(conn, exchange, symbol, "no data directory found")
		return
	}

	book := newTopOfBook()
	var lastBestBid, lastBestAsk *float64
	diffState := &TailState{}

	snap := loadSnapshotRaw(paths.SnapshotRaw)
	if snap != nil {
		seedBook(book, snap)
	}
	if err := s.sendJSON(conn, newMessage("snapshot", exchange, symbol, nowMs(), snapOrNil(snap))); err != nil {
		return
	}

	diffPath := paths.DiffPath(s.cfg.LiveOnly)
	if diffPath != "" {
		diffState.LineIndex = seedTailIndex(diffPath)
	}
	if err := s.sendStatus(conn, exchange, symbol, "tailing latest files"); err != nil {
		return
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	lastLevelsEmit := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		latest, err := ResolveLatestPaths(s.cfg.DataDir, exchange, symbol)
		if err == nil && latest.DayDir != "" && latest.DayDir != paths.DayDir {
			paths = latest
			diffPath = paths.DiffPath(s.cfg.LiveOnly)
			diffState = &TailState{}
			book = newTopOfBook()
			lastBestBid, lastBestAsk = nil, nil
			if err := s.sendStatus(conn, exchange, symbol, "switched to new day folder "+paths.DayDir); err != nil {
				return
			}
			snap = loadSnapshotRaw(paths.SnapshotRaw)
			if snap != nil {
				seedBook(book, snap)
			}
			if err := s.sendJSON(conn, newMessage("snapshot", exchange, symbol, nowMs(), snapOrNil(snap))); err != nil {
				return
			}
		}

		if diffPath != "" {
			for _, payload := range tailDiffPayloads(diffPath, diffState) {
				bids := levelPairs(payload["b"])
				asks := levelPairs(payload["a"])
				if len(bids) > 0 || len(asks) > 0 {
					book.applyUpdates(bids, asks)
					if book.bestBid != nil && book.bestAsk != nil {
						if lastBestBid == nil || lastBestAsk == nil || *book.bestBid != *lastBestBid || *book.bestAsk != *lastBestAsk {
							if err := s.sendJSON(conn, spreadMessage(exchange, symbol, payload, *book.bestBid, *book.bestAsk)); err != nil {
								return
							}
							bb, ba := *book.bestBid, *book.bestAsk
							lastBestBid, lastBestAsk = &bb, &ba
						}
					}
				}
				if err := s.sendJSON(conn, newMessage("diff", exchange, symbol, tsFromPayload(payload), payload)); err != nil {
					return
				}
			}
		}

		if time.Since(lastLevelsEmit) >= s.cfg.LevelsInterval {
			bids, asks := book.topLevels(s.cfg.LevelsN)
			if len(bids) > 0 || len(asks) > 0 {
				if err := s.sendJSON(conn, levelsMessage(exchange, symbol, s.cfg.LevelsN, bids, asks)); err != nil {
					return
				}
			}
			lastLevelsEmit = time.Now()
		}
	}
}

// streamTrades tails a symbol's trade stream and a rolling buy/sell volume
// total, matching relay.py's trade-related _stream_loop branches.
func (s *Server) streamTrades(ctx context.Context, conn *websocket.Conn, exchange, symbol string) {
	paths, err := ResolveLatestPaths(s.cfg.DataDir, exchange, symbol)
	if err != nil {
		_ = s.sendStatus(conn, exchange, symbol, "invalid params: "+err.Error())
		return
	}
	if paths.DayDir == "" {
		_ = s.sendStatus(conn, exchange, symbol, "no data directory found")
		return
	}

	tradeState := &TailState{}
	tradePath := paths.TradePath(s.cfg.LiveOnly)
	if tradePath != "" {
		tradeState.LineIndex = seedTailIndex(tradePath)
	}
	volume := newRollingVolume(int64(s.cfg.VolumeWindow / time.Second))
	if err := s.sendStatus(conn, exchange, symbol, "tailing latest files"); err != nil {
		return
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	lastVolumeEmit := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		latest, err := ResolveLatestPaths(s.cfg.DataDir, exchange, symbol)
		if err == nil && latest.DayDir != "" && latest.DayDir != paths.DayDir {
			paths = latest
			tradePath = paths.TradePath(s.cfg.LiveOnly)
			tradeState = &TailState{}
			if err := s.sendStatus(conn, exchange, symbol, "switched to new day folder "+paths.DayDir); err != nil {
				return
			}
		}

		if tradePath != "" {
			for _, payload := range tailDiffPayloads(tradePath, tradeState) {
				side, _ := payload["side"].(string)
				qty := toFloat(payload["qty"])
				ts := tsFromPayload(payload)
				if qty > 0 && ts > 0 {
					volume.add(ts, qty, side)
				}
				if err := s.sendJSON(conn, newMessage("trade", exchange, symbol, ts, payload)); err != nil {
					return
				}
			}
		}

		if time.Since(lastVolumeEmit) >= s.cfg.VolumeInterval {
			buy, sell := volume.totals()
			data := map[string]interface{}{
				"window_s": int64(s.cfg.VolumeWindow / time.Second), "buy_volume": buy,
				"sell_volume": sell, "total_volume": buy + sell,
			}
			if err := s.sendJSON(conn, newMessage("volume_24h", exchange, symbol, nowMs(), data)); err != nil {
				return
			}
			lastVolumeEmit = time.Now()
		}
	}
}

func seedBook(book *topOfBook, snap map[string]interface{}) {
	bids := snap["bids"]
	if bids == nil {
		bids = snap["b"]
	}
	asks := snap["asks"]
	if asks == nil {
		asks = snap["a"]
	}
	bp := levelPairs(bids)
	ap := levelPairs(asks)
	if len(bp) > 0 || len(ap) > 0 {
		book.seed(bp, ap)
	}
}

func snapOrNil(snap map[string]interface{}) interface{} {
	if snap == nil {
		return map[string]interface{}{}
	}
	return snap
}

func seedTailIndex(path string) int {
	if path == "" {
		return 0
	}
	if hasGzSuffix(path) {
		return CountGzipLines(path)
	}
	return CountTextLines(path)
}

func hasGzSuffix(path string) bool {
	return len(path) > 3 && path[len(path)-3:] == ".gz"
}

func tailDiffPayloads(path string, state *TailState) []map[string]interface{} {
	if hasGzSuffix(path) {
		return TailNDJSON(path, state)
	}
	return TailTextNDJSON(path, state)
}

func tsFromPayload(payload map[string]interface{}) int64 {
	if v, ok := payload["E"]; ok {
		return int64(toFloat(v))
	}
	if v, ok := payload["recv_ms"]; ok {
		return int64(toFloat(v))
	}
	return nowMs()
}

func spreadMessage(exchange, symbol string, payload map[string]interface{}, bestBid, bestAsk float64) Message {
	mid := (bestBid + bestAsk) / 2
	spreadAbs := bestAsk - bestBid
	var spreadBps float64
	if mid > 0 {
		spreadBps = (spreadAbs / mid) * 10000
	}
	return newMessage("spread", exchange, symbol, tsFromPayload(payload), map[string]interface{}{
		"bid": bestBid, "ask": bestAsk, "mid": mid, "spread_abs": spreadAbs, "spread_bps": spreadBps,
	})
}

func levelsMessage(exchange, symbol string, n int, bids, asks []level) Message {
	var sumBid, sumAsk float64
	for _, l := range bids {
		sumBid += l.Qty
	}
	for _, l := range asks {
		sumAsk += l.Qty
	}
	return newMessage("levels", exchange, symbol, nowMs(), map[string]interface{}{
		"levels": n, "bids": bids, "asks": asks, "sum_bid_qty": sumBid, "sum_ask_qty": sumAsk,
	})
}
