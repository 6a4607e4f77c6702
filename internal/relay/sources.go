// Package relay implements the peripheral, read-only HTTP+WS relay (spec
// §4.9/§10): it tails a recorder run's live/ NDJSON files or the day's
// durable diffs/trades output, and rebroadcasts them as JSON to
// local subscribers. It is explicitly not a strategy-facing API.
// Grounded on original_source/mm_api/{relay,sources,tailer,protocols}.py.
package relay

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var (
	exchangeRe = regexp.MustCompile(`^[a-z0-9_]+$`)
	symbolRe   = regexp.MustCompile(`^[A-Za-z0-9/:\- ]+$`)
)

// SanitizeExchange rejects anything but a lowercase identifier, matching
// sources.py's sanitize_exchange (no path traversal via "..").
func SanitizeExchange(exchange string) (string, error) {
	exchange = strings.ToLower(strings.TrimSpace(exchange))
	if exchange == "" || strings.Contains(exchange, "..") || !exchangeRe.MatchString(exchange) {
		return "", errors.New("relay: invalid exchange")
	}
	return exchange, nil
}

// SanitizeSymbol matches sources.py's sanitize_symbol.
func SanitizeSymbol(symbol string) (string, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" || strings.Contains(symbol, "..") || strings.Contains(symbol, `\`) || !symbolRe.MatchString(symbol) {
		return "", errors.New("relay: invalid symbol")
	}
	return symbol, nil
}

// SymbolFS uppercases and strips separator characters, matching
// mm_core.symbols.symbol_fs(symbol, upper=True).
func SymbolFS(symbol string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '/', ':', '-', ' ':
			return -1
		}
		return r
	}, symbol)
	return strings.ToUpper(cleaned)
}

// Paths is the set of files relevant to one exchange/symbol's latest
// recording day, matching resolve_latest_paths's returned dict.
type Paths struct {
	DayDir      string
	Diffs       string
	Trades      string
	LiveDiffs   string
	LiveTrades  string
	Events      string
	SnapshotRaw string
}

// ResolveLatestPaths finds the newest YYYYMMDD subdirectory under
// dataDir/exchange/SYMBOL_FS and locates its output files, matching
// resolve_latest_paths. Returns a zero Paths{} (DayDir == "") if no day
// directory exists yet.
func ResolveLatestPaths(dataDir, exchange, symbol string) (Paths, error) {
	exchange, err := SanitizeExchange(exchange)
	if err != nil {
		return Paths{}, err
	}
	symbol, err = SanitizeSymbol(symbol)
	if err != nil {
		return Paths{}, err
	}
	symbolFS := SymbolFS(symbol)
	if symbolFS == "" || symbolFS == "." || symbolFS == ".." {
		return Paths{}, errors.New("relay: invalid symbol")
	}

	base := filepath.Join(dataDir, exchange, symbolFS)
	dayDir, err := latestDayDir(base)
	if err != nil || dayDir == "" {
		return Paths{}, err
	}

	diffsDir := filepath.Join(dayDir, "diffs")
	tradesDir := filepath.Join(dayDir, "trades")
	snapshotsDir := filepath.Join(dayDir, "snapshots")
	liveDir := filepath.Join(dayDir, "live")

	paths := Paths{DayDir: dayDir}
	paths.Diffs, _ = latestFile(diffsDir, "depth_diffs_"+symbolFS+"_*.ndjson.gz")
	paths.Trades, _ = latestFile(tradesDir, "trades_ws_raw_"+symbolFS+"_*.ndjson.gz")
	paths.Events, _ = latestFile(dayDir, "events_"+symbolFS+"_*.csv.gz")
	paths.SnapshotRaw, _ = latestFile(snapshotsDir, "snapshot_*_*.json")
	if dirExists(liveDir) {
		paths.LiveDiffs = filepath.Join(liveDir, "live_depth_diffs.ndjson")
		paths.LiveTrades = filepath.Join(liveDir, "live_trades.ndjson")
	}
	return paths, nil
}

// DiffPath picks the live tail when liveOnly or no durable diffs file
// exists yet, matching relay.py's `live_diffs if LIVE_ONLY else (live_diffs
// or diffs)`.
func (p Paths) DiffPath(liveOnly bool) string {
	if liveOnly {
		return p.LiveDiffs
	}
	if p.LiveDiffs != "" {
		return p.LiveDiffs
	}
	return p.Diffs
}

// TradePath mirrors DiffPath for the trades stream.
func (p Paths) TradePath(liveOnly bool) string {
	if liveOnly {
		return p.LiveTrades
	}
	if p.LiveTrades != "" {
		return p.LiveTrades
	}
	return p.Trades
}
