// Package replay reconstructs a day's order book and trade stream from a
// recorder run's durable output files and replays them in strict receive
// order, driving strategy/backtest callbacks the way a live feed would.
// Grounded on original_source/mm/backtest/{io,replay}.py.
package replay

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/chaindrift/mdrecorder/internal/orderbook"
)

// DepthDiffRow is one decoded line from depth_diffs_<SYM>_<day>.ndjson.gz.
type DepthDiffRow struct {
	RecvMs   int64
	RecvSeq  *int64
	E        int64
	U        int64
	U2       int64
	Bids     []orderbook.PriceLevel
	Asks     []orderbook.PriceLevel
	Checksum *uint32
}

// TradeRow is one decoded row from trades_ws_<SYM>_<day>.csv.gz.
type TradeRow struct {
	RecvMs       int64
	RecvSeq      *int64
	EventTimeMs  int64
	TradeID      *int64
	TradeTimeMs  *int64
	Price        decimal.Decimal
	Qty          decimal.Decimal
	IsBuyerMaker bool
}

// EventRow is one decoded row from events_<SYM>_<day>.csv.gz.
type EventRow struct {
	EventID     int64
	RecvMs      int64
	RecvSeq     *int64
	RunID       int64
	Type        string
	EpochID     int
	DetailsJSON string
}

// DayDir returns the directory holding all output for symbol on yyyymmdd,
// matching io.py's day_dir (root/symbol/yyyymmdd).
func DayDir(root, symbol, yyyymmdd string) string {
	return filepath.Join(root, symbol, yyyymmdd)
}

func globLatest(pattern string) (string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", errors.Errorf("replay: no file matching %s", pattern)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// FindDepthDiffsFile locates depth_diffs_<SYM>_<day>.ndjson.gz, falling
// back to any day-prefixed match, matching find_depth_diffs_file.
func FindDepthDiffsFile(root, symbol, yyyymmdd string) (string, error) {
	dir := filepath.Join(DayDir(root, symbol, yyyymmdd), "diffs")
	sym := strings.ToUpper(symbol)
	if f, err := globLatest(filepath.Join(dir, fmt.Sprintf("depth_diffs_%s_%s.ndjson.gz", sym, yyyymmdd))); err == nil {
		return f, nil
	}
	return globLatest(filepath.Join(dir, fmt.Sprintf("depth_diffs_%s_*.ndjson.gz", sym)))
}

// FindTradesFile locates trades_ws_<SYM>_<day>.csv.gz, matching find_trades_file.
func FindTradesFile(root, symbol, yyyymmdd string) (string, error) {
	dir := DayDir(root, symbol, yyyymmdd)
	sym := strings.ToUpper(symbol)
	if f, err := globLatest(filepath.Join(dir, fmt.Sprintf("trades_ws_%s_%s.csv.gz", sym, yyyymmdd))); err == nil {
		return f, nil
	}
	return globLatest(filepath.Join(dir, fmt.Sprintf("trades_ws_%s_*.csv.gz", sym)))
}

// FindEventsFile locates events_<SYM>_<day>.csv.gz, matching find_events_file.
func FindEventsFile(root, symbol, yyyymmdd string) (string, error) {
	dir := DayDir(root, symbol, yyyymmdd)
	sym := strings.ToUpper(symbol)
	if f, err := globLatest(filepath.Join(dir, fmt.Sprintf("events_%s_%s.csv.gz", sym, yyyymmdd))); err == nil {
		return f, nil
	}
	return globLatest(filepath.Join(dir, fmt.Sprintf("events_%s_*.csv.gz", sym)))
}

// SnapshotPaths lists every snapshot_*.csv under the day's snapshots/ dir,
// matching snapshot_paths.
func SnapshotPaths(root, symbol, yyyymmdd string) ([]string, error) {
	dir := filepath.Join(DayDir(root, symbol, yyyymmdd), "snapshots")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "snapshot_*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func openMaybeGzip(path string) (*bufio.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return bufio.NewReader(gz), func() error { gz.Close(); return f.Close() }, nil
	}
	return bufio.NewReader(f), f.Close, nil
}

type rawDepthLine struct {
	RecvMs   int64       `json:"recv_ms"`
	RecvSeq  *int64      `json:"recv_seq"`
	E        int64       `json:"E"`
	U        int64       `json:"U"`
	U2       int64       `json:"u"`
	Bids     [][2]string `json:"b"`
	Asks     [][2]string `json:"a"`
	Checksum *uint32     `json:"checksum"`
}

// IterDepthDiffs reads every NDJSON line in path into DepthDiffRow, calling
// fn for each; matches iter_depth_diffs.
func IterDepthDiffs(path string, fn func(DepthDiffRow) error) error {
	r, closer, err := openMaybeGzip(path)
	if err != nil {
		return err
	}
	defer closer()

	for {
		line, err := r.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			var raw rawDepthLine
			if jerr := json.Unmarshal([]byte(trimmed), &raw); jerr == nil {
				row := DepthDiffRow{
					RecvMs:   raw.RecvMs,
					RecvSeq:  raw.RecvSeq,
					E:        raw.E,
					U:        raw.U,
					U2:       raw.U2,
					Bids:     pairsToLevels(raw.Bids),
					Asks:     pairsToLevels(raw.Asks),
					Checksum: raw.Checksum,
				}
				if ferr := fn(row); ferr != nil {
					return ferr
				}
			}
		}
		if err != nil {
			break
		}
	}
	return nil
}

func pairsToLevels(pairs [][2]string) []orderbook.PriceLevel {
	out := make([]orderbook.PriceLevel, 0, len(pairs))
	for _, pair := range pairs {
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

// IterTradesCSV reads every row of a trades CSV(.gz), matching iter_trades_csv.
func IterTradesCSV(path string, fn func(TradeRow) error) error {
	return iterCSV(path, func(rec map[string]string) error {
		eventMs, err := strconv.ParseInt(rec["event_time_ms"], 10, 64)
		if err != nil {
			return nil
		}
		recvMs := eventMs
		if v, ok := rec["recv_time_ms"]; ok && v != "" {
			if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
				recvMs = parsed
			}
		}
		price, err := decimal.NewFromString(rec["price"])
		if err != nil {
			return nil
		}
		qty, err := decimal.NewFromString(rec["qty"])
		if err != nil {
			return nil
		}
		row := TradeRow{
			RecvMs:       recvMs,
			EventTimeMs:  eventMs,
			Price:        price,
			Qty:          qty,
			IsBuyerMaker: rec["is_buyer_maker"] == "true" || rec["is_buyer_maker"] == "1",
			RecvSeq:      parseOptionalInt64(rec["recv_seq"]),
			TradeID:      parseOptionalInt64(rec["trade_id"]),
			TradeTimeMs:  parseOptionalInt64(rec["trade_time_ms"]),
		}
		return fn(row)
	})
}

// IterEventsCSV reads every row of an events CSV(.gz), matching iter_events_csv.
func IterEventsCSV(path string, fn func(EventRow) error) error {
	return iterCSV(path, func(rec map[string]string) error {
		eventID, err := strconv.ParseInt(rec["event_id"], 10, 64)
		if err != nil {
			return nil
		}
		recvMs, err := strconv.ParseInt(rec["recv_time_ms"], 10, 64)
		if err != nil {
			return nil
		}
		runID, _ := strconv.ParseInt(rec["run_id"], 10, 64)
		epochID, _ := strconv.Atoi(rec["epoch_id"])
		row := EventRow{
			EventID:     eventID,
			RecvMs:      recvMs,
			RecvSeq:     parseOptionalInt64(rec["recv_seq"]),
			RunID:       runID,
			Type:        rec["type"],
			EpochID:     epochID,
			DetailsJSON: rec["details_json"],
		}
		return fn(row)
	})
}

func parseOptionalInt64(s string) *int64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func iterCSV(path string, fn func(map[string]string) error) error {
	r, closer, err := openMaybeGzip(path)
	if err != nil {
		return err
	}
	defer closer()

	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return err
	}
	for {
		rec, err := cr.Read()
		if err != nil {
			break
		}
		m := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				m[h] = rec[i]
			}
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

// snapshotInfo is extracted from a snapshot_loaded event's details_json,
// matching _load_snapshot_from_event.
type snapshotInfo struct {
	LastUpdateID int64
	Path         string
}

func loadSnapshotInfoFromEvent(detailsJSON string) (*snapshotInfo, bool) {
	var d map[string]interface{}
	if err := json.Unmarshal([]byte(detailsJSON), &d); err != nil {
		return nil, false
	}
	pathVal, hasPath := d["path"]
	uidVal, hasUID := d["lastUpdateId"]
	if !hasPath || !hasUID {
		return nil, false
	}
	pathStr, ok := pathVal.(string)
	if !ok {
		return nil, false
	}
	var uid int64
	switch v := uidVal.(type) {
	case float64:
		uid = int64(v)
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, false
		}
		uid = parsed
	default:
		return nil, false
	}
	return &snapshotInfo{LastUpdateID: uid, Path: pathStr}, true
}

// LoadSnapshotCSV parses a snapshot_*.csv file into a fresh order book,
// matching load_snapshot_csv's run_id,event_id,side,price,qty,lastUpdateId
// schema.
func LoadSnapshotCSV(path string) (*orderbook.Base, error) {
	var bids, asks []orderbook.PriceLevel
	var lastUID *int64

	err := iterCSV(path, func(rec map[string]string) error {
		price, err := decimal.NewFromString(rec["price"])
		if err != nil {
			return nil
		}
		qty, err := decimal.NewFromString(rec["qty"])
		if err != nil {
			return nil
		}
		uid, err := strconv.ParseInt(rec["lastUpdateId"], 10, 64)
		if err == nil {
			lastUID = &uid
		}
		lvl := orderbook.PriceLevel{Price: price, Qty: qty}
		if rec["side"] == "bid" {
			bids = append(bids, lvl)
		} else {
			asks = append(asks, lvl)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if lastUID == nil {
		return nil, errors.Errorf("replay: snapshot CSV %s missing lastUpdateId", path)
	}
	book := orderbook.New("", "", decimal.Zero, false)
	if err := book.LoadSnapshot(bids, asks, lastUID); err != nil {
		return nil, err
	}
	return book, nil
}
