package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/chaindrift/mdrecorder/internal/adapter"
	"github.com/chaindrift/mdrecorder/internal/config"
	"github.com/chaindrift/mdrecorder/internal/gclog"
	"github.com/chaindrift/mdrecorder/internal/metadata"
	"github.com/chaindrift/mdrecorder/internal/orderbook"
	"github.com/chaindrift/mdrecorder/internal/sync"
	"github.com/chaindrift/mdrecorder/internal/wsconn"
)

const (
	decimals              = 8
	depthLevels           = 20
	heartbeatInterval     = 30 * time.Second
	syncWarnAfter         = 10 * time.Second
	maxBufferWarn         = 5000
	snapshotLimit         = 1000
	orderbookFlushRows    = 500
	tradesFlushRows       = 1000
	bufferFlushInterval   = 1 * time.Second
	wsOpenTimeout         = 10 * time.Second
)

// Recorder drives one exchange/symbol live recording session end to end:
// connect, bootstrap a snapshot, feed the sync engine, and persist every
// output file spec §6 names, matching recorder.py's run_recorder plus
// recorder_callbacks.py's RecorderEmitter/RecorderHeartbeat/
// RecorderSnapshotter split across cooperating methods on one driver.
type Recorder struct {
	cfg      *config.Recorder
	adapter  adapter.Adapter
	resolver *metadata.Resolver

	exchange string
	symbol   string
	symbolFS string
	dayDir   string
	runID    int64
	sessionID uuid.UUID

	windowEnd time.Time
	windowTZ  *time.Location

	state State
	book  *orderbook.Base
	engine sync.Engine

	conn *wsconn.Connection

	obWriter   *GzipCSVWriter
	trWriter   *GzipCSVWriter
	gapWriter  *GzipCSVWriter
	evWriter   *GzipCSVWriter
	diffWriter *GzipLineWriter
	rawTrWriter *GzipLineWriter

	liveDiffWriter  *LiveNdjsonWriter
	liveTradeWriter *LiveNdjsonWriter

	snapshotsDir string
	restClient   RestClient
}

// New builds a Recorder for one exchange/symbol pair, laying out
// data/<exchange>/<symbol_fs>/<day>/ with its snapshots/diffs/trades
// subdirectories, matching run_recorder's directory bootstrap.
func New(cfg *config.Recorder, ad adapter.Adapter) (*Recorder, error) {
	loc, err := time.LoadLocation(cfg.Window.TZ)
	if err != nil {
		return nil, errors.Wrapf(err, "recorder: invalid WINDOW_TZ %q", cfg.Window.TZ)
	}
	now := time.Now().In(loc)
	_, windowEnd, err := ResolveWindow(now, cfg.Window.StartHHMM, cfg.Window.EndHHMM, cfg.Window.EndDayOffset, loc)
	if err != nil {
		return nil, errors.Wrap(err, "recorder: computing recording window")
	}

	symbol := ad.NormalizeSymbol(cfg.Symbol)
	symbolFS := ad.SymbolFS(symbol)
	dayStr := now.Format("20060102")
	dayDir := filepath.Join(cfg.DataDir, ad.Name(), symbolFS, dayStr)
	for _, sub := range []string{"snapshots", "diffs", "trades", "live"} {
		if err := os.MkdirAll(filepath.Join(dayDir, sub), 0o755); err != nil {
			return nil, errors.Wrapf(err, "recorder: creating %s dir", sub)
		}
	}

	sessionID, err := uuid.NewV4()
	if err != nil {
		return nil, errors.Wrap(err, "recorder: generating session id")
	}

	r := &Recorder{
		cfg:          cfg,
		adapter:      ad,
		resolver:     metadata.NewResolver(),
		exchange:     ad.Name(),
		symbol:       symbol,
		symbolFS:     symbolFS,
		dayDir:       dayDir,
		runID:        time.Now().UnixMilli(),
		sessionID:    sessionID,
		windowEnd:    windowEnd,
		windowTZ:     loc,
		snapshotsDir: filepath.Join(dayDir, "snapshots"),
		restClient:   MakeRestClient(ad.Name()),
	}
	r.state.Phase = PhaseConnecting
	r.state.SyncT0 = time.Now()
	r.state.LastSyncWarn = time.Now()

	tick := decimal.Zero
	strict := ad.Name() != "bitfinex"
	if tickInfo, err := r.resolver.Resolve(context.Background(), ad.Name(), symbol); err == nil {
		tick = tickInfo.TickSize
	} else {
		gclog.Warnf(gclog.Recorder, "tick size resolution failed, proceeding with unaligned checks: %v", err)
	}
	r.book = orderbook.New(ad.Name(), symbol, tick, strict)
	depth := ad.NormalizeDepth(depthLevels)
	r.engine = ad.CreateSyncEngine(r.book, depth)

	if err := r.openWriters(dayStr); err != nil {
		return nil, err
	}
	return r, nil
}

func obHeader() []string {
	h := []string{"event_time_ms", "recv_time_ms", "recv_seq", "run_id", "epoch_id"}
	for i := 1; i <= depthLevels; i++ {
		h = append(h,
			fmt.Sprintf("bid%d_price", i), fmt.Sprintf("bid%d_qty", i),
			fmt.Sprintf("ask%d_price", i), fmt.Sprintf("ask%d_qty", i))
	}
	return h
}

var tradeHeader = []string{
	"event_time_ms", "recv_time_ms", "recv_seq", "run_id", "trade_id", "trade_time_ms",
	"price", "qty", "is_buyer_maker", "side", "ord_type", "exchange", "symbol",
}

var gapHeader = []string{"recv_time_ms", "recv_seq", "run_id", "epoch_id", "event", "details"}
var eventHeader = []string{"event_id", "recv_time_ms", "recv_seq", "run_id", "type", "epoch_id", "details_json"}

func (r *Recorder) openWriters(dayStr string) error {
	sym := r.symbolFS
	var err error
	r.obWriter, err = NewGzipCSVWriter(
		filepath.Join(r.dayDir, fmt.Sprintf("orderbook_ws_depth_%s_%s.csv.gz", sym, dayStr)),
		obHeader(), orderbookFlushRows, bufferFlushInterval)
	if err != nil {
		return err
	}
	r.trWriter, err = NewGzipCSVWriter(
		filepath.Join(r.dayDir, fmt.Sprintf("trades_ws_%s_%s.csv.gz", sym, dayStr)),
		tradeHeader, tradesFlushRows, bufferFlushInterval)
	if err != nil {
		return err
	}
	r.gapWriter, err = NewGzipCSVWriter(
		filepath.Join(r.dayDir, fmt.Sprintf("gaps_%s_%s.csv.gz", sym, dayStr)),
		gapHeader, 1, 0)
	if err != nil {
		return err
	}
	r.evWriter, err = NewGzipCSVWriter(
		filepath.Join(r.dayDir, fmt.Sprintf("events_%s_%s.csv.gz", sym, dayStr)),
		eventHeader, 1, 0)
	if err != nil {
		return err
	}
	if r.cfg.StoreDepthDiffs {
		r.diffWriter, err = NewGzipLineWriter(
			filepath.Join(r.dayDir, "diffs", fmt.Sprintf("depth_diffs_%s_%s.ndjson.gz", sym, dayStr)))
		if err != nil {
			return err
		}
	}
	r.rawTrWriter, err = NewGzipLineWriter(
		filepath.Join(r.dayDir, "trades", fmt.Sprintf("trades_ws_raw_%s_%s.ndjson.gz", sym, dayStr)))
	if err != nil {
		return err
	}
	if r.cfg.LiveStream {
		rotate := time.Duration(r.cfg.LiveStreamRotateS) * time.Second
		retn := time.Duration(r.cfg.LiveStreamRetnS) * time.Second
		r.liveDiffWriter, err = NewLiveNdjsonWriter(filepath.Join(r.dayDir, "live", "live_depth_diffs.ndjson"), rotate, retn)
		if err != nil {
			return err
		}
		r.liveTradeWriter, err = NewLiveNdjsonWriter(filepath.Join(r.dayDir, "live", "live_trades.ndjson"), rotate, retn)
		if err != nil {
			return err
		}
	}
	return nil
}

// emitEvent appends one row to the event ledger and returns its event_id,
// matching RecorderEmitter.emit_event.
func (r *Recorder) emitEvent(evType string, details map[string]interface{}) int64 {
	eid := r.state.NextEventID()
	seq := r.state.NextRecvSeq()
	now := time.Now().UnixMilli()
	detailsBytes, err := json.Marshal(details)
	detailsJSON := "{}"
	if err == nil {
		detailsJSON = string(detailsBytes)
	}
	if err := r.evWriter.WriteRow([]interface{}{eid, now, seq, r.runID, evType, r.state.EpochID, detailsJSON}); err != nil {
		gclog.Warnf(gclog.Recorder, "failed writing event row: %v", err)
	}
	return eid
}

// setPhase transitions the recorder's phase, no-op if unchanged, else
// emits a state_change event, matching RecorderEmitter.set_phase.
func (r *Recorder) setPhase(newPhase Phase, reason string) {
	if r.state.Phase == newPhase {
		return
	}
	details := map[string]interface{}{"from": string(r.state.Phase), "to": string(newPhase)}
	if reason != "" {
		details["reason"] = reason
	}
	prev := r.state.Phase
	r.state.Phase = newPhase
	r.emitEvent("state_change", details)
	gclog.Infof(gclog.Recorder, "%s -> %s (%s)", prev, newPhase, reason)
}

// writeGap appends one row to the gap ledger, matching
// RecorderEmitter.write_gap.
func (r *Recorder) writeGap(event, details string) {
	seq := r.state.NextRecvSeq()
	if err := r.gapWriter.WriteRow([]interface{}{time.Now().UnixMilli(), seq, r.runID, r.state.EpochID, event, details}); err != nil {
		gclog.Warnf(gclog.Recorder, "failed writing gap row: %v", err)
	}
}

// Run drives the connect -> snapshot -> sync -> record loop until ctx is
// canceled, the recording window ends, or a fatal error occurs, matching
// run_recorder's main WS loop plus reconnect handling from ws_stream.py.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.closeWriters()

	attempt := 0
	backoff := wsconn.Backoff{
		Base: time.Duration(r.cfg.WSReconnectBackoffS * float64(time.Second)),
		Max:  time.Duration(r.cfg.WSReconnectBackoffMaxS * float64(time.Second)),
	}

	for {
		select {
		case <-ctx.Done():
			r.setPhase(PhaseStopped, "context_canceled")
			return ctx.Err()
		default:
		}

		if r.pastWindowEnd() {
			r.emitWindowEnd()
			return nil
		}

		if err := r.connectAndSync(ctx); err != nil {
			attempt++
			gclog.Warnf(gclog.Recorder, "%s %s session ended: %v (reconnecting)", r.exchange, r.symbol, err)
			wait := backoff.Wait(attempt)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				r.setPhase(PhaseStopped, "context_canceled")
				return ctx.Err()
			}
			continue
		}
		attempt = 0

		if r.pastWindowEnd() {
			r.emitWindowEnd()
			return nil
		}
	}
}

func (r *Recorder) pastWindowEnd() bool {
	return time.Now().In(r.windowTZ).After(r.windowEnd) || time.Now().In(r.windowTZ).Equal(r.windowEnd)
}

func (r *Recorder) emitWindowEnd() {
	if r.state.WindowEndEmitted {
		return
	}
	r.state.WindowEndEmitted = true
	r.emitEvent("window_end", map[string]interface{}{"end": r.windowEnd.Format(time.RFC3339)})
	r.setPhase(PhaseStopped, "window_end")
	if r.conn != nil {
		_ = r.conn.Shutdown()
	}
}

// connectAndSync dials the WS connection, subscribes, bootstraps the
// initial snapshot (REST for sequence exchanges, WS-delivered for checksum
// exchanges), and feeds every subsequent frame to the sync engine until
// the connection drops or ctx is canceled.
func (r *Recorder) connectAndSync(ctx context.Context) error {
	r.setPhase(PhaseConnecting, "dial")
	url := r.adapter.WSURL(r.symbol)
	conn := wsconn.New(r.exchange, url)
	conn.PingInterval = time.Duration(r.cfg.WSPingIntervalS) * time.Second
	conn.PingTimeout = time.Duration(r.cfg.WSPingTimeoutS) * time.Second
	r.conn = conn

	dialer := &websocket.Dialer{HandshakeTimeout: wsOpenTimeout}
	if err := conn.Dial(dialer, nil); err != nil {
		return errors.Wrap(err, "dial failed")
	}
	defer conn.Shutdown()

	r.state.WSOpenCount++
	r.state.LastWSMsgTime = time.Now()
	r.emitEvent("ws_open", map[string]interface{}{"url": url, "count": r.state.WSOpenCount, "session_id": r.sessionID.String()})

	if subs := r.adapter.SubscribeMessages(r.symbol, r.adapter.NormalizeDepth(depthLevels)); len(subs) > 0 {
		for _, sub := range subs {
			if err := conn.SendJSONMessage(sub); err != nil {
				return errors.Wrap(err, "subscribe failed")
			}
		}
	}

	if r.adapter.SyncMode() == adapter.ModeSequence {
		if err := r.bootstrapRestSnapshot(ctx, "initial"); err != nil {
			gclog.Warnf(gclog.Recorder, "initial REST snapshot failed, will retry on next resync: %v", err)
		}
	} else {
		r.setPhase(PhaseSnapshot, "awaiting_ws_snapshot")
		r.state.NeedsSnapshot = false
	}

	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer heartbeatTicker.Stop()

	maxSession := time.Duration(r.cfg.WSMaxSessionS) * time.Second
	var sessionDeadline <-chan time.Time
	if maxSession > 0 {
		sessionTimer := time.NewTimer(maxSession)
		defer sessionTimer.Stop()
		sessionDeadline = sessionTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sessionDeadline:
			gclog.Infof(gclog.Recorder, "%s session hit max_session_s=%d, forcing reconnect", r.exchange, r.cfg.WSMaxSessionS)
			return nil
		case ev := <-conn.Events:
			return errors.Errorf("%s: %v", ev.Kind, ev.Err)
		case <-heartbeatTicker.C:
			r.heartbeat(true)
			if r.pastWindowEnd() {
				r.emitWindowEnd()
				return nil
			}
		case raw, ok := <-conn.Messages:
			if !ok {
				return errors.New("message channel closed")
			}
			r.state.LastWSMsgTime = time.Now()
			r.handleFrame(ctx, raw)
			r.heartbeat(false)
			if r.state.NeedsSnapshot && r.adapter.SyncMode() == adapter.ModeChecksum {
				// checksum exchanges resync by reconnecting; a fresh
				// subscribe on the new connection resends the snapshot.
				return errors.New("resync requires reconnect")
			}
			if r.pastWindowEnd() {
				r.emitWindowEnd()
				return nil
			}
		}
	}
}

// handleFrame parses one WS frame and feeds every snapshot/diff/trade it
// carried to the sync engine and writers, matching recorder.py's per-
// message dispatch inside run_recorder's main loop.
func (r *Recorder) handleFrame(ctx context.Context, raw []byte) {
	parsed, err := r.adapter.ParseWSMessage(raw)
	if err != nil {
		gclog.Warnf(gclog.Recorder, "parse error, skipping frame: %v", err)
		return
	}

	for _, snap := range parsed.Snapshots {
		r.handleSnapshot(snap)
	}
	for _, diff := range parsed.Diffs {
		r.handleDiff(ctx, diff)
	}
	for _, tr := range parsed.Trades {
		r.handleTrade(tr)
	}
}

func (r *Recorder) handleSnapshot(snap sync.BookSnapshot) {
	r.setPhase(PhaseSyncing, "snapshot_loaded")
	tag := "initial"
	if r.state.PendingSnapshotTag != "" {
		tag = r.state.PendingSnapshotTag
	}
	details := map[string]interface{}{"tag": tag, "lastUpdateId": 0}
	if snap.Checksum != nil {
		details["checksum"] = *snap.Checksum
	}
	eid := r.emitEvent("snapshot_loaded", details)
	path := filepath.Join(r.snapshotsDir, fmt.Sprintf("snapshot_%06d_%s.csv", eid, tag))
	lastUID := int64(0)
	if snap.LastUpdateID != nil {
		lastUID = *snap.LastUpdateID
	}
	tmpBook := orderbook.New(r.exchange, r.symbol, r.book.TickSize, r.book.Strict)
	if err := tmpBook.LoadSnapshot(snap.Bids, snap.Asks, &lastUID); err != nil {
		gclog.Warnf(gclog.Recorder, "snapshot tick misalignment, not persisting raw snapshot row: %v", err)
	} else if err := writeSnapshotCSV(path, r.runID, eid, tmpBook, lastUID, snap.Checksum); err != nil {
		gclog.Warnf(gclog.Recorder, "failed writing snapshot csv: %v", err)
	}

	if err := r.engine.AdoptSnapshot(snap); err != nil {
		gclog.Warnf(gclog.Recorder, "adopt_snapshot failed: %v", err)
		return
	}
	r.state.SyncT0 = time.Now()
	r.state.LastSyncWarn = time.Now()
	r.state.NeedsSnapshot = false
	r.state.PendingSnapshotTag = ""

	if tag != "initial" {
		r.writeGap("resync_done", fmt.Sprintf("tag=%s lastUpdateId=%d", tag, lastUID))
		r.emitEvent("resync_done", map[string]interface{}{"tag": tag, "lastUpdateId": lastUID})
	}
}

func (r *Recorder) handleDiff(ctx context.Context, diff sync.DepthDiff) {
	r.state.DepthMsgCount++
	res := r.engine.Feed(diff)

	if r.cfg.StoreDepthDiffs && r.diffWriter != nil {
		if line, err := depthDiffLine(r.state.NextRecvSeq(), diff, r.exchange, r.symbol); err == nil {
			_ = r.diffWriter.WriteLine(line)
			if r.liveDiffWriter != nil {
				_ = r.liveDiffWriter.WriteLine(line)
			}
		}
	}

	switch res.Outcome {
	case sync.OutcomeGap:
		r.writeGap("gap", res.String())
		r.resync(ctx, res.String())
		return
	case sync.OutcomeSynced:
		r.setPhase(PhaseSynced, "bridged")
	case sync.OutcomeApplied, sync.OutcomeBuffered:
		// no phase change
	}

	if r.engine.Synced() {
		r.writeOrderbookRow(diff.EventTimeMs)
	}
}

func (r *Recorder) writeOrderbookRow(eventTimeMs int64) {
	bids, asks := r.book.TopN(depthLevels)
	row := make([]interface{}, 0, 5+4*depthLevels)
	seq := r.state.NextRecvSeq()
	row = append(row, eventTimeMs, time.Now().UnixMilli(), seq, r.runID, r.state.EpochID)
	for i := 0; i < depthLevels; i++ {
		if i < len(bids) {
			row = append(row, bids[i].Price.StringFixed(decimals), bids[i].Qty.StringFixed(decimals))
		} else {
			row = append(row, "", "")
		}
		if i < len(asks) {
			row = append(row, asks[i].Price.StringFixed(decimals), asks[i].Qty.StringFixed(decimals))
		} else {
			row = append(row, "", "")
		}
	}
	if err := r.obWriter.WriteRow(row); err != nil {
		gclog.Warnf(gclog.Recorder, "failed writing orderbook row: %v", err)
		return
	}
	r.state.OBRowsWritten++
	r.state.LastDepthEventMs = &eventTimeMs
}

func (r *Recorder) handleTrade(tr adapter.Trade) {
	r.state.TradeMsgCount++
	seq := r.state.NextRecvSeq()
	side := tr.Side
	row := []interface{}{
		tr.EventTimeMs, time.Now().UnixMilli(), seq, r.runID, tr.TradeID, tr.TradeTimeMs,
		tr.Price.StringFixed(decimals), tr.Qty.StringFixed(decimals), tr.IsBuyerMaker, side, "limit",
		r.exchange, r.symbol,
	}
	if err := r.trWriter.WriteRow(row); err != nil {
		gclog.Warnf(gclog.Recorder, "failed writing trade row: %v", err)
		return
	}
	r.state.TRRowsWritten++
	eventMs := tr.EventTimeMs
	r.state.LastTradeEventMs = &eventMs

	if tr.Raw != nil && r.rawTrWriter != nil {
		_ = r.rawTrWriter.WriteLine(string(tr.Raw))
		if r.liveTradeWriter != nil {
			_ = r.liveTradeWriter.WriteLine(string(tr.Raw))
		}
	}
}

// resync bumps resync_count/epoch_id, resets the engine, and either
// pulls a fresh REST snapshot (sequence exchanges) or flags the
// connection for a resubscribe-driven resync (checksum exchanges),
// matching RecorderSnapshotter.resync.
func (r *Recorder) resync(ctx context.Context, reason string) {
	r.state.ResyncCount++
	r.state.EpochID++
	tag := fmt.Sprintf("resync_%06d", r.state.ResyncCount)

	r.setPhase(PhaseResyncing, reason)
	gclog.Warnf(gclog.Recorder, "resync triggered: %s", reason)
	r.writeGap("resync_start", reason)
	r.emitEvent("resync_start", map[string]interface{}{"reason": reason, "tag": tag})

	r.engine.Reset()

	if r.adapter.SyncMode() == adapter.ModeChecksum {
		r.state.NeedsSnapshot = true
		r.state.PendingSnapshotTag = tag
		return
	}

	if err := r.bootstrapRestSnapshot(ctx, tag); err != nil {
		gclog.Errorf(gclog.Recorder, "resync snapshot failed, closing connection: %v", err)
		r.writeGap("fatal", fmt.Sprintf("%s_snapshot_failed: %v", tag, err))
		r.emitEvent("fatal", map[string]interface{}{"reason": "resync_snapshot_failed", "tag": tag, "error": err.Error()})
		if r.conn != nil {
			_ = r.conn.Shutdown()
		}
	}
}

func (r *Recorder) bootstrapRestSnapshot(ctx context.Context, tag string) error {
	eid := r.emitEvent("snapshot_request", map[string]interface{}{"tag": tag, "limit": snapshotLimit})
	book, path, lastUID, err := RecordRestSnapshot(ctx, r.restClient, r.symbol, r.exchange, r.symbolFS, r.snapshotsDir, snapshotLimit, r.runID, eid, tag)
	if err != nil {
		return err
	}
	rawPath := filepath.Join(r.snapshotsDir, fmt.Sprintf("snapshot_%06d_%s.json", eid, tag))
	_ = WriteSnapshotJSON(rawPath, map[string]interface{}{"bids": book.Bids, "asks": book.Asks, "lastUpdateId": lastUID})

	snap := sync.BookSnapshot{Bids: append([]orderbook.PriceLevel{}, []orderbook.PriceLevel(book.Bids)...), Asks: append([]orderbook.PriceLevel{}, []orderbook.PriceLevel(book.Asks)...), LastUpdateID: &lastUID}
	if err := r.engine.AdoptSnapshot(snap); err != nil {
		return err
	}
	r.state.SyncT0 = time.Now()
	r.state.LastSyncWarn = time.Now()
	r.setPhase(PhaseSyncing, "rest_snapshot_loaded")

	r.emitEvent("snapshot_loaded", map[string]interface{}{"tag": tag, "lastUpdateId": lastUID, "path": path, "raw_path": rawPath})
	gclog.Infof(gclog.Recorder, "snapshot %s loaded lastUpdateId=%d (%s)", tag, lastUID, path)

	if tag != "initial" {
		r.writeGap("resync_done", fmt.Sprintf("tag=%s lastUpdateId=%d", tag, lastUID))
		r.emitEvent("resync_done", map[string]interface{}{"tag": tag, "lastUpdateId": lastUID})
	}
	return nil
}

// heartbeat checks throttled sync-stall warnings and WS-idle warnings,
// then logs a periodic summary, matching
// RecorderHeartbeat.heartbeat/warn_not_synced. Window-end is checked by
// its callers, not here. force bypasses the heartbeatInterval throttle
// (e.g. the ticker-driven call).
func (r *Recorder) heartbeat(force bool) {
	now := time.Now()

	if !r.engine.Synced() {
		if r.bufferLen() > maxBufferWarn {
			gclog.Warnf(gclog.Recorder, "depth buffer large: %d events (not synced)", r.bufferLen())
		}
		if now.Sub(r.state.SyncT0) > syncWarnAfter && now.Sub(r.state.LastSyncWarn) > syncWarnAfter {
			r.state.LastSyncWarn = now
			gclog.Warnf(gclog.Recorder, "still not synced after %.0fs (buffer=%d)", now.Sub(r.state.SyncT0).Seconds(), r.bufferLen())
		}
	}

	if !force && now.Sub(r.state.LastHeartbeat) < heartbeatInterval {
		return
	}
	r.state.LastHeartbeat = now

	if idle := now.Sub(r.state.LastWSMsgTime); idle > time.Duration(r.cfg.WSNoDataWarnS)*time.Second {
		if now.Sub(r.state.LastNoDataWarn) > time.Duration(r.cfg.WSNoDataWarnS)*time.Second {
			r.state.LastNoDataWarn = now
			gclog.Warnf(gclog.Recorder, "no WS data for %.0fs", idle.Seconds())
		}
	}

	var lastUID interface{} = "none"
	if r.book.LastUpdateID != nil {
		lastUID = *r.book.LastUpdateID
	}
	gclog.Infof(gclog.Recorder,
		"heartbeat synced=%v lastUpdateId=%v depth_msgs=%d trade_msgs=%d ob_rows=%d tr_rows=%d epoch_id=%d",
		r.engine.Synced(), lastUID, r.state.DepthMsgCount, r.state.TradeMsgCount,
		r.state.OBRowsWritten, r.state.TRRowsWritten, r.state.EpochID)
}

func (r *Recorder) bufferLen() int {
	return r.engine.Buffered()
}

func (r *Recorder) closeWriters() {
	if r.obWriter != nil {
		_ = r.obWriter.Close()
	}
	if r.trWriter != nil {
		_ = r.trWriter.Close()
	}
	if r.gapWriter != nil {
		_ = r.gapWriter.Close()
	}
	if r.evWriter != nil {
		_ = r.evWriter.Close()
	}
	if r.diffWriter != nil {
		_ = r.diffWriter.Close()
	}
	if r.rawTrWriter != nil {
		_ = r.rawTrWriter.Close()
	}
	if r.liveDiffWriter != nil {
		_ = r.liveDiffWriter.Close()
	}
	if r.liveTradeWriter != nil {
		_ = r.liveTradeWriter.Close()
	}

	schemaPath := filepath.Join(r.dayDir, "schema.json")
	files := map[string]FileEntry{
		"orderbook": {Path: fmt.Sprintf("orderbook_ws_depth_%s_*.csv.gz", r.symbolFS), Format: "csv", Compression: "gzip", Depth: depthLevels},
		"trades":    {Path: fmt.Sprintf("trades_ws_%s_*.csv.gz", r.symbolFS), Format: "csv", Compression: "gzip"},
		"gaps":      {Path: fmt.Sprintf("gaps_%s_*.csv.gz", r.symbolFS), Format: "csv", Compression: "gzip"},
		"events":    {Path: fmt.Sprintf("events_%s_*.csv.gz", r.symbolFS), Format: "csv", Compression: "gzip"},
	}
	if err := WriteSchema(schemaPath, files); err != nil {
		gclog.Warnf(gclog.Recorder, "failed writing schema.json: %v", err)
	}
}
