// Package sync implements the exchange-agnostic sync engine state machine
// (spec §4.2, §4.3): an I/O-free component that consumes normalized
// diffs/snapshots and emits {buffered, synced, applied, gap} transitions.
// Grounded on the teacher's exchange/websocket/buffer/buffer.go (the
// Update/processBufferUpdate/processObUpdate dispatch between update-by-ID
// sequence progression and checksum verification) and on
// mm_core/sync_engine.py + mm_core/checksum_engine.py for exact bridge and
// checksum semantics.
package sync

import (
	"fmt"
	"sort"

	"github.com/chaindrift/mdrecorder/internal/gclog"
	"github.com/chaindrift/mdrecorder/internal/orderbook"
)

// Outcome is one of the four transitions the engine may emit.
type Outcome string

const (
	OutcomeBuffered Outcome = "buffered"
	OutcomeApplied  Outcome = "applied"
	OutcomeSynced   Outcome = "synced"
	OutcomeGap      Outcome = "gap"
)

// Result carries the transition plus a machine-readable reason for gaps.
type Result struct {
	Outcome Outcome
	Reason  string
}

func (r Result) String() string {
	if r.Reason == "" {
		return string(r.Outcome)
	}
	return fmt.Sprintf("%s(%s)", r.Outcome, r.Reason)
}

// DepthDiff is the normalized diff frame handed to a sync engine by an
// exchange adapter. SeqFrom/SeqTo are the [U,u] sequence range for
// sequence-bridging exchanges; Checksum is set for checksum exchanges.
type DepthDiff struct {
	EventTimeMs int64
	SeqFrom     int64
	SeqTo       int64
	Checksum    *uint32
	Bids        []orderbook.PriceLevel
	Asks        []orderbook.PriceLevel
}

// BookSnapshot is the normalized snapshot handed to AdoptSnapshot.
type BookSnapshot struct {
	Bids         []orderbook.PriceLevel
	Asks         []orderbook.PriceLevel
	LastUpdateID *int64
	Checksum     *uint32
}

// Engine is the common interface both disciplines implement; drivers
// (recorder, replayer) depend only on this (spec §9 "inheritance of
// engines -> trait/interface").
type Engine interface {
	Feed(diff DepthDiff) Result
	AdoptSnapshot(snap BookSnapshot) error
	Reset()
	Book() *orderbook.Base
	EpochID() int
	Synced() bool
	// Buffered reports how many diffs are held pending sync, for the
	// driver's "depth buffer large" heartbeat warning.
	Buffered() int
}

// errMissingLastUpdateID is returned by AdoptSnapshot on sequence engines
// when the snapshot carries no last_update_id.
var errMissingLastUpdateID = fmt.Errorf("sync: adopt_snapshot requires last_update_id")

// BridgingEngine implements the sequence-bridging discipline (spec §4.2).
type BridgingEngine struct {
	book           *orderbook.Base
	buffer         []DepthDiff
	maxBufferSize  int
	snapshotLoaded bool
	depthSynced    bool
	epochID        int
}

// NewBridgingEngine constructs a sequence-bridging engine over book.
func NewBridgingEngine(book *orderbook.Base, maxBufferSize int) *BridgingEngine {
	return &BridgingEngine{book: book, maxBufferSize: maxBufferSize}
}

func (e *BridgingEngine) Book() *orderbook.Base { return e.book }
func (e *BridgingEngine) EpochID() int          { return e.epochID }
func (e *BridgingEngine) Synced() bool          { return e.depthSynced }
func (e *BridgingEngine) Buffered() int         { return len(e.buffer) }

// AdoptSnapshot requires lob.last_update_id be set (spec §4.2 adopt_snapshot).
func (e *BridgingEngine) AdoptSnapshot(snap BookSnapshot) error {
	if snap.LastUpdateID == nil {
		return errMissingLastUpdateID
	}
	if err := e.book.LoadSnapshot(snap.Bids, snap.Asks, snap.LastUpdateID); err != nil {
		return err
	}
	e.snapshotLoaded = true
	e.depthSynced = false
	return nil
}

// Reset empties book, buffer, and flags (spec §4.2 reset_for_resync).
func (e *BridgingEngine) Reset() {
	e.book.Reset()
	e.buffer = nil
	e.snapshotLoaded = false
	e.depthSynced = false
}

func (e *BridgingEngine) markSynced() {
	if !e.depthSynced {
		e.depthSynced = true
		e.epochID++
	}
}

// Feed applies spec §4.2's feed(diff) state machine.
func (e *BridgingEngine) Feed(diff DepthDiff) Result {
	if !e.snapshotLoaded {
		e.buffer = append(e.buffer, diff)
		if len(e.buffer) > e.maxBufferSize {
			e.buffer = nil
			return Result{OutcomeGap, "buffer_overflow"}
		}
		return Result{Outcome: OutcomeBuffered}
	}

	if !e.depthSynced {
		e.buffer = append(e.buffer, diff)
		if len(e.buffer) > e.maxBufferSize {
			e.buffer = nil
			return Result{OutcomeGap, "buffer_overflow"}
		}
		return e.attemptBridge()
	}

	switch res := e.book.ApplyDiff(diff.SeqFrom, diff.SeqTo, diff.Bids, diff.Asks); res {
	case orderbook.Applied:
		return Result{Outcome: OutcomeApplied}
	case orderbook.Stale:
		return Result{Outcome: OutcomeApplied}
	default:
		e.depthSynced = false
		return Result{OutcomeGap, "gap"}
	}
}

// attemptBridge sorts the buffer by U and looks for the first frame that
// satisfies U <= last_update_id+1 <= u (spec §4.2's bridge rationale).
func (e *BridgingEngine) attemptBridge() Result {
	sort.SliceStable(e.buffer, func(i, j int) bool { return e.buffer[i].SeqFrom < e.buffer[j].SeqFrom })

	last := int64(0)
	if e.book.LastUpdateID != nil {
		last = *e.book.LastUpdateID
	}

	if len(e.buffer) > 0 && e.buffer[0].SeqFrom > last+1 {
		return Result{OutcomeGap, "bridge_impossible"}
	}

	remaining := e.buffer[:0:0]
	synced := false
	var lastOutcome Outcome = OutcomeBuffered
	for _, d := range e.buffer {
		if !synced {
			last = int64(0)
			if e.book.LastUpdateID != nil {
				last = *e.book.LastUpdateID
			}
			if d.SeqTo <= last {
				continue // stale, discard
			}
			if d.SeqFrom <= last+1 && last+1 <= d.SeqTo {
				e.book.ApplyDiff(d.SeqFrom, d.SeqTo, d.Bids, d.Asks)
				e.markSynced()
				synced = true
				lastOutcome = OutcomeSynced
				continue
			}
			// not yet bridgeable, retain for next frame
			remaining = append(remaining, d)
			continue
		}
		// already synced this call: keep applying subsequent in-order frames
		last = *e.book.LastUpdateID
		if d.SeqTo <= last {
			continue
		}
		if d.SeqFrom <= last+1 {
			e.book.ApplyDiff(d.SeqFrom, d.SeqTo, d.Bids, d.Asks)
			continue
		}
		remaining = append(remaining, d)
	}
	e.buffer = remaining
	return Result{Outcome: lastOutcome}
}

// ChecksumFunc computes a checksum over the top-depth levels of book and
// also returns the canonical pre-image string, for debugging persistence.
type ChecksumFunc func(book *orderbook.Base, depth int) (checksum uint32, preimage string)

// ChecksumEngine implements the checksum-verifying discipline (spec §4.3).
type ChecksumEngine struct {
	book          *orderbook.Base
	depth         int
	checksumDepth int
	checksum      ChecksumFunc
	buffer        []DepthDiff
	maxBufferSize int
	snapshotLoaded bool
	epochID       int
	lastPreimage  string
}

// NewChecksumEngine constructs a checksum-verifying engine over book,
// truncating the book to depth after each update but validating fn over
// checksumDepth levels — these differ for Kraken, whose wire checksum is
// always computed over the top 10 regardless of the subscribed book depth
// (checksum_engine.py's KrakenBook.checksum(n=10) is hardcoded independent
// of self.depth); callers for which the two coincide (Bitfinex) just pass
// the same value for both.
func NewChecksumEngine(book *orderbook.Base, depth, checksumDepth, maxBufferSize int, fn ChecksumFunc) *ChecksumEngine {
	return &ChecksumEngine{book: book, depth: depth, checksumDepth: checksumDepth, maxBufferSize: maxBufferSize, checksum: fn}
}

func (e *ChecksumEngine) Book() *orderbook.Base { return e.book }
func (e *ChecksumEngine) EpochID() int          { return e.epochID }
func (e *ChecksumEngine) Synced() bool          { return e.snapshotLoaded }
func (e *ChecksumEngine) Buffered() int         { return len(e.buffer) }

// AdoptSnapshot transitions directly to Synced; no bridging needed.
func (e *ChecksumEngine) AdoptSnapshot(snap BookSnapshot) error {
	e.book.ApplyLevels(snap.Bids, snap.Asks, e.depth)
	e.snapshotLoaded = true
	e.epochID++
	e.buffer = nil
	return nil
}

func (e *ChecksumEngine) Reset() {
	e.book.Reset()
	e.buffer = nil
	e.snapshotLoaded = false
}

// LastPreimage returns the canonical string used for the most recent
// checksum comparison, for persisting alongside a checksum_mismatch gap.
func (e *ChecksumEngine) LastPreimage() string { return e.lastPreimage }

func (e *ChecksumEngine) Feed(diff DepthDiff) Result {
	if !e.snapshotLoaded {
		e.buffer = append(e.buffer, diff)
		if len(e.buffer) > e.maxBufferSize {
			e.buffer = nil
			return Result{OutcomeGap, "buffer_overflow"}
		}
		return Result{Outcome: OutcomeBuffered}
	}

	e.book.ApplyLevels(diff.Bids, diff.Asks, e.depth)
	if diff.Checksum == nil {
		return Result{Outcome: OutcomeApplied}
	}

	computed, preimage := e.checksum(e.book, e.checksumDepth)
	e.lastPreimage = preimage
	if computed != *diff.Checksum {
		e.snapshotLoaded = false
		gclog.Warnf(gclog.SyncEngine, "checksum mismatch computed=%d expected=%d", computed, *diff.Checksum)
		return Result{OutcomeGap, fmt.Sprintf("checksum_mismatch computed=%d expected=%d", computed, *diff.Checksum)}
	}
	return Result{Outcome: OutcomeApplied}
}
