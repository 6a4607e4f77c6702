// Package recorder implements the live recording driver (spec §4.5):
// phase state machine, durable CSV.gz/NDJSON.gz writers, rotating live
// NDJSON tail files, and the event/gap ledger. Grounded on
// original_source/mm_recorder/{recorder,recorder_callbacks,recorder_types,
// recorder_context}.py.
package recorder

import "time"

// Phase is the recorder's lifecycle state, spec §4.5's phase machine.
type Phase string

const (
	PhaseConnecting Phase = "connecting"
	PhaseSnapshot   Phase = "snapshot"
	PhaseSyncing    Phase = "syncing"
	PhaseSynced     Phase = "synced"
	PhaseResyncing  Phase = "resyncing"
	PhaseStopped    Phase = "stopped"
)

// State is the recorder's mutable run-scoped counters and flags,
// grounded on recorder_types.py's RecorderState dataclass.
type State struct {
	RecvSeq         int64
	EventID         int64
	EpochID         int
	ResyncCount     int
	WSOpenCount     int
	WindowEndEmitted bool
	LastHeartbeat   time.Time
	SyncT0          time.Time
	LastSyncWarn    time.Time
	DepthMsgCount   int64
	TradeMsgCount   int64
	OBRowsWritten   int64
	TRRowsWritten   int64
	LastDepthEventMs *int64
	LastTradeEventMs *int64
	NeedsSnapshot   bool
	PendingSnapshotTag string
	Phase           Phase
	LastWSMsgTime   time.Time
	LastNoDataWarn  time.Time
	FirstDataEmitted bool
}

// NextRecvSeq increments and returns the run-global receive sequence,
// strictly increasing across every output file (spec §6.2 invariant).
func (s *State) NextRecvSeq() int64 {
	s.RecvSeq++
	return s.RecvSeq
}

// NextEventID increments and returns the event ledger's event_id.
func (s *State) NextEventID() int64 {
	s.EventID++
	return s.EventID
}
