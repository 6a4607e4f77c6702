package replay

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"

	"github.com/chaindrift/mdrecorder/internal/sync"
)

// SegmentReport is the applied/gap tally for one snapshot-to-resync segment,
// matching replay_validator.py's per-Segment validation result.
type SegmentReport struct {
	Tag     string
	EventID int64
	RecvSeq int64
	Applied int
	Gaps    int
}

// ValidateReport summarizes ValidateDay's segment-by-segment re-derivation.
type ValidateReport struct {
	Segments []SegmentReport
	Applied  int
	Gaps     int
}

type segment struct {
	tag        string
	eventID    int64
	recvSeq    int64
	path       string
	endRecvSeq *int64
}

// ValidateDay independently re-derives applied/gap counts for each
// snapshot segment of a recorded day by feeding that segment's depth diffs
// through a fresh sync engine, matching replay_validator.py's
// _validate_segment_binance/_validate_segment_kraken. It is a
// cross-check against Day's single continuous pass: Day relies on the
// engine never losing sync, while ValidateDay rebuilds each segment from
// its own snapshot so a bug that corrupted the continuous run doesn't
// also corrupt the validation.
func ValidateDay(opts Options) (ValidateReport, error) {
	var report ValidateReport

	eventsPath, err := FindEventsFile(opts.Root, opts.Symbol, opts.YYYYMMDD)
	if err != nil {
		return report, errors.Wrap(err, "replay: validate")
	}
	diffsPath, err := FindDepthDiffsFile(opts.Root, opts.Symbol, opts.YYYYMMDD)
	if err != nil {
		return report, errors.Wrap(err, "replay: validate")
	}

	var resyncStarts []int64
	var loadedEvents []EventRow
	if err := IterEventsCSV(eventsPath, func(ev EventRow) error {
		recvSeq := ev.EventID
		if ev.RecvSeq != nil {
			recvSeq = *ev.RecvSeq
		}
		switch ev.Type {
		case "resync_start":
			resyncStarts = append(resyncStarts, recvSeq)
		case "snapshot_loaded":
			loadedEvents = append(loadedEvents, ev)
		}
		return nil
	}); err != nil {
		return report, errors.Wrap(err, "replay: validate: reading events")
	}
	sort.Slice(resyncStarts, func(i, j int) bool { return resyncStarts[i] < resyncStarts[j] })

	segments := buildSegments(opts.Root, opts.Symbol, opts.YYYYMMDD, loadedEvents, resyncStarts)
	if len(segments) == 0 {
		return report, errors.New("replay: validate: no snapshot_loaded events found")
	}

	for _, seg := range segments {
		applied, gaps, err := validateSegment(opts, seg, diffsPath)
		if err != nil {
			return report, err
		}
		report.Segments = append(report.Segments, SegmentReport{
			Tag: seg.tag, EventID: seg.eventID, RecvSeq: seg.recvSeq, Applied: applied, Gaps: gaps,
		})
		report.Applied += applied
		report.Gaps += gaps
	}
	return report, nil
}

func buildSegments(root, symbol, yyyymmdd string, events []EventRow, resyncStarts []int64) []segment {
	segments := make([]segment, 0, len(events))
	for _, ev := range events {
		var details map[string]interface{}
		_ = json.Unmarshal([]byte(ev.DetailsJSON), &details)
		tag := "snapshot"
		if v, ok := details["tag"].(string); ok {
			tag = v
		}
		path := ""
		if v, ok := details["path"].(string); ok {
			path = joinDayDir(root, symbol, yyyymmdd, v)
		} else {
			path = DayDir(root, symbol, yyyymmdd) + "/snapshots/snapshot.csv"
		}
		recvSeq := ev.EventID
		if ev.RecvSeq != nil {
			recvSeq = *ev.RecvSeq
		}
		segments = append(segments, segment{tag: tag, eventID: ev.EventID, recvSeq: recvSeq, path: path})
	}
	for i := range segments {
		var next *int64
		for _, rs := range resyncStarts {
			if rs > segments[i].recvSeq {
				v := rs
				next = &v
				break
			}
		}
		segments[i].endRecvSeq = next
	}
	return segments
}

func validateSegment(opts Options, seg segment, diffsPath string) (applied, gaps int, err error) {
	snapBook, err := LoadSnapshotCSV(seg.path)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "replay: validate: loading segment snapshot %s", seg.path)
	}
	book := snapBook
	engine := buildEngine(opts, book)
	bids, asks := book.TopN(len(book.Bids) + len(book.Asks) + 1)
	adoptErr := engine.AdoptSnapshot(sync.BookSnapshot{Bids: bids, Asks: asks, LastUpdateID: book.LastUpdateID})
	if adoptErr != nil {
		return 0, 0, errors.Wrap(adoptErr, "replay: validate: adopting segment snapshot")
	}

	iterErr := IterDepthDiffs(diffsPath, func(row DepthDiffRow) error {
		recvSeq := row.U
		if row.RecvSeq != nil {
			recvSeq = *row.RecvSeq
		}
		if recvSeq <= seg.recvSeq {
			return nil
		}
		if seg.endRecvSeq != nil && recvSeq >= *seg.endRecvSeq {
			return errStopIteration
		}
		res := engine.Feed(sync.DepthDiff{
			EventTimeMs: row.E, SeqFrom: row.U, SeqTo: row.U2,
			Checksum: row.Checksum, Bids: row.Bids, Asks: row.Asks,
		})
		if res.Outcome == sync.OutcomeGap {
			gaps++
		} else {
			applied++
		}
		return nil
	})
	if iterErr != nil && iterErr != errStopIteration {
		return 0, 0, errors.Wrap(iterErr, "replay: validate: replaying segment diffs")
	}
	return applied, gaps, nil
}

var errStopIteration = errors.New("replay: validate: segment boundary reached")
