package recorder

import (
	"encoding/json"
	"time"

	"github.com/chaindrift/mdrecorder/internal/orderbook"
	"github.com/chaindrift/mdrecorder/internal/sync"
)

// depthDiffRecord is one line of depth_diffs_<sym>_<day>.ndjson.gz / the
// live tail file, matching spec §6's {recv_ms, recv_seq, E, U, u, b, a,
// [checksum], exchange, symbol} diff record shape.
type depthDiffRecord struct {
	RecvMs   int64       `json:"recv_ms"`
	RecvSeq  int64       `json:"recv_seq"`
	E        int64       `json:"E"`
	U        int64       `json:"U"`
	U2       int64       `json:"u"`
	Bids     [][2]string `json:"b"`
	Asks     [][2]string `json:"a"`
	Checksum *uint32     `json:"checksum,omitempty"`
	Exchange string      `json:"exchange"`
	Symbol   string      `json:"symbol"`
}

// depthDiffLine renders diff as one compact JSON line for the NDJSON
// raw-diff ledger, matching recorder.py's depth-diff persistence record.
func depthDiffLine(recvSeq int64, diff sync.DepthDiff, exchange, symbol string) (string, error) {
	rec := depthDiffRecord{
		RecvMs:   time.Now().UnixMilli(),
		RecvSeq:  recvSeq,
		E:        diff.EventTimeMs,
		U:        diff.SeqFrom,
		U2:       diff.SeqTo,
		Bids:     pairsFromLevels(diff.Bids),
		Asks:     pairsFromLevels(diff.Asks),
		Checksum: diff.Checksum,
		Exchange: exchange,
		Symbol:   symbol,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func pairsFromLevels(levels []orderbook.PriceLevel) [][2]string {
	out := make([][2]string, 0, len(levels))
	for _, l := range levels {
		out = append(out, [2]string{l.Price.StringFixed(decimals), l.Qty.StringFixed(decimals)})
	}
	return out
}
