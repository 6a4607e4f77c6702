package sync

import (
	"hash/crc32"
	"strings"

	"github.com/chaindrift/mdrecorder/internal/orderbook"
)

// trimCRC strips the decimal point and any leading zeros from a decimal
// string, matching Kraken's checksum canonicalization. Grounded directly on
// the teacher's exchanges/kraken/kraken_websocket.go validateCRC32 trim step.
func trimCRC(s string) string {
	s = strings.ReplaceAll(s, ".", "")
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return "0"
	}
	return s
}

// KrakenChecksum builds the asks-then-bids, concatenated canonical string
// over the top-depth levels and returns an unsigned CRC-32 (hash/crc32,
// matching the teacher's stdlib usage rather than a third-party CRC lib).
func KrakenChecksum(book *orderbook.Base, depth int) (uint32, string) {
	var b strings.Builder
	asks, bids := topForChecksum(book, depth)
	for _, l := range asks {
		b.WriteString(trimCRC(l.Price.String()))
		b.WriteString(trimCRC(l.Qty.String()))
	}
	for _, l := range bids {
		b.WriteString(trimCRC(l.Price.String()))
		b.WriteString(trimCRC(l.Qty.String()))
	}
	payload := b.String()
	return crc32.ChecksumIEEE([]byte(payload)), payload
}

// BitfinexChecksum builds the bids-then-asks, colon-separated canonical
// string with signed amounts (bids positive, asks negative) and returns its
// unsigned CRC-32, matching mm_core/checksum/bitfinex.py.
func BitfinexChecksum(book *orderbook.Base, depth int) (uint32, string) {
	n := depth
	if n <= 0 || n > 25 {
		n = 25
	}
	asks, bids := topForChecksum(book, n)
	parts := make([]string, 0, 4*n)
	for _, l := range bids {
		parts = append(parts, l.Price.String(), l.Qty.String())
	}
	for _, l := range asks {
		parts = append(parts, l.Price.String(), l.Qty.Neg().String())
	}
	payload := strings.Join(parts, ":")
	// Bitfinex publishes the checksum as a signed i32; its two's-complement
	// bit pattern is numerically identical to the unsigned CRC-32 value, so
	// adapters compare against this directly after parsing the signed wire
	// value into the same uint32 bit pattern.
	return crc32.ChecksumIEEE([]byte(payload)), payload
}

func topForChecksum(book *orderbook.Base, depth int) (asks, bids []orderbook.PriceLevel) {
	b, a := book.TopN(depth)
	return a, b
}
