// Package orderbook implements the LocalOrderBook (spec §4.1): a
// price-keyed L2 book supporting snapshot load, sequential diff
// application, and top-N queries. Grounded on the ordered-slice levels
// design exercised by the teacher's exchanges/orderbook levels_test.go
// (askLevels ascending, bidLevels descending, binary-search upsert).
package orderbook

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chaindrift/mdrecorder/internal/gclog"
)

// PriceLevel is one (price, qty) entry on a book side.
type PriceLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// Result is the outcome of applying a diff to the book.
type Result int

const (
	Applied Result = iota
	Stale
	Gap
)

func (r Result) String() string {
	switch r {
	case Applied:
		return "applied"
	case Stale:
		return "stale"
	case Gap:
		return "gap"
	default:
		return "unknown"
	}
}

// ErrTickAlignment is returned by LoadSnapshot when a price is not within
// tolerance of a multiple of the configured tick size.
type ErrTickAlignment struct {
	Price decimal.Decimal
	Tick  decimal.Decimal
}

func (e *ErrTickAlignment) Error() string {
	return fmt.Sprintf("orderbook: price %s not aligned to tick size %s", e.Price, e.Tick)
}

// tickTolerance returns 0.5 * tick * 1e-6, per spec §4.1.
func tickTolerance(tick decimal.Decimal) decimal.Decimal {
	return tick.Mul(decimal.NewFromFloat(0.5e-6))
}

func isTickAligned(price, tick, tol decimal.Decimal) bool {
	if tick.IsZero() {
		return true
	}
	ratio := price.Div(tick)
	nearest := ratio.Round(0)
	diff := ratio.Sub(nearest).Mul(tick).Abs()
	return diff.LessThanOrEqual(tol)
}

// askLevels is kept ascending by price; bidLevels descending.
type askLevels []PriceLevel
type bidLevels []PriceLevel

func (a askLevels) less(i, j PriceLevel) bool { return i.Price.LessThan(j.Price) }
func (b bidLevels) less(i, j PriceLevel) bool { return i.Price.GreaterThan(j.Price) }

func loadAsk(levels []PriceLevel) askLevels {
	out := make(askLevels, 0, len(levels))
	for _, l := range levels {
		if l.Qty.Sign() > 0 {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out
}

func loadBid(levels []PriceLevel) bidLevels {
	out := make(bidLevels, 0, len(levels))
	for _, l := range levels {
		if l.Qty.Sign() > 0 {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.GreaterThan(out[j].Price) })
	return out
}

// upsertAsk applies a price-keyed update (delete on qty==0) keeping ascending order.
func upsertAsk(levels askLevels, upd PriceLevel) askLevels {
	idx := sort.Search(len(levels), func(i int) bool { return !levels[i].Price.LessThan(upd.Price) })
	found := idx < len(levels) && levels[idx].Price.Equal(upd.Price)
	switch {
	case found && upd.Qty.Sign() == 0:
		return append(levels[:idx], levels[idx+1:]...)
	case found:
		levels[idx].Qty = upd.Qty
		return levels
	case upd.Qty.Sign() == 0:
		return levels
	default:
		levels = append(levels, PriceLevel{})
		copy(levels[idx+1:], levels[idx:])
		levels[idx] = upd
		return levels
	}
}

func upsertBid(levels bidLevels, upd PriceLevel) bidLevels {
	idx := sort.Search(len(levels), func(i int) bool { return !levels[i].Price.GreaterThan(upd.Price) })
	found := idx < len(levels) && levels[idx].Price.Equal(upd.Price)
	switch {
	case found && upd.Qty.Sign() == 0:
		return append(levels[:idx], levels[idx+1:]...)
	case found:
		levels[idx].Qty = upd.Qty
		return levels
	case upd.Qty.Sign() == 0:
		return levels
	default:
		levels = append(levels, PriceLevel{})
		copy(levels[idx+1:], levels[idx:])
		levels[idx] = upd
		return levels
	}
}

// Base is the L2 book: ordered bids (desc) and asks (asc), plus the
// sequence cursor used by sequence-bridging exchanges.
type Base struct {
	Exchange     string
	Symbol       string
	Bids         bidLevels
	Asks         askLevels
	LastUpdateID *int64
	TickSize     decimal.Decimal
	// Strict requires tick alignment to error rather than warn; false
	// for exchanges (Bitfinex) whose tick is a significant-digit heuristic.
	Strict      bool
	LastUpdated time.Time
}

// New returns an empty book for the given exchange/symbol pair.
func New(exchange, symbol string, tick decimal.Decimal, strict bool) *Base {
	return &Base{Exchange: exchange, Symbol: symbol, TickSize: tick, Strict: strict}
}

// LoadSnapshot clears state and ingests a fresh set of levels, per spec
// §4.1 load_snapshot. lastUpdateID is nil for checksum exchanges.
func (b *Base) LoadSnapshot(bids, asks []PriceLevel, lastUpdateID *int64) error {
	if !b.TickSize.IsZero() {
		tol := tickTolerance(b.TickSize)
		for _, l := range append(append([]PriceLevel{}, bids...), asks...) {
			if !isTickAligned(l.Price, b.TickSize, tol) {
				if b.Strict {
					return &ErrTickAlignment{Price: l.Price, Tick: b.TickSize}
				}
				gclog.Warnf(gclog.Adapter, "%s %s: snapshot price %s misaligned with tick %s, loading anyway (non-strict)",
					b.Exchange, b.Symbol, l.Price, b.TickSize)
			}
		}
	}
	b.Bids = loadBid(bids)
	b.Asks = loadAsk(asks)
	b.LastUpdateID = lastUpdateID
	b.LastUpdated = time.Now()
	return nil
}

// ApplyDiff applies a sequence-ranged diff per spec §4.1 apply_diff.
func (b *Base) ApplyDiff(u, uu int64, bidUpdates, askUpdates []PriceLevel) Result {
	if b.LastUpdateID == nil {
		return Gap
	}
	last := *b.LastUpdateID
	if uu <= last {
		return Stale
	}
	if u > last+1 {
		return Gap
	}
	for _, upd := range bidUpdates {
		b.Bids = upsertBid(b.Bids, upd)
	}
	for _, upd := range askUpdates {
		b.Asks = upsertAsk(b.Asks, upd)
	}
	b.LastUpdateID = &uu
	b.LastUpdated = time.Now()
	return Applied
}

// ApplyLevels applies unsequenced top-of-book level updates (checksum
// exchanges), truncating each side to depth K afterward.
func (b *Base) ApplyLevels(bidUpdates, askUpdates []PriceLevel, depth int) {
	for _, upd := range bidUpdates {
		b.Bids = upsertBid(b.Bids, upd)
	}
	for _, upd := range askUpdates {
		b.Asks = upsertAsk(b.Asks, upd)
	}
	if depth > 0 {
		if len(b.Bids) > depth {
			b.Bids = b.Bids[:depth]
		}
		if len(b.Asks) > depth {
			b.Asks = b.Asks[:depth]
		}
	}
	b.LastUpdated = time.Now()
}

// TopN returns up to n levels from each side in canonical order.
func (b *Base) TopN(n int) (bids, asks []PriceLevel) {
	nb := n
	if nb > len(b.Bids) {
		nb = len(b.Bids)
	}
	bids = append(bids, b.Bids[:nb]...)
	na := n
	if na > len(b.Asks) {
		na = len(b.Asks)
	}
	asks = append(asks, b.Asks[:na]...)
	return bids, asks
}

// Verify checks invariant 3: best_bid < best_ask when both sides populated.
func (b *Base) Verify() error {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return nil
	}
	if !b.Bids[0].Price.LessThan(b.Asks[0].Price) {
		return fmt.Errorf("orderbook: crossed book best_bid=%s best_ask=%s", b.Bids[0].Price, b.Asks[0].Price)
	}
	return nil
}

// Reset clears the book back to its zero state, used on resync.
func (b *Base) Reset() {
	b.Bids = nil
	b.Asks = nil
	b.LastUpdateID = nil
}
