package relay

import "sort"

// topOfBook is a minimal price->qty map per side, used only to derive
// spread/mid/levels for relay subscribers — not a durable order book.
// Matches relay.py's _TopOfBook.
type topOfBook struct {
	bids    map[float64]float64
	asks    map[float64]float64
	bestBid *float64
	bestAsk *float64
}

func newTopOfBook() *topOfBook {
	return &topOfBook{bids: map[float64]float64{}, asks: map[float64]float64{}}
}

func (b *topOfBook) seed(bids, asks [][2]float64) {
	for _, lvl := range bids {
		b.setLevel(b.bids, lvl[0], lvl[1], true)
	}
	for _, lvl := range asks {
		b.setLevel(b.asks, lvl[0], lvl[1], false)
	}
	b.recomputeBest()
}

func (b *topOfBook) applyUpdates(bids, asks [][2]float64) {
	for _, lvl := range bids {
		b.setLevel(b.bids, lvl[0], lvl[1], true)
	}
	for _, lvl := range asks {
		b.setLevel(b.asks, lvl[0], lvl[1], false)
	}
	b.adjustBest()
}

func (b *topOfBook) setLevel(book map[float64]float64, price, qty float64, isBid bool) {
	if qty <= 0 {
		delete(book, price)
		if isBid && b.bestBid != nil && *b.bestBid == price {
			b.bestBid = nil
		}
		if !isBid && b.bestAsk != nil && *b.bestAsk == price {
			b.bestAsk = nil
		}
		return
	}
	book[price] = qty
	if isBid {
		if b.bestBid == nil || price > *b.bestBid {
			v := price
			b.bestBid = &v
		}
	} else {
		if b.bestAsk == nil || price < *b.bestAsk {
			v := price
			b.bestAsk = &v
		}
	}
}

func (b *topOfBook) recomputeBest() {
	b.bestBid = maxKey(b.bids)
	b.bestAsk = minKey(b.asks)
}

func (b *topOfBook) adjustBest() {
	if b.bestBid == nil {
		b.bestBid = maxKey(b.bids)
	}
	if b.bestAsk == nil {
		b.bestAsk = minKey(b.asks)
	}
}

func maxKey(m map[float64]float64) *float64 {
	if len(m) == 0 {
		return nil
	}
	best := float64(0)
	first := true
	for k := range m {
		if first || k > best {
			best = k
			first = false
		}
	}
	return &best
}

func minKey(m map[float64]float64) *float64 {
	if len(m) == 0 {
		return nil
	}
	best := float64(0)
	first := true
	for k := range m {
		if first || k < best {
			best = k
			first = false
		}
	}
	return &best
}

// level is one (price, qty) pair for a levels snapshot.
type level struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// topLevels returns up to n levels per side, bids descending, asks
// ascending, matching _TopOfBook.top_levels.
func (b *topOfBook) topLevels(n int) (bids, asks []level) {
	bids = sortedLevels(b.bids, n, true)
	asks = sortedLevels(b.asks, n, false)
	return bids, asks
}

func sortedLevels(m map[float64]float64, n int, desc bool) []level {
	out := make([]level, 0, len(m))
	for p, q := range m {
		out = append(out, level{Price: p, Qty: q})
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
