package relay

// rollingVolume sums buy/sell trade quantity over a trailing window of
// one-second buckets, matching relay.py's _RollingVolume.
type rollingVolume struct {
	windowS   int64
	buckets   map[int64][2]float64 // [buy, sell]
	totalBuy  float64
	totalSell float64
}

func newRollingVolume(windowS int64) *rollingVolume {
	return &rollingVolume{windowS: windowS, buckets: map[int64][2]float64{}}
}

func (v *rollingVolume) add(tsMs int64, qty float64, side string) {
	sec := tsMs / 1000
	bucket := v.buckets[sec]
	switch side {
	case "buy":
		bucket[0] += qty
		v.totalBuy += qty
	case "sell":
		bucket[1] += qty
		v.totalSell += qty
	}
	v.buckets[sec] = bucket
	v.evict(sec)
}

func (v *rollingVolume) evict(nowSec int64) {
	cutoff := nowSec - v.windowS + 1
	for sec, bucket := range v.buckets {
		if sec < cutoff {
			v.totalBuy -= bucket[0]
			v.totalSell -= bucket[1]
			delete(v.buckets, sec)
		}
	}
}

func (v *rollingVolume) totals() (buy, sell float64) {
	return v.totalBuy, v.totalSell
}
