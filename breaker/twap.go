package breaker

import (
	"time"

	"cosmossdk.io/math"

	"github.com/quorumfeed/quorumfeed/metrics"
)

// ewmaAlpha weights the latest aggregate at 30% in the exponential moving
// average signal.
var ewmaAlpha = math.LegacyNewDecWithPrec(3, 1)

type pricePoint struct {
	price math.LegacyDec
	ts    int64
}

// twapState accumulates aggregate snapshots for one feed. Points older than
// the window are pruned on write.
type twapState struct {
	points []pricePoint
	ewma   math.LegacyDec
}

// RecordAggregate feeds a finalized consensus price into the TWAP and EWMA
// accumulators.
func (b *Breaker) RecordAggregate(feedID string, price math.LegacyDec, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts, ok := b.twap[feedID]
	if !ok {
		ts = &twapState{ewma: price}
		b.twap[feedID] = ts
	} else {
		ts.ewma = price.Mul(ewmaAlpha).Add(ts.ewma.Mul(math.LegacyOneDec().Sub(ewmaAlpha)))
	}
	ts.points = append(ts.points, pricePoint{price: price, ts: now.Unix()})
	ts.prune(now.Unix() - b.params.TWAPWindowSeconds)

	if v, ok := ts.value(now, b.params.TWAPWindowSeconds, b.params.MinTWAPObservations); ok {
		f, _ := v.Float64()
		metrics.Get().TWAP.WithLabelValues(feedID).Set(f)
	}
}

func (s *twapState) prune(cutoff int64) {
	// Keep one point preceding the cutoff so the window start has a price.
	idx := 0
	for i, p := range s.points {
		if p.ts >= cutoff {
			break
		}
		idx = i
	}
	if idx > 0 {
		s.points = append(s.points[:0], s.points[idx:]...)
	}
}

// value computes the time-weighted average over the window ending at now:
// each price is weighted by the interval it was current. Returns false until
// minObservations points have accumulated.
func (s *twapState) value(now time.Time, windowSeconds int64, minObservations int) (math.LegacyDec, bool) {
	if len(s.points) < minObservations {
		return math.LegacyZeroDec(), false
	}
	start := now.Unix() - windowSeconds
	cum := math.LegacyZeroDec()
	var total int64
	for i, p := range s.points {
		from := p.ts
		if from < start {
			from = start
		}
		var until int64
		if i+1 < len(s.points) {
			until = s.points[i+1].ts
		} else {
			until = now.Unix()
		}
		if until <= from {
			continue
		}
		dt := until - from
		cum = cum.Add(p.price.MulInt64(dt))
		total += dt
	}
	if total <= 0 {
		// All points share one timestamp; fall back to the latest price.
		return s.points[len(s.points)-1].price, true
	}
	return cum.QuoInt64(total), true
}
