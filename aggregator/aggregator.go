package aggregator

import (
	"sort"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	"cosmossdk.io/math"

	"github.com/quorumfeed/quorumfeed/types"
)

// Engine computes consensus prices from raw observations. It is stateless;
// callers own serialization and persistence.
type Engine struct {
	logger log.Logger
}

func New(logger log.Logger) *Engine {
	return &Engine{logger: logger.With("module", "aggregator")}
}

// Result is the outcome of one aggregation round. Outliers is populated
// whenever the filter ran, including on the insufficient-sources error path,
// so callers can apply slashing to excluded sources.
type Result struct {
	Aggregate types.AggregatedPrice
	Outliers  []types.PriceObservation
}

// Aggregate runs the full pipeline: median, population standard deviation
// around the median, outlier exclusion, confidence-weighted average of the
// survivors.
func (e *Engine) Aggregate(feed types.Feed, observations []types.PriceObservation, round uint64, now time.Time) (Result, error) {
	if uint32(len(observations)) < feed.MinSources {
		return Result{}, errorsmod.Wrapf(types.ErrQuorumNotMet,
			"feed %s: %d observations, need %d", feed.FeedID, len(observations), feed.MinSources)
	}

	prices := make([]math.LegacyDec, len(observations))
	for i, obs := range observations {
		prices[i] = obs.Price
	}
	median := Median(prices)
	stdDev := StdDevAroundMedian(prices, median)

	// An observation is an outlier when its distance from the median exceeds
	// stdDev * capBps/10000.
	bound := stdDev.MulInt64(feed.StdDevCapBps).QuoInt64(10000)
	var kept, outliers []types.PriceObservation
	for _, obs := range observations {
		if obs.Price.Sub(median).Abs().GT(bound) {
			outliers = append(outliers, obs)
			continue
		}
		kept = append(kept, obs)
	}

	if uint32(len(kept)) < feed.MinSources {
		e.logger.Info("aggregation rejected: too few sources after filtering",
			"feed", feed.FeedID, "kept", len(kept), "outliers", len(outliers), "min_sources", feed.MinSources)
		return Result{Outliers: outliers}, errorsmod.Wrapf(types.ErrInsufficientValidSources,
			"feed %s: %d of %d observations survived filtering, need %d",
			feed.FeedID, len(kept), len(observations), feed.MinSources)
	}

	weightedSum := math.LegacyZeroDec()
	weightTotal := math.LegacyZeroDec()
	confidenceSum := int64(0)
	for _, obs := range kept {
		w := math.LegacyNewDec(obs.ConfidenceBps)
		weightedSum = weightedSum.Add(obs.Price.Mul(w))
		weightTotal = weightTotal.Add(w)
		confidenceSum += obs.ConfidenceBps
	}
	price := weightedSum.Quo(weightTotal)

	agg := types.AggregatedPrice{
		FeedID:        feed.FeedID,
		Price:         price,
		Median:        median,
		StdDev:        stdDev,
		SourceCount:   uint32(len(kept)),
		ConfidenceBps: confidenceSum / int64(len(kept)),
		Timestamp:     now.Unix(),
		Round:         round,
	}
	e.logger.Debug("aggregated",
		"feed", feed.FeedID, "round", round, "price", price.String(),
		"median", median.String(), "sources", len(kept), "outliers", len(outliers))
	return Result{Aggregate: agg, Outliers: outliers}, nil
}

// Median returns the middle value of prices, or the mean of the two middle
// values for an even count. Input order is preserved.
func Median(prices []math.LegacyDec) math.LegacyDec {
	if len(prices) == 0 {
		return math.LegacyZeroDec()
	}
	sorted := make([]math.LegacyDec, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LT(sorted[j]) })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).QuoInt64(2)
}

// StdDevAroundMedian returns the population standard deviation of prices
// measured around the given center.
func StdDevAroundMedian(prices []math.LegacyDec, center math.LegacyDec) math.LegacyDec {
	if len(prices) == 0 {
		return math.LegacyZeroDec()
	}
	sumSq := math.LegacyZeroDec()
	for _, p := range prices {
		d := p.Sub(center)
		sumSq = sumSq.Add(d.Mul(d))
	}
	variance := sumSq.QuoInt64(int64(len(prices)))
	sd, err := variance.ApproxSqrt()
	if err != nil {
		return math.LegacyZeroDec()
	}
	return sd
}
