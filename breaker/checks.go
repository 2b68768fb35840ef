package breaker

import (
	"time"

	errorsmod "cosmossdk.io/errors"

	"github.com/quorumfeed/quorumfeed/types"
)

// sandwichRevertBps: a sandwich reverts to within 0.5% of the pre-spike
// price.
const sandwichRevertBps = 50

// gapMoveBps: a 5% move after a long submission gap is treated as
// manipulation rather than drift.
const gapMoveBps = 500

// Inspect runs the manipulation heuristics against an incoming observation.
// recent is the feed's observation history in chronological order, newest
// last; lastAggregate is the current consensus price when one exists. A
// returned error classifies the rejection and is slash-triggering for the
// deviation and pattern checks.
func (b *Breaker) Inspect(feed types.Feed, obs types.PriceObservation, recent []types.PriceObservation, lastAggregate *types.AggregatedPrice, now time.Time) error {
	// Deviation from the last consensus value.
	if lastAggregate != nil {
		dev := types.DeviationBps(obs.Price, lastAggregate.Price)
		if dev > feed.MaxDeviationBps {
			return errorsmod.Wrapf(types.ErrPriceDeviation,
				"feed %s: %d bps from consensus, max %d", feed.FeedID, dev, feed.MaxDeviationBps)
		}
	}

	// Pattern heuristics need history; fewer than 3 prior observations is
	// bootstrap territory.
	if len(recent) >= 1 {
		last := recent[len(recent)-1]

		// Same source submitting again immediately with a large move.
		if last.Submitter == obs.Submitter &&
			types.DeviationBps(obs.Price, last.Price) > b.params.SandwichThresholdBps {
			return errorsmod.Wrapf(types.ErrRapidSubmission,
				"feed %s: %s resubmitted with %d bps move",
				feed.FeedID, obs.Submitter, types.DeviationBps(obs.Price, last.Price))
		}

		// Large move after a long quiet gap.
		if gap := obs.Timestamp - last.Timestamp; gap > b.params.MaxObservationGapSeconds &&
			types.DeviationBps(obs.Price, last.Price) > gapMoveBps {
			return errorsmod.Wrapf(types.ErrSuspiciousGapMove,
				"feed %s: %ds silent then %d bps move",
				feed.FeedID, gap, types.DeviationBps(obs.Price, last.Price))
		}
	}

	if len(recent) >= 3 {
		// Sandwich shape: a spike in the most recent step that the incoming
		// observation reverts almost exactly.
		pre := recent[len(recent)-2]
		spike := recent[len(recent)-1]
		if types.DeviationBps(spike.Price, pre.Price) > b.params.SandwichThresholdBps &&
			types.DeviationBps(obs.Price, pre.Price) <= sandwichRevertBps {
			return errorsmod.Wrapf(types.ErrPotentialSandwich,
				"feed %s: spike of %d bps reverted to within %d bps",
				feed.FeedID, types.DeviationBps(spike.Price, pre.Price), sandwichRevertBps)
		}
	}

	// TWAP consistency, once enough window has accumulated.
	b.mu.Lock()
	ts, ok := b.twap[feed.FeedID]
	var twapErr error
	if ok {
		if v, have := ts.value(now, b.params.TWAPWindowSeconds, b.params.MinTWAPObservations); have {
			if dev := types.DeviationBps(obs.Price, v); dev > b.params.MaxTWAPDeviationBps {
				twapErr = errorsmod.Wrapf(types.ErrTWAPDeviation,
					"feed %s: %d bps from twap %s, max %d",
					feed.FeedID, dev, v.String(), b.params.MaxTWAPDeviationBps)
			}
		}
	}
	b.mu.Unlock()
	return twapErr
}
