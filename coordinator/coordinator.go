package coordinator

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	"cosmossdk.io/math"
	"golang.org/x/time/rate"

	"github.com/quorumfeed/quorumfeed/aggregator"
	"github.com/quorumfeed/quorumfeed/breaker"
	"github.com/quorumfeed/quorumfeed/commitreveal"
	"github.com/quorumfeed/quorumfeed/events"
	"github.com/quorumfeed/quorumfeed/ledger"
	"github.com/quorumfeed/quorumfeed/metrics"
	"github.com/quorumfeed/quorumfeed/store"
	"github.com/quorumfeed/quorumfeed/types"
)

const feedStripes = 32

// Coordinator serializes the per-feed submission pipeline:
// rate limit, circuit gate, manipulation checks, optional proof gate,
// observation append, quorum check, aggregation, ledger outcomes, events.
// Submissions for one feed run under one lock; distinct feeds in parallel.
type Coordinator struct {
	logger  log.Logger
	st      *store.Store
	params  types.Params
	agg     *aggregator.Engine
	ledger  *ledger.Ledger
	breaker *breaker.Breaker
	reveal  *commitreveal.Service
	emitter *events.Emitter

	feedLocks [feedStripes]sync.Mutex
	limiters  sync.Map // oracle address -> *rate.Limiter
	enabled   atomic.Bool

	rolesMu sync.RWMutex
	roles   map[string]map[types.Role]bool
}

func New(
	logger log.Logger,
	st *store.Store,
	params types.Params,
	agg *aggregator.Engine,
	ldg *ledger.Ledger,
	brk *breaker.Breaker,
	reveal *commitreveal.Service,
	emitter *events.Emitter,
) *Coordinator {
	c := &Coordinator{
		logger:  logger.With("module", "coordinator"),
		st:      st,
		params:  params,
		agg:     agg,
		ledger:  ldg,
		breaker: brk,
		reveal:  reveal,
		emitter: emitter,
		roles:   make(map[string]map[types.Role]bool),
	}
	c.enabled.Store(true)
	return c
}

func (c *Coordinator) feedLock(feedID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(feedID))
	return &c.feedLocks[h.Sum32()%feedStripes]
}

func (c *Coordinator) limiter(oracle string) *rate.Limiter {
	if l, ok := c.limiters.Load(oracle); ok {
		return l.(*rate.Limiter)
	}
	perSecond := rate.Limit(float64(c.params.MaxSubmissionsPerWindow) / float64(c.params.RateLimitWindowSeconds))
	l, _ := c.limiters.LoadOrStore(oracle, rate.NewLimiter(perSecond, c.params.MaxSubmissionsPerWindow))
	return l.(*rate.Limiter)
}

// SetEnabled pauses or resumes the whole engine. Admin operation.
func (c *Coordinator) SetEnabled(actor string, enabled bool) error {
	if err := c.requireRole(actor, types.RoleAdmin); err != nil {
		return err
	}
	c.enabled.Store(enabled)
	c.logger.Warn("engine enabled flag changed", "actor", actor, "enabled", enabled)
	return nil
}

// SubmitReport runs one observation through the pipeline. When the round
// reaches quorum it aggregates and returns the new consensus price;
// otherwise it returns nil and the observation waits for the round to fill.
func (c *Coordinator) SubmitReport(ctx context.Context, actor string, obs types.PriceObservation, now time.Time) (*types.AggregatedPrice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.enabled.Load() {
		return nil, types.ErrEngineDisabled
	}
	if err := c.requireRole(actor, types.RoleOracle); err != nil {
		return nil, err
	}
	if err := obs.Validate(); err != nil {
		return nil, err
	}

	feed, ok, err := c.st.GetFeed(obs.FeedID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errorsmod.Wrap(types.ErrFeedNotFound, obs.FeedID)
	}
	if !feed.Enabled {
		return nil, errorsmod.Wrap(types.ErrFeedDisabled, obs.FeedID)
	}

	acct, err := c.ledger.GetAccount(obs.Submitter)
	if err != nil {
		return nil, err
	}
	if acct.Status != types.StatusActive {
		return nil, errorsmod.Wrapf(types.ErrAlreadySuspended,
			"oracle %s is %s", obs.Submitter, acct.Status)
	}

	if !c.limiter(obs.Submitter).AllowN(now, 1) {
		c.reject(feed.FeedID, obs.Submitter, types.ErrRateLimitExceeded.Error())
		return nil, errorsmod.Wrap(types.ErrRateLimitExceeded, obs.Submitter)
	}

	if err := c.breaker.Allow(feed.FeedID, now); err != nil {
		c.reject(feed.FeedID, obs.Submitter, "circuit_open")
		return nil, err
	}

	// Proof-gated submissions must reference a fully verified commitment.
	if obs.ProofRef != "" {
		if c.reveal == nil {
			return nil, errorsmod.Wrap(types.ErrProofInvalid, "proof verification not configured")
		}
		verified, err := c.reveal.IsFullyVerified(obs.ProofRef)
		if err != nil {
			return nil, err
		}
		if !verified {
			c.reject(feed.FeedID, obs.Submitter, "proof_not_verified")
			return nil, errorsmod.Wrap(types.ErrProofInvalid, obs.ProofRef)
		}
	}

	mu := c.feedLock(feed.FeedID)
	mu.Lock()
	defer mu.Unlock()

	rs, ok, err := c.st.GetRound(feed.FeedID)
	if err != nil {
		return nil, err
	}
	switch {
	case !ok:
		rs = types.RoundState{FeedID: feed.FeedID, Round: 1, StartedAt: now.Unix()}
	case rs.Count == 0:
		// The quorum window opens with the round's first observation.
		rs.StartedAt = now.Unix()
	case now.Unix()-rs.StartedAt > feed.HeartbeatSeconds:
		// The round failed to reach quorum within the heartbeat; its
		// observations no longer count toward a consensus value.
		c.logger.Info("round expired without quorum",
			"feed", feed.FeedID, "round", rs.Round, "count", rs.Count)
		rs = types.RoundState{FeedID: feed.FeedID, Round: rs.Round + 1, StartedAt: now.Unix()}
	}
	obs.Round = rs.Round
	obs.Timestamp = now.Unix()

	recent, err := c.st.RecentObservations(feed.FeedID, int(feed.MinSources)*4)
	if err != nil {
		return nil, err
	}
	roundObs := filterRound(recent, rs.Round)
	for _, prev := range roundObs {
		if prev.Submitter == obs.Submitter {
			return nil, errorsmod.Wrapf(types.ErrDuplicateReport,
				"oracle %s already reported in round %d", obs.Submitter, rs.Round)
		}
	}

	var lastAgg *types.AggregatedPrice
	if agg, ok, err := c.st.GetAggregate(feed.FeedID); err != nil {
		return nil, err
	} else if ok {
		lastAgg = &agg
	}

	if err := c.breaker.Inspect(feed, obs, recent, lastAgg, now); err != nil {
		c.handleRejection(feed, obs, lastAgg, err, now)
		return nil, err
	}

	stored, err := c.st.AppendObservation(obs)
	if err != nil {
		return nil, err
	}
	rs.Count++
	metrics.Get().SubmissionsTotal.WithLabelValues(feed.FeedID).Inc()

	if rs.Count < feed.MinSources {
		if err := c.st.SetRound(rs); err != nil {
			return nil, err
		}
		c.logger.Debug("observation queued",
			"feed", feed.FeedID, "round", rs.Round, "count", rs.Count, "sequence", stored.Sequence)
		return nil, nil
	}

	return c.finalizeRound(feed, rs, now)
}

// finalizeRound aggregates the current round and advances the counter.
// Caller holds the feed lock. The round number increases whether the round
// aggregates or fails.
func (c *Coordinator) finalizeRound(feed types.Feed, rs types.RoundState, now time.Time) (*types.AggregatedPrice, error) {
	started := time.Now()
	recent, err := c.st.RecentObservations(feed.FeedID, 0)
	if err != nil {
		return nil, err
	}
	roundObs := filterRound(recent, rs.Round)

	res, aggErr := c.agg.Aggregate(feed, roundObs, rs.Round, now)

	// Excluded sources are slashed proportionally to their distance from the
	// round median, whether or not the round itself succeeded.
	median := res.Aggregate.Median
	if aggErr != nil {
		median = aggregator.Median(pricesOf(roundObs))
	}
	for _, out := range res.Outliers {
		dev := types.DeviationBps(out.Price, median)
		if _, _, err := c.ledger.Slash(out.Submitter, feed.FeedID, types.ReasonPriceDeviation, dev, now); err != nil {
			c.logger.Error("outlier slash failed", "oracle", out.Submitter, "err", err)
		}
	}

	// Advance the round regardless of outcome.
	next := types.RoundState{FeedID: feed.FeedID, Round: rs.Round + 1, StartedAt: now.Unix()}
	if err := c.st.SetRound(next); err != nil {
		return nil, err
	}

	if aggErr != nil {
		if err := c.breaker.RecordFailure(feed.FeedID, "insufficient_valid_sources", now); err != nil {
			return nil, err
		}
		c.reject(feed.FeedID, "", "insufficient_valid_sources")
		return nil, aggErr
	}

	if err := c.st.SetAggregate(res.Aggregate); err != nil {
		return nil, err
	}
	c.breaker.RecordAggregate(feed.FeedID, res.Aggregate.Price, now)
	if err := c.breaker.RecordSuccess(feed.FeedID, now); err != nil {
		return nil, err
	}

	outlierSet := make(map[string]struct{}, len(res.Outliers))
	for _, o := range res.Outliers {
		outlierSet[o.Submitter] = struct{}{}
	}
	for _, o := range roundObs {
		if _, excluded := outlierSet[o.Submitter]; excluded {
			continue
		}
		if err := c.ledger.RecordValid(o.Submitter, feed.FeedID, rs.Round, now); err != nil &&
			!errorsmod.IsOf(err, types.ErrDuplicateReport) {
			c.logger.Error("reward credit failed", "oracle", o.Submitter, "err", err)
		}
	}

	m := metrics.Get()
	priceF, _ := res.Aggregate.Price.Float64()
	sdF, _ := res.Aggregate.StdDev.Float64()
	m.AggregatedPrice.WithLabelValues(feed.FeedID).Set(priceF)
	m.AggregatedStdDev.WithLabelValues(feed.FeedID).Set(sdF)
	m.SourceCount.WithLabelValues(feed.FeedID).Set(float64(res.Aggregate.SourceCount))
	m.AggregationSeconds.Observe(time.Since(started).Seconds())

	c.emitter.Emit(types.EventTypePriceUpdated, events.SeverityInfo, map[string]string{
		types.AttributeKeyFeedID:      feed.FeedID,
		types.AttributeKeyPrice:       res.Aggregate.Price.String(),
		types.AttributeKeyMedian:      res.Aggregate.Median.String(),
		types.AttributeKeyStdDev:      res.Aggregate.StdDev.String(),
		types.AttributeKeyRound:       strconv.FormatUint(rs.Round, 10),
		types.AttributeKeySourceCount: strconv.FormatUint(uint64(res.Aggregate.SourceCount), 10),
		types.AttributeKeyConfidence:  strconv.FormatInt(res.Aggregate.ConfidenceBps, 10),
	})
	c.logger.Info("round aggregated",
		"feed", feed.FeedID, "round", rs.Round,
		"price", res.Aggregate.Price.String(), "sources", res.Aggregate.SourceCount)

	out := res.Aggregate
	return &out, nil
}

// handleRejection classifies an inspection failure: manipulation-pattern
// errors slash the submitter and count toward tripping the circuit.
func (c *Coordinator) handleRejection(feed types.Feed, obs types.PriceObservation, lastAgg *types.AggregatedPrice, cause error, now time.Time) {
	reason := rejectionReason(cause)
	c.reject(feed.FeedID, obs.Submitter, reason)

	if errorsmod.IsOf(cause,
		types.ErrPriceDeviation, types.ErrPotentialSandwich,
		types.ErrRapidSubmission, types.ErrSuspiciousGapMove, types.ErrTWAPDeviation) {

		dev := int64(0)
		if lastAgg != nil {
			dev = types.DeviationBps(obs.Price, lastAgg.Price)
		}
		if _, _, err := c.ledger.Slash(obs.Submitter, feed.FeedID, types.ReasonPriceDeviation, dev, now); err != nil {
			c.logger.Error("rejection slash failed", "oracle", obs.Submitter, "err", err)
		}
		if err := c.breaker.RecordFailure(feed.FeedID, reason, now); err != nil {
			c.logger.Error("breaker failure record failed", "feed", feed.FeedID, "err", err)
		}
	}
}

func (c *Coordinator) reject(feedID, oracle, reason string) {
	metrics.Get().RejectionsTotal.WithLabelValues(feedID, reason).Inc()
	attrs := map[string]string{
		types.AttributeKeyFeedID: feedID,
		types.AttributeKeyReason: reason,
	}
	if oracle != "" {
		attrs[types.AttributeKeyOracle] = oracle
	}
	c.emitter.Emit(types.EventTypeSubmissionRejected, events.SeverityWarning, attrs)
}

func rejectionReason(err error) string {
	switch {
	case errorsmod.IsOf(err, types.ErrPriceDeviation):
		return "price_deviation"
	case errorsmod.IsOf(err, types.ErrPotentialSandwich):
		return "potential_sandwich"
	case errorsmod.IsOf(err, types.ErrRapidSubmission):
		return "rapid_submission"
	case errorsmod.IsOf(err, types.ErrSuspiciousGapMove):
		return "suspicious_gap_move"
	case errorsmod.IsOf(err, types.ErrTWAPDeviation):
		return "twap_deviation"
	default:
		return "other"
	}
}

func filterRound(observations []types.PriceObservation, round uint64) []types.PriceObservation {
	var out []types.PriceObservation
	for _, o := range observations {
		if o.Round == round {
			out = append(out, o)
		}
	}
	return out
}

func pricesOf(observations []types.PriceObservation) []math.LegacyDec {
	out := make([]math.LegacyDec, len(observations))
	for i, o := range observations {
		out[i] = o.Price
	}
	return out
}

// GetLatestPrice returns the current consensus value, failing with
// ErrStaleData once the feed heartbeat has elapsed without a fresh round.
func (c *Coordinator) GetLatestPrice(feedID string, now time.Time) (types.AggregatedPrice, error) {
	feed, ok, err := c.st.GetFeed(feedID)
	if err != nil {
		return types.AggregatedPrice{}, err
	}
	if !ok {
		return types.AggregatedPrice{}, errorsmod.Wrap(types.ErrFeedNotFound, feedID)
	}
	agg, ok, err := c.st.GetAggregate(feedID)
	if err != nil {
		return types.AggregatedPrice{}, err
	}
	if !ok {
		return types.AggregatedPrice{}, errorsmod.Wrap(types.ErrStaleData, "no aggregate yet")
	}
	if agg.IsStale(feed.HeartbeatSeconds, now) {
		c.emitter.Emit(types.EventTypeFeedStale, events.SeverityWarning, map[string]string{
			types.AttributeKeyFeedID:    feedID,
			types.AttributeKeyTimestamp: strconv.FormatInt(agg.Timestamp, 10),
		})
		return agg, errorsmod.Wrapf(types.ErrStaleData,
			"last update %d, heartbeat %ds", agg.Timestamp, feed.HeartbeatSeconds)
	}
	return agg, nil
}

// GetCircuitStatus returns the breaker view for one feed.
func (c *Coordinator) GetCircuitStatus(feedID string, now time.Time) (breaker.Status, error) {
	return c.breaker.Status(feedID, now)
}

// GetOracleInfo returns the ledger state for one oracle.
func (c *Coordinator) GetOracleInfo(address string) (types.OracleAccount, error) {
	return c.ledger.GetAccount(address)
}

// CreateFeed registers a feed configuration. Admin operation.
func (c *Coordinator) CreateFeed(actor string, feed types.Feed) error {
	if err := c.requireRole(actor, types.RoleAdmin); err != nil {
		return err
	}
	if err := feed.Validate(); err != nil {
		return err
	}
	if err := c.st.SetFeed(feed); err != nil {
		return err
	}
	c.logger.Info("feed configured", "feed", feed.FeedID, "actor", actor)
	return nil
}

// TripCircuit forces a feed open. Guardian operation.
func (c *Coordinator) TripCircuit(actor, feedID, reason string, now time.Time) error {
	if err := c.requireRole(actor, types.RoleGuardian); err != nil {
		return err
	}
	return c.breaker.EmergencyTrip(feedID, reason, now)
}

// ResetCircuit forces a feed closed. Guardian operation.
func (c *Coordinator) ResetCircuit(actor, feedID string, now time.Time) error {
	if err := c.requireRole(actor, types.RoleGuardian); err != nil {
		return err
	}
	return c.breaker.EmergencyReset(feedID, now)
}

// TripAllCircuits opens every feed. Guardian operation.
func (c *Coordinator) TripAllCircuits(actor, reason string, now time.Time) error {
	if err := c.requireRole(actor, types.RoleGuardian); err != nil {
		return err
	}
	return c.breaker.GlobalEmergencyTrip(reason, now)
}

// ResolveDispute adjudicates a slashing dispute. Admin operation; the
// adjudication decision itself is made off-engine.
func (c *Coordinator) ResolveDispute(actor, disputeID string, approve bool, now time.Time) (types.Dispute, error) {
	if err := c.requireRole(actor, types.RoleAdmin); err != nil {
		return types.Dispute{}, err
	}
	return c.ledger.ResolveDispute(disputeID, approve, now)
}
