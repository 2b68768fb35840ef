package breaker

import (
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	"cosmossdk.io/math"

	"github.com/quorumfeed/quorumfeed/events"
	"github.com/quorumfeed/quorumfeed/metrics"
	"github.com/quorumfeed/quorumfeed/store"
	"github.com/quorumfeed/quorumfeed/types"
)

// Breaker is the per-feed circuit breaker. Closed admits submissions, Open
// rejects everything until the cooldown elapses, HalfOpen admits probes and
// re-trips on the first failure. Breaker state is persisted; TWAP and EWMA
// accumulators are in-memory and rebuild after restart under the
// MinTWAPObservations grace.
type Breaker struct {
	logger  log.Logger
	st      *store.Store
	params  types.Params
	emitter *events.Emitter

	mu   sync.Mutex
	twap map[string]*twapState
}

func New(logger log.Logger, st *store.Store, params types.Params, emitter *events.Emitter) *Breaker {
	return &Breaker{
		logger:  logger.With("module", "breaker"),
		st:      st,
		params:  params,
		emitter: emitter,
		twap:    make(map[string]*twapState),
	}
}

// Status is the breaker view for one feed, including the advisory TWAP and
// EWMA signals.
type Status struct {
	types.CircuitBreakerStatus
	TWAP math.LegacyDec `json:"twap"`
	EWMA math.LegacyDec `json:"ewma"`
}

func (b *Breaker) status(feedID string) (types.CircuitBreakerStatus, error) {
	c, ok, err := b.st.GetCircuit(feedID)
	if err != nil {
		return c, err
	}
	if !ok {
		c = types.CircuitBreakerStatus{FeedID: feedID, State: types.CircuitClosed}
	}
	return c, nil
}

// Allow gates a submission on the breaker state. An Open breaker whose
// cooldown has elapsed transitions to HalfOpen and admits the probe.
func (b *Breaker) Allow(feedID string, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.status(feedID)
	if err != nil {
		return err
	}
	switch c.State {
	case types.CircuitOpen:
		if now.Unix()-c.LastTrippedAt < b.params.CooldownSeconds {
			return errorsmod.Wrapf(types.ErrCircuitOpen,
				"feed %s open, %ds into %ds cooldown",
				feedID, now.Unix()-c.LastTrippedAt, b.params.CooldownSeconds)
		}
		c.State = types.CircuitHalfOpen
		c.ConsecutiveSuccesses = 0
		c.ConsecutiveFailures = 0
		if err := b.persist(c); err != nil {
			return err
		}
		b.logger.Info("circuit half-open, admitting probes", "feed", feedID)
		return nil
	default:
		return nil
	}
}

// RecordSuccess notes a successful aggregation round. In HalfOpen,
// SuccessThreshold consecutive successes close the circuit.
func (b *Breaker) RecordSuccess(feedID string, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.status(feedID)
	if err != nil {
		return err
	}
	switch c.State {
	case types.CircuitHalfOpen:
		c.ConsecutiveSuccesses++
		c.ConsecutiveFailures = 0
		if c.ConsecutiveSuccesses >= b.params.SuccessThreshold {
			c.State = types.CircuitClosed
			c.ConsecutiveSuccesses = 0
			b.emitter.Emit(types.EventTypeCircuitReset, events.SeverityInfo, map[string]string{
				types.AttributeKeyFeedID: feedID,
				types.AttributeKeyState:  string(types.CircuitClosed),
			})
			b.logger.Info("circuit closed after recovery", "feed", feedID)
		}
	case types.CircuitClosed:
		c.ConsecutiveFailures = 0
	}
	return b.persist(c)
}

// RecordFailure notes a rejected submission or failed round. Closed trips
// after FailureThreshold consecutive failures; HalfOpen trips on the first.
func (b *Breaker) RecordFailure(feedID, reason string, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.status(feedID)
	if err != nil {
		return err
	}
	switch c.State {
	case types.CircuitHalfOpen:
		return b.trip(c, reason, now)
	case types.CircuitClosed:
		c.ConsecutiveFailures++
		c.ConsecutiveSuccesses = 0
		if c.ConsecutiveFailures >= b.params.FailureThreshold {
			return b.trip(c, reason, now)
		}
		return b.persist(c)
	default:
		return nil
	}
}

// trip moves the circuit to Open. Caller holds the mutex.
func (b *Breaker) trip(c types.CircuitBreakerStatus, reason string, now time.Time) error {
	c.State = types.CircuitOpen
	c.LastTrippedAt = now.Unix()
	c.TripCount++
	c.ConsecutiveFailures = 0
	c.ConsecutiveSuccesses = 0
	c.LastReason = reason
	if err := b.persist(c); err != nil {
		return err
	}
	metrics.Get().CircuitTripsTotal.WithLabelValues(c.FeedID, reason).Inc()
	b.emitter.Emit(types.EventTypeCircuitTripped, events.SeverityCritical, map[string]string{
		types.AttributeKeyFeedID: c.FeedID,
		types.AttributeKeyReason: reason,
		types.AttributeKeyState:  string(types.CircuitOpen),
	})
	b.logger.Warn("circuit tripped", "feed", c.FeedID, "reason", reason, "trip_count", c.TripCount)
	return nil
}

func (b *Breaker) persist(c types.CircuitBreakerStatus) error {
	metrics.Get().CircuitState.WithLabelValues(c.FeedID).Set(metrics.CircuitStateValue(string(c.State)))
	return b.st.SetCircuit(c)
}

// EmergencyTrip forces a feed's circuit Open. Guardian operation.
func (b *Breaker) EmergencyTrip(feedID, reason string, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.status(feedID)
	if err != nil {
		return err
	}
	return b.trip(c, "emergency: "+reason, now)
}

// EmergencyReset forces a feed's circuit Closed, skipping the HalfOpen
// probation. Guardian operation.
func (b *Breaker) EmergencyReset(feedID string, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.status(feedID)
	if err != nil {
		return err
	}
	c.State = types.CircuitClosed
	c.ConsecutiveFailures = 0
	c.ConsecutiveSuccesses = 0
	c.LastReason = "emergency reset"
	if err := b.persist(c); err != nil {
		return err
	}
	b.emitter.Emit(types.EventTypeCircuitReset, events.SeverityWarning, map[string]string{
		types.AttributeKeyFeedID: feedID,
		types.AttributeKeyState:  string(types.CircuitClosed),
	})
	b.logger.Warn("circuit reset by guardian", "feed", feedID)
	return nil
}

// GlobalEmergencyTrip opens every known feed circuit.
func (b *Breaker) GlobalEmergencyTrip(reason string, now time.Time) error {
	feeds, err := b.st.ListFeeds()
	if err != nil {
		return err
	}
	for _, f := range feeds {
		if err := b.EmergencyTrip(f.FeedID, reason, now); err != nil {
			return err
		}
	}
	b.logger.Error("global emergency trip", "reason", reason, "feeds", len(feeds))
	return nil
}

// Status returns the persisted breaker state plus the in-memory TWAP and
// EWMA signals for the feed.
func (b *Breaker) Status(feedID string, now time.Time) (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.status(feedID)
	if err != nil {
		return Status{}, err
	}
	out := Status{CircuitBreakerStatus: c, TWAP: math.LegacyZeroDec(), EWMA: math.LegacyZeroDec()}
	if ts, ok := b.twap[feedID]; ok {
		if v, ok := ts.value(now, b.params.TWAPWindowSeconds, b.params.MinTWAPObservations); ok {
			out.TWAP = v
		}
		out.EWMA = ts.ewma
	}
	return out, nil
}
