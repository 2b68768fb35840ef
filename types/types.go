package types

import (
	"fmt"
	"time"

	"cosmossdk.io/math"
)

// ModuleName is the codespace used for registered errors and the prefix for
// event types emitted by the engine.
const ModuleName = "oracle"

// Feed describes one tracked asset pair. Feeds are created by an operator and
// are immutable except through operator reconfiguration.
type Feed struct {
	FeedID           string `json:"feed_id"`
	MinSources       uint32 `json:"min_sources"`
	MaxDeviationBps  int64  `json:"max_deviation_bps"`
	StdDevCapBps     int64  `json:"std_dev_cap_bps"`
	HeartbeatSeconds int64  `json:"heartbeat_seconds"`
	Decimals         uint8  `json:"decimals"`
	Enabled          bool   `json:"enabled"`
}

// Validate checks feed configuration bounds.
func (f Feed) Validate() error {
	if f.FeedID == "" {
		return ErrInvalidFeed.Wrap("feed id cannot be empty")
	}
	if f.MinSources < 3 || f.MinSources > 10 {
		return ErrInvalidFeed.Wrapf("min sources must be in [3, 10], got %d", f.MinSources)
	}
	if f.MaxDeviationBps <= 0 {
		return ErrInvalidFeed.Wrapf("max deviation must be positive, got %d bps", f.MaxDeviationBps)
	}
	if f.StdDevCapBps <= 0 {
		return ErrInvalidFeed.Wrapf("std dev cap must be positive, got %d bps", f.StdDevCapBps)
	}
	if f.HeartbeatSeconds <= 0 {
		return ErrInvalidFeed.Wrapf("heartbeat must be positive, got %d", f.HeartbeatSeconds)
	}
	return nil
}

// PriceObservation is a single submitted report. Observations are appended,
// never mutated; each feed retains a bounded ring of recent observations for
// TWAP and outlier context.
type PriceObservation struct {
	FeedID        string         `json:"feed_id"`
	Submitter     string         `json:"submitter"`
	Price         math.LegacyDec `json:"price"`
	Timestamp     int64          `json:"timestamp"`
	ConfidenceBps int64          `json:"confidence_bps"`
	ProofRef      string         `json:"proof_ref,omitempty"`
	Round         uint64         `json:"round"`
	// Sequence is a per-feed monotonic counter assigned on append. It stands
	// in for block height in the frontrun and gap heuristics.
	Sequence uint64 `json:"sequence"`
}

// Validate performs the synchronous input checks for a submitted observation.
func (o PriceObservation) Validate() error {
	if o.FeedID == "" {
		return ErrInvalidPrice.Wrap("feed id cannot be empty")
	}
	if o.Submitter == "" {
		return ErrInvalidPrice.Wrap("submitter cannot be empty")
	}
	if o.Price.IsNil() || !o.Price.IsPositive() {
		return ErrInvalidPrice.Wrap("price must be positive")
	}
	if o.ConfidenceBps <= 0 || o.ConfidenceBps > 10000 {
		return ErrInvalidPrice.Wrapf("confidence must be in (0, 10000] bps, got %d", o.ConfidenceBps)
	}
	return nil
}

// AggregatedPrice is the per-feed consensus value. One current value per
// feed, superseded atomically each round.
type AggregatedPrice struct {
	FeedID        string         `json:"feed_id"`
	Price         math.LegacyDec `json:"price"`
	Median        math.LegacyDec `json:"median"`
	StdDev        math.LegacyDec `json:"std_dev"`
	SourceCount   uint32         `json:"source_count"`
	ConfidenceBps int64          `json:"confidence_bps"`
	Timestamp     int64          `json:"timestamp"`
	Round         uint64         `json:"round"`
}

// IsStale reports whether the aggregate is older than the feed heartbeat.
func (p AggregatedPrice) IsStale(heartbeatSeconds int64, now time.Time) bool {
	return now.Unix()-p.Timestamp > heartbeatSeconds
}

// OracleStatus is the lifecycle state of a registered oracle account.
type OracleStatus string

const (
	StatusActive       OracleStatus = "active"
	StatusSuspended    OracleStatus = "suspended"
	StatusDeregistered OracleStatus = "deregistered"
)

// MaxReputationBps is the reputation ceiling; new accounts start here.
const MaxReputationBps = int64(10000)

// OracleAccount tracks the stake, reputation and reporting history of one
// oracle. Invariants: StakedAmount >= 0, ReputationBps in [0, 10000].
type OracleAccount struct {
	Address        string       `json:"address"`
	StakedAmount   math.Int     `json:"staked_amount"`
	ReputationBps  int64        `json:"reputation_bps"`
	TotalReports   uint64       `json:"total_reports"`
	ValidReports   uint64       `json:"valid_reports"`
	InvalidReports uint64       `json:"invalid_reports"`
	SlashedAmount  math.Int     `json:"slashed_amount"`
	RewardsOwed    math.Int     `json:"rewards_owed"`
	Status         OracleStatus `json:"status"`
	LastActivityAt int64        `json:"last_activity_at"`
	LastSlashedAt  int64        `json:"last_slashed_at,omitempty"`
	Metadata       string       `json:"metadata,omitempty"`
}

// SlashReason classifies a slashing event for audit.
type SlashReason string

const (
	ReasonPriceDeviation      SlashReason = "PRICE_DEVIATION"
	ReasonInactivity          SlashReason = "INACTIVITY"
	ReasonInvalidVerification SlashReason = "INVALID_VERIFICATION"
)

// SlashingEvent is an immutable, append-only audit record.
type SlashingEvent struct {
	ID           string      `json:"id"`
	Oracle       string      `json:"oracle"`
	FeedID       string      `json:"feed_id"`
	Amount       math.Int    `json:"amount"`
	Reason       SlashReason `json:"reason"`
	DeviationBps int64       `json:"deviation_bps"`
	// ReputationLossBps is the reputation removed alongside the stake, kept
	// so a dispute reversal can restore both.
	ReputationLossBps int64 `json:"reputation_loss_bps"`
	Timestamp         int64 `json:"timestamp"`
	Reversed          bool  `json:"reversed"`
}

// DisputeStatus is the adjudication state of a dispute.
type DisputeStatus string

const (
	DisputePending  DisputeStatus = "pending"
	DisputeApproved DisputeStatus = "approved"
	DisputeRejected DisputeStatus = "rejected"
)

// Dispute challenges a slashing event. Disputes may only be opened within
// the dispute period of the original slash; adjudication is a privileged
// action external to the engine.
type Dispute struct {
	ID              string        `json:"id"`
	SlashingEventID string        `json:"slashing_event_id"`
	Challenger      string        `json:"challenger"`
	DisputeStake    math.Int      `json:"dispute_stake"`
	Status          DisputeStatus `json:"status"`
	CreatedAt       int64         `json:"created_at"`
	ResolvedAt      int64         `json:"resolved_at,omitempty"`
}

// CircuitState is the per-feed breaker state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreakerStatus is the persisted breaker state for one feed.
type CircuitBreakerStatus struct {
	FeedID               string       `json:"feed_id"`
	State                CircuitState `json:"state"`
	LastTrippedAt        int64        `json:"last_tripped_at"`
	TripCount            uint64       `json:"trip_count"`
	ConsecutiveSuccesses uint32       `json:"consecutive_successes"`
	ConsecutiveFailures  uint32       `json:"consecutive_failures"`
	LastReason           string       `json:"last_reason,omitempty"`
}

// Commitment is the commit/reveal/multi-verifier record for one piece of
// proof-gated data. Created on commit, mutated only by reveal and verifier
// approval, terminal once fully verified.
type Commitment struct {
	Hash              string          `json:"hash"`
	Submitter         string          `json:"submitter"`
	CommittedAt       int64           `json:"committed_at"`
	Revealed          bool            `json:"revealed"`
	RevealedData      []byte          `json:"revealed_data,omitempty"`
	RevealedAt        int64           `json:"revealed_at,omitempty"`
	Approvals         map[string]bool `json:"approvals"`
	RequiredApprovals uint32          `json:"required_approvals"`
	FullyVerified     bool            `json:"fully_verified"`
}

// VerifierInfo tracks a registered proof verifier and its penalty count.
// Three penalties revoke verifier status.
type VerifierInfo struct {
	Address   string `json:"address"`
	Penalties uint32 `json:"penalties"`
	Revoked   bool   `json:"revoked"`
	AddedAt   int64  `json:"added_at"`
}

// Role is a coordinator-boundary capability.
type Role string

const (
	RoleOracle   Role = "oracle"
	RoleAdmin    Role = "admin"
	RoleGuardian Role = "guardian"
	RoleVerifier Role = "verifier"
)

func (r Role) String() string { return string(r) }

// RoundState tracks the in-progress aggregation round for one feed.
type RoundState struct {
	FeedID    string `json:"feed_id"`
	Round     uint64 `json:"round"`
	StartedAt int64  `json:"started_at"`
	Count     uint32 `json:"count"`
}

// DeviationBps returns |price - reference| / reference scaled to basis
// points, truncated. Reference must be positive.
func DeviationBps(price, reference math.LegacyDec) int64 {
	if reference.IsNil() || !reference.IsPositive() {
		return 0
	}
	dev := price.Sub(reference).Abs().Quo(reference).MulInt64(10000)
	return dev.TruncateInt64()
}

// FormatRound renders a feed round for log and event attributes.
func FormatRound(feedID string, round uint64) string {
	return fmt.Sprintf("%s#%d", feedID, round)
}
