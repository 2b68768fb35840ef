package types

import (
	"fmt"

	"cosmossdk.io/math"
)

// Params holds the global engine configuration. Per-feed thresholds live on
// Feed; everything here applies across feeds.
type Params struct {
	// Staking ledger.
	MinimumStake       math.Int `json:"minimum_stake"`
	MaximumStake       math.Int `json:"maximum_stake"`
	SlashPercentageBps int64    `json:"slash_percentage_bps"`
	SlashFloorAmount   math.Int `json:"slash_floor_amount"`
	// ReputationDecayBps scales the reputation lost per slash:
	// loss = reputation * decay / 10000.
	ReputationDecayBps  int64    `json:"reputation_decay_bps"`
	ReputationRewardBps int64    `json:"reputation_reward_bps"`
	RewardPerReport     math.Int `json:"reward_per_report"`
	// MinSlashIntervalSeconds prevents repeated slashing of the same oracle
	// for a burst of correlated rejections.
	MinSlashIntervalSeconds int64 `json:"min_slash_interval_seconds"`

	// Disputes.
	DisputeStake         math.Int `json:"dispute_stake"`
	DisputePeriodSeconds int64    `json:"dispute_period_seconds"`

	// Inactivity.
	InactivityPeriodSeconds int64 `json:"inactivity_period_seconds"`

	// Circuit breaker.
	FailureThreshold           uint32 `json:"failure_threshold"`
	SuccessThreshold           uint32 `json:"success_threshold"`
	CooldownSeconds            int64  `json:"cooldown_seconds"`
	PriceDeviationThresholdBps int64 `json:"price_deviation_threshold_bps"`
	MaxTWAPDeviationBps        int64 `json:"max_twap_deviation_bps"`
	SandwichThresholdBps       int64 `json:"sandwich_threshold_bps"`
	// MaxObservationGapSeconds: a large price move arriving after a quiet
	// gap longer than this is treated as manipulation.
	MaxObservationGapSeconds int64 `json:"max_observation_gap_seconds"`
	TWAPWindowSeconds        int64 `json:"twap_window_seconds"`
	MinTWAPObservations      int   `json:"min_twap_observations"`

	// Commit-reveal.
	RequiredApprovals  uint32 `json:"required_approvals"`
	ProofExpirySeconds int64  `json:"proof_expiry_seconds"`
	MaxBatchSize       int    `json:"max_batch_size"`

	// Submission rate limiting, enforced before the circuit gate.
	MaxSubmissionsPerWindow int   `json:"max_submissions_per_window"`
	RateLimitWindowSeconds  int64 `json:"rate_limit_window_seconds"`

	// Observation retention per feed.
	RingCapacity int `json:"ring_capacity"`
}

// DefaultParams returns engine defaults suitable for testing and single-node
// deployments.
func DefaultParams() Params {
	return Params{
		MinimumStake:       math.NewInt(1_000_000),
		MaximumStake:       math.NewInt(1_000_000_000),
		SlashPercentageBps: 500, // 5%: manipulation must be unprofitable even with sizable gains
		SlashFloorAmount:   math.NewInt(10_000),
		ReputationDecayBps:  1000, // lose 10% of current reputation per slash
		ReputationRewardBps: 25,   // +25 bps per valid report, capped at 10000
		RewardPerReport:     math.NewInt(100),
		MinSlashIntervalSeconds: 60,

		DisputeStake:         math.NewInt(50_000),
		DisputePeriodSeconds: 7 * 24 * 3600,

		InactivityPeriodSeconds: 24 * 3600,

		FailureThreshold:           3,
		SuccessThreshold:           3,
		CooldownSeconds:            300,
		PriceDeviationThresholdBps: 1000, // 10%
		MaxTWAPDeviationBps:        1500, // 15%
		SandwichThresholdBps:       200,  // 2% move then revert
		MaxObservationGapSeconds:   300,
		TWAPWindowSeconds:          3600,
		MinTWAPObservations:        3,

		RequiredApprovals:  2,
		ProofExpirySeconds: 24 * 3600,
		MaxBatchSize:       256,

		MaxSubmissionsPerWindow: 10,
		RateLimitWindowSeconds:  60,

		RingCapacity: 1000,
	}
}

// Validate checks parameter bounds.
func (p Params) Validate() error {
	if p.MinimumStake.IsNil() || !p.MinimumStake.IsPositive() {
		return fmt.Errorf("minimum stake must be positive")
	}
	if p.MaximumStake.IsNil() || p.MaximumStake.LT(p.MinimumStake) {
		return fmt.Errorf("maximum stake must be >= minimum stake")
	}
	if p.SlashPercentageBps <= 0 || p.SlashPercentageBps > 10000 {
		return fmt.Errorf("slash percentage must be in (0, 10000] bps, got %d", p.SlashPercentageBps)
	}
	if p.ReputationDecayBps < 0 || p.ReputationDecayBps > 10000 {
		return fmt.Errorf("reputation decay must be in [0, 10000] bps, got %d", p.ReputationDecayBps)
	}
	if p.ReputationRewardBps < 0 || p.ReputationRewardBps > 10000 {
		return fmt.Errorf("reputation reward must be in [0, 10000] bps, got %d", p.ReputationRewardBps)
	}
	if p.DisputePeriodSeconds <= 0 {
		return fmt.Errorf("dispute period must be positive")
	}
	if p.InactivityPeriodSeconds <= 0 {
		return fmt.Errorf("inactivity period must be positive")
	}
	if p.FailureThreshold == 0 {
		return fmt.Errorf("failure threshold must be positive")
	}
	if p.SuccessThreshold == 0 {
		return fmt.Errorf("success threshold must be positive")
	}
	if p.CooldownSeconds <= 0 {
		return fmt.Errorf("cooldown must be positive")
	}
	if p.RequiredApprovals < 2 {
		return fmt.Errorf("required approvals must be >= 2, got %d", p.RequiredApprovals)
	}
	if p.ProofExpirySeconds <= 0 {
		return fmt.Errorf("proof expiry must be positive")
	}
	if p.MaxBatchSize <= 0 || p.MaxBatchSize > 1024 {
		return fmt.Errorf("max batch size must be in (0, 1024], got %d", p.MaxBatchSize)
	}
	if p.TWAPWindowSeconds <= 0 {
		return fmt.Errorf("twap window must be positive")
	}
	if p.MaxObservationGapSeconds <= 0 {
		return fmt.Errorf("max observation gap must be positive")
	}
	if p.RingCapacity <= 0 {
		return fmt.Errorf("ring capacity must be positive")
	}
	if p.MaxSubmissionsPerWindow <= 0 || p.RateLimitWindowSeconds <= 0 {
		return fmt.Errorf("rate limit window and budget must be positive")
	}
	return nil
}
