package types

import (
	sdkerrors "cosmossdk.io/errors"
)

// Engine sentinel errors. Codes 2+ per cosmossdk.io/errors convention
// (code 1 is reserved for internal).
var (
	// Validation errors: malformed input, rejected synchronously.
	ErrInvalidFeed    = sdkerrors.Register(ModuleName, 2, "invalid feed configuration")
	ErrInvalidPrice   = sdkerrors.Register(ModuleName, 3, "invalid price observation")
	ErrFeedNotFound   = sdkerrors.Register(ModuleName, 4, "feed not found")
	ErrFeedDisabled   = sdkerrors.Register(ModuleName, 5, "feed is disabled")
	ErrEngineDisabled = sdkerrors.Register(ModuleName, 6, "engine is paused")

	// Transient errors: caller may retry next round.
	ErrQuorumNotMet             = sdkerrors.Register(ModuleName, 10, "quorum not met")
	ErrInsufficientValidSources = sdkerrors.Register(ModuleName, 11, "insufficient valid sources after outlier filtering")
	ErrCircuitOpen              = sdkerrors.Register(ModuleName, 12, "circuit breaker is open")
	ErrStaleData                = sdkerrors.Register(ModuleName, 13, "feed heartbeat exceeded, no fresh price")

	// Rejections that trigger slashing; not retried for the submission.
	ErrPriceDeviation    = sdkerrors.Register(ModuleName, 20, "price deviation exceeds threshold")
	ErrPotentialSandwich = sdkerrors.Register(ModuleName, 21, "potential sandwich pattern detected")
	ErrRapidSubmission   = sdkerrors.Register(ModuleName, 22, "rapid resubmission by same source")
	ErrSuspiciousGapMove = sdkerrors.Register(ModuleName, 23, "suspicious price move after submission gap")
	ErrTWAPDeviation     = sdkerrors.Register(ModuleName, 24, "price deviates from TWAP beyond threshold")

	// Account-level errors: require operator or user action.
	ErrInsufficientStake = sdkerrors.Register(ModuleName, 30, "stake below minimum")
	ErrExceedsMaximum    = sdkerrors.Register(ModuleName, 31, "stake above maximum")
	ErrAlreadyRegistered = sdkerrors.Register(ModuleName, 32, "oracle already registered")
	ErrOracleNotFound    = sdkerrors.Register(ModuleName, 33, "oracle not registered")
	ErrAlreadySuspended  = sdkerrors.Register(ModuleName, 34, "oracle is suspended")
	ErrOpenDisputes      = sdkerrors.Register(ModuleName, 35, "oracle has open disputes")
	ErrDuplicateReport   = sdkerrors.Register(ModuleName, 36, "report already credited for this round")
	ErrRateLimitExceeded = sdkerrors.Register(ModuleName, 37, "submission rate limit exceeded")

	// Dispute errors.
	ErrDisputeWindowExpired = sdkerrors.Register(ModuleName, 40, "dispute window expired")
	ErrDisputeNotFound      = sdkerrors.Register(ModuleName, 41, "dispute not found")
	ErrDisputeResolved      = sdkerrors.Register(ModuleName, 42, "dispute already resolved")
	ErrSlashEventNotFound   = sdkerrors.Register(ModuleName, 43, "slashing event not found")

	// Commit-reveal and proof errors: reject the specific commitment only.
	ErrDuplicateCommitment = sdkerrors.Register(ModuleName, 50, "commitment already exists")
	ErrCommitmentNotFound  = sdkerrors.Register(ModuleName, 51, "commitment not found")
	ErrNotCommitter        = sdkerrors.Register(ModuleName, 52, "only the original committer may reveal")
	ErrRevealMismatch      = sdkerrors.Register(ModuleName, 53, "reveal does not match commitment hash")
	ErrAlreadyRevealed     = sdkerrors.Register(ModuleName, 54, "commitment already revealed")
	ErrNotRevealed         = sdkerrors.Register(ModuleName, 55, "commitment not yet revealed")
	ErrNotVerifier         = sdkerrors.Register(ModuleName, 56, "not a registered verifier")
	ErrDuplicateVote       = sdkerrors.Register(ModuleName, 57, "verifier already voted on this commitment")
	ErrProofExpired        = sdkerrors.Register(ModuleName, 58, "proof verification window expired")
	ErrProofInvalid        = sdkerrors.Register(ModuleName, 59, "proof failed verification")
	ErrBatchTooLarge       = sdkerrors.Register(ModuleName, 60, "batch exceeds maximum size")
	ErrInvalidMerkleProof  = sdkerrors.Register(ModuleName, 61, "merkle proof does not verify")
	ErrVerifierRevoked     = sdkerrors.Register(ModuleName, 62, "verifier status revoked")

	// Access control.
	ErrUnauthorized = sdkerrors.Register(ModuleName, 70, "caller lacks required role")

	// Storage failures propagate as system-level errors.
	ErrStoreFailure = sdkerrors.Register(ModuleName, 80, "storage unavailable")
)
