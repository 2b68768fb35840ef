package types

// Event types emitted by the engine.
// All event types use lowercase with underscore separator (module_action format).
const (
	EventTypePriceUpdated       = "oracle_price_updated"
	EventTypeSourceSlashed      = "oracle_source_slashed"
	EventTypeCircuitTripped     = "oracle_circuit_tripped"
	EventTypeCircuitReset       = "oracle_circuit_reset"
	EventTypeProofVerified      = "oracle_proof_verified"
	EventTypeDisputeResolved    = "oracle_dispute_resolved"
	EventTypeSubmissionRejected = "oracle_submission_rejected"
	EventTypeFeedStale          = "oracle_feed_stale"
	EventTypeOracleRegistered   = "oracle_source_registered"
	EventTypeOracleSuspended    = "oracle_source_suspended"
	EventTypeVerifierRevoked    = "oracle_verifier_revoked"
)

// Event attribute keys.
const (
	AttributeKeyFeedID       = "feed_id"
	AttributeKeyPrice        = "price"
	AttributeKeyMedian       = "median"
	AttributeKeyStdDev       = "std_dev"
	AttributeKeyRound        = "round"
	AttributeKeySourceCount  = "source_count"
	AttributeKeyConfidence   = "confidence_bps"
	AttributeKeyOracle       = "oracle"
	AttributeKeyAmount       = "amount"
	AttributeKeyReason       = "reason"
	AttributeKeyDeviation    = "deviation_bps"
	AttributeKeyState        = "state"
	AttributeKeyTripCount    = "trip_count"
	AttributeKeyCommitment   = "commitment"
	AttributeKeyVerifier     = "verifier"
	AttributeKeyDisputeID    = "dispute_id"
	AttributeKeyApproved     = "approved"
	AttributeKeyActor        = "actor"
	AttributeKeyTimestamp    = "timestamp"
)
