package commitreveal

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"

	"github.com/quorumfeed/quorumfeed/events"
	"github.com/quorumfeed/quorumfeed/metrics"
	"github.com/quorumfeed/quorumfeed/store"
	"github.com/quorumfeed/quorumfeed/types"
)

// revokePenaltyCount: verifiers accumulating this many penalties lose their
// status permanently.
const revokePenaltyCount = 3

// ProofVerifier validates revealed data for a commitment. Implementations
// return ErrProofInvalid (wrapped) on failure.
type ProofVerifier interface {
	Verify(commitmentHash string, data []byte) error
}

// Service runs the commit/reveal/multi-verifier pipeline. A commitment
// becomes fully verified once RequiredApprovals distinct verifiers approve
// the revealed data; verification is terminal.
type Service struct {
	logger   log.Logger
	st       *store.Store
	params   types.Params
	emitter  *events.Emitter
	verifier ProofVerifier

	mu sync.Mutex
}

func New(logger log.Logger, st *store.Store, params types.Params, emitter *events.Emitter, verifier ProofVerifier) *Service {
	if verifier == nil {
		verifier = NewStructuralVerifier()
	}
	return &Service{
		logger:   logger.With("module", "commitreveal"),
		st:       st,
		params:   params,
		emitter:  emitter,
		verifier: verifier,
	}
}

// ComputeCommitment derives the commitment hash:
// hex(sha256(sha256(data) || be64(timestamp) || be64(nonce))).
func ComputeCommitment(data []byte, timestamp int64, nonce uint64) string {
	inner := sha256.Sum256(data)
	buf := make([]byte, 0, sha256.Size+16)
	buf = append(buf, inner[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(timestamp))
	buf = binary.BigEndian.AppendUint64(buf, nonce)
	outer := sha256.Sum256(buf)
	return hex.EncodeToString(outer[:])
}

// Commit records a new commitment hash for later reveal.
func (s *Service) Commit(hash, submitter string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok, err := s.st.GetCommitment(hash)
	if err != nil {
		return err
	}
	if ok {
		return errorsmod.Wrap(types.ErrDuplicateCommitment, hash)
	}
	c := types.Commitment{
		Hash:              hash,
		Submitter:         submitter,
		CommittedAt:       now.Unix(),
		Approvals:         make(map[string]bool),
		RequiredApprovals: s.params.RequiredApprovals,
	}
	if err := s.st.SetCommitment(c); err != nil {
		return err
	}
	metrics.Get().CommitmentsTotal.WithLabelValues("commit").Inc()
	s.logger.Debug("commitment recorded", "hash", hash, "submitter", submitter)
	return nil
}

// Reveal opens a commitment. The recomputed hash over (data, timestamp,
// nonce) must match, only the original committer may reveal, and each
// commitment reveals exactly once. The revealed data must also pass the
// configured proof verifier.
func (s *Service) Reveal(hash, submitter string, data []byte, timestamp int64, nonce uint64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok, err := s.st.GetCommitment(hash)
	if err != nil {
		return err
	}
	if !ok {
		return errorsmod.Wrap(types.ErrCommitmentNotFound, hash)
	}
	if c.Submitter != submitter {
		return errorsmod.Wrapf(types.ErrNotCommitter, "%s committed, %s revealing", c.Submitter, submitter)
	}
	if c.Revealed {
		return errorsmod.Wrap(types.ErrAlreadyRevealed, hash)
	}
	if now.Unix()-c.CommittedAt > s.params.ProofExpirySeconds {
		return errorsmod.Wrapf(types.ErrProofExpired,
			"committed at %d, expiry %ds", c.CommittedAt, s.params.ProofExpirySeconds)
	}
	if ComputeCommitment(data, timestamp, nonce) != hash {
		metrics.Get().ProofVerificationsTotal.WithLabelValues("reveal_mismatch").Inc()
		return errorsmod.Wrap(types.ErrRevealMismatch, hash)
	}
	if err := s.verifier.Verify(hash, data); err != nil {
		metrics.Get().ProofVerificationsTotal.WithLabelValues("invalid").Inc()
		return err
	}

	c.Revealed = true
	c.RevealedData = data
	c.RevealedAt = now.Unix()
	if err := s.st.SetCommitment(c); err != nil {
		return err
	}
	metrics.Get().CommitmentsTotal.WithLabelValues("reveal").Inc()
	metrics.Get().ProofVerificationsTotal.WithLabelValues("valid").Inc()
	s.logger.Debug("commitment revealed", "hash", hash)
	return nil
}

// Approve casts a verifier's approval for a revealed commitment. Each
// verifier votes once; reaching RequiredApprovals finalizes verification.
func (s *Service) Approve(hash, verifier string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVerifier(verifier); err != nil {
		return false, err
	}
	return s.approveLocked(hash, verifier, now)
}

// checkVerifier rejects unknown and revoked verifiers. Caller holds s.mu.
func (s *Service) checkVerifier(verifier string) error {
	v, ok, err := s.st.GetVerifier(verifier)
	if err != nil {
		return err
	}
	if !ok {
		return errorsmod.Wrap(types.ErrNotVerifier, verifier)
	}
	if v.Revoked {
		return errorsmod.Wrap(types.ErrVerifierRevoked, verifier)
	}
	return nil
}

func (s *Service) approveLocked(hash, verifier string, now time.Time) (bool, error) {
	c, ok, err := s.st.GetCommitment(hash)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, errorsmod.Wrap(types.ErrCommitmentNotFound, hash)
	}
	if !c.Revealed {
		return false, errorsmod.Wrap(types.ErrNotRevealed, hash)
	}
	if c.FullyVerified {
		// Terminal state; extra approvals are duplicate votes.
		return true, errorsmod.Wrap(types.ErrDuplicateVote, verifier)
	}
	if now.Unix()-c.CommittedAt > s.params.ProofExpirySeconds {
		return false, errorsmod.Wrapf(types.ErrProofExpired,
			"committed at %d, expiry %ds", c.CommittedAt, s.params.ProofExpirySeconds)
	}
	if c.Approvals[verifier] {
		return false, errorsmod.Wrap(types.ErrDuplicateVote, verifier)
	}

	c.Approvals[verifier] = true
	if uint32(len(c.Approvals)) >= c.RequiredApprovals {
		c.FullyVerified = true
	}
	if err := s.st.SetCommitment(c); err != nil {
		return false, err
	}
	metrics.Get().CommitmentsTotal.WithLabelValues("approve").Inc()
	if c.FullyVerified {
		s.emitter.Emit(types.EventTypeProofVerified, events.SeverityInfo, map[string]string{
			types.AttributeKeyCommitment: hash,
			types.AttributeKeyVerifier:   verifier,
		})
		s.logger.Info("commitment fully verified", "hash", hash, "approvals", len(c.Approvals))
	}
	return c.FullyVerified, nil
}

// IsFullyVerified reports the terminal verification state of a commitment.
func (s *Service) IsFullyVerified(hash string) (bool, error) {
	c, ok, err := s.st.GetCommitment(hash)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, errorsmod.Wrap(types.ErrCommitmentNotFound, hash)
	}
	return c.FullyVerified, nil
}

// AddVerifier registers an address as an approval-casting verifier.
func (s *Service) AddVerifier(address string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.SetVerifier(types.VerifierInfo{Address: address, AddedAt: now.Unix()})
}

// ReportInvalidVerification penalizes a verifier that approved bad data.
// Three penalties revoke verifier status permanently.
func (s *Service) ReportInvalidVerification(address string) (types.VerifierInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok, err := s.st.GetVerifier(address)
	if err != nil {
		return types.VerifierInfo{}, err
	}
	if !ok {
		return types.VerifierInfo{}, errorsmod.Wrap(types.ErrNotVerifier, address)
	}
	v.Penalties++
	if v.Penalties >= revokePenaltyCount && !v.Revoked {
		v.Revoked = true
		s.emitter.Emit(types.EventTypeVerifierRevoked, events.SeverityCritical, map[string]string{
			types.AttributeKeyVerifier: address,
		})
		s.logger.Warn("verifier revoked", "address", address, "penalties", v.Penalties)
	}
	if err := s.st.SetVerifier(v); err != nil {
		return types.VerifierInfo{}, err
	}
	return v, nil
}

// BatchResult is the per-hash outcome of a batch operation. Identical hashes
// within one batch are deduplicated and each unique hash is processed
// independently.
type BatchResult struct {
	Hash          string
	FullyVerified bool
	Err           error
}

// dedupHashes keeps the first occurrence of each hash, preserving order.
func dedupHashes(hashes []string) []string {
	seen := make(map[string]struct{}, len(hashes))
	out := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// CommitBatch records up to MaxBatchSize commitments and returns the Merkle
// root over the unique hashes plus a per-hash result. A hash that collides
// with an existing commitment fails alone; the rest of the batch proceeds.
func (s *Service) CommitBatch(hashes []string, submitter string, now time.Time) (string, []BatchResult, error) {
	if len(hashes) == 0 {
		return "", nil, errorsmod.Wrap(types.ErrInvalidMerkleProof, "empty batch")
	}
	if len(hashes) > s.params.MaxBatchSize {
		return "", nil, errorsmod.Wrapf(types.ErrBatchTooLarge,
			"%d commitments, max %d", len(hashes), s.params.MaxBatchSize)
	}
	unique := dedupHashes(hashes)

	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]BatchResult, 0, len(unique))
	committed := 0
	for _, h := range unique {
		_, ok, err := s.st.GetCommitment(h)
		if err != nil {
			return "", nil, err
		}
		if ok {
			results = append(results, BatchResult{Hash: h, Err: errorsmod.Wrap(types.ErrDuplicateCommitment, h)})
			continue
		}
		c := types.Commitment{
			Hash:              h,
			Submitter:         submitter,
			CommittedAt:       now.Unix(),
			Approvals:         make(map[string]bool),
			RequiredApprovals: s.params.RequiredApprovals,
		}
		if err := s.st.SetCommitment(c); err != nil {
			return "", nil, err
		}
		committed++
		results = append(results, BatchResult{Hash: h})
	}
	metrics.Get().CommitmentsTotal.WithLabelValues("batch_commit").Add(float64(committed))
	root := MerkleRoot(unique)
	s.logger.Info("batch committed",
		"size", len(unique), "accepted", committed, "root", root)
	return root, results, nil
}

// ApproveBatch casts one verifier's approval across a batch of revealed
// commitments. Each unique hash keeps its single-approval semantics; one
// failing hash does not block the others.
func (s *Service) ApproveBatch(hashes []string, verifier string, now time.Time) ([]BatchResult, error) {
	if len(hashes) == 0 {
		return nil, errorsmod.Wrap(types.ErrInvalidMerkleProof, "empty batch")
	}
	if len(hashes) > s.params.MaxBatchSize {
		return nil, errorsmod.Wrapf(types.ErrBatchTooLarge,
			"%d commitments, max %d", len(hashes), s.params.MaxBatchSize)
	}
	unique := dedupHashes(hashes)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVerifier(verifier); err != nil {
		return nil, err
	}
	results := make([]BatchResult, 0, len(unique))
	for _, h := range unique {
		verified, err := s.approveLocked(h, verifier, now)
		results = append(results, BatchResult{Hash: h, FullyVerified: verified, Err: err})
	}
	return results, nil
}
