package commitreveal

import (
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/stretchr/testify/require"

	"github.com/quorumfeed/quorumfeed/events"
	"github.com/quorumfeed/quorumfeed/store"
	"github.com/quorumfeed/quorumfeed/types"
)

func testService(t *testing.T) *Service {
	t.Helper()
	st := store.NewMem(100)
	t.Cleanup(func() { st.Close() })
	em := events.NewEmitter(log.NewNopLogger(), 256, 1)
	t.Cleanup(em.Close)
	return New(log.NewNopLogger(), st, types.DefaultParams(), em, nil)
}

func TestCommitRevealRoundTrip(t *testing.T) {
	s := testService(t)
	now := time.Unix(1_700_000_000, 0)
	data := []byte(`{"price":"2002.15","source":"exchange-a"}`)
	hash := ComputeCommitment(data, now.Unix(), 42)

	require.NoError(t, s.Commit(hash, "o1", now))
	require.ErrorIs(t, s.Commit(hash, "o1", now), types.ErrDuplicateCommitment)

	require.NoError(t, s.Reveal(hash, "o1", data, now.Unix(), 42, now.Add(time.Minute)))

	c, ok, err := s.st.GetCommitment(hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, c.Revealed)
	require.Equal(t, data, c.RevealedData)
}

func TestRevealMismatchedData(t *testing.T) {
	s := testService(t)
	now := time.Unix(1_700_000_000, 0)
	data := []byte("honest data")
	hash := ComputeCommitment(data, now.Unix(), 7)
	require.NoError(t, s.Commit(hash, "o1", now))

	// Different data under the same commitment must fail.
	err := s.Reveal(hash, "o1", []byte("tampered data"), now.Unix(), 7, now.Add(time.Minute))
	require.ErrorIs(t, err, types.ErrRevealMismatch)

	// So must a different nonce or timestamp.
	err = s.Reveal(hash, "o1", data, now.Unix(), 8, now.Add(time.Minute))
	require.ErrorIs(t, err, types.ErrRevealMismatch)
	err = s.Reveal(hash, "o1", data, now.Unix()+1, 7, now.Add(time.Minute))
	require.ErrorIs(t, err, types.ErrRevealMismatch)
}

func TestRevealOnlyCommitterOnlyOnce(t *testing.T) {
	s := testService(t)
	now := time.Unix(1_700_000_000, 0)
	data := []byte("payload")
	hash := ComputeCommitment(data, now.Unix(), 1)
	require.NoError(t, s.Commit(hash, "o1", now))

	err := s.Reveal(hash, "intruder", data, now.Unix(), 1, now.Add(time.Minute))
	require.ErrorIs(t, err, types.ErrNotCommitter)

	require.NoError(t, s.Reveal(hash, "o1", data, now.Unix(), 1, now.Add(time.Minute)))
	err = s.Reveal(hash, "o1", data, now.Unix(), 1, now.Add(2*time.Minute))
	require.ErrorIs(t, err, types.ErrAlreadyRevealed)
}

func TestRevealExpiry(t *testing.T) {
	s := testService(t)
	now := time.Unix(1_700_000_000, 0)
	data := []byte("payload")
	hash := ComputeCommitment(data, now.Unix(), 1)
	require.NoError(t, s.Commit(hash, "o1", now))

	err := s.Reveal(hash, "o1", data, now.Unix(), 1, now.Add(25*time.Hour))
	require.ErrorIs(t, err, types.ErrProofExpired)
}

func TestApprovalRequiresDistinctVerifiers(t *testing.T) {
	s := testService(t)
	now := time.Unix(1_700_000_000, 0)
	data := []byte("payload")
	hash := ComputeCommitment(data, now.Unix(), 1)
	require.NoError(t, s.Commit(hash, "o1", now))
	require.NoError(t, s.AddVerifier("v1", now))
	require.NoError(t, s.AddVerifier("v2", now))

	// Approving before reveal fails.
	_, err := s.Approve(hash, "v1", now)
	require.ErrorIs(t, err, types.ErrNotRevealed)

	require.NoError(t, s.Reveal(hash, "o1", data, now.Unix(), 1, now.Add(time.Minute)))

	done, err := s.Approve(hash, "v1", now.Add(2*time.Minute))
	require.NoError(t, err)
	require.False(t, done)

	// The same verifier approving twice does not finalize.
	_, err = s.Approve(hash, "v1", now.Add(3*time.Minute))
	require.ErrorIs(t, err, types.ErrDuplicateVote)
	verified, err := s.IsFullyVerified(hash)
	require.NoError(t, err)
	require.False(t, verified)

	// A second distinct verifier does.
	done, err = s.Approve(hash, "v2", now.Add(4*time.Minute))
	require.NoError(t, err)
	require.True(t, done)
	verified, err = s.IsFullyVerified(hash)
	require.NoError(t, err)
	require.True(t, verified)
}

func TestApproveUnknownVerifier(t *testing.T) {
	s := testService(t)
	now := time.Unix(1_700_000_000, 0)
	_, err := s.Approve("deadbeef", "nobody", now)
	require.ErrorIs(t, err, types.ErrNotVerifier)
}

func TestVerifierRevokedAfterThreePenalties(t *testing.T) {
	s := testService(t)
	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, s.AddVerifier("v1", now))

	for i := 0; i < 2; i++ {
		v, err := s.ReportInvalidVerification("v1")
		require.NoError(t, err)
		require.False(t, v.Revoked)
	}
	v, err := s.ReportInvalidVerification("v1")
	require.NoError(t, err)
	require.True(t, v.Revoked)

	// Revoked verifiers cannot vote.
	data := []byte("payload")
	hash := ComputeCommitment(data, now.Unix(), 1)
	require.NoError(t, s.Commit(hash, "o1", now))
	require.NoError(t, s.Reveal(hash, "o1", data, now.Unix(), 1, now.Add(time.Minute)))
	_, err = s.Approve(hash, "v1", now.Add(2*time.Minute))
	require.ErrorIs(t, err, types.ErrVerifierRevoked)
}

func TestCommitBatch(t *testing.T) {
	s := testService(t)
	now := time.Unix(1_700_000_000, 0)

	hashes := []string{
		ComputeCommitment([]byte("a"), now.Unix(), 1),
		ComputeCommitment([]byte("b"), now.Unix(), 2),
		ComputeCommitment([]byte("c"), now.Unix(), 3),
	}
	root, results, err := s.CommitBatch(hashes, "o1", now)
	require.NoError(t, err)
	require.Equal(t, MerkleRoot(hashes), root)
	require.Len(t, results, 3)
	for _, r := range results {
		require.NoError(t, r.Err)
	}

	for _, h := range hashes {
		_, ok, err := s.st.GetCommitment(h)
		require.NoError(t, err)
		require.True(t, ok)
	}

	// Identical hashes within a batch are deduplicated and committed once.
	root, results, err = s.CommitBatch([]string{"x", "x", "y"}, "o1", now)
	require.NoError(t, err)
	require.Equal(t, MerkleRoot([]string{"x", "y"}), root)
	require.Len(t, results, 2)
	for _, r := range results {
		require.NoError(t, r.Err)
	}

	// A collision with an existing commitment fails that hash alone.
	fresh := ComputeCommitment([]byte("d"), now.Unix(), 4)
	_, results, err = s.CommitBatch([]string{hashes[0], fresh}, "o1", now)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.ErrorIs(t, results[0].Err, types.ErrDuplicateCommitment)
	require.NoError(t, results[1].Err)
	_, ok, err := s.st.GetCommitment(fresh)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestApproveBatch(t *testing.T) {
	s := testService(t)
	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, s.AddVerifier("v1", now))
	require.NoError(t, s.AddVerifier("v2", now))

	dataA := []byte("batch item a")
	dataB := []byte("batch item b")
	hashA := ComputeCommitment(dataA, now.Unix(), 1)
	hashB := ComputeCommitment(dataB, now.Unix(), 2)
	_, _, err := s.CommitBatch([]string{hashA, hashB}, "o1", now)
	require.NoError(t, err)

	// Only hashA is revealed; hashB fails alone, not the batch.
	require.NoError(t, s.Reveal(hashA, "o1", dataA, now.Unix(), 1, now.Add(time.Minute)))

	results, err := s.ApproveBatch([]string{hashA, hashA, hashB}, "v1", now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.False(t, results[0].FullyVerified)
	require.ErrorIs(t, results[1].Err, types.ErrNotRevealed)

	// Second distinct verifier finalizes hashA.
	results, err = s.ApproveBatch([]string{hashA}, "v2", now.Add(3*time.Minute))
	require.NoError(t, err)
	require.True(t, results[0].FullyVerified)

	// Unknown verifier rejects the whole batch up front.
	_, err = s.ApproveBatch([]string{hashA}, "nobody", now.Add(4*time.Minute))
	require.ErrorIs(t, err, types.ErrNotVerifier)
}

func TestCommitBatchTooLarge(t *testing.T) {
	params := types.DefaultParams()
	params.MaxBatchSize = 2
	st := store.NewMem(100)
	defer st.Close()
	em := events.NewEmitter(log.NewNopLogger(), 64, 1)
	defer em.Close()
	s := New(log.NewNopLogger(), st, params, em, nil)

	_, _, err := s.CommitBatch([]string{"a", "b", "c"}, "o1", time.Now())
	require.ErrorIs(t, err, types.ErrBatchTooLarge)
}

func TestStructuralVerifier(t *testing.T) {
	v := NewStructuralVerifier()
	require.Error(t, v.Verify("h", nil))
	require.Error(t, v.Verify("h", make([]byte, 16)))
	require.Error(t, v.Verify("h", make([]byte, maxRevealSize+1)))
	require.NoError(t, v.Verify("h", []byte("real data")))
}
