package commitreveal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMerkleRootAndProofs(t *testing.T) {
	tests := []struct {
		name   string
		leaves []string
	}{
		{"single", []string{"a"}},
		{"two", []string{"a", "b"}},
		{"odd", []string{"a", "b", "c"}},
		{"power of two", []string{"a", "b", "c", "d"}},
		{"seven", []string{"a", "b", "c", "d", "e", "f", "g"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := MerkleRoot(tt.leaves)
			require.NotEmpty(t, root)
			for i, leaf := range tt.leaves {
				proof := MerkleProof(tt.leaves, i)
				require.True(t, VerifyMerkleProof(leaf, proof, root),
					"leaf %d should verify", i)
			}
			// A non-member never verifies against any member's proof.
			proof := MerkleProof(tt.leaves, 0)
			require.False(t, VerifyMerkleProof("not-a-member", proof, root))
		})
	}
}

func TestMerkleRootOrderIndependentPairs(t *testing.T) {
	// Sorted-pair hashing: swapping siblings leaves the parent unchanged.
	require.Equal(t, MerkleRoot([]string{"a", "b"}), MerkleRoot([]string{"b", "a"}))
}

func TestMerkleRootEmpty(t *testing.T) {
	require.Empty(t, MerkleRoot(nil))
	require.Nil(t, MerkleProof([]string{"a"}, 5))
}
