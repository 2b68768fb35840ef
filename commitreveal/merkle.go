package commitreveal

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
)

// hashPair combines two nodes order-independently: the smaller operand is
// hashed first, so membership proofs need no left/right flags.
func hashPair(a, b []byte) []byte {
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}
	h := sha256.New()
	h.Write(a)
	h.Write(b)
	return h.Sum(nil)
}

func leafHash(leaf string) []byte {
	h := sha256.Sum256([]byte(leaf))
	return h[:]
}

// MerkleRoot computes the sorted-pair root over the leaves. An odd node at
// any level is promoted unchanged.
func MerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	level := make([][]byte, len(leaves))
	for i, l := range leaves {
		level[i] = leafHash(l)
	}
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
	}
	return hex.EncodeToString(level[0])
}

// MerkleProof returns the sibling path proving leaves[index] under the root.
func MerkleProof(leaves []string, index int) [][]byte {
	if index < 0 || index >= len(leaves) {
		return nil
	}
	level := make([][]byte, len(leaves))
	for i, l := range leaves {
		level[i] = leafHash(l)
	}
	var proof [][]byte
	for len(level) > 1 {
		sibling := index ^ 1
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		}
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
		index /= 2
	}
	return proof
}

// VerifyMerkleProof checks a sorted-pair membership proof for leaf against
// the hex-encoded root.
func VerifyMerkleProof(leaf string, proof [][]byte, root string) bool {
	node := leafHash(leaf)
	for _, sibling := range proof {
		node = hashPair(node, sibling)
	}
	return hex.EncodeToString(node) == root
}
