package commitreveal

import (
	errorsmod "cosmossdk.io/errors"

	"github.com/quorumfeed/quorumfeed/types"
)

// maxRevealSize bounds revealed payloads to keep store records small.
const maxRevealSize = 64 * 1024

// StructuralVerifier performs cheap format checks on revealed data. It runs
// before any cryptographic verifier in a chain.
type StructuralVerifier struct{}

func NewStructuralVerifier() *StructuralVerifier { return &StructuralVerifier{} }

func (v *StructuralVerifier) Verify(commitmentHash string, data []byte) error {
	if len(data) == 0 {
		return errorsmod.Wrap(types.ErrProofInvalid, "empty reveal data")
	}
	if len(data) > maxRevealSize {
		return errorsmod.Wrapf(types.ErrProofInvalid,
			"reveal data %d bytes, max %d", len(data), maxRevealSize)
	}
	allZero := true
	for _, b := range data {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return errorsmod.Wrap(types.ErrProofInvalid, "reveal data is all zeroes")
	}
	return nil
}

// Chain composes verifiers; each must pass in order.
type Chain []ProofVerifier

func (c Chain) Verify(commitmentHash string, data []byte) error {
	for _, v := range c {
		if err := v.Verify(commitmentHash, data); err != nil {
			return err
		}
	}
	return nil
}
