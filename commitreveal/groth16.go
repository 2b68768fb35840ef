package commitreveal

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"math/big"

	errorsmod "cosmossdk.io/errors"
	"github.com/consensys/gnark-crypto/ecc"
	frmimc "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/hash/mimc"

	"github.com/quorumfeed/quorumfeed/types"
)

// AttestationCircuit proves knowledge of (payload, nonce) binding to a public
// MiMC commitment without revealing the nonce:
//
//	Commitment == MiMC(Payload || Nonce)
//
// Payload enters the circuit as its digest reduced into the scalar field, so
// the constraint count is independent of payload size.
type AttestationCircuit struct {
	Commitment frontend.Variable `gnark:",public"`

	Payload frontend.Variable `gnark:",secret"`
	Nonce   frontend.Variable `gnark:",secret"`
}

func (c *AttestationCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.Payload)
	h.Write(c.Nonce)
	api.AssertIsEqual(h.Sum(), c.Commitment)
	return nil
}

// attestationEnvelope is the wire shape of Groth16-backed reveal data.
type attestationEnvelope struct {
	Payload    []byte `json:"payload"`
	Commitment string `json:"commitment"`
	Proof      []byte `json:"proof"`
}

// Groth16Verifier verifies attestation envelopes with a Groth16 proof over
// BN254. The circuit compiles and the keys generate once at construction.
type Groth16Verifier struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

func NewGroth16Verifier() (*Groth16Verifier, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &AttestationCircuit{})
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrProofInvalid, "compile circuit: %v", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrProofInvalid, "setup: %v", err)
	}
	return &Groth16Verifier{ccs: ccs, pk: pk, vk: vk}, nil
}

// payloadElement maps arbitrary payload bytes into the BN254 scalar field.
func payloadElement(payload []byte) *big.Int {
	digest := sha256.Sum256(payload)
	e := new(big.Int).SetBytes(digest[:])
	return e.Mod(e, ecc.BN254.ScalarField())
}

// mimcCommitment computes the native-field MiMC hash matching the in-circuit
// constraint.
func mimcCommitment(payload *big.Int, nonce uint64) *big.Int {
	h := frmimc.NewMiMC()
	buf := make([]byte, frmimc.BlockSize)
	payload.FillBytes(buf)
	h.Write(buf)
	nonceBuf := make([]byte, frmimc.BlockSize)
	new(big.Int).SetUint64(nonce).FillBytes(nonceBuf)
	h.Write(nonceBuf)
	return new(big.Int).SetBytes(h.Sum(nil))
}

// Attest produces reveal data for payload: an envelope carrying the payload,
// the MiMC commitment and a Groth16 proof of knowledge of (payload, nonce).
// Oracles run this off the submission path.
func (g *Groth16Verifier) Attest(payload []byte, nonce uint64) ([]byte, error) {
	pe := payloadElement(payload)
	commitment := mimcCommitment(pe, nonce)

	assignment := &AttestationCircuit{
		Commitment: commitment,
		Payload:    pe,
		Nonce:      nonce,
	}
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrProofInvalid, "witness: %v", err)
	}
	proof, err := groth16.Prove(g.ccs, g.pk, witness)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrProofInvalid, "prove: %v", err)
	}
	var proofBuf bytes.Buffer
	if _, err := proof.WriteTo(&proofBuf); err != nil {
		return nil, errorsmod.Wrapf(types.ErrProofInvalid, "serialize proof: %v", err)
	}

	return json.Marshal(attestationEnvelope{
		Payload:    payload,
		Commitment: commitment.String(),
		Proof:      proofBuf.Bytes(),
	})
}

// Verify checks the envelope's Groth16 proof against its public commitment.
func (g *Groth16Verifier) Verify(commitmentHash string, data []byte) error {
	var env attestationEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return errorsmod.Wrapf(types.ErrProofInvalid, "malformed attestation envelope: %v", err)
	}
	commitment, ok := new(big.Int).SetString(env.Commitment, 10)
	if !ok {
		return errorsmod.Wrap(types.ErrProofInvalid, "malformed commitment")
	}
	if len(env.Proof) == 0 {
		return errorsmod.Wrap(types.ErrProofInvalid, "missing proof")
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(env.Proof)); err != nil {
		return errorsmod.Wrapf(types.ErrProofInvalid, "deserialize proof: %v", err)
	}

	publicAssignment := &AttestationCircuit{Commitment: commitment}
	publicWitness, err := frontend.NewWitness(publicAssignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return errorsmod.Wrapf(types.ErrProofInvalid, "public witness: %v", err)
	}
	if err := groth16.Verify(proof, g.vk, publicWitness); err != nil {
		return errorsmod.Wrapf(types.ErrProofInvalid, "groth16: %v", err)
	}
	return nil
}
