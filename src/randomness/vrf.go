package randomness

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/crypto"
	"github.com/mosaicnetworks/roundchain/src/crypto/keys"
)

// VRFProof is one validator's contribution to a beacon. Signature is a
// deterministic signature of the message, round and timestamp, so the derived
// Hash is unpredictable without the key and checkable with the public key.
type VRFProof struct {
	PublicKey   string
	Message     string
	Signature   string
	Proof       string
	Hash        string
	Timestamp   int64
	Round       uint64
	ValidatorID string
}

func signedDigest(message string, round uint64, ts int64) common.Hash {
	return crypto.SHA256([]byte(fmt.Sprintf("%s:%d:%d", message, round, ts)))
}

func proofDigest(sig, message string, round uint64) string {
	return crypto.SHA256([]byte(fmt.Sprintf("%s:%s:%d", sig, message, round))).Hex()
}

func outputDigest(sig, proof string) string {
	return crypto.SHA256([]byte(fmt.Sprintf("%s:%s", sig, proof))).Hex()
}

// NewVRFProof ...
func NewVRFProof(priv *btcec.PrivateKey, message string, round uint64, validatorID string, ts int64) (*VRFProof, error) {
	digest := signedDigest(message, round, ts)

	sig, err := keys.Sign(priv, digest[:])
	if err != nil {
		return nil, err
	}

	sigHex := hex.EncodeToString(sig)
	proof := proofDigest(sigHex, message, round)

	return &VRFProof{
		PublicKey:   keys.PublicKeyHex(priv.PubKey()),
		Message:     message,
		Signature:   sigHex,
		Proof:       proof,
		Hash:        outputDigest(sigHex, proof),
		Timestamp:   ts,
		Round:       round,
		ValidatorID: validatorID,
	}, nil
}

// Verify checks the signature against the public key and recomputes the
// proof and output hashes.
func (p *VRFProof) Verify() error {
	sig, err := hex.DecodeString(p.Signature)
	if err != nil {
		return common.Errf(common.Validation, "vrf", "malformed signature: %v", err)
	}

	digest := signedDigest(p.Message, p.Round, p.Timestamp)
	if !keys.VerifyHex(p.PublicKey, digest[:], sig) {
		return common.NewErr(common.Validation, "vrf", "invalid signature")
	}

	if p.Proof != proofDigest(p.Signature, p.Message, p.Round) {
		return common.NewErr(common.Validation, "vrf", "proof hash mismatch")
	}

	if p.Hash != outputDigest(p.Signature, p.Proof) {
		return common.NewErr(common.Validation, "vrf", "output hash mismatch")
	}

	return nil
}

// ValidatorSelectionSeed derives a seed from this proof alone.
func (p *VRFProof) ValidatorSelectionSeed() uint64 {
	return seed("validator_selection", p.Hash)
}

// BlockProductionSeed derives a seed from this proof alone.
func (p *VRFProof) BlockProductionSeed() uint64 {
	return seed("block_production", p.Hash)
}

// seed reads the first 8 bytes of SHA256(prefix:value) as a little-endian
// integer.
func seed(prefix, value string) uint64 {
	h := crypto.SHA256([]byte(prefix + ":" + value))
	return binary.LittleEndian.Uint64(h[:8])
}
