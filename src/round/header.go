package round

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/crypto"
	"github.com/mosaicnetworks/roundchain/src/crypto/keys"
	"github.com/ugorji/go/codec"
)

// Header commits to the content of a round.
type Header struct {
	Round       uint64
	MerkleRoot  common.Hash
	StateRoot   common.Hash
	TimestampNs int64
	ValidatorID string
	Hash        common.Hash
	Signature   []byte `json:",omitempty"`
}

// NewHeader ...
func NewHeader(round uint64, merkleRoot, stateRoot common.Hash, timestampNs int64, validatorID string) *Header {
	h := &Header{
		Round:       round,
		MerkleRoot:  merkleRoot,
		StateRoot:   stateRoot,
		TimestampNs: timestampNs,
		ValidatorID: validatorID,
	}
	h.Hash = h.ComputeHash()
	return h
}

// ComputeHash digests the round, both roots, the timestamp and the validator
// id. Integers are little-endian.
func (h *Header) ComputeHash() common.Hash {
	var round, ts [8]byte
	binary.LittleEndian.PutUint64(round[:], h.Round)
	binary.LittleEndian.PutUint64(ts[:], uint64(h.TimestampNs))

	return crypto.SHA256Parts(
		round[:],
		h.MerkleRoot[:],
		h.StateRoot[:],
		ts[:],
		[]byte(h.ValidatorID),
	)
}

// Sign ...
func (h *Header) Sign(priv *btcec.PrivateKey) error {
	sig, err := keys.Sign(priv, h.Hash.Bytes())
	if err != nil {
		return err
	}
	h.Signature = sig
	return nil
}

// VerifySignature checks the signature against the validator id, which is
// the hex encoding of the validator public key.
func (h *Header) VerifySignature() bool {
	if len(h.Signature) == 0 {
		return false
	}
	return keys.VerifyHex(h.ValidatorID, h.Hash.Bytes(), h.Signature)
}

// size is the number of bytes the header contributes to a broadcast payload.
func (h *Header) size() int {
	return 8 + 2*common.HashLength + 8 + len(h.ValidatorID) + common.HashLength + len(h.Signature)
}

// Marshal ...
func (h *Header) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(h); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal decodes the header and recomputes its hash.
func (h *Header) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	if err := dec.Decode(h); err != nil {
		return err
	}

	h.Hash = h.ComputeHash()
	return nil
}
