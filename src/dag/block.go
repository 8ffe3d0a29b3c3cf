package dag

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/crypto"
	"github.com/mosaicnetworks/roundchain/src/crypto/keys"
	"github.com/mosaicnetworks/roundchain/src/timing"
	"github.com/ugorji/go/codec"
)

// BlockHeader ...
type BlockHeader struct {
	Hash         common.Hash
	Round        uint64
	Height       uint64
	ValidatorID  string
	Commitment   timing.Commitment
	ParentHashes []common.Hash
	CreatedNs    int64
}

// Block is a vertex of the DAG. It references one or more parents, except at
// genesis, and carries a non-empty list of transactions.
type Block struct {
	Header       BlockHeader
	Transactions []*Transaction
	Signature    []byte `json:",omitempty"`
}

// NewBlock assembles and seals a block. The creation time is taken from the
// commitment.
func NewBlock(round, height uint64,
	validatorID string,
	parents []common.Hash,
	txs []*Transaction,
	c timing.Commitment) *Block {

	b := &Block{
		Header: BlockHeader{
			Round:        round,
			Height:       height,
			ValidatorID:  validatorID,
			Commitment:   c,
			ParentHashes: parents,
			CreatedNs:    c.TimestampNs,
		},
		Transactions: txs,
	}
	b.Seal()
	return b
}

// Hash ...
func (b *Block) Hash() common.Hash {
	return b.Header.Hash
}

// Round ...
func (b *Block) Round() uint64 {
	return b.Header.Round
}

// Height ...
func (b *Block) Height() uint64 {
	return b.Header.Height
}

// ValidatorID ...
func (b *Block) ValidatorID() string {
	return b.Header.ValidatorID
}

// IsGenesis reports whether the block is a root of the DAG.
func (b *Block) IsGenesis() bool {
	return len(b.Header.ParentHashes) == 0 && b.Header.Height == 0
}

// TxHashes ...
func (b *Block) TxHashes() []common.Hash {
	res := make([]common.Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		res[i] = tx.Hash
	}
	return res
}

// ComputeHash digests the round, the validator id, the parent hashes, the
// transaction hashes and the commitment time. Integers are big-endian.
func (b *Block) ComputeHash() common.Hash {
	var round, ts [8]byte
	binary.BigEndian.PutUint64(round[:], b.Header.Round)
	binary.BigEndian.PutUint64(ts[:], uint64(b.Header.Commitment.TimestampNs))

	parts := make([][]byte, 0, 3+len(b.Header.ParentHashes)+len(b.Transactions))
	parts = append(parts, round[:], []byte(b.Header.ValidatorID))
	for _, p := range b.Header.ParentHashes {
		parts = append(parts, p.Bytes())
	}
	for _, tx := range b.Transactions {
		parts = append(parts, tx.Hash.Bytes())
	}
	parts = append(parts, ts[:])

	return crypto.SHA256Parts(parts...)
}

// Seal sets the block hash and binds the commitment to it.
func (b *Block) Seal() {
	b.Header.Hash = b.ComputeHash()
	b.Header.Commitment.Bind(b.Header.Hash)
}

// Sign attaches a signature over the block hash.
func (b *Block) Sign(priv *btcec.PrivateKey) error {
	sig, err := keys.Sign(priv, b.Header.Hash.Bytes())
	if err != nil {
		return err
	}
	b.Signature = sig
	return nil
}

// VerifySignature checks the block signature against the validator id, which
// is the hex encoding of the validator public key.
func (b *Block) VerifySignature() bool {
	if len(b.Signature) == 0 {
		return false
	}
	return keys.VerifyHex(b.Header.ValidatorID, b.Header.Hash.Bytes(), b.Signature)
}

// Marshal - json encoding of Block
func (b *Block) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(buf, jh)

	if err := enc.Encode(b); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal ...
func (b *Block) Unmarshal(data []byte) error {
	buf := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(buf, jh)

	return dec.Decode(b)
}
