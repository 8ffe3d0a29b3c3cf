package round

import (
	"bytes"

	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/ugorji/go/codec"
)

// Aggregation is the result of closing a round. It is immutable once
// produced and is the unit exchanged between nodes.
type Aggregation struct {
	Header   *Header
	Proof    *Proof
	TxHashes []common.Hash //Merkle leaf order
	Tree     *MerkleTree
}

// Round ...
func (a *Aggregation) Round() uint64 {
	return a.Header.Round
}

// PayloadSize is the number of bytes a broadcast of the aggregation carries:
// the header, the proof data, the tree nodes and the transaction hashes.
func (a *Aggregation) PayloadSize() int {
	size := 0
	if a.Header != nil {
		size += a.Header.size()
	}
	if a.Proof != nil {
		size += len(a.Proof.Data)
	}
	if a.Tree != nil {
		size += len(a.Tree.Nodes) * common.HashLength
	}
	size += len(a.TxHashes) * common.HashLength
	return size
}

// IndexOf returns the leaf index of txHash, or -1.
func (a *Aggregation) IndexOf(txHash common.Hash) int {
	for i, h := range a.TxHashes {
		if h == txHash {
			return i
		}
	}
	return -1
}

// Validate checks that the header, the tree and the transaction hashes agree.
// It is used on aggregations received from other nodes.
func (a *Aggregation) Validate() error {
	if a.Header == nil || a.Proof == nil || a.Tree == nil {
		return common.NewErr(common.Validation, "aggregation", "incomplete aggregation")
	}

	if h := a.Header.ComputeHash(); h != a.Header.Hash {
		return common.Errf(common.Validation, "aggregation",
			"round %d: header hash mismatch", a.Header.Round)
	}

	if a.Proof.Round != a.Header.Round {
		return common.Errf(common.Validation, "aggregation",
			"proof round %d does not match header round %d", a.Proof.Round, a.Header.Round)
	}

	rebuilt := NewMerkleTree(a.TxHashes)
	if rebuilt.Root != a.Header.MerkleRoot || a.Tree.Root != a.Header.MerkleRoot {
		return common.Errf(common.Validation, "aggregation",
			"round %d: merkle root mismatch", a.Header.Round)
	}

	return nil
}

// Marshal ...
func (a *Aggregation) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(a); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal decodes the aggregation and recomputes the header hash.
func (a *Aggregation) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	if err := dec.Decode(a); err != nil {
		return err
	}

	if a.Header != nil {
		a.Header.Hash = a.Header.ComputeHash()
	}
	return nil
}
