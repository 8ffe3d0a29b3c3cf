package round

import (
	"encoding/binary"

	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/crypto"
)

// Proof is the succinct correctness proof of a round. Data is opaque to
// everything but the Prover that produced it.
type Proof struct {
	Data           []byte
	Size           int
	ProvingMs      uint64
	VerificationMs uint64
	Round          uint64
	TxCount        uint32
}

// Reference identifies the proof independently of its size.
func (p *Proof) Reference() common.Hash {
	var round [8]byte
	binary.LittleEndian.PutUint64(round[:], p.Round)
	return crypto.SHA256Parts(p.Data, round[:])
}
