package round

import (
	"encoding/binary"

	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/crypto"
	"github.com/mosaicnetworks/roundchain/src/dag"
)

// State of the round in progress.
type State uint32

const (
	// Collecting blocks for the open round.
	Collecting State = iota
	// Aggregating the buffered blocks and waiting on the Prover.
	Aggregating
	// Completed with an Aggregation.
	Completed
	// Failed to aggregate. The round must be retried as a new round.
	Failed
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "Collecting"
	case Aggregating:
		return "Aggregating"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// StateRoot digests the ordered transactions together with the fields that
// affect balances, stakes and storage.
func StateRoot(txs []*dag.Transaction) common.Hash {
	parts := make([][]byte, 0, 1+2*len(txs))
	parts = append(parts, []byte("STATE_ROOT"))

	for _, tx := range txs {
		parts = append(parts, tx.Hash[:], stateFields(tx))
	}

	return crypto.SHA256Parts(parts...)
}

func stateFields(tx *dag.Transaction) []byte {
	var res []byte
	var n [8]byte

	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(n[:], v)
		res = append(res, n[:]...)
	}

	switch tx.Type {
	case dag.PaymentTx:
		if p := tx.Payment; p != nil {
			res = append(res, p.From...)
			res = append(res, p.To...)
			putU64(p.Amount)
		}
	case dag.AnchorTx:
		if a := tx.Anchor; a != nil {
			res = append(res, a.ChainID...)
			res = append(res, a.StateRoot...)
		}
	case dag.StakingTx:
		if s := tx.Staking; s != nil {
			res = append(res, s.Staker...)
			res = append(res, s.Validator...)
			putU64(s.Amount)
		}
	case dag.StorageTx:
		if s := tx.Storage; s != nil {
			res = append(res, s.Provider...)
			res = append(res, s.FileHash[:]...)
			putU64(s.Size)
		}
	}

	return res
}
