package randomness

import (
	"sort"
	"strings"
	"time"

	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/crypto"
)

// ConsensusRandomness is the output of a finalized beacon.
type ConsensusRandomness struct {
	Round                  uint64
	Value                  string
	SourceBeacon           string
	ValidatorSelectionSeed uint64
	BlockProductionSeed    uint64
	Timestamp              int64
}

// Beacon collects VRF proofs for one round and combines them once a quorum is
// reached.
type Beacon struct {
	ID              string
	Round           uint64
	Proofs          []*VRFProof
	CombinedHash    string
	FinalRandomness string
	Timestamp       int64
	Finalized       bool
	MinProofs       int
	Received        int
}

// NewBeacon ...
func NewBeacon(id string, round uint64, minProofs int, ts int64) *Beacon {
	return &Beacon{
		ID:        id,
		Round:     round,
		Proofs:    []*VRFProof{},
		Timestamp: ts,
		MinProofs: minProofs,
	}
}

// AddProof verifies and stores p. The proof must be signed by the key its
// validator id names, and each validator contributes once. The beacon
// finalizes itself when it holds MinProofs proofs.
func (b *Beacon) AddProof(p *VRFProof) error {
	if b.Finalized {
		return common.Errf(common.Validation, "beacon", "beacon %s is finalized", b.ID)
	}

	if p.Round != b.Round {
		return common.Errf(common.Validation, "beacon",
			"proof round %d does not match beacon round %d", p.Round, b.Round)
	}

	if p.ValidatorID != p.PublicKey {
		return common.Errf(common.Validation, "beacon",
			"proof of %s is signed by %s", p.ValidatorID, p.PublicKey)
	}

	if err := p.Verify(); err != nil {
		return err
	}

	for _, other := range b.Proofs {
		if other.ValidatorID == p.ValidatorID {
			return common.Errf(common.Validation, "beacon",
				"%s already contributed to beacon %s", p.ValidatorID, b.ID)
		}
	}

	b.Proofs = append(b.Proofs, p)
	b.Received++

	if b.Received >= b.MinProofs {
		return b.Finalize()
	}

	return nil
}

// Finalize combines the proofs in timestamp order, ties broken by validator
// id, so every node holding the same proofs derives the same randomness.
func (b *Beacon) Finalize() error {
	if b.Finalized {
		return nil
	}

	if b.Received < b.MinProofs {
		return common.Errf(common.Validation, "beacon",
			"beacon %s holds %d proofs, %d required", b.ID, b.Received, b.MinProofs)
	}

	sort.SliceStable(b.Proofs, func(i, j int) bool {
		if b.Proofs[i].Timestamp != b.Proofs[j].Timestamp {
			return b.Proofs[i].Timestamp < b.Proofs[j].Timestamp
		}
		return b.Proofs[i].ValidatorID < b.Proofs[j].ValidatorID
	})

	hashes := make([]string, len(b.Proofs))
	for i, p := range b.Proofs {
		hashes[i] = p.Hash
	}

	b.CombinedHash = crypto.SHA256([]byte(strings.Join(hashes, ":"))).Hex()
	b.FinalRandomness = crypto.SHA256([]byte("final_randomness:" + b.ID + ":" + b.CombinedHash)).Hex()
	b.Finalized = true

	return nil
}

// ConsensusRandomness returns the beacon output, if finalized.
func (b *Beacon) ConsensusRandomness() (ConsensusRandomness, bool) {
	if !b.Finalized {
		return ConsensusRandomness{}, false
	}

	return ConsensusRandomness{
		Round:                  b.Round,
		Value:                  b.FinalRandomness,
		SourceBeacon:           b.ID,
		ValidatorSelectionSeed: seed("validator_selection", b.FinalRandomness),
		BlockProductionSeed:    seed("block_production", b.FinalRandomness),
		Timestamp:              b.Timestamp,
	}, true
}

// TimedOut ...
func (b *Beacon) TimedOut(now time.Time, timeout time.Duration) bool {
	return now.UnixNano()-b.Timestamp > int64(timeout)
}

func (b *Beacon) copy() Beacon {
	cp := *b
	cp.Proofs = make([]*VRFProof, len(b.Proofs))
	copy(cp.Proofs, b.Proofs)
	return cp
}
