package round

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/crypto"
	"github.com/mosaicnetworks/roundchain/src/dag"
	"github.com/sirupsen/logrus"
)

// Prover produces and checks round proofs. GenerateProof may take seconds and
// is never called with a lock held.
type Prover interface {
	GenerateProof(ctx context.Context, header *Header, txs []*dag.Transaction) (*Proof, error)
	VerifyProof(proof *Proof, header *Header) bool
}

// ProverConfig holds the targets a Prover is expected to meet. Exceeding them
// is logged, not fatal.
type ProverConfig struct {
	TargetProofSize int
	MaxProvingTime  time.Duration
}

// DefaultProverConfig ...
func DefaultProverConfig() *ProverConfig {
	return &ProverConfig{
		TargetProofSize: 75000,
		MaxProvingTime:  1500 * time.Millisecond,
	}
}

// ProvingStats ...
type ProvingStats struct {
	Round          uint64
	ProofSize      int
	ProvingMs      uint64
	VerificationMs uint64
	TxCount        uint32
	Verified       int
}

// placeholderTxLimit is the number of transaction hashes folded into a
// placeholder proof.
const placeholderTxLimit = 10

// PlaceholderProver digests the header and a prefix of the transactions. It
// proves nothing; it stands in for a real proving backend with the same
// contract.
type PlaceholderProver struct {
	sync.RWMutex

	conf  *ProverConfig
	stats map[uint64]*ProvingStats

	logger *logrus.Entry
}

// NewPlaceholderProver ...
func NewPlaceholderProver(conf *ProverConfig, logger *logrus.Entry) *PlaceholderProver {
	if conf == nil {
		conf = DefaultProverConfig()
	}

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &PlaceholderProver{
		conf:   conf,
		stats:  make(map[uint64]*ProvingStats),
		logger: logger,
	}
}

// GenerateProof implements Prover.
func (p *PlaceholderProver) GenerateProof(ctx context.Context, header *Header, txs []*dag.Transaction) (*Proof, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(common.Proving, "prover", "round %d: %v", header.Round, err)
	}

	start := time.Now()

	var round, ts, count [8]byte
	binary.LittleEndian.PutUint64(round[:], header.Round)
	binary.LittleEndian.PutUint64(ts[:], uint64(header.TimestampNs))
	binary.LittleEndian.PutUint32(count[:4], uint32(len(txs)))

	parts := [][]byte{
		round[:],
		header.MerkleRoot[:],
		header.StateRoot[:],
		ts[:],
		[]byte(header.ValidatorID),
		count[:4],
	}
	for i, tx := range txs {
		if i == placeholderTxLimit {
			break
		}
		parts = append(parts, tx.Hash[:])
	}

	data := crypto.SHA256Parts(parts...).Bytes()
	elapsed := time.Since(start)

	proof := &Proof{
		Data:      data,
		Size:      len(data),
		ProvingMs: uint64(elapsed / time.Millisecond),
		Round:     header.Round,
		TxCount:   uint32(len(txs)),
	}

	p.checkTargets(proof, elapsed)

	p.Lock()
	p.stats[proof.Round] = &ProvingStats{
		Round:     proof.Round,
		ProofSize: proof.Size,
		ProvingMs: proof.ProvingMs,
		TxCount:   proof.TxCount,
	}
	p.Unlock()

	p.logger.WithFields(logrus.Fields{
		"round":      proof.Round,
		"txs":        proof.TxCount,
		"size":       proof.Size,
		"proving_ms": proof.ProvingMs,
	}).Debug("Proof generated")

	return proof, nil
}

func (p *PlaceholderProver) checkTargets(proof *Proof, elapsed time.Duration) {
	if p.conf.TargetProofSize > 0 && proof.Size > p.conf.TargetProofSize {
		p.logger.WithFields(logrus.Fields{
			"round":  proof.Round,
			"size":   proof.Size,
			"target": p.conf.TargetProofSize,
		}).Warn("Proof size exceeds target")
	}

	if p.conf.MaxProvingTime > 0 && elapsed > p.conf.MaxProvingTime {
		p.logger.WithFields(logrus.Fields{
			"round":   proof.Round,
			"elapsed": elapsed,
			"max":     p.conf.MaxProvingTime,
		}).Warn("Proving time exceeds target")
	}
}

// VerifyProof implements Prover. It rejects empty proofs and proofs for
// another round.
func (p *PlaceholderProver) VerifyProof(proof *Proof, header *Header) bool {
	if proof == nil || header == nil {
		return false
	}

	start := time.Now()
	ok := len(proof.Data) > 0 && proof.Round == header.Round
	elapsed := uint64(time.Since(start) / time.Millisecond)

	p.Lock()
	if s, found := p.stats[proof.Round]; found {
		s.VerificationMs = elapsed
		s.Verified++
	}
	p.Unlock()

	return ok
}

// Stats returns the proving stats of round, if any.
func (p *PlaceholderProver) Stats(round uint64) (ProvingStats, bool) {
	p.RLock()
	defer p.RUnlock()

	s, ok := p.stats[round]
	if !ok {
		return ProvingStats{}, false
	}
	return *s, true
}

// AllStats ...
func (p *PlaceholderProver) AllStats() []ProvingStats {
	p.RLock()
	defer p.RUnlock()

	res := make([]ProvingStats, 0, len(p.stats))
	for _, s := range p.stats {
		res = append(res, *s)
	}
	return res
}
