package round

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/dag"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Manager buffers the blocks of the open round and aggregates them into a
// proof-bearing Aggregation.
type Manager struct {
	sync.RWMutex

	conf        *Config
	prover      Prover
	validatorID string
	key         *btcec.PrivateKey

	state      State
	round      uint64
	validators map[string]struct{}
	started    time.Time
	blocks     []*dag.Block
	buffered   map[common.Hash]struct{}
	txCount    int

	statsLock sync.RWMutex
	stats     map[uint64]Stats

	clock func() time.Time

	logger *logrus.Entry
}

// NewManager creates a Manager for the validator identified by validatorID.
// When key is not nil, round headers are signed with it.
func NewManager(conf *Config,
	prover Prover,
	validatorID string,
	key *btcec.PrivateKey,
	logger *logrus.Entry) *Manager {

	if conf == nil {
		conf = DefaultConfig()
	}

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Manager{
		conf:        conf,
		prover:      prover,
		validatorID: validatorID,
		key:         key,
		state:       Collecting,
		validators:  make(map[string]struct{}),
		buffered:    make(map[common.Hash]struct{}),
		stats:       make(map[uint64]Stats),
		clock:       time.Now,
		started:     time.Now(),
		logger:      logger,
	}
}

// SetClock replaces the clock used for round durations. Tests only.
func (m *Manager) SetClock(clock func() time.Time) {
	m.Lock()
	defer m.Unlock()

	m.clock = clock
}

// StartRound opens round n for the given validators. n must be greater than
// the current round.
func (m *Manager) StartRound(n uint64, validators []string) error {
	m.Lock()
	defer m.Unlock()

	if n <= m.round {
		return common.Errf(common.Validation, "round",
			"round %d is not after current round %d", n, m.round)
	}

	m.round = n
	m.state = Collecting
	m.started = m.clock()
	m.blocks = nil
	m.buffered = make(map[common.Hash]struct{})
	m.txCount = 0

	m.validators = make(map[string]struct{}, len(validators))
	for _, v := range validators {
		m.validators[v] = struct{}{}
	}

	m.logger.WithFields(logrus.Fields{
		"round":      n,
		"validators": len(validators),
	}).Debug("Round started")

	return nil
}

// AddBlock buffers b for the open round. It returns false, without error,
// when b belongs to another round, comes from an unauthorized validator, is
// already buffered, or does not fit. It errors when the round is not
// collecting.
func (m *Manager) AddBlock(b *dag.Block) (bool, error) {
	m.Lock()
	defer m.Unlock()

	if m.state != Collecting {
		return false, common.Errf(common.Validation, "round",
			"round %d is %s, not collecting", m.round, m.state)
	}

	if b.Round() != m.round {
		return false, nil
	}

	if _, ok := m.validators[b.ValidatorID()]; !ok {
		m.logger.WithField("validator", b.ValidatorID()).Warn("Block from unauthorized validator")
		return false, nil
	}

	if _, ok := m.buffered[b.Hash()]; ok {
		return false, nil
	}

	if len(m.blocks) >= m.conf.MaxBlocks {
		err := common.Errf(common.Capacity, "round", "round %d holds %d blocks", m.round, len(m.blocks))
		m.logger.WithError(err).Warn("Block not buffered")
		return false, nil
	}

	if m.conf.MaxTransactions > 0 && m.txCount+len(b.Transactions) > m.conf.MaxTransactions {
		err := common.Errf(common.Capacity, "round", "round %d holds %d transactions", m.round, m.txCount)
		m.logger.WithError(err).Warn("Block not buffered")
		return false, nil
	}

	m.blocks = append(m.blocks, b)
	m.buffered[b.Hash()] = struct{}{}
	m.txCount += len(b.Transactions)

	m.logger.WithFields(logrus.Fields{
		"round": m.round,
		"block": b.Hash().Short(),
		"total": len(m.blocks),
	}).Debug("Block buffered")

	return true, nil
}

// ShouldAggregate reports whether the round has lasted long enough or holds
// enough blocks.
func (m *Manager) ShouldAggregate() bool {
	m.RLock()
	defer m.RUnlock()

	if m.state != Collecting {
		return false
	}

	if m.clock().Sub(m.started) >= m.conf.RoundDuration {
		return true
	}

	return len(m.blocks) >= m.conf.MinBlocks
}

// Aggregate closes the open round. Blocks are ordered by commitment time,
// then by hash, so that every validator derives the same Merkle and state
// roots from the same set of blocks. The Prover runs without the lock, under
// ctx and the aggregation timeout.
func (m *Manager) Aggregate(ctx context.Context) (*Aggregation, error) {
	m.Lock()
	if m.state != Collecting {
		state := m.state
		m.Unlock()
		return nil, common.Errf(common.Validation, "round",
			"cannot aggregate round %d in state %s", m.round, state)
	}
	m.state = Aggregating
	round := m.round
	blocks := make([]*dag.Block, len(m.blocks))
	copy(blocks, m.blocks)
	m.Unlock()

	start := time.Now()

	if len(blocks) == 0 {
		m.finish(round, Failed)
		return nil, common.Errf(common.Proving, "round", "round %d has no blocks", round)
	}

	SortBlocks(blocks)

	var txs []*dag.Transaction
	for _, b := range blocks {
		txs = append(txs, b.Transactions...)
	}

	txHashes := make([]common.Hash, len(txs))
	for i, tx := range txs {
		txHashes[i] = tx.Hash
	}

	tree := NewMerkleTree(txHashes)

	header := NewHeader(round,
		tree.Root,
		StateRoot(txs),
		blocks[0].Header.Commitment.TimestampNs,
		m.validatorID)

	if m.key != nil {
		if err := header.Sign(m.key); err != nil {
			m.finish(round, Failed)
			return nil, errors.Wrapf(err, "signing header of round %d", round)
		}
	}

	proveCtx := ctx
	if m.conf.AggregationTimeout > 0 {
		var cancel context.CancelFunc
		proveCtx, cancel = context.WithTimeout(ctx, m.conf.AggregationTimeout)
		defer cancel()
	}

	proof, err := m.prover.GenerateProof(proveCtx, header, txs)
	if err != nil {
		m.finish(round, Failed)
		if common.IsKind(err, common.Proving) {
			return nil, err
		}
		return nil, common.Errf(common.Proving, "round", "round %d: %v", round, err)
	}

	verifyStart := time.Now()
	if !m.prover.VerifyProof(proof, header) {
		m.finish(round, Failed)
		return nil, common.Errf(common.Proving, "round", "round %d: proof does not verify", round)
	}
	proof.VerificationMs = uint64(time.Since(verifyStart) / time.Millisecond)

	agg := &Aggregation{
		Header:   header,
		Proof:    proof,
		TxHashes: txHashes,
		Tree:     tree,
	}

	m.finish(round, Completed)

	stats := Stats{
		Round:          round,
		Blocks:         len(blocks),
		Transactions:   len(txs),
		ProofSize:      proof.Size,
		ProvingMs:      proof.ProvingMs,
		VerificationMs: proof.VerificationMs,
		AggregationMs:  uint64(time.Since(start) / time.Millisecond),
	}

	m.statsLock.Lock()
	m.stats[round] = stats
	m.statsLock.Unlock()

	m.logger.WithFields(logrus.Fields{
		"round":       round,
		"blocks":      stats.Blocks,
		"txs":         stats.Transactions,
		"proof_size":  stats.ProofSize,
		"merkle_root": tree.Root.Short(),
	}).Info("Round aggregated")

	return agg, nil
}

// finish sets the final state of round unless a newer round was started in
// the meantime.
func (m *Manager) finish(round uint64, state State) {
	m.Lock()
	defer m.Unlock()

	if m.round == round {
		m.state = state
	}
}

// SortBlocks orders blocks by commitment time, then by hash.
func SortBlocks(blocks []*dag.Block) {
	sort.SliceStable(blocks, func(i, j int) bool {
		ti := blocks[i].Header.Commitment.TimestampNs
		tj := blocks[j].Header.Commitment.TimestampNs
		if ti != tj {
			return ti < tj
		}
		hi, hj := blocks[i].Hash(), blocks[j].Hash()
		return bytes.Compare(hi[:], hj[:]) < 0
	})
}

// State ...
func (m *Manager) State() State {
	m.RLock()
	defer m.RUnlock()

	return m.state
}

// CurrentRound ...
func (m *Manager) CurrentRound() uint64 {
	m.RLock()
	defer m.RUnlock()

	return m.round
}

// BlockCount ...
func (m *Manager) BlockCount() int {
	m.RLock()
	defer m.RUnlock()

	return len(m.blocks)
}

// Validators returns the validators authorized in the open round.
func (m *Manager) Validators() []string {
	m.RLock()
	defer m.RUnlock()

	res := make([]string, 0, len(m.validators))
	for v := range m.validators {
		res = append(res, v)
	}
	sort.Strings(res)
	return res
}

// Stats returns the stats of an aggregated round.
func (m *Manager) Stats(round uint64) (Stats, bool) {
	m.statsLock.RLock()
	defer m.statsLock.RUnlock()

	s, ok := m.stats[round]
	return s, ok
}

// AllStats returns the stats of every aggregated round, by round.
func (m *Manager) AllStats() []Stats {
	m.statsLock.RLock()
	defer m.statsLock.RUnlock()

	res := make([]Stats, 0, len(m.stats))
	for _, s := range m.stats {
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Round < res[j].Round })
	return res
}
