package node

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/dag"
	"github.com/mosaicnetworks/roundchain/src/randomness"
	"github.com/mosaicnetworks/roundchain/src/round"
	"github.com/mosaicnetworks/roundchain/src/store"
	"github.com/mosaicnetworks/roundchain/src/timing"
	"github.com/mosaicnetworks/roundchain/src/verifier"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// aggregationLoader is implemented by stores that can replay persisted
// rounds.
type aggregationLoader interface {
	LoadAggregations() ([]*round.Aggregation, error)
}

//Core is the core Node object. It holds the consensus components and moves
//blocks and rounds between them. Core does not touch the network.
type Core struct {

	// validator is a wrapper around the private-key controlling this node.
	validator *Validator

	// timeService aggregates the clock samples carried by every RPC into the
	// synthetic network time against which commitments are checked.
	timeService *timing.TimeService
	sequencer   *timing.Sequencer

	dag    *dag.DAG
	rounds *round.Manager
	prover round.Prover

	verifier *verifier.Verifier
	beacons  *randomness.Manager

	store store.Store

	// headers received from peers without their aggregation
	headers *lru.Cache //round => *round.Header

	// confirmations counts, per round, the peer aggregations whose merkle
	// root matched ours.
	confirmLock   sync.Mutex
	confirmations map[uint64]int
	conflicts     int

	logger *logrus.Entry
}

//NewCore is a factory method that returns a Core instance
func NewCore(conf *Config,
	validator *Validator,
	store store.Store,
	prover round.Prover,
	logger *logrus.Entry) (*Core, error) {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	if prover == nil {
		prover = round.NewPlaceholderProver(conf.Prover, logger.WithField("prefix", "prover"))
	}

	timeService := timing.NewTimeService(conf.MinTimeSamples,
		conf.MaxDrift,
		logger.WithField("prefix", "time"))

	ver, err := verifier.NewVerifier(conf.Verifier, prover, logger.WithField("prefix", "verifier"))
	if err != nil {
		return nil, err
	}

	headers, err := lru.New(conf.CacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "creating header cache")
	}

	core := &Core{
		validator:   validator,
		timeService: timeService,
		sequencer:   timing.NewSequencer(validator.ID(), timeService),
		dag:         dag.NewDAG(timeService, conf.MaxTips, logger.WithField("prefix", "dag")),
		rounds: round.NewManager(conf.Round,
			prover,
			validator.ID(),
			validator.Key,
			logger.WithField("prefix", "round")),
		prover: prover,
		verifier: ver,
		beacons: randomness.NewManager(conf.Randomness,
			validator.Key,
			validator.ID(),
			logger.WithField("prefix", "randomness")),
		store:         store,
		headers:       headers,
		confirmations: make(map[uint64]int),
		logger:        logger,
	}

	return core, nil
}

// Bootstrap replays the rounds persisted by a previous run into the verifier
// so that inclusion queries survive restarts. It is a no-op for stores that
// keep nothing on disk.
func (c *Core) Bootstrap() error {
	loader, ok := c.store.(aggregationLoader)
	if !ok {
		return nil
	}

	aggs, err := loader.LoadAggregations()
	if err != nil {
		return err
	}

	for _, agg := range aggs {
		c.verifier.AddAggregation(agg)
	}

	c.logger.WithFields(logrus.Fields{
		"rounds":     len(aggs),
		"last_round": c.store.LastRound(),
	}).Debug("Bootstrapped")

	return nil
}

// StartNextRound opens the round following both the last round of the round
// manager and the last round held in the store.
func (c *Core) StartNextRound(validators []string) (uint64, error) {
	next := c.rounds.CurrentRound() + 1
	if last := c.store.LastRound(); last >= 0 && uint64(last) >= next {
		next = uint64(last) + 1
	}

	if err := c.rounds.StartRound(next, validators); err != nil {
		return 0, err
	}

	return next, nil
}

// CurrentRound ...
func (c *Core) CurrentRound() uint64 {
	return c.rounds.CurrentRound()
}

// Commitment returns an unbound commitment for the open round, timestamped
// from the synthetic network time. Constructors of transactions and blocks
// bind it to their content.
func (c *Core) Commitment() timing.Commitment {
	r := c.rounds.CurrentRound()
	ns, seq := c.sequencer.Stamp(r)
	return timing.Commitment{
		TimestampNs: ns,
		Source:      c.sequencer.Source(),
		Round:       r,
		Sequence:    seq,
		DriftNs:     c.timeService.Drift(ns),
	}
}

// NewBlock assembles and signs a block of txs for the open round on top of
// the current tips. The first block of an empty DAG is a genesis block.
func (c *Core) NewBlock(txs []*dag.Transaction) (*dag.Block, error) {
	parents := c.dag.Tips()

	var height uint64
	for _, p := range parents {
		b, err := c.dag.GetBlock(p)
		if err != nil {
			return nil, err
		}
		if b.Height()+1 > height {
			height = b.Height() + 1
		}
	}

	block := dag.NewBlock(c.rounds.CurrentRound(),
		height,
		c.validator.ID(),
		parents,
		txs,
		c.Commitment())

	if err := block.Sign(c.validator.Key); err != nil {
		return nil, err
	}

	return block, nil
}

// AddBlock inserts b in the DAG, persists it and buffers it for the open
// round. A block for another round stays in the DAG but is not buffered.
func (c *Core) AddBlock(b *dag.Block) (bool, error) {
	if len(b.Signature) > 0 && !b.VerifySignature() {
		return false, common.Errf(common.Validation, "node",
			"block %s has an invalid signature", b.Hash().Short())
	}

	if err := c.dag.AddBlock(b); err != nil {
		return false, err
	}

	if err := c.store.SetBlock(b); err != nil {
		return false, errors.Wrapf(err, "storing block %s", b.Hash().Short())
	}

	buffered, err := c.rounds.AddBlock(b)
	if err != nil {
		c.logger.WithError(err).WithField("block", b.Hash().Short()).Debug("Block not buffered")
		return false, nil
	}

	return buffered, nil
}

// HasBlock ...
func (c *Core) HasBlock(hash common.Hash) bool {
	return c.dag.Contains(hash)
}

// ShouldAggregate reports whether the open round holds blocks and has met
// one of its closing triggers. An empty round stays open.
func (c *Core) ShouldAggregate() bool {
	return c.rounds.BlockCount() > 0 && c.rounds.ShouldAggregate()
}

// Aggregate closes the open round and commits the result: it is persisted,
// made verifiable, and seeds the round beacon with our own proof.
func (c *Core) Aggregate(ctx context.Context) (*round.Aggregation, *randomness.VRFProof, error) {
	agg, err := c.rounds.Aggregate(ctx)
	if err != nil {
		return nil, nil, err
	}

	if err := c.commit(agg); err != nil {
		return nil, nil, err
	}

	proof, err := c.contributeRandomness(agg.Header)
	if err != nil {
		c.logger.WithError(err).WithField("round", agg.Round()).Warn("No beacon proof")
	}

	return agg, proof, nil
}

func (c *Core) commit(agg *round.Aggregation) error {
	if err := c.store.SetAggregation(agg); err != nil {
		return errors.Wrapf(err, "storing round %d", agg.Round())
	}
	c.verifier.AddAggregation(agg)
	return nil
}

// contributeRandomness opens the beacon of the header's round, if needed,
// and adds our proof over the merkle root.
func (c *Core) contributeRandomness(header *round.Header) (*randomness.VRFProof, error) {
	proof, err := c.beacons.GenerateProof(header.MerkleRoot.Hex(), header.Round)
	if err != nil {
		return nil, err
	}

	if err := c.AddBeaconProof(proof); err != nil {
		return nil, err
	}

	return proof, nil
}

// AddBeaconProof adds p to the beacon of its round, creating the beacon on
// first use.
func (c *Core) AddBeaconProof(p *randomness.VRFProof) error {
	id := randomness.BeaconID(p.Round)

	err := c.beacons.CreateBeacon(id, p.Round)
	if err != nil && !common.IsStore(err, common.KeyAlreadyExists) {
		return err
	}

	return c.beacons.AddProof(id, p)
}

// maxRoundLead is how far ahead of our open round a peer aggregation may be.
const maxRoundLead = 1

// Outcome is the result of AcceptAggregation.
type Outcome int

const (
	// Conflicted means we hold the round with different roots.
	Conflicted Outcome = iota
	// Confirmed means we hold the round with the same roots.
	Confirmed
	// Adopted means the round was new to us and is now stored.
	Adopted
)

// Accepted is true unless the aggregation conflicts with ours.
func (o Outcome) Accepted() bool {
	return o != Conflicted
}

func (o Outcome) String() string {
	switch o {
	case Confirmed:
		return "Confirmed"
	case Adopted:
		return "Adopted"
	default:
		return "Conflicted"
	}
}

// AcceptAggregation checks an aggregation produced by one of validators. A
// round we do not hold is adopted; a round we hold is compared against ours.
// The header must be signed by an authorized validator, and the round may
// not run more than maxRoundLead ahead of our open round.
func (c *Core) AcceptAggregation(agg *round.Aggregation, validators []string) (Outcome, error) {
	if agg == nil {
		return Conflicted, common.NewErr(common.Validation, "node", "nil aggregation")
	}

	if err := agg.Validate(); err != nil {
		return Conflicted, err
	}

	if limit := c.CurrentRound() + maxRoundLead; agg.Round() > limit {
		return Conflicted, common.Errf(common.Validation, "node",
			"round %d is ahead of round %d", agg.Round(), limit)
	}

	if !authorized(agg.Header.ValidatorID, validators) {
		return Conflicted, common.Errf(common.Validation, "node",
			"round %d: %s is not a validator", agg.Round(), agg.Header.ValidatorID)
	}

	if len(agg.Header.Signature) == 0 || !agg.Header.VerifySignature() {
		return Conflicted, common.Errf(common.Validation, "node",
			"round %d: missing or invalid header signature", agg.Round())
	}

	if !c.prover.VerifyProof(agg.Proof, agg.Header) {
		return Conflicted, common.Errf(common.Validation, "node",
			"round %d: proof does not verify", agg.Round())
	}

	own, err := c.store.GetAggregation(agg.Round())
	switch {
	case err == nil:
		if c.confirm(own, agg) {
			return Confirmed, nil
		}
		return Conflicted, nil
	case common.IsStore(err, common.KeyNotFound):
	default:
		return Conflicted, err
	}

	if err := c.commit(agg); err != nil {
		return Conflicted, err
	}

	c.logger.WithFields(logrus.Fields{
		"round":     agg.Round(),
		"validator": agg.Header.ValidatorID,
		"txs":       len(agg.TxHashes),
	}).Debug("Aggregation adopted")

	return Adopted, nil
}

func authorized(id string, validators []string) bool {
	for _, v := range validators {
		if v == id {
			return true
		}
	}
	return false
}

func (c *Core) confirm(own, other *round.Aggregation) bool {
	c.confirmLock.Lock()
	defer c.confirmLock.Unlock()

	if own.Header.MerkleRoot != other.Header.MerkleRoot || own.Header.StateRoot != other.Header.StateRoot {
		c.conflicts++
		c.logger.WithFields(logrus.Fields{
			"round":     own.Round(),
			"validator": other.Header.ValidatorID,
			"ours":      own.Header.MerkleRoot.Short(),
			"theirs":    other.Header.MerkleRoot.Short(),
		}).Warn("Conflicting aggregation")
		return false
	}

	c.confirmations[own.Round()]++
	return true
}

// Confirmations returns the number of peers whose aggregation of r matched
// ours.
func (c *Core) Confirmations(r uint64) int {
	c.confirmLock.Lock()
	defer c.confirmLock.Unlock()
	return c.confirmations[r]
}

func (c *Core) conflictCount() int {
	c.confirmLock.Lock()
	defer c.confirmLock.Unlock()
	return c.conflicts
}

// RecordHeader keeps a header pushed by one of validators.
func (c *Core) RecordHeader(h *round.Header, validators []string) error {
	if h == nil {
		return common.NewErr(common.Validation, "node", "nil header")
	}

	if computed := h.ComputeHash(); computed != h.Hash {
		return common.Errf(common.Validation, "node",
			"round %d: header hash mismatch", h.Round)
	}

	if !authorized(h.ValidatorID, validators) {
		return common.Errf(common.Validation, "node",
			"round %d: %s is not a validator", h.Round, h.ValidatorID)
	}

	if len(h.Signature) == 0 || !h.VerifySignature() {
		return common.Errf(common.Validation, "node",
			"round %d: missing or invalid header signature", h.Round)
	}

	c.headers.Add(h.Round, h)

	return nil
}

// Header returns the header of round r, from our own aggregation or from the
// headers pushed by peers.
func (c *Core) Header(r uint64) (*round.Header, bool) {
	if agg, err := c.store.GetAggregation(r); err == nil {
		return agg.Header, true
	}
	v, ok := c.headers.Get(r)
	if !ok {
		return nil, false
	}
	return v.(*round.Header), true
}

// GetAggregation ...
func (c *Core) GetAggregation(r uint64) (*round.Aggregation, error) {
	return c.store.GetAggregation(r)
}

// LastRound returns the last round held in the store, -1 if none.
func (c *Core) LastRound() int64 {
	return c.store.LastRound()
}

// AddTimeSample records the clock of a peer.
func (c *Core) AddTimeSample(id string, timeNs int64) {
	if timeNs <= 0 || id == c.validator.ID() {
		return
	}
	c.timeService.AddSample(id, timeNs)
}

// VerifyTransaction ...
func (c *Core) VerifyTransaction(txHash string) (*verifier.Verification, error) {
	return c.verifier.VerifyHex(txHash)
}

// Randomness ...
func (c *Core) Randomness(r uint64) (randomness.ConsensusRandomness, bool) {
	return c.beacons.ConsensusRandomness(r)
}

// Housekeep drops expired beacons and verification stats.
func (c *Core) Housekeep(now time.Time) {
	dropped := c.beacons.Cleanup(now)
	c.verifier.Housekeep()

	c.logger.WithField("beacons_dropped", dropped).Debug("Housekeeping")
}

// Validators returns the ids authorized to produce blocks: ours and the
// given peers', sorted.
func (c *Core) Validators(peerIDs []string) []string {
	res := append([]string{c.validator.ID()}, peerIDs...)
	sort.Strings(res)
	return res
}
