package node

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mosaicnetworks/roundchain/src/broadcast"
	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/dag"
	"github.com/mosaicnetworks/roundchain/src/net"
	"github.com/mosaicnetworks/roundchain/src/peers"
	"github.com/mosaicnetworks/roundchain/src/randomness"
	"github.com/mosaicnetworks/roundchain/src/round"
	"github.com/mosaicnetworks/roundchain/src/store"
	"github.com/mosaicnetworks/roundchain/src/timing"
	"github.com/mosaicnetworks/roundchain/src/verifier"
	"github.com/sirupsen/logrus"
)

//Node defines a roundchain node
type Node struct {
	state

	conf   *Config
	logger *logrus.Entry

	validator *Validator

	core *Core

	// roundLock serialises the closing of a round with the opening of the
	// next one.
	roundLock sync.Mutex

	broadcaster *broadcast.Broadcaster

	trans net.Transport
	netCh <-chan net.RPC

	ctx        context.Context
	cancel     context.CancelFunc
	shutdownCh chan struct{}

	controlTimer *ControlTimer

	start         time.Time
	roundsClosed  uint64
	roundsFailed  uint64
	blocksRelayed uint64
}

//NewNode is a factory method that returns a Node instance. The node sends
//through trans to the peers of the registry, and persists blocks and rounds
//in store. A nil prover selects the placeholder prover.
func NewNode(conf *Config,
	validator *Validator,
	registry *peers.Peers,
	store store.Store,
	trans net.Transport,
	prover round.Prover,
) (*Node, error) {

	logger := conf.Logger.WithFields(logrus.Fields{
		"this_id": validator.PublicKeyHex()[:12],
		"moniker": validator.Moniker,
	})

	core, err := NewCore(conf, validator, store, prover, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	node := Node{
		validator: validator,
		conf:      conf,
		logger:    logger,
		core:      core,
		broadcaster: broadcast.NewBroadcaster(conf.Broadcast,
			validator.ID(),
			trans,
			registry,
			logger.WithField("prefix", "broadcast")),
		trans:        trans,
		netCh:        trans.Consumer(),
		ctx:          ctx,
		cancel:       cancel,
		shutdownCh:   make(chan struct{}),
		controlTimer: NewRandomControlTimer(),
	}

	return &node, nil
}

//Init replays persisted rounds and opens the first round
func (n *Node) Init() error {
	if err := n.core.Bootstrap(); err != nil {
		return err
	}

	r, err := n.core.StartNextRound(n.validators())
	if err != nil {
		return err
	}

	n.logger.WithField("round", r).Debug("Init")

	n.start = time.Now()
	n.setState(Running)

	return nil
}

//RunAsync calls Run as a separate thread
func (n *Node) RunAsync() {
	n.logger.Debug("runasync")

	go n.Run()
}

//Run invokes the main loop of the node. Every heartbeat, the open round is
//closed if one of its triggers is met.
func (n *Node) Run() {
	go n.controlTimer.Run(n.conf.HeartbeatTimeout)

	//Process RPCs and housekeeping regardless of the round in progress.
	go n.doBackgroundWork()

	for {
		select {
		case <-n.controlTimer.tickCh:
			if n.getState() == Running && n.core.ShouldAggregate() {
				n.closeRound()
			}
			n.resetTimer()
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) resetTimer() {
	if !n.controlTimer.set {
		select {
		case n.controlTimer.resetCh <- n.conf.HeartbeatTimeout:
		case <-n.shutdownCh:
		}
	}
}

func (n *Node) doBackgroundWork() {
	var housekeeping <-chan time.Time
	if n.conf.HousekeepingInterval > 0 {
		ticker := time.NewTicker(n.conf.HousekeepingInterval)
		defer ticker.Stop()
		housekeeping = ticker.C
	}

	for {
		select {
		case rpc := <-n.netCh:
			if !n.goFunc(func() { n.processRPC(rpc) }) {
				n.processRPC(rpc)
			}
		case t := <-housekeeping:
			n.core.Housekeep(t)
		case <-n.shutdownCh:
			return
		}
	}
}

// closeRound aggregates the open round, opens the next one, then pushes the
// result to peers. A failed round is abandoned; its blocks stay in the DAG.
func (n *Node) closeRound() {
	n.roundLock.Lock()

	if n.getState() != Running {
		n.roundLock.Unlock()
		return
	}

	closing := n.core.CurrentRound()
	agg, proof, err := n.core.Aggregate(n.ctx)
	if err != nil {
		atomic.AddUint64(&n.roundsFailed, 1)
		n.logger.WithError(err).WithField("round", closing).Error("Aggregating round")
	} else {
		atomic.AddUint64(&n.roundsClosed, 1)
	}

	next, serr := n.core.StartNextRound(n.validators())
	n.roundLock.Unlock()

	if serr != nil {
		n.logger.WithError(serr).Error("Starting next round")
	} else {
		n.logger.WithField("round", next).Debug("Round opened")
	}

	if agg == nil {
		return
	}

	if _, err := n.broadcaster.BroadcastAggregation(n.ctx, agg); err != nil {
		n.logger.WithError(err).WithField("round", agg.Round()).Warn("Aggregation not broadcast")
		//peers can still learn the round exists and pull it from elsewhere
		n.broadcaster.BroadcastHeader(n.ctx, agg.Header)
	}

	if proof != nil {
		n.broadcaster.BroadcastProof(n.ctx, proof)
	}

	n.logStats()
}

//CloseRound aggregates the open round immediately, whatever its triggers.
func (n *Node) CloseRound() error {
	if n.getState() != Running {
		return common.Errf(common.Validation, "node", "node is %s", n.getState())
	}
	if n.core.rounds.BlockCount() == 0 {
		return common.Errf(common.Proving, "node", "round %d has no blocks", n.core.CurrentRound())
	}
	n.closeRound()
	return nil
}

// validators returns the ids allowed to produce blocks in the next round.
func (n *Node) validators() []string {
	return n.core.Validators(n.broadcaster.Peers().ToPubKeySlice())
}

//Commitment returns a commitment for the open round, to be bound by a
//transaction constructor.
func (n *Node) Commitment() timing.Commitment {
	return n.core.Commitment()
}

//CreateBlock signs a block of txs on top of the current tips and submits it.
func (n *Node) CreateBlock(txs []*dag.Transaction) (*dag.Block, error) {
	b, err := n.core.NewBlock(txs)
	if err != nil {
		return nil, err
	}

	if err := n.SubmitBlock(b); err != nil {
		return nil, err
	}

	return b, nil
}

//SubmitBlock adds a block to the DAG, buffers it for the open round, and
//relays it to peers.
func (n *Node) SubmitBlock(b *dag.Block) error {
	if _, err := n.core.AddBlock(b); err != nil {
		return err
	}

	relayed := n.goFunc(func() {
		reached, _ := n.broadcaster.BroadcastBlock(n.ctx, b)
		atomic.AddUint64(&n.blocksRelayed, uint64(reached))
	})
	if !relayed {
		n.logger.WithField("block", b.Hash().Short()).Warn("Too busy to relay block")
	}

	return nil
}

//SubmitTimeSample records the clock of validator id.
func (n *Node) SubmitTimeSample(id string, timeNs int64) error {
	if _, ok := n.broadcaster.Peers().Get(id); !ok {
		return common.Errf(common.Validation, "node", "%s is not a registered peer", id)
	}
	n.core.AddTimeSample(id, timeNs)
	return nil
}

//VerifyTransaction checks the inclusion of the transaction with the given hex
//hash in a known round.
func (n *Node) VerifyTransaction(txHash string) (*verifier.Verification, error) {
	return n.core.VerifyTransaction(txHash)
}

//Round returns the aggregation of round r. Rounds we do not hold are pulled
//from peers, and adopted if valid.
func (n *Node) Round(r uint64) (*round.Aggregation, error) {
	agg, err := n.core.GetAggregation(r)
	if err == nil {
		return agg, nil
	}
	if !common.IsStore(err, common.KeyNotFound) {
		return nil, err
	}

	fetched, ferr := n.broadcaster.RequestFallback(n.ctx, r)
	if ferr != nil {
		return nil, ferr
	}
	if fetched == nil {
		return nil, err
	}

	if _, aerr := n.core.AcceptAggregation(fetched, n.validators()); aerr != nil {
		return nil, aerr
	}

	return fetched, nil
}

//Header returns the header of round r if we hold it.
func (n *Node) Header(r uint64) (*round.Header, bool) {
	return n.core.Header(r)
}

//Randomness returns the output of the beacon of round r, once finalized.
func (n *Node) Randomness(r uint64) (randomness.ConsensusRandomness, bool) {
	return n.core.Randomness(r)
}

//BroadcastStats returns the stats of every broadcast round.
func (n *Node) BroadcastStats() []broadcast.Stats {
	return n.broadcaster.AllStats()
}

//Shutdown shuts down the node
func (n *Node) Shutdown() {
	if n.getState() != Shutdown {
		n.logger.Debug("Shutdown")

		//Exit any non-shutdown state immediately
		n.setState(Shutdown)

		//Stop and wait for concurrent operations
		n.cancel()
		close(n.shutdownCh)

		n.waitRoutines()

		//wait for a round being committed
		n.roundLock.Lock()
		n.roundLock.Unlock()

		n.controlTimer.Shutdown()

		//transport and store should only be closed once all concurrent operations
		//are finished otherwise they will panic trying to use close objects
		n.trans.Close()

		if err := n.core.store.Close(); err != nil {
			n.logger.WithError(err).Error("Closing store")
		}
	}
}

//GetStats returns stats
func (n *Node) GetStats() map[string]string {
	timeElapsed := time.Since(n.start)

	closed := atomic.LoadUint64(&n.roundsClosed)

	var roundsPerSecond float64
	if timeElapsed > 0 {
		roundsPerSecond = float64(closed) / timeElapsed.Seconds()
	}

	dagStats := n.core.dag.Stats()
	timeStats := n.core.timeService.Stats()
	cacheStats := n.core.verifier.CacheStats()
	beaconStats := n.core.beacons.Stats()

	s := map[string]string{
		"current_round":        strconv.FormatUint(n.core.CurrentRound(), 10),
		"last_round":           strconv.FormatInt(n.core.LastRound(), 10),
		"round_state":          n.core.rounds.State().String(),
		"round_blocks":         strconv.Itoa(n.core.rounds.BlockCount()),
		"rounds_closed":        strconv.FormatUint(closed, 10),
		"rounds_failed":        strconv.FormatUint(atomic.LoadUint64(&n.roundsFailed), 10),
		"rounds_per_second":    strconv.FormatFloat(roundsPerSecond, 'f', 2, 64),
		"dag_blocks":           strconv.Itoa(dagStats.Blocks),
		"dag_tips":             strconv.Itoa(dagStats.Tips),
		"dag_finalized":        strconv.Itoa(dagStats.Finalized),
		"dag_height":           strconv.FormatUint(dagStats.MaxHeight, 10),
		"blocks_relayed":       strconv.FormatUint(atomic.LoadUint64(&n.blocksRelayed), 10),
		"time_samples":         strconv.Itoa(timeStats.Count),
		"network_time":         strconv.FormatInt(n.core.timeService.MedianNs(), 10),
		"verifier_cache":       strconv.Itoa(cacheStats.Size),
		"verifier_hits":        strconv.FormatUint(cacheStats.Hits, 10),
		"verifier_misses":      strconv.FormatUint(cacheStats.Misses, 10),
		"beacons":              strconv.Itoa(beaconStats.Beacons),
		"beacon_rounds":        strconv.Itoa(beaconStats.Rounds),
		"num_peers":            strconv.Itoa(n.broadcaster.PeerCount()),
		"online_peers":         strconv.Itoa(n.broadcaster.OnlinePeerCount()),
		"aggregation_conflict": strconv.Itoa(n.core.conflictCount()),
		"id":                   n.validator.ID(),
		"state":                n.getState().String(),
		"moniker":              n.validator.Moniker,
	}
	return s
}

func (n *Node) logStats() {
	stats := n.GetStats()

	n.logger.WithFields(logrus.Fields{
		"current_round": stats["current_round"],
		"last_round":    stats["last_round"],
		"rounds_closed": stats["rounds_closed"],
		"rounds_failed": stats["rounds_failed"],
		"rounds/s":      stats["rounds_per_second"],
		"dag_blocks":    stats["dag_blocks"],
		"dag_tips":      stats["dag_tips"],
		"time_samples":  stats["time_samples"],
		"online_peers":  stats["online_peers"],
		"state":         stats["state"],
	}).Debug("Stats")
}

//ID returns the validator ID
func (n *Node) ID() string {
	return n.validator.ID()
}

//GetPeers returns the peers
func (n *Node) GetPeers() []*peers.Peer {
	return n.broadcaster.Peers().ToPeerSlice()
}

//AddPeer registers a peer; it is authorized from the next round on.
func (n *Node) AddPeer(p *peers.Peer) {
	n.broadcaster.AddPeer(p)
}

//GetState returns the state of the node
func (n *Node) GetState() State {
	return n.getState()
}
