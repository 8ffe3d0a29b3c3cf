package broadcast

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/dag"
	"github.com/mosaicnetworks/roundchain/src/net"
	"github.com/mosaicnetworks/roundchain/src/peers"
	"github.com/mosaicnetworks/roundchain/src/randomness"
	"github.com/mosaicnetworks/roundchain/src/round"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Stats of one aggregation broadcast.
type Stats struct {
	Round       uint64
	ElapsedMs   uint64
	PayloadSize int
	Reached     int
	Targeted    int // online peers at the time of the broadcast
	Total       int
	Success     bool
	Error       string `json:",omitempty"`
}

// Broadcaster pushes round aggregations to peers and serves them back to
// peers that missed the push.
type Broadcaster struct {
	conf  *Config
	id    string
	trans net.Transport
	peers *peers.Peers

	pending *cache.Cache //round => *round.Aggregation

	statsLock sync.RWMutex
	stats     map[uint64]Stats

	logger *logrus.Entry
}

// NewBroadcaster creates a Broadcaster sending through trans on behalf of the
// node identified by id. The Broadcaster owns the peer registry.
func NewBroadcaster(conf *Config,
	id string,
	trans net.Transport,
	registry *peers.Peers,
	logger *logrus.Entry) *Broadcaster {

	if conf == nil {
		conf = DefaultConfig()
	}

	if registry == nil {
		registry = peers.NewPeers()
	}

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Broadcaster{
		conf:    conf,
		id:      id,
		trans:   trans,
		peers:   registry,
		pending: cache.New(conf.PendingTTL, conf.PendingTTL),
		stats:   make(map[uint64]Stats),
		logger:  logger,
	}
}

func roundKey(r uint64) string {
	return strconv.FormatUint(r, 10)
}

// AddPeer ...
func (b *Broadcaster) AddPeer(p *peers.Peer) {
	b.peers.AddPeer(p)
}

// RemovePeer ...
func (b *Broadcaster) RemovePeer(pubKeyHex string) bool {
	return b.peers.RemovePeer(pubKeyHex)
}

// UpdatePeerLatency ...
func (b *Broadcaster) UpdatePeerLatency(pubKeyHex string, latency time.Duration) {
	b.peers.UpdateLatency(pubKeyHex, latency)
}

// UpdatePeerStatus ...
func (b *Broadcaster) UpdatePeerStatus(pubKeyHex string, online bool) {
	b.peers.SetOnline(pubKeyHex, online)
}

// Peers returns the peer registry.
func (b *Broadcaster) Peers() *peers.Peers {
	return b.peers
}

// PeerCount ...
func (b *Broadcaster) PeerCount() int {
	return b.peers.Len()
}

// OnlinePeerCount ...
func (b *Broadcaster) OnlinePeerCount() int {
	return b.peers.OnlineCount()
}

// AddPending makes agg available to peers pulling its round.
func (b *Broadcaster) AddPending(agg *round.Aggregation) {
	b.pending.Set(roundKey(agg.Round()), agg, cache.DefaultExpiration)
}

// HandleFetch answers a pull request from the pending store.
func (b *Broadcaster) HandleFetch(r uint64) (*round.Aggregation, bool) {
	v, ok := b.pending.Get(roundKey(r))
	if !ok {
		return nil, false
	}
	return v.(*round.Aggregation), true
}

// BroadcastAggregation pushes agg to every online peer concurrently. A peer
// that cannot be reached after the configured attempts is marked offline and
// excluded from the reached count; it never fails the broadcast. The
// broadcast succeeds when at least one peer was reached or when there was no
// peer to reach. A payload larger than the configured maximum is not sent.
func (b *Broadcaster) BroadcastAggregation(ctx context.Context, agg *round.Aggregation) (*Stats, error) {
	if !b.conf.Enabled {
		return nil, nil
	}

	start := time.Now()

	stats := Stats{
		Round:       agg.Round(),
		PayloadSize: agg.PayloadSize(),
		Total:       b.peers.Len(),
	}

	if b.conf.MaxPayloadSize > 0 && stats.PayloadSize > b.conf.MaxPayloadSize {
		err := common.Errf(common.Capacity, "broadcast",
			"round %d payload of %d bytes exceeds %d", stats.Round, stats.PayloadSize, b.conf.MaxPayloadSize)
		stats.Error = err.Error()
		b.recordStats(stats)
		b.logger.WithError(err).Error("Broadcast refused")
		return &stats, err
	}

	b.AddPending(agg)

	online := b.peers.Online()
	stats.Targeted = len(online)

	reached := b.fanOut(ctx, online, func(target string) (bool, error) {
		req := &net.PushAggregationRequest{
			FromID:      b.id,
			TimeNs:      time.Now().UnixNano(),
			Aggregation: agg,
		}
		var resp net.PushAggregationResponse
		err := b.trans.PushAggregation(target, req, &resp)
		return resp.Accepted, err
	})

	stats.Reached = reached
	stats.Success = reached > 0 || len(online) == 0
	stats.ElapsedMs = uint64(time.Since(start) / time.Millisecond)
	b.recordStats(stats)

	b.logger.WithFields(logrus.Fields{
		"round":      stats.Round,
		"reached":    stats.Reached,
		"targeted":   stats.Targeted,
		"total":      stats.Total,
		"elapsed_ms": stats.ElapsedMs,
	}).Info("Aggregation broadcast")

	return &stats, nil
}

// BroadcastHeader pushes a header alone to every online peer and returns the
// number of peers reached.
func (b *Broadcaster) BroadcastHeader(ctx context.Context, header *round.Header) (int, error) {
	if !b.conf.Enabled {
		return 0, nil
	}

	req := &net.PushHeaderRequest{
		FromID: b.id,
		Header: header,
	}

	reached := b.fanOut(ctx, b.peers.Online(), func(target string) (bool, error) {
		var resp net.PushHeaderResponse
		r := *req
		r.TimeNs = time.Now().UnixNano()
		err := b.trans.PushHeader(target, &r, &resp)
		return resp.Accepted, err
	})

	b.logger.WithFields(logrus.Fields{
		"round":   header.Round,
		"reached": reached,
	}).Debug("Header broadcast")

	return reached, nil
}

// BroadcastBlock relays a block to every online peer and returns the number
// of peers reached.
func (b *Broadcaster) BroadcastBlock(ctx context.Context, block *dag.Block) (int, error) {
	if !b.conf.Enabled {
		return 0, nil
	}

	reached := b.fanOut(ctx, b.peers.Online(), func(target string) (bool, error) {
		req := &net.PushBlockRequest{
			FromID: b.id,
			TimeNs: time.Now().UnixNano(),
			Block:  block,
		}
		var resp net.PushBlockResponse
		err := b.trans.PushBlock(target, req, &resp)
		return resp.Accepted, err
	})

	b.logger.WithFields(logrus.Fields{
		"block":   block.Hash().Short(),
		"round":   block.Round(),
		"reached": reached,
	}).Debug("Block relayed")

	return reached, nil
}

// BroadcastProof pushes a beacon proof to every online peer and returns the
// number of peers reached.
func (b *Broadcaster) BroadcastProof(ctx context.Context, proof *randomness.VRFProof) (int, error) {
	if !b.conf.Enabled {
		return 0, nil
	}

	reached := b.fanOut(ctx, b.peers.Online(), func(target string) (bool, error) {
		req := &net.PushProofRequest{
			FromID: b.id,
			TimeNs: time.Now().UnixNano(),
			Proof:  proof,
		}
		var resp net.PushProofResponse
		err := b.trans.PushProof(target, req, &resp)
		return resp.Accepted, err
	})

	b.logger.WithFields(logrus.Fields{
		"round":   proof.Round,
		"reached": reached,
	}).Debug("Beacon proof broadcast")

	return reached, nil
}

// fanOut runs send against every peer in parallel and returns the number of
// peers that answered.
func (b *Broadcaster) fanOut(ctx context.Context, targets []*peers.Peer, send func(target string) (bool, error)) int {
	var reached int32
	var g errgroup.Group

	for _, p := range targets {
		p := p
		g.Go(func() error {
			if b.sendWithRetry(ctx, p, send) {
				atomic.AddInt32(&reached, 1)
			}
			return nil
		})
	}

	g.Wait()

	return int(atomic.LoadInt32(&reached))
}

// sendWithRetry makes up to MaxAttempts attempts, each bounded by Timeout and
// separated by RetryDelay.
func (b *Broadcaster) sendWithRetry(ctx context.Context, p *peers.Peer, send func(target string) (bool, error)) bool {
	attempts := b.conf.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		start := time.Now()

		accepted, err := b.call(ctx, func() (bool, error) { return send(p.NetAddr) })
		if err == nil {
			b.peers.UpdateLatency(p.PubKeyHex, time.Since(start))
			if !accepted {
				b.logger.WithField("peer", p.Moniker).Debug("Peer declined")
			}
			return true
		}

		b.logger.WithFields(logrus.Fields{
			"peer":    p.Moniker,
			"addr":    p.NetAddr,
			"attempt": attempt,
			"error":   common.Errf(common.Network, "broadcast", "%v", err),
		}).Warn("Send failed")

		if attempt < attempts {
			select {
			case <-time.After(b.conf.RetryDelay):
			case <-ctx.Done():
				attempt = attempts
			}
		}
	}

	b.peers.SetOnline(p.PubKeyHex, false)

	return false
}

type callResult struct {
	accepted bool
	err      error
}

// call bounds fn by the per-attempt timeout.
func (b *Broadcaster) call(ctx context.Context, fn func() (bool, error)) (bool, error) {
	if b.conf.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.conf.Timeout)
		defer cancel()
	}

	resCh := make(chan callResult, 1)
	go func() {
		accepted, err := fn()
		resCh <- callResult{accepted, err}
	}()

	select {
	case res := <-resCh:
		return res.accepted, res.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// RequestFallback retrieves the aggregation of round r when the push did not
// arrive. The pending store is checked first, then online peers in turn. It
// returns nil, without error, when no peer holds the round.
func (b *Broadcaster) RequestFallback(ctx context.Context, r uint64) (*round.Aggregation, error) {
	if agg, ok := b.HandleFetch(r); ok {
		return agg, nil
	}

	if !b.conf.FallbackEnabled {
		return nil, nil
	}

	for _, p := range b.peers.Online() {
		if err := ctx.Err(); err != nil {
			return nil, common.Errf(common.Network, "broadcast", "fallback for round %d: %v", r, err)
		}

		var resp net.FetchRoundResponse
		start := time.Now()
		_, err := b.call(ctx, func() (bool, error) {
			err := b.trans.FetchRound(p.NetAddr, &net.FetchRoundRequest{
				FromID: b.id,
				TimeNs: time.Now().UnixNano(),
				Round:  r,
			}, &resp)
			return resp.Found, err
		})

		if err != nil {
			b.logger.WithFields(logrus.Fields{
				"peer":  p.Moniker,
				"round": r,
				"error": err,
			}).Debug("Fallback request failed")
			continue
		}

		b.peers.UpdateLatency(p.PubKeyHex, time.Since(start))

		if !resp.Found || resp.Aggregation == nil || resp.Aggregation.Header == nil {
			continue
		}

		header := *resp.Aggregation.Header
		header.Hash = header.ComputeHash()
		agg := *resp.Aggregation
		agg.Header = &header
		if agg.Round() != r {
			continue
		}
		if err := agg.Validate(); err != nil {
			b.logger.WithError(err).WithField("peer", p.Moniker).Warn("Invalid fallback aggregation")
			continue
		}

		b.AddPending(&agg)

		b.logger.WithFields(logrus.Fields{
			"peer":  p.Moniker,
			"round": r,
		}).Info("Round recovered by fallback")

		return &agg, nil
	}

	return nil, nil
}

func (b *Broadcaster) recordStats(s Stats) {
	b.statsLock.Lock()
	defer b.statsLock.Unlock()

	b.stats[s.Round] = s
}

// Stats returns the stats of the last broadcast of round r.
func (b *Broadcaster) Stats(r uint64) (Stats, bool) {
	b.statsLock.RLock()
	defer b.statsLock.RUnlock()

	s, ok := b.stats[r]
	return s, ok
}

// AllStats returns broadcast stats ordered by round.
func (b *Broadcaster) AllStats() []Stats {
	b.statsLock.RLock()
	defer b.statsLock.RUnlock()

	res := make([]Stats, 0, len(b.stats))
	for _, s := range b.stats {
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Round < res[j].Round })
	return res
}
