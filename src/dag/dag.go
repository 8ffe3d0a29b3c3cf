package dag

import (
	"bytes"
	"sort"
	"sync"

	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/timing"
	"github.com/sirupsen/logrus"
)

const (
	// FinalityDepth is the number of heights a block must trail the highest
	// known block by before it is marked finalized. This is a provisional
	// rule; round proofs give the definitive finality.
	FinalityDepth = 10

	// DefaultMaxTips bounds the tip set when no other value is configured.
	DefaultMaxTips = 1000
)

// Stats ...
type Stats struct {
	Blocks     int
	Tips       int
	Finalized  int
	MaxHeight  uint64
	Validators int
}

// DAG stores validated blocks with their parent and child edges. A single
// lock guards every collection so that the tip and finalized sets are always
// consistent with the block map.
type DAG struct {
	sync.RWMutex

	nodes       map[common.Hash]*Node
	tips        map[common.Hash]struct{}
	finalized   map[common.Hash]struct{}
	byHeight    map[uint64][]common.Hash
	byValidator map[string][]common.Hash

	maxHeight     uint64
	hasBlocks     bool
	finalizeFloor uint64 //lowest height not yet swept by the depth rule

	maxTips     int
	timeService *timing.TimeService

	logger *logrus.Entry
}

// NewDAG ...
func NewDAG(timeService *timing.TimeService, maxTips int, logger *logrus.Entry) *DAG {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	if maxTips <= 0 {
		maxTips = DefaultMaxTips
	}

	return &DAG{
		nodes:       make(map[common.Hash]*Node),
		tips:        make(map[common.Hash]struct{}),
		finalized:   make(map[common.Hash]struct{}),
		byHeight:    make(map[uint64][]common.Hash),
		byValidator: make(map[string][]common.Hash),
		maxTips:     maxTips,
		timeService: timeService,
		logger:      logger,
	}
}

// ValidateBlock runs the checks that do not depend on DAG contents.
func (d *DAG) ValidateBlock(b *Block) error {
	if b == nil {
		return common.NewErr(common.Validation, "dag", "nil block")
	}

	if len(b.Transactions) == 0 {
		return common.Errf(common.Validation, "dag", "block %s has no transactions", b.Hash().Short())
	}

	if h := b.ComputeHash(); h != b.Header.Hash {
		return common.Errf(common.Validation, "dag",
			"block hash mismatch: have %s, computed %s", b.Header.Hash.Short(), h.Short())
	}

	if len(b.Header.ParentHashes) == 0 && b.Header.Height != 0 {
		return common.Errf(common.Validation, "dag",
			"block %s has no parents at height %d", b.Hash().Short(), b.Header.Height)
	}

	if err := b.Header.Commitment.Validate(b.Header.Hash, d.timeService); err != nil {
		return err
	}

	for i, tx := range b.Transactions {
		if tx == nil {
			return common.Errf(common.Validation, "dag", "nil transaction at index %d", i)
		}
		if err := tx.Validate(d.timeService); err != nil {
			return err
		}
	}

	return nil
}

// AddBlock validates b and inserts it. Parents lose their tip status, the
// tip set is trimmed to its cap and the depth rule is applied.
func (d *DAG) AddBlock(b *Block) error {
	if err := d.ValidateBlock(b); err != nil {
		return err
	}

	hash := b.Hash()

	d.Lock()
	defer d.Unlock()

	if _, ok := d.nodes[hash]; ok {
		return common.Errf(common.Validation, "dag", "block %s already exists", hash.Short())
	}

	for _, p := range b.Header.ParentHashes {
		if _, ok := d.nodes[p]; !ok {
			return common.Errf(common.Validation, "dag",
				"block %s references unknown parent %s", hash.Short(), p.Short())
		}
	}

	node := newNode(b)
	d.nodes[hash] = node
	d.byHeight[b.Height()] = append(d.byHeight[b.Height()], hash)
	d.byValidator[b.ValidatorID()] = append(d.byValidator[b.ValidatorID()], hash)

	for _, p := range b.Header.ParentHashes {
		d.nodes[p].Children[hash] = struct{}{}
		delete(d.tips, p)
	}
	d.tips[hash] = struct{}{}

	d.trimTips()

	if !d.hasBlocks || b.Height() > d.maxHeight {
		d.maxHeight = b.Height()
		d.hasBlocks = true
	}
	d.finalize(node)

	d.logger.WithFields(logrus.Fields{
		"hash":      hash.Short(),
		"round":     b.Round(),
		"height":    b.Height(),
		"validator": b.ValidatorID(),
		"txs":       len(b.Transactions),
		"tips":      len(d.tips),
	}).Debug("Block added")

	return nil
}

// trimTips evicts the tips with the oldest commitment time until the tip set
// fits its cap. Must be called with the lock held.
func (d *DAG) trimTips() {
	for len(d.tips) > d.maxTips {
		var oldest common.Hash
		var oldestTs int64
		first := true

		for h := range d.tips {
			ts := d.nodes[h].Block.Header.Commitment.TimestampNs
			if first ||
				ts < oldestTs ||
				(ts == oldestTs && bytes.Compare(h[:], oldest[:]) < 0) {
				oldest, oldestTs, first = h, ts, false
			}
		}

		delete(d.tips, oldest)

		err := common.Errf(common.Capacity, "dag", "tip set exceeds %d", d.maxTips)
		d.logger.WithError(err).WithField("evicted", oldest.Short()).Warn("Tip evicted")
	}
}

// finalize applies the depth rule. Must be called with the lock held.
func (d *DAG) finalize(added *Node) {
	if d.maxHeight < FinalityDepth {
		return
	}
	limit := d.maxHeight - FinalityDepth

	// blocks arriving late below the swept floor
	if added.Block.Height() <= limit && !added.Finalized {
		d.markFinalized(added)
	}

	for ; d.finalizeFloor <= limit; d.finalizeFloor++ {
		for _, h := range d.byHeight[d.finalizeFloor] {
			if n := d.nodes[h]; !n.Finalized {
				d.markFinalized(n)
			}
		}
	}
}

func (d *DAG) markFinalized(n *Node) {
	n.Finalized = true
	d.finalized[n.Block.Hash()] = struct{}{}
}

// GetBlock ...
func (d *DAG) GetBlock(hash common.Hash) (*Block, error) {
	d.RLock()
	defer d.RUnlock()

	n, ok := d.nodes[hash]
	if !ok {
		return nil, common.NewStoreErr("Block", common.KeyNotFound, hash.Hex())
	}
	return n.Block, nil
}

// GetNode returns a snapshot of the node wrapping hash.
func (d *DAG) GetNode(hash common.Hash) (Node, bool) {
	d.RLock()
	defer d.RUnlock()

	n, ok := d.nodes[hash]
	if !ok {
		return Node{}, false
	}
	return n.copy(), true
}

// Contains ...
func (d *DAG) Contains(hash common.Hash) bool {
	d.RLock()
	defer d.RUnlock()

	_, ok := d.nodes[hash]
	return ok
}

// BlocksAtHeight ...
func (d *DAG) BlocksAtHeight(height uint64) []*Block {
	d.RLock()
	defer d.RUnlock()

	return d.blocks(d.byHeight[height])
}

// BlocksByValidator ...
func (d *DAG) BlocksByValidator(validatorID string) []*Block {
	d.RLock()
	defer d.RUnlock()

	return d.blocks(d.byValidator[validatorID])
}

func (d *DAG) blocks(hashes []common.Hash) []*Block {
	res := make([]*Block, 0, len(hashes))
	for _, h := range hashes {
		res = append(res, d.nodes[h].Block)
	}
	return res
}

// Tips returns the current tip hashes in ascending byte order.
func (d *DAG) Tips() []common.Hash {
	d.RLock()
	defer d.RUnlock()

	return sortedHashes(d.tips)
}

// Finalized returns the finalized block hashes in ascending byte order.
func (d *DAG) Finalized() []common.Hash {
	d.RLock()
	defer d.RUnlock()

	return sortedHashes(d.finalized)
}

// IsFinalized ...
func (d *DAG) IsFinalized(hash common.Hash) bool {
	d.RLock()
	defer d.RUnlock()

	_, ok := d.finalized[hash]
	return ok
}

// IsTip ...
func (d *DAG) IsTip(hash common.Hash) bool {
	d.RLock()
	defer d.RUnlock()

	_, ok := d.tips[hash]
	return ok
}

// Children ...
func (d *DAG) Children(hash common.Hash) []common.Hash {
	d.RLock()
	defer d.RUnlock()

	n, ok := d.nodes[hash]
	if !ok {
		return nil
	}
	return sortedHashes(n.Children)
}

// AllBlocks returns every block ordered by height, then hash.
func (d *DAG) AllBlocks() []*Block {
	d.RLock()
	defer d.RUnlock()

	res := make([]*Block, 0, len(d.nodes))
	for _, n := range d.nodes {
		res = append(res, n.Block)
	}

	sort.Slice(res, func(i, j int) bool {
		if res[i].Height() != res[j].Height() {
			return res[i].Height() < res[j].Height()
		}
		hi, hj := res[i].Hash(), res[j].Hash()
		return bytes.Compare(hi[:], hj[:]) < 0
	})

	return res
}

// MaxHeight ...
func (d *DAG) MaxHeight() uint64 {
	d.RLock()
	defer d.RUnlock()

	return d.maxHeight
}

// Stats ...
func (d *DAG) Stats() Stats {
	d.RLock()
	defer d.RUnlock()

	return Stats{
		Blocks:     len(d.nodes),
		Tips:       len(d.tips),
		Finalized:  len(d.finalized),
		MaxHeight:  d.maxHeight,
		Validators: len(d.byValidator),
	}
}

func sortedHashes(set map[common.Hash]struct{}) []common.Hash {
	res := make([]common.Hash, 0, len(set))
	for h := range set {
		res = append(res, h)
	}
	sort.Slice(res, func(i, j int) bool {
		return bytes.Compare(res[i][:], res[j][:]) < 0
	})
	return res
}
