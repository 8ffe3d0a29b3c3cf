package store

import (
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/dag"
	"github.com/mosaicnetworks/roundchain/src/round"
)

// InmemStore implements the Store interface with inmemory caches. When the
// caches are full, older items are evicted, so InmemStore is not suitable for
// nodes that must serve old rounds to their peers.
type InmemStore struct {
	cacheSize  int
	blockCache *lru.Cache //hash => *dag.Block
	roundCache *lru.Cache //round => *round.Aggregation

	lastRoundLock sync.RWMutex
	lastRound     int64
}

// NewInmemStore creates a new InmemStore where all caches are limited by
// cacheSize items.
func NewInmemStore(cacheSize int) *InmemStore {
	blockCache, err := lru.New(cacheSize)
	if err != nil {
		panic(err)
	}
	roundCache, err := lru.New(cacheSize)
	if err != nil {
		panic(err)
	}

	return &InmemStore{
		cacheSize:  cacheSize,
		blockCache: blockCache,
		roundCache: roundCache,
		lastRound:  -1,
	}
}

// CacheSize implements the Store interface.
func (s *InmemStore) CacheSize() int {
	return s.cacheSize
}

// GetBlock implements the Store interface.
func (s *InmemStore) GetBlock(hash common.Hash) (*dag.Block, error) {
	res, ok := s.blockCache.Get(hash)
	if !ok {
		return nil, common.NewStoreErr("BlockCache", common.KeyNotFound, hash.Hex())
	}
	return res.(*dag.Block), nil
}

// SetBlock implements the Store interface.
func (s *InmemStore) SetBlock(block *dag.Block) error {
	s.blockCache.Add(block.Hash(), block)
	return nil
}

// GetAggregation implements the Store interface.
func (s *InmemStore) GetAggregation(r uint64) (*round.Aggregation, error) {
	res, ok := s.roundCache.Get(r)
	if !ok {
		return nil, common.NewStoreErr("RoundCache", common.KeyNotFound, strconv.FormatUint(r, 10))
	}
	return res.(*round.Aggregation), nil
}

// SetAggregation implements the Store interface.
func (s *InmemStore) SetAggregation(agg *round.Aggregation) error {
	s.roundCache.Add(agg.Round(), agg)
	s.updateLastRound(agg.Round())
	return nil
}

func (s *InmemStore) updateLastRound(r uint64) {
	s.lastRoundLock.Lock()
	defer s.lastRoundLock.Unlock()

	if int64(r) > s.lastRound {
		s.lastRound = int64(r)
	}
}

// LastRound implements the Store interface.
func (s *InmemStore) LastRound() int64 {
	s.lastRoundLock.RLock()
	defer s.lastRoundLock.RUnlock()
	return s.lastRound
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}

// StorePath implements the Store interface. InmemStore does not persist
// anything.
func (s *InmemStore) StorePath() string {
	return ""
}
