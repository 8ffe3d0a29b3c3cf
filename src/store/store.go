package store

import (
	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/dag"
	"github.com/mosaicnetworks/roundchain/src/round"
)

// Store is an interface for backend stores.
type Store interface {
	// CacheSize returns the maximum number of items the caches can hold.
	CacheSize() int
	// GetBlock returns a block by hash.
	GetBlock(hash common.Hash) (*dag.Block, error)
	// SetBlock stores a block.
	SetBlock(block *dag.Block) error
	// GetAggregation returns the aggregation of a round.
	GetAggregation(round uint64) (*round.Aggregation, error)
	// SetAggregation stores the aggregation of a closed round.
	SetAggregation(agg *round.Aggregation) error
	// LastRound returns the highest stored round, or -1.
	LastRound() int64
	// Close releases the resources held by the store.
	Close() error
	// StorePath returns the location of the persisted data, if any.
	StorePath() string
}
