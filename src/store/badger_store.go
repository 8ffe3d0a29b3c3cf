package store

import (
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger"
	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/dag"
	"github.com/mosaicnetworks/roundchain/src/round"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	blockPrefix = "block"
	roundPrefix = "round"
)

// BadgerStore is a Store that keeps recent items in an InmemStore and
// persists everything in a badger database.
type BadgerStore struct {
	inmemStore *InmemStore
	db         *badger.DB
	path       string
	logger     *logrus.Entry
}

// NewBadgerStore opens an existing database or creates a new one if nothing is
// found in path.
func NewBadgerStore(cacheSize int, path string, logger *logrus.Entry) (*BadgerStore, error) {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true).
		WithLogger(logger.WithField("ns", "badger"))

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening badger database in %s", path)
	}

	store := &BadgerStore{
		inmemStore: NewInmemStore(cacheSize),
		db:         handle,
		path:       path,
		logger:     logger,
	}

	return store, nil
}

//==============================================================================
//Keys

func blockKey(hash common.Hash) []byte {
	return []byte(fmt.Sprintf("%s_%s", blockPrefix, hash.Hex()))
}

func roundKey(r uint64) []byte {
	return []byte(fmt.Sprintf("%s_%09d", roundPrefix, r))
}

//==============================================================================
//Implement the Store interface

// CacheSize implements the Store interface.
func (s *BadgerStore) CacheSize() int {
	return s.inmemStore.CacheSize()
}

// GetBlock implements the Store interface.
func (s *BadgerStore) GetBlock(hash common.Hash) (*dag.Block, error) {
	res, err := s.inmemStore.GetBlock(hash)
	if err != nil {
		res, err = s.dbGetBlock(hash)
	}
	return res, mapError(err, "Block", string(blockKey(hash)))
}

// SetBlock implements the Store interface.
func (s *BadgerStore) SetBlock(block *dag.Block) error {
	if err := s.inmemStore.SetBlock(block); err != nil {
		return err
	}
	return s.dbSetBlock(block)
}

// GetAggregation implements the Store interface.
func (s *BadgerStore) GetAggregation(r uint64) (*round.Aggregation, error) {
	res, err := s.inmemStore.GetAggregation(r)
	if err != nil {
		res, err = s.dbGetAggregation(r)
	}
	return res, mapError(err, "Aggregation", string(roundKey(r)))
}

// SetAggregation implements the Store interface.
func (s *BadgerStore) SetAggregation(agg *round.Aggregation) error {
	if err := s.inmemStore.SetAggregation(agg); err != nil {
		return err
	}
	return s.dbSetAggregation(agg)
}

// LastRound implements the Store interface.
func (s *BadgerStore) LastRound() int64 {
	return s.inmemStore.LastRound()
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	if err := s.inmemStore.Close(); err != nil {
		return err
	}
	return s.db.Close()
}

// StorePath implements the Store interface.
func (s *BadgerStore) StorePath() string {
	return s.path
}

// LoadAggregations reads every persisted aggregation in round order and
// loads them into the cache. It is used to bootstrap a restarted node.
func (s *BadgerStore) LoadAggregations() ([]*round.Aggregation, error) {
	aggs, err := s.dbAggregations()
	if err != nil {
		return nil, err
	}

	for _, agg := range aggs {
		if err := s.inmemStore.SetAggregation(agg); err != nil {
			return nil, err
		}
	}

	s.logger.WithField("rounds", len(aggs)).Debug("Aggregations loaded")

	return aggs, nil
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++
//DB Methods

func (s *BadgerStore) dbGetBlock(hash common.Hash) (*dag.Block, error) {
	var blockBytes []byte
	key := blockKey(hash)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		blockBytes, err = item.ValueCopy(nil)
		return err
	})

	if err != nil {
		return nil, err
	}

	block := new(dag.Block)
	if err := block.Unmarshal(blockBytes); err != nil {
		return nil, err
	}

	return block, nil
}

func (s *BadgerStore) dbSetBlock(block *dag.Block) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	key := blockKey(block.Hash())
	val, err := block.Marshal()
	if err != nil {
		return err
	}

	//insert [block_hash] => [block bytes]
	if err := tx.Set(key, val); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *BadgerStore) dbGetAggregation(r uint64) (*round.Aggregation, error) {
	var aggBytes []byte
	key := roundKey(r)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		aggBytes, err = item.ValueCopy(nil)
		return err
	})

	if err != nil {
		return nil, err
	}

	agg := new(round.Aggregation)
	if err := agg.Unmarshal(aggBytes); err != nil {
		return nil, err
	}

	return agg, nil
}

func (s *BadgerStore) dbSetAggregation(agg *round.Aggregation) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	key := roundKey(agg.Round())
	val, err := agg.Marshal()
	if err != nil {
		return err
	}

	//insert [round_index] => [aggregation bytes]
	if err := tx.Set(key, val); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *BadgerStore) dbAggregations() ([]*round.Aggregation, error) {
	res := []*round.Aggregation{}

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(roundPrefix + "_")

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()

			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			agg := new(round.Aggregation)
			if err := agg.Unmarshal(val); err != nil {
				return errors.Wrapf(err, "decoding %s", item.Key())
			}

			r, err := roundFromKey(item.Key())
			if err != nil {
				return err
			}
			if agg.Header == nil || r != agg.Round() {
				return fmt.Errorf("aggregation stored under %s does not match its round", item.Key())
			}

			res = append(res, agg)
		}

		return nil
	})

	return res, err
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}

func mapError(err error, name, key string) error {
	if err != nil {
		if isDBKeyNotFound(err) {
			return common.NewStoreErr(name, common.KeyNotFound, key)
		}
	}
	return err
}

// roundFromKey parses the round number of a round key.
func roundFromKey(key []byte) (uint64, error) {
	if len(key) <= len(roundPrefix)+1 {
		return 0, fmt.Errorf("invalid round key %q", key)
	}
	return strconv.ParseUint(string(key[len(roundPrefix)+1:]), 10, 64)
}
