package verifier

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/round"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const (
	// MethodCached marks a result served from the cache.
	MethodCached = "cached"
	// MethodCombined marks a result computed from merkle, proof and
	// timestamp checks.
	MethodCombined = "combined"
)

// Config ...
type Config struct {
	Enabled   bool
	CacheSize int
	StatsTTL  time.Duration
}

// DefaultConfig ...
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		CacheSize: 10000,
		StatsTTL:  10 * time.Minute,
	}
}

// Verification is the answer to an inclusion query. Only Included is set for
// a transaction that no known round contains.
type Verification struct {
	TxHash         common.Hash
	Included       bool
	Round          uint64        `json:",omitempty"`
	TimestampNs    int64         `json:",omitempty"`
	LeafIndex      int           `json:",omitempty"`
	MerkleProof    []common.Hash `json:",omitempty"`
	ProofReference *common.Hash  `json:",omitempty"`
}

// Stat records one verification.
type Stat struct {
	TxHash    common.Hash
	Round     uint64
	ElapsedUs int64
	Success   bool
	Error     string `json:",omitempty"`
	Method    string
}

// CacheStats ...
type CacheStats struct {
	Size     int
	Capacity int
	Hits     uint64
	Misses   uint64
	Rounds   int
}

// Verifier answers inclusion queries against the aggregations it knows of.
type Verifier struct {
	conf   *Config
	prover round.Prover

	roundsLock sync.RWMutex
	rounds     map[uint64]*round.Aggregation

	// insertion ordered, entries are read with Peek so the oldest entry is
	// the one evicted
	cache *lru.Cache //tx hash => Verification

	counterLock sync.Mutex
	hits        uint64
	misses      uint64

	stats *cache.Cache //tx hex => Stat

	logger *logrus.Entry
}

// NewVerifier ...
func NewVerifier(conf *Config, prover round.Prover, logger *logrus.Entry) (*Verifier, error) {
	if conf == nil {
		conf = DefaultConfig()
	}

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	size := conf.CacheSize
	if size <= 0 {
		size = DefaultConfig().CacheSize
	}

	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}

	return &Verifier{
		conf:   conf,
		prover: prover,
		rounds: make(map[uint64]*round.Aggregation),
		cache:  c,
		stats:  cache.New(conf.StatsTTL, conf.StatsTTL),
		logger: logger,
	}, nil
}

// AddAggregation makes the transactions of a closed round verifiable. A later
// aggregation for the same round replaces the earlier one.
func (v *Verifier) AddAggregation(agg *round.Aggregation) {
	v.roundsLock.Lock()
	_, replaced := v.rounds[agg.Round()]
	v.rounds[agg.Round()] = agg
	v.roundsLock.Unlock()

	purged := 0
	if replaced {
		purged = v.purgeRound(agg.Round())
	}

	v.logger.WithFields(logrus.Fields{
		"round":  agg.Round(),
		"txs":    len(agg.TxHashes),
		"purged": purged,
	}).Debug("Aggregation added")
}

// purgeRound drops the cached answers that point into round r.
func (v *Verifier) purgeRound(r uint64) int {
	purged := 0
	for _, k := range v.cache.Keys() {
		cached, ok := v.cache.Peek(k)
		if !ok {
			continue
		}
		if cached.(Verification).Round == r {
			v.cache.Remove(k)
			purged++
		}
	}
	return purged
}

// HasRound ...
func (v *Verifier) HasRound(r uint64) bool {
	v.roundsLock.RLock()
	defer v.roundsLock.RUnlock()

	_, ok := v.rounds[r]
	return ok
}

// VerifyHex parses a hex encoded transaction hash and verifies it.
func (v *Verifier) VerifyHex(s string) (*Verification, error) {
	h, err := common.ParseHash(s)
	if err != nil {
		return nil, err
	}
	return v.VerifyTransaction(h)
}

// VerifyTransaction reports whether txHash is part of a known round. An
// error means the round containing txHash failed one of the checks.
func (v *Verifier) VerifyTransaction(txHash common.Hash) (*Verification, error) {
	if !v.conf.Enabled {
		return &Verification{TxHash: txHash}, nil
	}

	start := time.Now()

	if cached, ok := v.cache.Peek(txHash); ok {
		v.count(true)
		res := cached.(Verification)
		v.recordStat(res, start, nil, MethodCached)
		return &res, nil
	}
	v.count(false)

	agg := v.find(txHash)
	if agg == nil {
		res := Verification{TxHash: txHash}
		v.recordStat(res, start, nil, MethodCombined)
		return &res, nil
	}

	res, err := v.verifyInRound(txHash, agg)
	if err != nil {
		v.recordStat(Verification{TxHash: txHash, Round: agg.Round()}, start, err, MethodCombined)
		v.logger.WithError(err).WithField("tx", txHash.Short()).Warn("Verification failed")
		return nil, err
	}

	v.cache.ContainsOrAdd(txHash, *res)
	v.recordStat(*res, start, nil, MethodCombined)

	return res, nil
}

// VerifyBatch verifies every hash. A failed verification yields a negative
// entry at that position.
func (v *Verifier) VerifyBatch(hashes []common.Hash) []*Verification {
	res := make([]*Verification, len(hashes))
	for i, h := range hashes {
		ver, err := v.VerifyTransaction(h)
		if err != nil {
			ver = &Verification{TxHash: h}
		}
		res[i] = ver
	}
	return res
}

// find returns the earliest known round containing txHash.
func (v *Verifier) find(txHash common.Hash) *round.Aggregation {
	v.roundsLock.RLock()
	defer v.roundsLock.RUnlock()

	keys := make([]uint64, 0, len(v.rounds))
	for r := range v.rounds {
		keys = append(keys, r)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, r := range keys {
		agg := v.rounds[r]
		if agg.IndexOf(txHash) >= 0 {
			return agg
		}
	}
	return nil
}

func (v *Verifier) verifyInRound(txHash common.Hash, agg *round.Aggregation) (*Verification, error) {
	r := agg.Round()

	index := agg.IndexOf(txHash)
	if index < 0 {
		return nil, common.Errf(common.Validation, "verifier", "transaction not in round %d", r)
	}

	path, err := agg.Tree.InclusionProof(index)
	if err != nil {
		return nil, common.Errf(common.Validation, "verifier", "round %d: %v", r, err)
	}

	if !round.VerifyInclusionProof(agg.Header.MerkleRoot, txHash, path, index) {
		return nil, common.Errf(common.Validation, "verifier",
			"round %d: merkle inclusion proof failed", r)
	}

	if v.prover != nil && !v.prover.VerifyProof(agg.Proof, agg.Header) {
		return nil, common.Errf(common.Validation, "verifier", "round %d: proof rejected", r)
	}

	if agg.Header.TimestampNs == 0 {
		return nil, common.Errf(common.Timing, "verifier", "round %d: header has no timestamp", r)
	}

	ref := agg.Proof.Reference()

	return &Verification{
		TxHash:         txHash,
		Included:       true,
		Round:          r,
		TimestampNs:    agg.Header.TimestampNs,
		LeafIndex:      index,
		MerkleProof:    path,
		ProofReference: &ref,
	}, nil
}

func (v *Verifier) count(hit bool) {
	v.counterLock.Lock()
	defer v.counterLock.Unlock()

	if hit {
		v.hits++
	} else {
		v.misses++
	}
}

func (v *Verifier) recordStat(res Verification, start time.Time, err error, method string) {
	s := Stat{
		TxHash:    res.TxHash,
		Round:     res.Round,
		ElapsedUs: int64(time.Since(start) / time.Microsecond),
		Success:   err == nil && res.Included,
		Method:    method,
	}
	if err != nil {
		s.Error = err.Error()
	}
	v.stats.Set(res.TxHash.Hex(), s, cache.DefaultExpiration)
}

// Stat returns the last recorded verification of txHash, until it expires.
func (v *Verifier) Stat(txHash common.Hash) (Stat, bool) {
	s, ok := v.stats.Get(txHash.Hex())
	if !ok {
		return Stat{}, false
	}
	return s.(Stat), true
}

// Housekeep drops expired verification stats.
func (v *Verifier) Housekeep() {
	v.stats.DeleteExpired()
}

// ClearCache empties the result cache.
func (v *Verifier) ClearCache() {
	v.cache.Purge()

	v.counterLock.Lock()
	v.hits, v.misses = 0, 0
	v.counterLock.Unlock()
}

// CacheStats ...
func (v *Verifier) CacheStats() CacheStats {
	v.counterLock.Lock()
	hits, misses := v.hits, v.misses
	v.counterLock.Unlock()

	v.roundsLock.RLock()
	rounds := len(v.rounds)
	v.roundsLock.RUnlock()

	size := v.conf.CacheSize
	if size <= 0 {
		size = DefaultConfig().CacheSize
	}

	return CacheStats{
		Size:     v.cache.Len(),
		Capacity: size,
		Hits:     hits,
		Misses:   misses,
		Rounds:   rounds,
	}
}
