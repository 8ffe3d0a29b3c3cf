package verifier

import (
	"testing"

	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/crypto"
	"github.com/mosaicnetworks/roundchain/src/round"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func txHashes(r uint64, n int) []common.Hash {
	hashes := make([]common.Hash, n)
	for i := range hashes {
		hashes[i] = crypto.SHA256([]byte{'t', 'x', byte(r), byte(i)})
	}
	return hashes
}

func testAggregation(r uint64, hashes []common.Hash, ts int64) *round.Aggregation {
	tree := round.NewMerkleTree(hashes)
	header := round.NewHeader(r, tree.Root, crypto.SHA256([]byte("state")), ts, "validator")

	return &round.Aggregation{
		Header:   header,
		Proof:    &round.Proof{Data: []byte("proof"), Size: 5, Round: r, TxCount: uint32(len(hashes))},
		TxHashes: hashes,
		Tree:     tree,
	}
}

func newTestVerifier(t *testing.T, conf *Config) *Verifier {
	prover := round.NewPlaceholderProver(nil, common.NewTestEntry(t, "prover"))
	v, err := NewVerifier(conf, prover, common.NewTestEntry(t, "verifier"))
	require.NoError(t, err)
	return v
}

func TestVerifyIncluded(t *testing.T) {
	v := newTestVerifier(t, nil)

	hashes := txHashes(1, 5)
	agg := testAggregation(1, hashes, 5000)
	v.AddAggregation(agg)

	for i, h := range hashes {
		res, err := v.VerifyTransaction(h)
		require.NoError(t, err)

		assert.True(t, res.Included)
		assert.Equal(t, uint64(1), res.Round)
		assert.Equal(t, int64(5000), res.TimestampNs)
		assert.Equal(t, i, res.LeafIndex)
		require.NotNil(t, res.ProofReference)
		assert.Equal(t, agg.Proof.Reference(), *res.ProofReference)
		assert.True(t, round.VerifyInclusionProof(agg.Header.MerkleRoot, h, res.MerkleProof, i))
	}

	assert.Equal(t, len(hashes), v.CacheStats().Size)
}

func TestVerifyAbsentNotCached(t *testing.T) {
	v := newTestVerifier(t, nil)
	v.AddAggregation(testAggregation(1, txHashes(1, 3), 5000))

	missing := crypto.SHA256([]byte("missing"))

	res, err := v.VerifyTransaction(missing)
	require.NoError(t, err)
	assert.False(t, res.Included)
	assert.Nil(t, res.MerkleProof)
	assert.Equal(t, 0, v.CacheStats().Size)

	// the transaction shows up in a later round
	later := append(txHashes(2, 2), missing)
	v.AddAggregation(testAggregation(2, later, 6000))

	res, err = v.VerifyTransaction(missing)
	require.NoError(t, err)
	assert.True(t, res.Included)
	assert.Equal(t, uint64(2), res.Round)
}

func TestVerifyCacheHits(t *testing.T) {
	v := newTestVerifier(t, nil)
	hashes := txHashes(1, 2)
	v.AddAggregation(testAggregation(1, hashes, 5000))

	first, err := v.VerifyTransaction(hashes[0])
	require.NoError(t, err)
	second, err := v.VerifyTransaction(hashes[0])
	require.NoError(t, err)

	assert.Equal(t, first, second)

	stats := v.CacheStats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Rounds)

	s, ok := v.Stat(hashes[0])
	require.True(t, ok)
	assert.Equal(t, MethodCached, s.Method)
	assert.True(t, s.Success)

	v.ClearCache()
	stats = v.CacheStats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, uint64(0), stats.Hits)
}

func TestVerifyCacheEvictsOldest(t *testing.T) {
	conf := DefaultConfig()
	conf.CacheSize = 2
	v := newTestVerifier(t, conf)

	hashes := txHashes(1, 3)
	v.AddAggregation(testAggregation(1, hashes, 5000))

	// reading the first entry again must not protect it from eviction
	for _, h := range []common.Hash{hashes[0], hashes[1], hashes[0], hashes[2]} {
		_, err := v.VerifyTransaction(h)
		require.NoError(t, err)
	}

	stats := v.CacheStats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, 2, stats.Capacity)
	assert.Equal(t, uint64(1), stats.Hits)

	_, err := v.VerifyTransaction(hashes[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v.CacheStats().Hits, "oldest entry should have been evicted")
}

func TestReplacedRoundDropsCachedAnswers(t *testing.T) {
	v := newTestVerifier(t, nil)

	hashes := txHashes(7, 2)
	v.AddAggregation(testAggregation(7, hashes, 5000))
	v.AddAggregation(testAggregation(8, txHashes(8, 1), 6000))

	for _, h := range append(hashes, txHashes(8, 1)...) {
		res, err := v.VerifyTransaction(h)
		require.NoError(t, err)
		require.True(t, res.Included)
	}
	require.Equal(t, 3, v.CacheStats().Size)

	// round 7 is replaced by an aggregation without hashes[0]
	replacement := testAggregation(7, hashes[1:], 5500)
	v.AddAggregation(replacement)

	// only the answers of round 7 are dropped
	assert.Equal(t, 1, v.CacheStats().Size)

	res, err := v.VerifyTransaction(hashes[0])
	require.NoError(t, err)
	assert.False(t, res.Included)

	res, err = v.VerifyTransaction(hashes[1])
	require.NoError(t, err)
	require.True(t, res.Included)
	assert.Equal(t, int64(5500), res.TimestampNs)
	assert.True(t, round.VerifyInclusionProof(replacement.Header.MerkleRoot, hashes[1], res.MerkleProof, res.LeafIndex))
}

func TestVerifyRejectsBadRound(t *testing.T) {
	v := newTestVerifier(t, nil)

	badProof := testAggregation(1, txHashes(1, 3), 5000)
	badProof.Proof.Round = 9
	v.AddAggregation(badProof)

	noTime := testAggregation(2, txHashes(2, 3), 0)
	v.AddAggregation(noTime)

	_, err := v.VerifyTransaction(badProof.TxHashes[0])
	assert.True(t, common.IsKind(err, common.Validation), "got %v", err)

	_, err = v.VerifyTransaction(noTime.TxHashes[1])
	assert.True(t, common.IsKind(err, common.Timing), "got %v", err)

	assert.Equal(t, 0, v.CacheStats().Size)

	s, ok := v.Stat(noTime.TxHashes[1])
	require.True(t, ok)
	assert.False(t, s.Success)
	assert.NotEmpty(t, s.Error)
}

func TestVerifyBatch(t *testing.T) {
	v := newTestVerifier(t, nil)

	good := testAggregation(1, txHashes(1, 2), 5000)
	bad := testAggregation(2, txHashes(2, 2), 5000)
	bad.Proof.Data = nil
	v.AddAggregation(good)
	v.AddAggregation(bad)

	batch := []common.Hash{
		good.TxHashes[0],
		bad.TxHashes[0],
		crypto.SHA256([]byte("missing")),
		good.TxHashes[1],
	}

	res := v.VerifyBatch(batch)
	require.Len(t, res, len(batch))

	for i, want := range []bool{true, false, false, true} {
		assert.Equal(t, batch[i], res[i].TxHash)
		assert.Equal(t, want, res[i].Included, "entry %d", i)
	}
}

func TestVerifyHex(t *testing.T) {
	v := newTestVerifier(t, nil)
	hashes := txHashes(3, 4)
	v.AddAggregation(testAggregation(3, hashes, 7000))

	res, err := v.VerifyHex(hashes[2].Hex())
	require.NoError(t, err)
	assert.True(t, res.Included)
	assert.Equal(t, uint64(3), res.Round)

	for _, bad := range []string{"", "zz", "abcd", hashes[2].Hex() + "00"} {
		_, err := v.VerifyHex(bad)
		assert.True(t, common.IsKind(err, common.Validation), "%q: got %v", bad, err)
	}

	assert.Equal(t, uint64(1), v.CacheStats().Misses)
}

func TestVerifierDisabled(t *testing.T) {
	conf := DefaultConfig()
	conf.Enabled = false
	v := newTestVerifier(t, conf)

	hashes := txHashes(1, 1)
	v.AddAggregation(testAggregation(1, hashes, 5000))

	res, err := v.VerifyTransaction(hashes[0])
	require.NoError(t, err)
	assert.False(t, res.Included)
}
