package crypto

import (
	sha256 "github.com/minio/sha256-simd"

	"github.com/mosaicnetworks/roundchain/src/common"
)

// SHA256 returns the SHA256 hash of the data.
func SHA256(data []byte) common.Hash {
	return common.Hash(sha256.Sum256(data))
}

// SHA256Parts hashes the concatenation of parts without allocating the joined
// slice.
func SHA256Parts(parts ...[]byte) common.Hash {
	hasher := sha256.New()
	for _, p := range parts {
		hasher.Write(p)
	}
	var h common.Hash
	copy(h[:], hasher.Sum(nil))
	return h
}

// SimpleHashFromTwoHashes returns the SHA256 hash of the concatenation of left
// and right.
func SimpleHashFromTwoHashes(left, right common.Hash) common.Hash {
	return SHA256Parts(left[:], right[:])
}
