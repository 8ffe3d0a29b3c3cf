package keys

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec"
)

// FromPublicKey returns the compressed form of a public key.
func FromPublicKey(pub *btcec.PublicKey) []byte {
	if pub == nil {
		return nil
	}
	return pub.SerializeCompressed()
}

// ToPublicKey parses a compressed or uncompressed public key.
func ToPublicKey(pub []byte) (*btcec.PublicKey, error) {
	if len(pub) == 0 {
		return nil, fmt.Errorf("empty public key")
	}
	return btcec.ParsePubKey(pub, Curve())
}

// PublicKeyHex returns the 0X-prefixed uppercase hex of the compressed public
// key. Validators are identified by this string.
func PublicKeyHex(pub *btcec.PublicKey) string {
	return fmt.Sprintf("0X%X", FromPublicKey(pub))
}

// ParsePublicKeyHex is the inverse of PublicKeyHex. The prefix is optional.
func ParsePublicKeyHex(s string) (*btcec.PublicKey, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0X"), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return ToPublicKey(raw)
}
