package common

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HashLength is the width in bytes of every content hash.
const HashLength = 32

// Hash is a SHA-256 digest identifying a block, transaction, or round.
type Hash [HashLength]byte

// ZeroHash is the all-zero Hash.
var ZeroHash Hash

// BytesToHash copies b into a Hash. It panics if b is not HashLength bytes
// long.
func BytesToHash(b []byte) Hash {
	if len(b) != HashLength {
		panic(fmt.Sprintf("hash length %d != %d", len(b), HashLength))
	}
	var h Hash
	copy(h[:], b)
	return h
}

// ParseHash decodes a hex string, with or without a 0x prefix, into a Hash.
// Malformed encodings and wrong lengths are Validation errors.
func ParseHash(s string) (Hash, error) {
	var h Hash

	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")

	if len(s) != 2*HashLength {
		return h, NewErr(Validation, "hash",
			fmt.Sprintf("expected %d hex characters, got %d", 2*HashLength, len(s)))
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return h, NewErr(Validation, "hash", err.Error())
	}

	copy(h[:], b)
	return h, nil
}

// Hex returns the lowercase hex encoding of h.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// String implements fmt.Stringer.
func (h Hash) String() string {
	return h.Hex()
}

// Short returns the first 8 hex characters, for logs.
func (h Hash) Short() string {
	return h.Hex()[:8]
}

// Bytes returns a copy of h as a slice.
func (h Hash) Bytes() []byte {
	b := make([]byte, HashLength)
	copy(b, h[:])
	return b
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// MarshalText encodes h as hex so that JSON payloads stay readable.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText decodes a hex string produced by MarshalText.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
