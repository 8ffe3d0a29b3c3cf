package keys

import (
	"github.com/btcsuite/btcd/btcec"
)

// Sign signs hash with priv and returns the DER-encoded signature. Nonces are
// derived per RFC6979, so the output is deterministic.
func Sign(priv *btcec.PrivateKey, hash []byte) ([]byte, error) {
	sig, err := priv.Sign(hash)
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// Verify checks a DER-encoded signature of hash against pub.
func Verify(pub *btcec.PublicKey, hash []byte, sig []byte) bool {
	if pub == nil || len(sig) == 0 {
		return false
	}
	parsed, err := btcec.ParseDERSignature(sig, Curve())
	if err != nil {
		return false
	}
	return parsed.Verify(hash, pub)
}

// VerifyHex is Verify with the public key given as produced by PublicKeyHex.
func VerifyHex(pubHex string, hash []byte, sig []byte) bool {
	pub, err := ParsePublicKeyHex(pubHex)
	if err != nil {
		return false
	}
	return Verify(pub, hash, sig)
}
