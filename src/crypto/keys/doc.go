// Package keys implements the secp256k1 keys used by validators to sign
// blocks, round headers and randomness proofs.
//
// Signatures are produced with btcsuite's btcec, which derives nonces
// deterministically (RFC6979). Signing the same message twice with the same
// key yields the same signature, a property the randomness beacon relies on.
package keys
