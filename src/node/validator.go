package node

import (
	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/roundchain/src/crypto/keys"
)

//Validator struct holds information about the validator for a node
type Validator struct {
	Key     *btcec.PrivateKey
	Moniker string

	pubBytes []byte
	pubHex   string
}

//NewValidator is a factory method for a Validator
func NewValidator(key *btcec.PrivateKey, moniker string) *Validator {
	v := &Validator{
		Key:     key,
		Moniker: moniker,
	}
	v.PublicKeyBytes()
	v.PublicKeyHex()
	return v
}

//ID returns the identifier under which the validator signs blocks and round
//headers: the hex encoding of its public key.
func (v *Validator) ID() string {
	return v.PublicKeyHex()
}

//PublicKeyBytes returns the validator's public key as a byte array
func (v *Validator) PublicKeyBytes() []byte {
	if len(v.pubBytes) == 0 {
		v.pubBytes = keys.FromPublicKey(v.Key.PubKey())
	}
	return v.pubBytes
}

//PublicKeyHex returns the validator's public key as a hex string
func (v *Validator) PublicKeyHex() string {
	if len(v.pubHex) == 0 {
		v.pubHex = keys.PublicKeyHex(v.Key.PubKey())
	}
	return v.pubHex
}
