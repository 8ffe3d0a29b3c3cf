package keys

import (
	"math/big"

	"github.com/btcsuite/btcd/btcec"
)

//Order of the secp256k1 group. Used to validate raw private keys.
var secp256k1N = btcec.S256().N

//Curve returns btcsuite's golang implementation of secp256k1.
func Curve() *btcec.KoblitzCurve {
	return btcec.S256()
}

func validScalar(d *big.Int) bool {
	return d.Sign() > 0 && d.Cmp(secp256k1N) < 0
}
