package peers

import (
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/roundchain/src/crypto/keys"
)

// Peer is a remote node. It is identified by the hex encoding of its public
// key, which is also its validator id.
type Peer struct {
	PubKeyHex string
	NetAddr   string
	Moniker   string

	Online   bool          `json:"-"`
	Latency  time.Duration `json:"-"`
	LastSeen time.Time     `json:"-"`
	Failures int           `json:"-"`
}

// NewPeer creates a Peer that is considered online until a delivery to it
// fails.
func NewPeer(pubKeyHex, netAddr, moniker string) *Peer {
	return &Peer{
		PubKeyHex: pubKeyHex,
		NetAddr:   netAddr,
		Moniker:   moniker,
		Online:    true,
	}
}

// ID ...
func (p *Peer) ID() string {
	return p.PubKeyHex
}

// PubKey parses the public key of the peer.
func (p *Peer) PubKey() (*btcec.PublicKey, error) {
	return keys.ParsePublicKeyHex(p.PubKeyHex)
}

// ExcludePeer is used to exclude a single peer from a list of peers.
func ExcludePeer(peers []*Peer, pubKeyHex string) (int, []*Peer) {
	index := -1
	otherPeers := make([]*Peer, 0, len(peers))
	for i, p := range peers {
		if p.PubKeyHex != pubKeyHex {
			otherPeers = append(otherPeers, p)
		} else {
			index = i
		}
	}
	return index, otherPeers
}
