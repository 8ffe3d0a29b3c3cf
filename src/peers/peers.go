package peers

import (
	"sort"
	"sync"
	"time"
)

// Peers is a registry of peers keyed by public key. Returned peers are
// copies; updates go through the registry methods.
type Peers struct {
	sync.RWMutex

	byPubKey map[string]*Peer
	sorted   []string
}

// NewPeers ...
func NewPeers() *Peers {
	return &Peers{
		byPubKey: make(map[string]*Peer),
	}
}

// NewPeersFromSlice ...
func NewPeersFromSlice(source []*Peer) *Peers {
	peers := NewPeers()

	for _, peer := range source {
		peers.addPeerRaw(peer)
	}

	peers.internalSort()

	return peers
}

// Add a peer without sorting the set. Not protected by the mutex.
func (p *Peers) addPeerRaw(peer *Peer) {
	cp := *peer
	p.byPubKey[peer.PubKeyHex] = &cp
}

func (p *Peers) internalSort() {
	res := make([]string, 0, len(p.byPubKey))
	for k := range p.byPubKey {
		res = append(res, k)
	}
	sort.Strings(res)
	p.sorted = res
}

// AddPeer inserts or replaces a peer.
func (p *Peers) AddPeer(peer *Peer) {
	p.Lock()
	defer p.Unlock()

	p.addPeerRaw(peer)
	p.internalSort()
}

// RemovePeer removes the peer with the given public key, if present.
func (p *Peers) RemovePeer(pubKeyHex string) bool {
	p.Lock()
	defer p.Unlock()

	if _, ok := p.byPubKey[pubKeyHex]; !ok {
		return false
	}

	delete(p.byPubKey, pubKeyHex)
	p.internalSort()

	return true
}

// Get ...
func (p *Peers) Get(pubKeyHex string) (Peer, bool) {
	p.RLock()
	defer p.RUnlock()

	peer, ok := p.byPubKey[pubKeyHex]
	if !ok {
		return Peer{}, false
	}
	return *peer, true
}

// SetOnline updates the reachability of a peer.
func (p *Peers) SetOnline(pubKeyHex string, online bool) {
	p.Lock()
	defer p.Unlock()

	peer, ok := p.byPubKey[pubKeyHex]
	if !ok {
		return
	}

	peer.Online = online
	if online {
		peer.Failures = 0
		peer.LastSeen = time.Now()
	} else {
		peer.Failures++
	}
}

// UpdateLatency records a successful exchange with a peer and its round-trip
// time.
func (p *Peers) UpdateLatency(pubKeyHex string, latency time.Duration) {
	p.Lock()
	defer p.Unlock()

	peer, ok := p.byPubKey[pubKeyHex]
	if !ok {
		return
	}

	peer.Latency = latency
	peer.Online = true
	peer.Failures = 0
	peer.LastSeen = time.Now()
}

// ToPeerSlice returns copies of all peers, sorted by public key.
func (p *Peers) ToPeerSlice() []*Peer {
	p.RLock()
	defer p.RUnlock()

	return p.filter(func(*Peer) bool { return true })
}

// Online returns copies of the online peers, sorted by public key.
func (p *Peers) Online() []*Peer {
	p.RLock()
	defer p.RUnlock()

	return p.filter(func(peer *Peer) bool { return peer.Online })
}

func (p *Peers) filter(keep func(*Peer) bool) []*Peer {
	res := []*Peer{}
	for _, k := range p.sorted {
		peer := p.byPubKey[k]
		if keep(peer) {
			cp := *peer
			res = append(res, &cp)
		}
	}
	return res
}

// ToPubKeySlice ...
func (p *Peers) ToPubKeySlice() []string {
	p.RLock()
	defer p.RUnlock()

	res := make([]string, len(p.sorted))
	copy(res, p.sorted)
	return res
}

// Len ...
func (p *Peers) Len() int {
	p.RLock()
	defer p.RUnlock()

	return len(p.byPubKey)
}

// OnlineCount ...
func (p *Peers) OnlineCount() int {
	p.RLock()
	defer p.RUnlock()

	n := 0
	for _, peer := range p.byPubKey {
		if peer.Online {
			n++
		}
	}
	return n
}
