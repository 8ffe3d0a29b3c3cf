// Package peers defines the concept of a roundchain peer and implements
// functions to manage collections of peers.
//
// A peer is identified by the hex encoding of its public key, which doubles
// as its validator id in blocks and round headers, and optionally a moniker
// which is a non-unique user-friendly name. A peer also specifies the address
// where it can be reached by other peers.
//
// The registry tracks, for every peer, whether it is currently reachable and
// the latency of the last successful exchange. The broadcaster only pushes
// round aggregations to online peers, and marks a peer offline when every
// attempt to reach it fails.
//
// Upon starting up, a node expects to find a peers.json file in its data
// directory, listing the peers it should connect to. The same list is the
// validator set authorized to contribute blocks to a round.
package peers
