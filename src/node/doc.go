// Package node implements the reactive component of a roundchain node.
//
// A Node owns a Core, which holds the consensus components (time service,
// block DAG, round manager, prover, transaction verifier, randomness beacons
// and store), and a Broadcaster, which talks to the other validators over a
// net.Transport.
//
// Rounds
//
// Blocks submitted to a node are inserted in the DAG and buffered for the open
// round, then relayed to every peer so that all validators buffer the same
// blocks. A heartbeat driven by a ControlTimer checks the closing triggers of
// the open round: its duration or its block count. Closing a round orders the
// buffered blocks by commitment time, builds the Merkle tree and the state
// root, and asks the Prover for a proof. The resulting aggregation is stored,
// made available to inclusion queries, and pushed to every peer.
//
// Validators that hold the same blocks derive the same roots. An aggregation
// received for a round the node already closed is compared with its own; one
// received for a round it does not hold is checked and adopted.
//
// Push and pull
//
// Pushes are retried a bounded number of times per peer. A peer that missed a
// push pulls the round with a FetchRound request, which is answered from the
// recently pushed rounds first, then from the store.
//
// Time
//
// Every request carries the sender's clock. Samples are aggregated into the
// synthetic network time that bounds the drift of block and transaction
// commitments.
//
// Randomness
//
// Closing a round also produces a VRF proof over its Merkle root, which is
// added to the beacon of the round and pushed to peers. The beacon finalizes
// once it holds its quorum of proofs.
package node
