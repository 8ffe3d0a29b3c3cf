package net

import (
	"github.com/mosaicnetworks/roundchain/src/dag"
	"github.com/mosaicnetworks/roundchain/src/randomness"
	"github.com/mosaicnetworks/roundchain/src/round"
)

// PushAggregationRequest corresponds to the push part of the push-pull
// dissemination protocol. It carries a complete round aggregation. Every
// request also carries the sender's clock, which the receiver records as a
// time sample.
type PushAggregationRequest struct {
	FromID      string
	TimeNs      int64
	Aggregation *round.Aggregation
}

// PushAggregationResponse indicates whether the aggregation was accepted.
type PushAggregationResponse struct {
	FromID   string
	Accepted bool
}

// PushHeaderRequest carries a round header only, for consumers that need
// freshness but not inclusion proofs.
type PushHeaderRequest struct {
	FromID string
	TimeNs int64
	Header *round.Header
}

// PushHeaderResponse ...
type PushHeaderResponse struct {
	FromID   string
	Accepted bool
}

// FetchRoundRequest corresponds to the pull part of the protocol. It is used
// to retrieve a round aggregation that was not received by push.
type FetchRoundRequest struct {
	FromID string
	TimeNs int64
	Round  uint64
}

// FetchRoundResponse returns the requested aggregation, if the responder
// holds it.
type FetchRoundResponse struct {
	FromID      string
	Found       bool
	Aggregation *round.Aggregation
}

// PushBlockRequest relays a block accepted by the sender's DAG so that every
// validator buffers the same blocks for a round.
type PushBlockRequest struct {
	FromID string
	TimeNs int64
	Block  *dag.Block
}

// PushBlockResponse ...
type PushBlockResponse struct {
	FromID   string
	Accepted bool
}

// PushProofRequest carries the sender's VRF proof for a round beacon.
type PushProofRequest struct {
	FromID string
	TimeNs int64
	Proof  *randomness.VRFProof
}

// PushProofResponse ...
type PushProofResponse struct {
	FromID   string
	Accepted bool
}
