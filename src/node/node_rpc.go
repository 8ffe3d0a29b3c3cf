package node

import (
	"fmt"

	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/net"
	"github.com/sirupsen/logrus"
)

func (n *Node) processRPC(rpc net.RPC) {
	if n.getState() == Shutdown {
		rpc.Respond(nil, common.NewErr(common.Network, "node", "node is shutting down"))
		return
	}

	switch cmd := rpc.Command.(type) {
	case *net.PushAggregationRequest:
		n.heard(cmd.FromID, cmd.TimeNs)
		n.processPushAggregationRequest(rpc, cmd)
	case *net.PushHeaderRequest:
		n.heard(cmd.FromID, cmd.TimeNs)
		n.processPushHeaderRequest(rpc, cmd)
	case *net.FetchRoundRequest:
		n.heard(cmd.FromID, cmd.TimeNs)
		n.processFetchRoundRequest(rpc, cmd)
	case *net.PushBlockRequest:
		n.heard(cmd.FromID, cmd.TimeNs)
		n.processPushBlockRequest(rpc, cmd)
	case *net.PushProofRequest:
		n.heard(cmd.FromID, cmd.TimeNs)
		n.processPushProofRequest(rpc, cmd)
	default:
		n.logger.WithField("cmd", rpc.Command).Error("Unexpected RPC command")
		rpc.Respond(nil, fmt.Errorf("unexpected command"))
	}
}

// heard marks a registered sender online and records its clock. Requests
// from unregistered senders leave network time untouched.
func (n *Node) heard(fromID string, timeNs int64) {
	if _, ok := n.broadcaster.Peers().Get(fromID); !ok {
		return
	}
	n.broadcaster.UpdatePeerStatus(fromID, true)
	n.core.AddTimeSample(fromID, timeNs)
}

func (n *Node) processPushAggregationRequest(rpc net.RPC, cmd *net.PushAggregationRequest) {
	resp := &net.PushAggregationResponse{
		FromID: n.validator.ID(),
	}

	outcome, err := n.core.AcceptAggregation(cmd.Aggregation, n.validators())
	if err != nil {
		n.logger.WithError(err).WithField("from_id", cmd.FromID).Warn("Aggregation rejected")
		rpc.Respond(resp, nil)
		return
	}

	// only rounds we just adopted are relayed to peers that fetch them
	if outcome == Adopted {
		n.broadcaster.AddPending(cmd.Aggregation)
	}
	resp.Accepted = outcome.Accepted()

	n.logger.WithFields(logrus.Fields{
		"from_id": cmd.FromID,
		"round":   cmd.Aggregation.Round(),
		"outcome": outcome,
	}).Debug("process PushAggregationRequest")

	rpc.Respond(resp, nil)
}

func (n *Node) processPushHeaderRequest(rpc net.RPC, cmd *net.PushHeaderRequest) {
	resp := &net.PushHeaderResponse{
		FromID: n.validator.ID(),
	}

	err := n.core.RecordHeader(cmd.Header, n.validators())
	if err != nil {
		n.logger.WithError(err).WithField("from_id", cmd.FromID).Warn("Header rejected")
	}
	resp.Accepted = err == nil

	rpc.Respond(resp, nil)
}

func (n *Node) processFetchRoundRequest(rpc net.RPC, cmd *net.FetchRoundRequest) {
	resp := &net.FetchRoundResponse{
		FromID: n.validator.ID(),
	}

	if agg, ok := n.broadcaster.HandleFetch(cmd.Round); ok {
		resp.Found = true
		resp.Aggregation = agg
	} else if agg, err := n.core.GetAggregation(cmd.Round); err == nil {
		resp.Found = true
		resp.Aggregation = agg
	}

	n.logger.WithFields(logrus.Fields{
		"from_id": cmd.FromID,
		"round":   cmd.Round,
		"found":   resp.Found,
	}).Debug("process FetchRoundRequest")

	rpc.Respond(resp, nil)
}

func (n *Node) processPushBlockRequest(rpc net.RPC, cmd *net.PushBlockRequest) {
	resp := &net.PushBlockResponse{
		FromID: n.validator.ID(),
	}

	var respErr error

	if cmd.Block == nil {
		respErr = common.NewErr(common.Validation, "node", "nil block")
	} else if n.core.HasBlock(cmd.Block.Hash()) {
		resp.Accepted = true
	} else if _, err := n.core.AddBlock(cmd.Block); err != nil {
		n.logger.WithError(err).WithField("from_id", cmd.FromID).Warn("Block rejected")
	} else {
		resp.Accepted = true
	}

	rpc.Respond(resp, respErr)
}

func (n *Node) processPushProofRequest(rpc net.RPC, cmd *net.PushProofRequest) {
	resp := &net.PushProofResponse{
		FromID: n.validator.ID(),
	}

	var respErr error

	if cmd.Proof == nil {
		respErr = common.NewErr(common.Validation, "node", "nil proof")
	} else if err := n.core.AddBeaconProof(cmd.Proof); err != nil {
		n.logger.WithError(err).WithField("from_id", cmd.FromID).Debug("Beacon proof rejected")
	} else {
		resp.Accepted = true
	}

	rpc.Respond(resp, respErr)
}
