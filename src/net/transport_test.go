package net

import (
	"errors"
	"testing"
	"time"

	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/crypto"
	"github.com/mosaicnetworks/roundchain/src/crypto/keys"
	"github.com/mosaicnetworks/roundchain/src/dag"
	"github.com/mosaicnetworks/roundchain/src/randomness"
	"github.com/mosaicnetworks/roundchain/src/round"
	"github.com/mosaicnetworks/roundchain/src/timing"
)

const (
	INMEM = iota
	TCP
	numTestTransports // NOTE: must be last
)

func NewTestTransport(ttype int, addr string, t *testing.T) Transport {
	switch ttype {
	case INMEM:
		// in-memory addresses are random ids
		_, it := NewInmemTransport("")
		return it
	case TCP:
		tt, err := NewTCPTransport(addr, "", 2, time.Second, common.NewTestEntry(t, "net"))
		if err != nil {
			t.Fatal(err)
		}
		go tt.Listen()
		return tt
	default:
		panic("Unknown transport type")
	}
}

// connect links two in-memory transports; other transports need nothing.
func connect(trans1, trans2 Transport) {
	it1, ok1 := trans1.(*InmemTransport)
	it2, ok2 := trans2.(*InmemTransport)
	if ok1 && ok2 {
		it1.Connect(it2.LocalAddr(), it2)
		it2.Connect(it1.LocalAddr(), it1)
	}
}

func testAggregation() *round.Aggregation {
	hashes := []common.Hash{
		crypto.SHA256([]byte("tx1")),
		crypto.SHA256([]byte("tx2")),
		crypto.SHA256([]byte("tx3")),
	}
	tree := round.NewMerkleTree(hashes)
	header := round.NewHeader(7, tree.Root, crypto.SHA256([]byte("state")), 1234, "validator")
	proof := &round.Proof{Data: []byte("proof"), Size: 5, Round: 7, TxCount: 3}

	return &round.Aggregation{
		Header:   header,
		Proof:    proof,
		TxHashes: hashes,
		Tree:     tree,
	}
}

func TestTransport_StartStop(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans := NewTestTransport(ttype, "127.0.0.1:0", t)
		if err := trans.Close(); err != nil {
			t.Fatalf("err: %v", err)
		}
	}
}

func TestTransport_PushAggregation(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans1.Close()
		rpcCh := trans1.Consumer()

		agg := testAggregation()
		args := PushAggregationRequest{
			FromID:      "node2",
			TimeNs:      42,
			Aggregation: agg,
		}
		resp := PushAggregationResponse{
			FromID:   "node1",
			Accepted: true,
		}

		// Listen for a request
		errCh := make(chan error, 1)
		go func() {
			select {
			case rpc := <-rpcCh:
				req, ok := rpc.Command.(*PushAggregationRequest)
				switch {
				case !ok:
					errCh <- errors.New("unexpected command type")
				case req.FromID != args.FromID || req.TimeNs != args.TimeNs:
					errCh <- errors.New("command mismatch")
				case req.Aggregation.Header.Hash != agg.Header.Hash ||
					req.Aggregation.Tree.Root != agg.Tree.Root ||
					len(req.Aggregation.TxHashes) != len(agg.TxHashes):
					errCh <- errors.New("aggregation mismatch")
				default:
					errCh <- nil
				}
				rpc.Respond(&resp, nil)

			case <-time.After(time.Second):
				errCh <- errors.New("timeout")
			}
		}()

		// Transport 2 makes outbound request
		trans2 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans2.Close()
		connect(trans1, trans2)

		var out PushAggregationResponse
		if err := trans2.PushAggregation(trans1.LocalAddr(), &args, &out); err != nil {
			t.Fatalf("err: %v", err)
		}

		if err := <-errCh; err != nil {
			t.Fatalf("transport %d: %v", ttype, err)
		}

		// Verify the response
		if out != resp {
			t.Fatalf("response mismatch: %#v %#v", resp, out)
		}
	}
}

func TestTransport_PushHeader(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans1.Close()
		rpcCh := trans1.Consumer()

		header := testAggregation().Header
		args := PushHeaderRequest{
			FromID: "node2",
			Header: header,
		}

		go func() {
			select {
			case rpc := <-rpcCh:
				req := rpc.Command.(*PushHeaderRequest)
				rpc.Respond(&PushHeaderResponse{
					FromID:   "node1",
					Accepted: req.Header.Round == header.Round,
				}, nil)
			case <-time.After(time.Second):
			}
		}()

		trans2 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans2.Close()
		connect(trans1, trans2)

		var out PushHeaderResponse
		if err := trans2.PushHeader(trans1.LocalAddr(), &args, &out); err != nil {
			t.Fatalf("err: %v", err)
		}
		if !out.Accepted {
			t.Fatalf("transport %d: header should be accepted", ttype)
		}
	}
}

func TestTransport_FetchRound(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans1.Close()
		rpcCh := trans1.Consumer()

		agg := testAggregation()

		go func() {
			for i := 0; i < 2; i++ {
				select {
				case rpc := <-rpcCh:
					req := rpc.Command.(*FetchRoundRequest)
					if req.Round == agg.Round() {
						rpc.Respond(&FetchRoundResponse{FromID: "node1", Found: true, Aggregation: agg}, nil)
					} else {
						rpc.Respond(nil, errors.New("round not found"))
					}
				case <-time.After(time.Second):
					return
				}
			}
		}()

		trans2 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans2.Close()
		connect(trans1, trans2)

		var out FetchRoundResponse
		if err := trans2.FetchRound(trans1.LocalAddr(), &FetchRoundRequest{FromID: "node2", Round: 7}, &out); err != nil {
			t.Fatalf("err: %v", err)
		}
		if !out.Found || out.Aggregation.Header.MerkleRoot != agg.Header.MerkleRoot {
			t.Fatalf("transport %d: unexpected response %#v", ttype, out)
		}

		var missing FetchRoundResponse
		err := trans2.FetchRound(trans1.LocalAddr(), &FetchRoundRequest{FromID: "node2", Round: 8}, &missing)
		if err == nil || err.Error() != "round not found" {
			t.Fatalf("transport %d: expected remote error, got %v", ttype, err)
		}
	}
}

func TestTransport_PushBlockAndProof(t *testing.T) {
	key, err := keys.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	c := timing.Commitment{TimestampNs: 1000, Source: "validator", Round: 7}
	txs := []*dag.Transaction{dag.NewPayment("alice", "bob", 10, 1, 1, c)}
	block := dag.NewBlock(7, 0, "validator", nil, txs, c)

	proof, err := randomness.NewVRFProof(key, "message", 7, "validator", 1000)
	if err != nil {
		t.Fatal(err)
	}

	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans1.Close()
		rpcCh := trans1.Consumer()

		go func() {
			for i := 0; i < 2; i++ {
				select {
				case rpc := <-rpcCh:
					switch cmd := rpc.Command.(type) {
					case *PushBlockRequest:
						ok := cmd.Block.ComputeHash() == block.Hash()
						rpc.Respond(&PushBlockResponse{FromID: "node1", Accepted: ok}, nil)
					case *PushProofRequest:
						ok := cmd.Proof.Verify() == nil
						rpc.Respond(&PushProofResponse{FromID: "node1", Accepted: ok}, nil)
					default:
						rpc.Respond(nil, errors.New("unexpected command"))
					}
				case <-time.After(time.Second):
					return
				}
			}
		}()

		trans2 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans2.Close()
		connect(trans1, trans2)

		var blockResp PushBlockResponse
		if err := trans2.PushBlock(trans1.LocalAddr(), &PushBlockRequest{FromID: "node2", TimeNs: 1, Block: block}, &blockResp); err != nil {
			t.Fatalf("err: %v", err)
		}
		if !blockResp.Accepted {
			t.Fatalf("transport %d: block should survive the trip", ttype)
		}

		var proofResp PushProofResponse
		if err := trans2.PushProof(trans1.LocalAddr(), &PushProofRequest{FromID: "node2", TimeNs: 1, Proof: proof}, &proofResp); err != nil {
			t.Fatalf("err: %v", err)
		}
		if !proofResp.Accepted {
			t.Fatalf("transport %d: proof should survive the trip", ttype)
		}
	}
}

func TestInmemTransport_Unreachable(t *testing.T) {
	_, trans := NewInmemTransport("")
	var out FetchRoundResponse
	if err := trans.FetchRound("nowhere", &FetchRoundRequest{Round: 1}, &out); err == nil {
		t.Fatal("request to an unknown peer should fail")
	}
}
