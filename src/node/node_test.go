package node

import (
	"fmt"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/crypto"
	"github.com/mosaicnetworks/roundchain/src/crypto/keys"
	"github.com/mosaicnetworks/roundchain/src/dag"
	"github.com/mosaicnetworks/roundchain/src/net"
	"github.com/mosaicnetworks/roundchain/src/peers"
	"github.com/mosaicnetworks/roundchain/src/round"
	"github.com/mosaicnetworks/roundchain/src/store"
)

type testNetwork struct {
	validators []*Validator
	addrs      []string
	trans      []*net.InmemTransport
	registries []*peers.Peers
}

// initNetwork prepares n validators on connected in-memory transports. Each
// registry holds every other validator.
func initNetwork(t *testing.T, n int) *testNetwork {
	tn := &testNetwork{}

	for i := 0; i < n; i++ {
		key, err := keys.GenerateKey()
		if err != nil {
			t.Fatal(err)
		}
		addr, trans := net.NewInmemTransport("")
		trans.SetTimeout(time.Second)

		tn.validators = append(tn.validators, NewValidator(key, fmt.Sprintf("node%d", i)))
		tn.addrs = append(tn.addrs, addr)
		tn.trans = append(tn.trans, trans)
		tn.registries = append(tn.registries, peers.NewPeers())
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			tn.trans[i].Connect(tn.addrs[j], tn.trans[j])
			tn.registries[i].AddPeer(peers.NewPeer(tn.validators[j].PublicKeyHex(),
				tn.addrs[j],
				tn.validators[j].Moniker))
		}
	}

	return tn
}

func (tn *testNetwork) node(t *testing.T, i int) *Node {
	conf := TestConfig(t)

	node, err := NewNode(conf,
		tn.validators[i],
		tn.registries[i],
		store.NewInmemStore(conf.CacheSize),
		tn.trans[i],
		nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := node.Init(); err != nil {
		t.Fatal(err)
	}

	return node
}

func testTxs(n *Node, count int) []*dag.Transaction {
	txs := make([]*dag.Transaction, count)
	for i := range txs {
		txs[i] = dag.NewPayment("alice", "bob", uint64(10+i), 1, uint64(i), n.Commitment())
	}
	return txs
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCloseRound(t *testing.T) {
	tn := initNetwork(t, 1)
	node := tn.node(t, 0)
	defer node.Shutdown()

	if node.GetState() != Running {
		t.Fatalf("node should be Running, not %s", node.GetState())
	}

	if err := node.CloseRound(); !common.IsKind(err, common.Proving) {
		t.Fatalf("closing an empty round should fail with a Proving error, got %v", err)
	}

	txs := testTxs(node, 3)
	if _, err := node.CreateBlock(txs); err != nil {
		t.Fatal(err)
	}

	if err := node.CloseRound(); err != nil {
		t.Fatal(err)
	}

	if r := node.core.CurrentRound(); r != 2 {
		t.Fatalf("current round should be 2, not %d", r)
	}

	agg, err := node.Round(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(agg.TxHashes) != 3 {
		t.Fatalf("round 1 should hold 3 transactions, not %d", len(agg.TxHashes))
	}
	if !agg.Header.VerifySignature() {
		t.Fatal("round header should be signed by the node")
	}

	for _, tx := range txs {
		v, err := node.VerifyTransaction(tx.Hash.Hex())
		if err != nil {
			t.Fatal(err)
		}
		if !v.Included || v.Round != 1 {
			t.Fatalf("transaction %s should be included in round 1: %#v", tx.Hash.Short(), v)
		}
	}

	if _, err := node.VerifyTransaction("not-hex"); !common.IsKind(err, common.Validation) {
		t.Fatalf("malformed hash should be a Validation error, got %v", err)
	}

	if _, ok := node.Randomness(1); !ok {
		t.Fatal("beacon of round 1 should be finalized")
	}

	stats := node.GetStats()
	if stats["rounds_closed"] != "1" || stats["last_round"] != "1" || stats["dag_blocks"] != "1" {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestBlockFromOtherRound(t *testing.T) {
	tn := initNetwork(t, 1)
	node := tn.node(t, 0)
	defer node.Shutdown()

	c := node.Commitment()
	c.Round = 5
	txs := []*dag.Transaction{dag.NewPayment("alice", "bob", 10, 1, 1, c)}
	b := dag.NewBlock(5, 0, node.ID(), nil, txs, c)

	if err := node.SubmitBlock(b); err != nil {
		t.Fatal(err)
	}

	if !node.core.HasBlock(b.Hash()) {
		t.Fatal("block should be in the DAG")
	}
	if n := node.core.rounds.BlockCount(); n != 0 {
		t.Fatalf("block of round 5 should not be buffered in round 1, buffer holds %d", n)
	}

	if err := node.SubmitBlock(b); !common.IsKind(err, common.Validation) {
		t.Fatalf("duplicate block should be a Validation error, got %v", err)
	}
}

func TestTwoNodesAgree(t *testing.T) {
	tn := initNetwork(t, 2)

	node0 := tn.node(t, 0)
	defer node0.Shutdown()
	node1 := tn.node(t, 1)
	defer node1.Shutdown()

	node0.RunAsync()
	node1.RunAsync()

	txs := testTxs(node0, 2)
	if _, err := node0.CreateBlock(txs); err != nil {
		t.Fatal(err)
	}

	for i, n := range []*Node{node0, node1} {
		n := n
		waitFor(t, 5*time.Second, func() bool {
			v, err := n.VerifyTransaction(txs[1].Hash.Hex())
			return err == nil && v.Included
		}, fmt.Sprintf("node%d to include the transaction", i))
	}

	agg0, err := node0.Round(1)
	if err != nil {
		t.Fatal(err)
	}
	agg1, err := node1.Round(1)
	if err != nil {
		t.Fatal(err)
	}

	if agg0.Header.MerkleRoot != agg1.Header.MerkleRoot || agg0.Header.StateRoot != agg1.Header.StateRoot {
		t.Fatal("both nodes should derive the same roots for round 1")
	}

	if n := node1.GetStats()["time_samples"]; n != "1" {
		t.Fatalf("node1 should hold a time sample from node0, not %s", n)
	}
}

func TestFetchRoundRPC(t *testing.T) {
	tn := initNetwork(t, 1)
	node := tn.node(t, 0)
	defer node.Shutdown()
	node.RunAsync()

	if _, err := node.CreateBlock(testTxs(node, 2)); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return node.core.LastRound() == 1
	}, "round 1 to close")

	addr, client := net.NewInmemTransport("")
	client.Connect(tn.addrs[0], tn.trans[0])
	tn.trans[0].Connect(addr, client)

	var found net.FetchRoundResponse
	req := &net.FetchRoundRequest{FromID: "client", TimeNs: time.Now().UnixNano(), Round: 1}
	if err := client.FetchRound(tn.addrs[0], req, &found); err != nil {
		t.Fatal(err)
	}
	if !found.Found || found.Aggregation.Round() != 1 {
		t.Fatalf("round 1 should be found, got %#v", found)
	}

	var missing net.FetchRoundResponse
	req = &net.FetchRoundRequest{FromID: "client", Round: 9}
	if err := client.FetchRound(tn.addrs[0], req, &missing); err != nil {
		t.Fatal(err)
	}
	if missing.Found {
		t.Fatal("round 9 should not be found")
	}

	header := *found.Aggregation.Header
	header.StateRoot = common.ZeroHash
	var headerResp net.PushHeaderResponse
	if err := client.PushHeader(tn.addrs[0], &net.PushHeaderRequest{FromID: "client", Header: &header}, &headerResp); err != nil {
		t.Fatal(err)
	}
	if headerResp.Accepted {
		t.Fatal("a header whose hash does not match should be refused")
	}

	if n := node.GetStats()["time_samples"]; n != "0" {
		t.Fatalf("an unregistered client should not contribute a time sample, got %s", n)
	}
}

func TestRoundFallback(t *testing.T) {
	tn := initNetwork(t, 2)

	// node0 pushes to nobody
	tn.registries[0] = peers.NewPeers()

	node0 := tn.node(t, 0)
	defer node0.Shutdown()
	node1 := tn.node(t, 1)
	defer node1.Shutdown()

	node0.RunAsync()

	txs := testTxs(node0, 2)
	if _, err := node0.CreateBlock(txs); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 5*time.Second, func() bool {
		return node0.core.LastRound() == 1
	}, "round 1 to close")

	if _, err := node1.core.GetAggregation(1); !common.IsStore(err, common.KeyNotFound) {
		t.Fatalf("node1 should not hold round 1 yet, got %v", err)
	}

	agg, err := node1.Round(1)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := node0.Round(1)
	if agg.Header.Hash != want.Header.Hash {
		t.Fatal("node1 should pull node0's round 1")
	}

	v, err := node1.VerifyTransaction(txs[0].Hash.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if !v.Included {
		t.Fatal("pulled round should be verifiable")
	}
}

func TestAcceptAggregation(t *testing.T) {
	tn := initNetwork(t, 3)
	tn.registries[0] = peers.NewPeers()
	tn.registries[2] = peers.NewPeers()

	producer := tn.node(t, 0)
	defer producer.Shutdown()
	receiver := tn.node(t, 1)
	defer receiver.Shutdown()
	other := tn.node(t, 2)
	defer other.Shutdown()

	closeWith := func(n *Node, count int) *round.Aggregation {
		if _, err := n.CreateBlock(testTxs(n, count)); err != nil {
			t.Fatal(err)
		}
		if err := n.CloseRound(); err != nil {
			t.Fatal(err)
		}
		agg, err := n.core.GetAggregation(1)
		if err != nil {
			t.Fatal(err)
		}
		return agg
	}

	agg := closeWith(producer, 2)
	conflicting := closeWith(other, 3)

	validators := receiver.validators()

	tampered := *agg
	header := *agg.Header
	header.StateRoot = common.ZeroHash
	tampered.Header = &header
	if _, err := receiver.core.AcceptAggregation(&tampered, validators); !common.IsKind(err, common.Validation) {
		t.Fatalf("tampered aggregation should be a Validation error, got %v", err)
	}

	badProof := *agg
	badProof.Proof = &round.Proof{Round: agg.Round()}
	if _, err := receiver.core.AcceptAggregation(&badProof, validators); !common.IsKind(err, common.Validation) {
		t.Fatalf("empty proof should be a Validation error, got %v", err)
	}

	unsigned := *agg
	unsignedHeader := *agg.Header
	unsignedHeader.Signature = nil
	unsigned.Header = &unsignedHeader
	if _, err := receiver.core.AcceptAggregation(&unsigned, validators); !common.IsKind(err, common.Validation) {
		t.Fatalf("unsigned aggregation should be a Validation error, got %v", err)
	}

	if _, err := receiver.core.AcceptAggregation(agg, []string{receiver.ID()}); !common.IsKind(err, common.Validation) {
		t.Fatalf("aggregation of an unknown validator should be a Validation error, got %v", err)
	}

	outcome, err := receiver.core.AcceptAggregation(agg, validators)
	if err != nil || outcome != Adopted {
		t.Fatalf("valid aggregation should be adopted, got %s, %v", outcome, err)
	}

	outcome, err = receiver.core.AcceptAggregation(agg, validators)
	if err != nil || outcome != Confirmed {
		t.Fatalf("same aggregation should confirm the adopted one, got %s, %v", outcome, err)
	}
	if c := receiver.core.Confirmations(1); c != 1 {
		t.Fatalf("round 1 should have 1 confirmation, not %d", c)
	}

	outcome, err = receiver.core.AcceptAggregation(conflicting, validators)
	if err != nil || outcome != Conflicted || outcome.Accepted() {
		t.Fatalf("conflicting aggregation should be refused without error, got %s, %v", outcome, err)
	}
	if c := receiver.GetStats()["aggregation_conflict"]; c != "1" {
		t.Fatalf("1 conflict should be counted, not %s", c)
	}
}

// signedAggregation builds a well-formed aggregation of round r over hashes,
// signed by key.
func signedAggregation(t *testing.T, key *btcec.PrivateKey, r uint64, hashes []common.Hash) *round.Aggregation {
	tree := round.NewMerkleTree(hashes)
	header := round.NewHeader(r, tree.Root, crypto.SHA256([]byte("state")),
		time.Now().UnixNano(), keys.PublicKeyHex(key.PubKey()))
	if err := header.Sign(key); err != nil {
		t.Fatal(err)
	}

	return &round.Aggregation{
		Header:   header,
		Proof:    &round.Proof{Data: []byte("proof"), Size: 5, Round: r, TxCount: uint32(len(hashes))},
		TxHashes: hashes,
		Tree:     tree,
	}
}

func TestPushedAggregationRequiresValidator(t *testing.T) {
	tn := initNetwork(t, 2)

	node := tn.node(t, 0)
	defer node.Shutdown()
	go node.doBackgroundWork()

	addr, client := net.NewInmemTransport("")
	client.Connect(tn.addrs[0], tn.trans[0])
	tn.trans[0].Connect(addr, client)

	mallory, err := keys.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	member := tn.validators[1]
	current := node.core.CurrentRound()
	fake := crypto.SHA256([]byte("fake transaction"))

	unsigned := signedAggregation(t, member.Key, current, []common.Hash{fake})
	unsigned.Header.Signature = nil

	cases := []struct {
		name string
		agg  *round.Aggregation
	}{
		{"outsider far ahead", signedAggregation(t, mallory, current+1000, []common.Hash{fake})},
		{"outsider", signedAggregation(t, mallory, current, []common.Hash{fake})},
		{"validator far ahead", signedAggregation(t, member.Key, current+1000, []common.Hash{fake})},
		{"validator unsigned", unsigned},
	}

	for _, c := range cases {
		var resp net.PushAggregationResponse
		req := &net.PushAggregationRequest{FromID: member.ID(), Aggregation: c.agg}
		if err := client.PushAggregation(tn.addrs[0], req, &resp); err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if resp.Accepted {
			t.Fatalf("%s: aggregation should be refused", c.name)
		}
		if _, err := node.core.GetAggregation(c.agg.Round()); !common.IsStore(err, common.KeyNotFound) {
			t.Fatalf("%s: round %d should not be stored, got %v", c.name, c.agg.Round(), err)
		}
		if _, ok := node.broadcaster.HandleFetch(c.agg.Round()); ok {
			t.Fatalf("%s: refused round should not be relayed", c.name)
		}
	}

	v, err := node.VerifyTransaction(fake.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if v.Included {
		t.Fatal("a refused aggregation should not make its transactions verifiable")
	}
	if node.core.CurrentRound() != current {
		t.Fatalf("refused aggregations should not move the open round from %d to %d", current, node.core.CurrentRound())
	}

	// the same content signed by a registered validator within reach is adopted
	valid := signedAggregation(t, member.Key, current, []common.Hash{fake})
	var resp net.PushAggregationResponse
	if err := client.PushAggregation(tn.addrs[0], &net.PushAggregationRequest{FromID: member.ID(), Aggregation: valid}, &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Accepted {
		t.Fatal("aggregation of a registered validator should be adopted")
	}
	if v, _ := node.VerifyTransaction(fake.Hex()); !v.Included {
		t.Fatal("adopted round should be verifiable")
	}
	if _, ok := node.broadcaster.HandleFetch(current); !ok {
		t.Fatal("adopted round should be relayed")
	}

	// a conflicting version of the round is refused and not relayed
	conflicting := signedAggregation(t, member.Key, current, []common.Hash{fake, crypto.SHA256([]byte("other"))})
	if err := client.PushAggregation(tn.addrs[0], &net.PushAggregationRequest{FromID: member.ID(), Aggregation: conflicting}, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Accepted {
		t.Fatal("a conflicting aggregation should be refused")
	}
	relayed, ok := node.broadcaster.HandleFetch(current)
	if !ok || relayed.Header.Hash != valid.Header.Hash {
		t.Fatal("the adopted round should still be the one relayed")
	}
}

func TestTimeSamplesFromRegisteredPeersOnly(t *testing.T) {
	tn := initNetwork(t, 2)

	node := tn.node(t, 0)
	defer node.Shutdown()
	go node.doBackgroundWork()

	addr, client := net.NewInmemTransport("")
	client.Connect(tn.addrs[0], tn.trans[0])
	tn.trans[0].Connect(addr, client)

	ahead := time.Now().Add(time.Hour).UnixNano()
	for i := 0; i < 3; i++ {
		var resp net.FetchRoundResponse
		req := &net.FetchRoundRequest{FromID: fmt.Sprintf("sybil%d", i), TimeNs: ahead, Round: 1}
		if err := client.FetchRound(tn.addrs[0], req, &resp); err != nil {
			t.Fatal(err)
		}
	}

	if err := node.SubmitTimeSample("sybil3", ahead); !common.IsKind(err, common.Validation) {
		t.Fatalf("a clock of an unregistered id should be a Validation error, got %v", err)
	}

	if n := node.GetStats()["time_samples"]; n != "0" {
		t.Fatalf("unregistered ids should not contribute time samples, got %s", n)
	}

	var resp net.FetchRoundResponse
	req := &net.FetchRoundRequest{FromID: tn.validators[1].ID(), TimeNs: time.Now().UnixNano(), Round: 1}
	if err := client.FetchRound(tn.addrs[0], req, &resp); err != nil {
		t.Fatal(err)
	}
	if n := node.GetStats()["time_samples"]; n != "1" {
		t.Fatalf("the registered peer should contribute 1 time sample, got %s", n)
	}

	if err := node.SubmitTimeSample(tn.validators[1].ID(), time.Now().UnixNano()); err != nil {
		t.Fatal(err)
	}
}

func TestShutdown(t *testing.T) {
	tn := initNetwork(t, 1)
	node := tn.node(t, 0)
	node.RunAsync()

	node.Shutdown()

	if node.GetState() != Shutdown {
		t.Fatalf("node should be Shutdown, not %s", node.GetState())
	}

	if err := node.CloseRound(); !common.IsKind(err, common.Validation) {
		t.Fatalf("closing a round after shutdown should fail, got %v", err)
	}

	// idempotent
	node.Shutdown()
}
