package peers

import (
	"fmt"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/mosaicnetworks/roundchain/src/crypto/keys"
)

func TestJSONPeers(t *testing.T) {
	// Create a test dir
	dir, err := ioutil.TempDir("", "roundchain")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	// Create the store
	store := NewJSONPeers(dir)

	// Try a read, should get nothing
	peers, err := store.Peers()
	if err == nil {
		t.Fatalf("store.Peers() should generate an error")
	}
	if peers != nil {
		t.Fatalf("peers: %v", peers)
	}

	newPeers := NewPeers()
	for i := 0; i < 3; i++ {
		key, _ := keys.GenerateKey()
		newPeers.AddPeer(NewPeer(
			keys.PublicKeyHex(key.PubKey()),
			fmt.Sprintf("addr%d", i),
			fmt.Sprintf("peer%d", i)))
	}

	newPeersSlice := newPeers.ToPeerSlice()

	if err := store.SetPeers(newPeersSlice); err != nil {
		t.Fatalf("err: %v", err)
	}

	// Try a read, should find 3 peers
	peers, err = store.Peers()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if peers.Len() != 3 {
		t.Fatalf("peers: %v", peers)
	}

	peersSlice := peers.ToPeerSlice()

	for i := 0; i < 3; i++ {
		if peersSlice[i].NetAddr != newPeersSlice[i].NetAddr {
			t.Fatalf("peers[%d] NetAddr should be %s, not %s", i,
				newPeersSlice[i].NetAddr, peersSlice[i].NetAddr)
		}
		if peersSlice[i].PubKeyHex != newPeersSlice[i].PubKeyHex {
			t.Fatalf("peers[%d] PubKeyHex should be %s, not %s", i,
				newPeersSlice[i].PubKeyHex, peersSlice[i].PubKeyHex)
		}
		if !peersSlice[i].Online {
			t.Fatalf("peers[%d] should start online", i)
		}
		if _, err := peersSlice[i].PubKey(); err != nil {
			t.Fatalf("peers[%d] PublicKey not parsed correctly: %v", i, err)
		}
	}
}

func TestPeersRegistry(t *testing.T) {
	reg := NewPeers()
	reg.AddPeer(NewPeer("0xB", "addrB", "b"))
	reg.AddPeer(NewPeer("0xA", "addrA", "a"))
	reg.AddPeer(NewPeer("0xC", "addrC", "c"))

	if ids := reg.ToPubKeySlice(); ids[0] != "0xA" || ids[2] != "0xC" {
		t.Fatalf("peers should be sorted by public key, got %v", ids)
	}

	reg.SetOnline("0xB", false)
	if reg.OnlineCount() != 2 {
		t.Fatalf("expected 2 online peers, got %d", reg.OnlineCount())
	}
	for _, p := range reg.Online() {
		if p.PubKeyHex == "0xB" {
			t.Fatal("offline peer should not be listed as online")
		}
	}

	b, _ := reg.Get("0xB")
	if b.Failures != 1 {
		t.Fatalf("expected 1 failure, got %d", b.Failures)
	}

	reg.UpdateLatency("0xB", 20*time.Millisecond)
	b, _ = reg.Get("0xB")
	if !b.Online || b.Latency != 20*time.Millisecond || b.Failures != 0 {
		t.Fatalf("latency update should bring the peer back online, got %+v", b)
	}

	// copies do not alias the registry
	b.Online = false
	if again, _ := reg.Get("0xB"); !again.Online {
		t.Fatal("modifying a returned peer should not affect the registry")
	}

	if !reg.RemovePeer("0xA") || reg.RemovePeer("0xA") {
		t.Fatal("RemovePeer should succeed exactly once")
	}
	if reg.Len() != 2 {
		t.Fatalf("expected 2 peers, got %d", reg.Len())
	}

	idx, others := ExcludePeer(reg.ToPeerSlice(), "0xC")
	if idx != 1 || len(others) != 1 {
		t.Fatalf("unexpected ExcludePeer result %d %v", idx, others)
	}
}
