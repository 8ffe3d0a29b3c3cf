package roundchain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/roundchain/src/config"
	"github.com/mosaicnetworks/roundchain/src/crypto/keys"
	"github.com/mosaicnetworks/roundchain/src/node"
	"github.com/mosaicnetworks/roundchain/src/peers"
	"github.com/sirupsen/logrus"
)

func initTestDir(t *testing.T) func() {
	os.RemoveAll("test_data")
	if err := os.Mkdir("test_data", os.ModeDir|0777); err != nil {
		t.Fatal(err)
	}
	return func() { os.RemoveAll("test_data") }
}

// writePeers writes a peers.json holding self and n other validators.
func writePeers(t *testing.T, self *btcec.PrivateKey, n int) {
	peerSlice := []*peers.Peer{
		peers.NewPeer(keys.PublicKeyHex(self.PubKey()), "127.0.0.1:1337", "self"),
	}
	for i := 0; i < n; i++ {
		key, err := keys.GenerateKey()
		if err != nil {
			t.Fatal(err)
		}
		peerSlice = append(peerSlice,
			peers.NewPeer(keys.PublicKeyHex(key.PubKey()), "127.0.0.1:1338", "other"))
	}

	if err := peers.NewJSONPeers("test_data").SetPeers(peerSlice); err != nil {
		t.Fatalf("err: %v", err)
	}
}

func testConfig(t *testing.T) *config.Config {
	conf := config.NewTestConfig(t, logrus.DebugLevel)
	conf.SetDataDir("test_data")
	conf.BindAddr = "127.0.0.1:0"
	conf.NoService = true
	return conf
}

func TestKeygen(t *testing.T) {
	defer initTestDir(t)()

	keyfile := filepath.Join("test_data", config.DefaultKeyfile)

	key, err := Keygen(keyfile)
	if err != nil {
		t.Fatal(err)
	}

	read, err := keys.NewSimpleKeyfile(keyfile).ReadKey()
	if err != nil {
		t.Fatal(err)
	}
	if keys.PrivateKeyHex(read) != keys.PrivateKeyHex(key) {
		t.Fatal("keyfile should hold the generated key")
	}

	if _, err := Keygen(keyfile); err == nil {
		t.Fatal("Keygen should not overwrite an existing key")
	}
}

func TestInitPeers(t *testing.T) {
	defer initTestDir(t)()

	conf := testConfig(t)
	key, _ := keys.GenerateKey()
	conf.Key = key

	engine := NewRoundchain(conf)
	if err := engine.initPeers(); err == nil {
		t.Fatal("initPeers should fail without peers.json")
	}

	writePeers(t, key, 2)

	engine = NewRoundchain(conf)
	if err := engine.initPeers(); err != nil {
		t.Fatal(err)
	}
	if engine.Peers.Len() != 2 {
		t.Fatalf("registry should hold the 2 other validators, not %d", engine.Peers.Len())
	}
	if _, ok := engine.Peers.Get(keys.PublicKeyHex(key.PubKey())); ok {
		t.Fatal("registry should not hold self")
	}

	other, _ := keys.GenerateKey()
	conf.Key = other
	engine = NewRoundchain(conf)
	if err := engine.initPeers(); err == nil {
		t.Fatal("initPeers should fail when self is not in peers.json")
	}
}

func TestInitStore(t *testing.T) {
	defer initTestDir(t)()

	conf := testConfig(t)
	conf.Store = true

	engine := NewRoundchain(conf)
	if err := engine.initStore(); err != nil {
		t.Fatal(err)
	}
	defer engine.Store.Close()

	if engine.Store.StorePath() != conf.DatabaseDir {
		t.Fatalf("store path should be %s, not %s", conf.DatabaseDir, engine.Store.StorePath())
	}
	if _, err := os.Stat(conf.DatabaseDir); os.IsNotExist(err) {
		t.Fatal(err)
	}
}

func TestInit(t *testing.T) {
	defer initTestDir(t)()

	conf := testConfig(t)

	// the key is generated on first start
	engine := NewRoundchain(conf)
	if err := engine.initKey(); err != nil {
		t.Fatal(err)
	}
	writePeers(t, conf.Key, 1)

	engine = NewRoundchain(conf)
	if err := engine.Init(); err != nil {
		t.Fatal(err)
	}
	defer engine.Node.Shutdown()

	if engine.Node.GetState() != node.Running {
		t.Fatalf("node should be Running, not %s", engine.Node.GetState())
	}
	if engine.Node.ID() != keys.PublicKeyHex(conf.Key.PubKey()) {
		t.Fatal("node should run under the configured key")
	}
	if len(engine.Node.GetPeers()) != 1 {
		t.Fatalf("node should know 1 peer, not %d", len(engine.Node.GetPeers()))
	}
	if engine.Service != nil {
		t.Fatal("service should be disabled")
	}
}
