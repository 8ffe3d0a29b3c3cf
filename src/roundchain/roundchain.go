package roundchain

import (
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/roundchain/src/config"
	"github.com/mosaicnetworks/roundchain/src/crypto/keys"
	"github.com/mosaicnetworks/roundchain/src/net"
	"github.com/mosaicnetworks/roundchain/src/node"
	"github.com/mosaicnetworks/roundchain/src/peers"
	"github.com/mosaicnetworks/roundchain/src/service"
	"github.com/mosaicnetworks/roundchain/src/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Roundchain is a struct containing the key parts of a roundchain node.
type Roundchain struct {
	Config    *config.Config
	Node      *node.Node
	Transport net.Transport
	Store     store.Store
	Peers     *peers.Peers
	Service   *service.Service
	logger    *logrus.Entry
}

// NewRoundchain is a factory method to produce a Roundchain instance.
func NewRoundchain(c *config.Config) *Roundchain {
	engine := &Roundchain{
		Config: c,
		logger: c.Logger(),
	}

	return engine
}

// Init initialises the engine in order: key, peers, store, transport, node
// and service.
func (r *Roundchain) Init() error {
	if err := r.initKey(); err != nil {
		return err
	}

	if err := r.initPeers(); err != nil {
		return err
	}

	if err := r.initStore(); err != nil {
		return err
	}

	if err := r.initTransport(); err != nil {
		return err
	}

	if err := r.initNode(); err != nil {
		return err
	}

	if err := r.initService(); err != nil {
		return err
	}

	return nil
}

// Run starts the HTTP service, if any, and the node. This is a blocking call.
func (r *Roundchain) Run() {
	if r.Service != nil {
		go r.Service.Serve()
	}

	go r.Transport.Listen()

	r.Node.Run()
}

func (r *Roundchain) initKey() error {
	if r.Config.Key != nil {
		return nil
	}

	simpleKeyfile := keys.NewSimpleKeyfile(r.Config.Keyfile())

	privKey, err := simpleKeyfile.ReadKey()
	if err != nil {
		r.logger.WithError(err).Warn("Cannot read private key from file")

		privKey, err = Keygen(r.Config.Keyfile())
		if err != nil {
			r.logger.WithError(err).Error("Cannot generate a new private key")
			return err
		}

		r.logger.WithField("pub", keys.PublicKeyHex(privKey.PubKey())).Info("Created a new key")
	}

	r.Config.Key = privKey

	return nil
}

// initPeers loads the validators from peers.json unless Peers is already set.
// Our own entry is removed from the registry, which holds the other
// validators only.
func (r *Roundchain) initPeers() error {
	if r.Peers == nil {
		jsonPeers := peers.NewJSONPeers(r.Config.DataDir)

		participants, err := jsonPeers.Peers()
		if err != nil {
			return errors.Wrap(err, "loading peers.json")
		}

		r.Peers = participants
	}

	selfID := keys.PublicKeyHex(r.Config.Key.PubKey())

	if _, ok := r.Peers.Get(selfID); !ok {
		return fmt.Errorf("Cannot find self pubkey in peers.json")
	}
	r.Peers.RemovePeer(selfID)

	r.logger.WithFields(logrus.Fields{
		"peers": r.Peers.ToPubKeySlice(),
		"id":    selfID,
	}).Debug("PARTICIPANTS")

	return nil
}

func (r *Roundchain) initStore() error {
	if !r.Config.Store {
		r.Store = store.NewInmemStore(r.Config.CacheSize)

		r.logger.Debug("created new in-mem store")
		return nil
	}

	dbPath := r.Config.DatabaseDir

	r.logger.WithField("path", dbPath).Debug("Attempting to load or create database")

	if err := os.MkdirAll(dbPath, 0700); err != nil {
		return err
	}

	s, err := store.NewBadgerStore(r.Config.CacheSize, dbPath, r.logger.WithField("prefix", "store"))
	if err != nil {
		return err
	}

	r.Store = s

	return nil
}

func (r *Roundchain) initTransport() error {
	if r.Transport != nil {
		return nil
	}

	transport, err := net.NewTCPTransport(
		r.Config.BindAddr,
		r.Config.AdvertiseAddr,
		r.Config.MaxPool,
		r.Config.TCPTimeout,
		r.logger.WithField("prefix", "net"),
	)
	if err != nil {
		return err
	}

	r.Transport = transport

	return nil
}

func (r *Roundchain) initNode() error {
	validator := node.NewValidator(r.Config.Key, r.Config.Moniker)

	n, err := node.NewNode(
		r.Config.NodeConfig(),
		validator,
		r.Peers,
		r.Store,
		r.Transport,
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "creating node")
	}

	if err := n.Init(); err != nil {
		return errors.Wrap(err, "failed to initialize node")
	}

	r.Node = n

	return nil
}

func (r *Roundchain) initService() error {
	if !r.Config.NoService {
		r.Service = service.NewService(r.Config.ServiceAddr, r.Node, r.logger.WithField("prefix", "service"))
	}
	return nil
}

// Keygen generates a new key and writes it to keyfile, unless a key already
// lives there.
func Keygen(keyfile string) (*btcec.PrivateKey, error) {
	simpleKeyfile := keys.NewSimpleKeyfile(keyfile)

	if _, err := simpleKeyfile.ReadKey(); err == nil {
		return nil, fmt.Errorf("Another key already lives under %s", keyfile)
	}

	privKey, err := keys.GenerateKey()
	if err != nil {
		return nil, err
	}

	if err := simpleKeyfile.WriteKey(privKey); err != nil {
		return nil, err
	}

	return privKey, nil
}
