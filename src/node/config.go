package node

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/roundchain/src/broadcast"
	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/randomness"
	"github.com/mosaicnetworks/roundchain/src/round"
	"github.com/mosaicnetworks/roundchain/src/verifier"
	"github.com/sirupsen/logrus"
)

// Config gathers the settings of a node and of the components it owns.
type Config struct {
	// HeartbeatTimeout is the interval at which the node checks whether the
	// open round should be aggregated.
	HeartbeatTimeout time.Duration
	// HousekeepingInterval is the interval at which expired beacons and
	// verification stats are dropped.
	HousekeepingInterval time.Duration
	CacheSize            int
	MaxTips              int
	MinTimeSamples       int
	MaxDrift             time.Duration

	Round      *round.Config
	Prover     *round.ProverConfig
	Broadcast  *broadcast.Config
	Verifier   *verifier.Config
	Randomness *randomness.Config

	Logger *logrus.Logger
}

// NewConfig ...
func NewConfig(heartbeat time.Duration,
	housekeeping time.Duration,
	cacheSize int,
	logger *logrus.Logger) *Config {

	conf := DefaultConfig()
	conf.HeartbeatTimeout = heartbeat
	conf.HousekeepingInterval = housekeeping
	conf.CacheSize = cacheSize
	conf.Logger = logger

	return conf
}

// DefaultConfig ...
func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		HeartbeatTimeout:     50 * time.Millisecond,
		HousekeepingInterval: 30 * time.Second,
		CacheSize:            5000,
		MaxTips:              1000,
		MinTimeSamples:       3,
		MaxDrift:             time.Second,
		Round:                round.DefaultConfig(),
		Prover:               round.DefaultProverConfig(),
		Broadcast:            broadcast.DefaultConfig(),
		Verifier:             verifier.DefaultConfig(),
		Randomness:           &randomness.Config{MinProofs: 1, BeaconTimeout: 5 * time.Second},
		Logger:               logger,
	}
}

// TestConfig returns a config suited to in-memory tests: short timeouts and
// logs routed to t.
func TestConfig(t testing.TB) *Config {
	conf := DefaultConfig()
	conf.HeartbeatTimeout = 10 * time.Millisecond
	conf.Round.RoundDuration = 100 * time.Millisecond
	conf.Round.MinBlocks = 2
	conf.Broadcast.Timeout = 200 * time.Millisecond
	conf.Broadcast.RetryDelay = 10 * time.Millisecond
	conf.Logger = common.NewTestLogger(t, logrus.DebugLevel)
	return conf
}
