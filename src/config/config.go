package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/roundchain/src/broadcast"
	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/node"
	"github.com/mosaicnetworks/roundchain/src/randomness"
	"github.com/mosaicnetworks/roundchain/src/round"
	"github.com/mosaicnetworks/roundchain/src/verifier"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the validator's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"

	// DefaultInfoLogFile and DefaultDebugLogFile receive a copy of the logs
	// when LogFile is set.
	DefaultInfoLogFile  = "roundchain_info.log"
	DefaultDebugLogFile = "roundchain_debug.log"
)

// Default configuration values.
const (
	DefaultLogLevel             = "debug"
	DefaultBindAddr             = "127.0.0.1:1337"
	DefaultServiceAddr          = "127.0.0.1:8000"
	DefaultHeartbeatTimeout     = 50 * time.Millisecond
	DefaultTCPTimeout           = 1000 * time.Millisecond
	DefaultMaxPool              = 2
	DefaultStore                = false
	DefaultCacheSize            = 5000
	DefaultMaxTips              = 1000
	DefaultMaxDrift             = time.Second
	DefaultMinTimeSamples       = 3
	DefaultRoundDuration        = 200 * time.Millisecond
	DefaultMinBlocks            = 10
	DefaultMaxBlocks            = 1000
	DefaultMaxTransactions      = 100000
	DefaultAggregationTimeout   = 5 * time.Second
	DefaultMaxPayloadSize       = 200000
	DefaultBroadcastTimeout     = 500 * time.Millisecond
	DefaultBroadcastAttempts    = 3
	DefaultRetryDelay           = 100 * time.Millisecond
	DefaultPendingTTL           = 10 * time.Minute
	DefaultVerifierCacheSize    = 10000
	DefaultBeaconQuorum         = 1
	DefaultBeaconTimeout        = 5 * time.Second
	DefaultHousekeepingInterval = 30 * time.Second
)

// Config contains all the configuration properties of a roundchain node.
type Config struct {
	// DataDir is the top-level directory containing the key, the peers file,
	// the optional config file and the database.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile copies Info and Debug logs into files under DataDir.
	LogFile bool `mapstructure:"log-file"`

	// BindAddr is the local address:port where this node talks to the other
	// validators.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes.
	AdvertiseAddr string `mapstructure:"advertise"`

	// ServiceAddr is the address:port of the HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// TCPTimeout is the timeout of RPC connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// MaxPool controls how many connections are pooled per target.
	MaxPool int `mapstructure:"max-pool"`

	// Store activates persistant storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// CacheSize is the max number of items in in-memory caches.
	CacheSize int `mapstructure:"cache-size"`

	// HeartbeatTimeout is the interval at which the open round is checked for
	// closing.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat"`

	MaxTips        int           `mapstructure:"max-tips"`
	MaxDrift       time.Duration `mapstructure:"max-drift"`
	MinTimeSamples int           `mapstructure:"min-time-samples"`

	// Round closing triggers and limits.
	RoundDuration      time.Duration `mapstructure:"round-duration"`
	MinBlocks          int           `mapstructure:"min-blocks"`
	MaxBlocks          int           `mapstructure:"max-blocks"`
	MaxTransactions    int           `mapstructure:"max-txs"`
	AggregationTimeout time.Duration `mapstructure:"aggregation-timeout"`

	// Broadcast settings. BroadcastTimeout applies to each attempt to each
	// peer.
	MaxPayloadSize    int           `mapstructure:"max-payload"`
	BroadcastTimeout  time.Duration `mapstructure:"broadcast-timeout"`
	BroadcastAttempts int           `mapstructure:"retries"`
	RetryDelay        time.Duration `mapstructure:"retry-delay"`
	PendingTTL        time.Duration `mapstructure:"pending-ttl"`

	// VerifierCacheSize bounds the cache of positive inclusion answers.
	VerifierCacheSize int `mapstructure:"verifier-cache"`

	// BeaconQuorum is the number of VRF proofs that finalizes a beacon.
	BeaconQuorum  int           `mapstructure:"beacon-quorum"`
	BeaconTimeout time.Duration `mapstructure:"beacon-timeout"`

	// HousekeepingInterval is the period of beacon and stats cleanup.
	HousekeepingInterval time.Duration `mapstructure:"housekeeping"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	// Key is the private key of the validator.
	Key *btcec.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:              DefaultDataDir(),
		LogLevel:             DefaultLogLevel,
		BindAddr:             DefaultBindAddr,
		ServiceAddr:          DefaultServiceAddr,
		TCPTimeout:           DefaultTCPTimeout,
		MaxPool:              DefaultMaxPool,
		Store:                DefaultStore,
		DatabaseDir:          DefaultDatabaseDir(),
		CacheSize:            DefaultCacheSize,
		HeartbeatTimeout:     DefaultHeartbeatTimeout,
		MaxTips:              DefaultMaxTips,
		MaxDrift:             DefaultMaxDrift,
		MinTimeSamples:       DefaultMinTimeSamples,
		RoundDuration:        DefaultRoundDuration,
		MinBlocks:            DefaultMinBlocks,
		MaxBlocks:            DefaultMaxBlocks,
		MaxTransactions:      DefaultMaxTransactions,
		AggregationTimeout:   DefaultAggregationTimeout,
		MaxPayloadSize:       DefaultMaxPayloadSize,
		BroadcastTimeout:     DefaultBroadcastTimeout,
		BroadcastAttempts:    DefaultBroadcastAttempts,
		RetryDelay:           DefaultRetryDelay,
		PendingTTL:           DefaultPendingTTL,
		VerifierCacheSize:    DefaultVerifierCacheSize,
		BeaconQuorum:         DefaultBeaconQuorum,
		BeaconTimeout:        DefaultBeaconTimeout,
		HousekeepingInterval: DefaultHousekeepingInterval,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level directory, and updates the database directory
// if it is currently set to the default value. If the database directory is
// not currently the default, it means the user has explicitely set it to
// something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// NodeConfig builds the configuration of the node and of the components it
// owns.
func (c *Config) NodeConfig() *node.Config {
	conf := node.NewConfig(
		c.HeartbeatTimeout,
		c.HousekeepingInterval,
		c.CacheSize,
		c.logrusLogger(),
	)

	conf.MaxTips = c.MaxTips
	conf.MaxDrift = c.MaxDrift
	conf.MinTimeSamples = c.MinTimeSamples

	conf.Round = &round.Config{
		RoundDuration:      c.RoundDuration,
		MinBlocks:          c.MinBlocks,
		MaxBlocks:          c.MaxBlocks,
		MaxTransactions:    c.MaxTransactions,
		AggregationTimeout: c.AggregationTimeout,
	}

	conf.Broadcast = broadcast.DefaultConfig()
	conf.Broadcast.MaxPayloadSize = c.MaxPayloadSize
	conf.Broadcast.Timeout = c.BroadcastTimeout
	conf.Broadcast.MaxAttempts = c.BroadcastAttempts
	conf.Broadcast.RetryDelay = c.RetryDelay
	conf.Broadcast.PendingTTL = c.PendingTTL

	conf.Verifier = verifier.DefaultConfig()
	conf.Verifier.CacheSize = c.VerifierCacheSize

	conf.Randomness = &randomness.Config{
		MinProofs:     c.BeaconQuorum,
		BeaconTimeout: c.BeaconTimeout,
	}

	return conf
}

// Logger returns a formatted logrus Entry, with prefix set to "roundchain".
func (c *Config) Logger() *logrus.Entry {
	return c.logrusLogger().WithField("prefix", "roundchain")
}

func (c *Config) logrusLogger() *logrus.Logger {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
		if c.LogFile {
			c.addFileHook()
		}
	}
	return c.logger
}

// addFileHook mirrors Info and Debug logs into files under DataDir. Levels
// whose file cannot be created are left on the console only.
func (c *Config) addFileHook() {
	pathMap := lfshook.PathMap{}

	files := map[logrus.Level]string{
		logrus.InfoLevel:  filepath.Join(c.DataDir, DefaultInfoLogFile),
		logrus.DebugLevel: filepath.Join(c.DataDir, DefaultDebugLogFile),
	}

	for level, path := range files {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			c.logger.WithError(err).Infof("Failed to open %s, using default stderr", path)
			continue
		}
		f.Close()
		pathMap[level] = path
	}

	c.logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level roundchain
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Roundchain")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Roundchain")
		} else {
			return filepath.Join(home, ".roundchain")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
