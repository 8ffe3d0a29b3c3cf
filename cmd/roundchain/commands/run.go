package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/roundchain/src/roundchain"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a roundchain node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runRoundchain,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runRoundchain(cmd *cobra.Command, args []string) error {
	engine := roundchain.NewRoundchain(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		_config.Logger().Info("Shutting down")
		engine.Node.Shutdown()
	}()

	engine.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().Bool("log-file", _config.LogFile, "Copy info and debug logs to files in datadir")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for roundchain node")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for roundchain node")
	cmd.Flags().DurationP("timeout", "t", _config.TCPTimeout, "TCP Timeout")
	cmd.Flags().Int("max-pool", _config.MaxPool, "Connection pool size max")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", _config.NoService, "Disable HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Dabatabase directory")
	cmd.Flags().Int("cache-size", _config.CacheSize, "Number of items in LRU caches")

	// DAG and time
	cmd.Flags().Int("max-tips", _config.MaxTips, "Max number of DAG tips")
	cmd.Flags().Duration("max-drift", _config.MaxDrift, "Max drift of commitments from network time")
	cmd.Flags().Int("min-time-samples", _config.MinTimeSamples, "Min number of clock samples for network time")

	// Rounds
	cmd.Flags().Duration("heartbeat", _config.HeartbeatTimeout, "Time between round checks")
	cmd.Flags().Duration("round-duration", _config.RoundDuration, "Round duration")
	cmd.Flags().Int("min-blocks", _config.MinBlocks, "Number of blocks that closes a round")
	cmd.Flags().Int("max-blocks", _config.MaxBlocks, "Max number of blocks in a round")
	cmd.Flags().Int("max-txs", _config.MaxTransactions, "Max number of transactions in a round")
	cmd.Flags().Duration("aggregation-timeout", _config.AggregationTimeout, "Proof generation timeout")

	// Broadcast
	cmd.Flags().Int("max-payload", _config.MaxPayloadSize, "Max size of a broadcast payload in bytes")
	cmd.Flags().Duration("broadcast-timeout", _config.BroadcastTimeout, "Timeout of a push to one peer")
	cmd.Flags().Int("retries", _config.BroadcastAttempts, "Attempts per peer")
	cmd.Flags().Duration("retry-delay", _config.RetryDelay, "Delay between attempts")
	cmd.Flags().Duration("pending-ttl", _config.PendingTTL, "How long pushed rounds are served to peers")

	// Verifier and beacon
	cmd.Flags().Int("verifier-cache", _config.VerifierCacheSize, "Number of cached verifications")
	cmd.Flags().Int("beacon-quorum", _config.BeaconQuorum, "Number of VRF proofs that finalizes a beacon")
	cmd.Flags().Duration("beacon-timeout", _config.BeaconTimeout, "Beacon lifetime")
	cmd.Flags().Duration("housekeeping", _config.HousekeepingInterval, "Time between cleanups")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"DataDir":            _config.DataDir,
		"BindAddr":           _config.BindAddr,
		"AdvertiseAddr":      _config.AdvertiseAddr,
		"ServiceAddr":        _config.ServiceAddr,
		"NoService":          _config.NoService,
		"MaxPool":            _config.MaxPool,
		"Store":              _config.Store,
		"LogLevel":           _config.LogLevel,
		"Moniker":            _config.Moniker,
		"HeartbeatTimeout":   _config.HeartbeatTimeout,
		"TCPTimeout":         _config.TCPTimeout,
		"CacheSize":          _config.CacheSize,
		"RoundDuration":      _config.RoundDuration,
		"MinBlocks":          _config.MinBlocks,
		"MaxBlocks":          _config.MaxBlocks,
		"AggregationTimeout": _config.AggregationTimeout,
		"BroadcastTimeout":   _config.BroadcastTimeout,
		"BroadcastAttempts":  _config.BroadcastAttempts,
		"BeaconQuorum":       _config.BeaconQuorum,
	}

	if _config.Store {
		logFields["DatabaseDir"] = _config.DatabaseDir
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/roundchain.toml (.json, .yaml also work)
	viper.SetConfigName("roundchain")
	viper.AddConfigPath(_config.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
