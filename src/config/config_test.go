package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeConfig(t *testing.T) {
	conf := NewTestConfig(t, logrus.DebugLevel)
	conf.RoundDuration = 2 * time.Second
	conf.MinBlocks = 4
	conf.BroadcastAttempts = 5
	conf.VerifierCacheSize = 12
	conf.BeaconQuorum = 2

	nc := conf.NodeConfig()

	assert.Equal(t, conf.HeartbeatTimeout, nc.HeartbeatTimeout)
	assert.Equal(t, conf.HousekeepingInterval, nc.HousekeepingInterval)
	assert.Equal(t, conf.CacheSize, nc.CacheSize)
	assert.Equal(t, 2*time.Second, nc.Round.RoundDuration)
	assert.Equal(t, 4, nc.Round.MinBlocks)
	assert.Equal(t, DefaultMaxBlocks, nc.Round.MaxBlocks)
	assert.Equal(t, 5, nc.Broadcast.MaxAttempts)
	assert.Equal(t, DefaultMaxPayloadSize, nc.Broadcast.MaxPayloadSize)
	assert.True(t, nc.Broadcast.Enabled)
	assert.Equal(t, 12, nc.Verifier.CacheSize)
	assert.Equal(t, 2, nc.Randomness.MinProofs)
	assert.Same(t, conf.logger, nc.Logger)
}

func TestSetDataDir(t *testing.T) {
	conf := NewDefaultConfig()
	conf.SetDataDir("test_data")

	assert.Equal(t, filepath.Join("test_data", DefaultBadgerFile), conf.DatabaseDir)
	assert.Equal(t, filepath.Join("test_data", DefaultKeyfile), conf.Keyfile())

	// an explicit database directory is kept
	conf.DatabaseDir = "elsewhere"
	conf.SetDataDir("other")
	assert.Equal(t, "elsewhere", conf.DatabaseDir)
}

func TestLogFile(t *testing.T) {
	os.RemoveAll("test_data")
	require.NoError(t, os.Mkdir("test_data", os.ModeDir|0777))
	defer os.RemoveAll("test_data")

	conf := NewDefaultConfig()
	conf.DataDir = "test_data"
	conf.LogFile = true
	conf.LogLevel = "info"

	conf.Logger().Info("written to file")

	assert.Equal(t, logrus.InfoLevel, conf.logger.Level)

	data, err := os.ReadFile(filepath.Join("test_data", DefaultInfoLogFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestLogLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug": logrus.DebugLevel,
		"info":  logrus.InfoLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
		"bogus": logrus.DebugLevel,
	}
	for in, want := range cases {
		if got := LogLevel(in); got != want {
			t.Fatalf("LogLevel(%q) should be %v, not %v", in, want, got)
		}
	}
}
