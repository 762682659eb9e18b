package avacfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lightningnetwork/avapeer/build"
	"github.com/lightningnetwork/avapeer/coinview"
	"github.com/stretchr/testify/require"
)

// TestDefaultConfigValid checks that the defaults pass validation.
func TestDefaultConfigValid(t *testing.T) {
	t.Parallel()

	cfg, err := ValidateConfig(DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, DefaultAppDir, cfg.AppDir)
	require.Equal(
		t, build.Deployment.ForcesDebugChecks(),
		cfg.PeerManager.DebugChecks,
	)

	pmCfg := cfg.PeerManagerConfig(coinview.NewMemory(1))
	require.EqualValues(t, 10000, pmCfg.MaxOrphanStakes)
	require.EqualValues(t, 1, pmCfg.StakeUTXOConfirmations)
}

// TestValidateConfig checks that out of range options are refused.
func TestValidateConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name: "no orphan stakes",
			mutate: func(c *Config) {
				c.PeerManager.MaxOrphanStakes = 0
			},
		},
		{
			name: "no proof stakes",
			mutate: func(c *Config) {
				c.PeerManager.MaxProofStakes = 0
			},
		},
		{
			name: "negative threshold",
			mutate: func(c *Config) {
				c.TipWatch.CompactThreshold = -0.1
			},
		},
		{
			name: "threshold above one",
			mutate: func(c *Config) {
				c.TipWatch.CompactThreshold = 1.5
			},
		},
		{
			name: "zero relay interval",
			mutate: func(c *Config) {
				c.Relay.Interval = 0
			},
		},
		{
			name: "negative peers",
			mutate: func(c *Config) {
				c.Sim.Peers = -1
			},
		},
		{
			name: "zero block interval",
			mutate: func(c *Config) {
				c.Sim.BlockInterval = 0
			},
		},
		{
			name: "exporter without address",
			mutate: func(c *Config) {
				c.Prometheus.Enable = true
				c.Prometheus.Listen = ""
			},
		},
		{
			name: "unknown log compressor",
			mutate: func(c *Config) {
				c.LogConfig.File.Compressor = "lz4"
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			test.mutate(&cfg)

			_, err := ValidateConfig(cfg)
			require.Error(t, err)
		})
	}
}

// TestLoadConfig checks that the command line takes precedence over the
// config file which takes precedence over the defaults.
func TestLoadConfig(t *testing.T) {
	t.Parallel()

	appDir := t.TempDir()
	configFile := filepath.Join(appDir, DefaultConfigFilename)
	err := os.WriteFile(configFile, []byte(`
[Application Options]
debuglevel=debug

[peermanager]
peermanager.maxorphanstakes=500
peermanager.stakeconfs=6

[relay]
relay.interval=1m
`), 0600)
	require.NoError(t, err)

	cfg, err := LoadConfig([]string{
		"--appdir=" + appDir,
		"--peermanager.stakeconfs=3",
		"--sim.peers=4",
	})
	require.NoError(t, err)
	require.NoError(t, cfg.ConfigFileError())

	require.Equal(t, appDir, cfg.AppDir)
	require.Equal(t, filepath.Join(appDir, "logs"), cfg.LogDir)
	require.Equal(t, "debug", cfg.DebugLevel)
	require.EqualValues(t, 500, cfg.PeerManager.MaxOrphanStakes)
	require.EqualValues(t, 3, cfg.PeerManager.StakeUTXOConfirmations)
	require.Equal(t, time.Minute, cfg.Relay.Interval)
	require.Equal(t, 4, cfg.Sim.Peers)
	require.Equal(t, DefaultBlockInterval, cfg.Sim.BlockInterval)
}

// TestLoadConfigMissingFile checks that a missing config file is reported but
// not fatal.
func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig([]string{"--appdir=" + t.TempDir()})
	require.NoError(t, err)
	require.Error(t, cfg.ConfigFileError())
	require.Equal(t, "info", cfg.DebugLevel)

	_, err = LoadConfig([]string{"--relay.interval=0s"})
	require.Error(t, err)

	_, err = LoadConfig([]string{"--nosuchflag"})
	require.Error(t, err)
}
