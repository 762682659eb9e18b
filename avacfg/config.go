// Package avacfg holds the configuration of the avapeerd daemon.
package avacfg

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/avapeer/avaproof"
	"github.com/lightningnetwork/avapeer/build"
	"github.com/lightningnetwork/avapeer/peermanager"
	"github.com/lightningnetwork/avapeer/tipwatch"
)

const (
	// DefaultConfigFilename is the default configuration file name
	// avapeerd tries to load.
	DefaultConfigFilename = "avapeerd.conf"

	// DefaultLogFilename is the name of the daemon's log file.
	DefaultLogFilename = "avapeerd.log"

	defaultLogDirname = "logs"

	// DefaultRelayInterval is the default interval between two rounds of
	// proof announcements.
	DefaultRelayInterval = 30 * time.Second

	// DefaultBlockInterval is the default interval between two blocks of
	// the simulated chain.
	DefaultBlockInterval = 10 * time.Second

	// DefaultSimPeers is the number of peers the simulated chain funds on
	// startup.
	DefaultSimPeers = 16

	// DefaultPrometheusListen is the default address of the metrics
	// exporter.
	DefaultPrometheusListen = "127.0.0.1:8989"
)

var (
	// DefaultAppDir is the default directory of the daemon's files.
	DefaultAppDir = btcutil.AppDataDir("avapeerd", false)

	// DefaultConfigFile is the default path of the config file.
	DefaultConfigFile = filepath.Join(DefaultAppDir, DefaultConfigFilename)

	defaultLogDir = filepath.Join(DefaultAppDir, defaultLogDirname)
)

// PeerManager holds the peer manager options.
//
//nolint:lll
type PeerManager struct {
	MaxOrphanStakes        uint64 `long:"maxorphanstakes" description:"Maximum number of stakes held by orphan proofs"`
	MaxProofStakes         int    `long:"maxproofstakes" description:"Maximum number of stakes a single proof may carry"`
	StakeUTXOConfirmations uint32 `long:"stakeconfs" description:"Number of confirmations a stake needs before its proof is accepted"`
	DebugChecks            bool   `long:"debugchecks" description:"Verify the peer manager state after every change; always on in dev builds"`
}

// TipWatch holds the chain tip watcher options.
//
//nolint:lll
type TipWatch struct {
	CompactThreshold float64 `long:"compactthreshold" description:"Fraction of the slot space lost to removed peers that triggers a compaction; 0 disables compaction"`
}

// Relay holds the proof relay options.
//
//nolint:lll
type Relay struct {
	Interval time.Duration `long:"interval" description:"Interval between two rounds of proof announcements"`
}

// Simulation holds the options of the simulated chain the daemon runs on.
//
//nolint:lll
type Simulation struct {
	Peers         int           `long:"peers" description:"Number of funded peers registered on startup"`
	BlockInterval time.Duration `long:"blockinterval" description:"Interval between two simulated blocks"`
	Seed          uint64        `long:"seed" description:"Seed of the simulation; 0 picks a random one"`
}

// Prometheus configures the Prometheus exporter.
//
//nolint:lll
type Prometheus struct {
	Enable bool   `long:"enable" description:"Enable the Prometheus exporter; requires a build with the monitoring tag"`
	Listen string `long:"listen" description:"The address the Prometheus exporter listens on"`
}

// Enabled returns whether or not Prometheus monitoring is enabled.
func (p *Prometheus) Enabled() bool {
	return p.Enable
}

// Config is the configuration of the avapeerd daemon.
//
//nolint:lll
type Config struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	AppDir      string `long:"appdir" description:"The base directory that contains the daemon's data, logs and configuration file"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	LogConfig *build.LogConfig `group:"logging" namespace:"logging"`

	PeerManager *PeerManager `group:"peermanager" namespace:"peermanager"`

	TipWatch *TipWatch `group:"tipwatch" namespace:"tipwatch"`

	Relay *Relay `group:"relay" namespace:"relay"`

	Sim *Simulation `group:"sim" namespace:"sim"`

	Prometheus *Prometheus `group:"prometheus" namespace:"prometheus"`

	// configFileError is the reason the config file could not be read.
	configFileError error
}

// ConfigFileError returns the reason the config file could not be read, if
// any. A missing config file is not fatal, so LoadConfig leaves it to the
// caller to warn about it once logging is set up.
func (c *Config) ConfigFileError() error {
	return c.configFileError
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		AppDir:     DefaultAppDir,
		ConfigFile: DefaultConfigFile,
		LogDir:     defaultLogDir,
		DebugLevel: "info",
		LogConfig:  build.DefaultLogConfig(),
		PeerManager: &PeerManager{
			MaxOrphanStakes:        peermanager.DefaultMaxOrphanStakes,
			MaxProofStakes:         avaproof.DefaultMaxProofStakes,
			StakeUTXOConfirmations: peermanager.DefaultStakeUTXOConfirmations,
		},
		TipWatch: &TipWatch{
			CompactThreshold: tipwatch.DefaultCompactThreshold,
		},
		Relay: &Relay{
			Interval: DefaultRelayInterval,
		},
		Sim: &Simulation{
			Peers:         DefaultSimPeers,
			BlockInterval: DefaultBlockInterval,
		},
		Prometheus: &Prometheus{
			Listen: DefaultPrometheusListen,
		},
	}
}

// LoadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig(args []string) (*Config, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.ParseArgs(&preCfg, args); err != nil {
		return nil, err
	}

	// Return early if only the version was requested.
	if preCfg.ShowVersion {
		return &preCfg, nil
	}

	// If the config file path has not been modified by the user, then
	// we'll use the default config file path. However, if the user has
	// modified their app dir, then we should assume they intend to use
	// the config file within it.
	configFileDir := CleanAndExpandPath(preCfg.AppDir)
	configFilePath := CleanAndExpandPath(preCfg.ConfigFile)
	if configFileDir != DefaultAppDir && configFilePath == DefaultConfigFile {
		configFilePath = filepath.Join(
			configFileDir, DefaultConfigFilename,
		)
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	if err := flags.IniParse(configFilePath, &cfg); err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}

		configFileError = err
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	if _, err := flags.ParseArgs(&cfg, args); err != nil {
		return nil, err
	}

	cleanCfg, err := ValidateConfig(cfg)
	if err != nil {
		return nil, err
	}
	cleanCfg.configFileError = configFileError

	return cleanCfg, nil
}

// ValidateConfig checks the given configuration to be sane. All file system
// paths are normalized. The cleaned up config is returned on success.
func ValidateConfig(cfg Config) (*Config, error) {
	// If the provided app directory is not the default, we'll move the log
	// directory inside it unless it was set explicitly.
	appDir := CleanAndExpandPath(cfg.AppDir)
	if appDir != DefaultAppDir && cfg.LogDir == defaultLogDir {
		cfg.LogDir = filepath.Join(appDir, defaultLogDirname)
	}
	cfg.AppDir = appDir
	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)

	if err := cfg.LogConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}

	switch {
	case cfg.PeerManager.MaxOrphanStakes == 0:
		return nil, errors.New("peermanager.maxorphanstakes must be " +
			"positive")

	case cfg.PeerManager.MaxProofStakes <= 0:
		return nil, errors.New("peermanager.maxproofstakes must be " +
			"positive")

	case cfg.TipWatch.CompactThreshold < 0 ||
		cfg.TipWatch.CompactThreshold > 1:

		return nil, fmt.Errorf("tipwatch.compactthreshold must be "+
			"within [0, 1], got %v", cfg.TipWatch.CompactThreshold)

	case cfg.Relay.Interval <= 0:
		return nil, errors.New("relay.interval must be positive")

	case cfg.Sim.Peers < 0:
		return nil, errors.New("sim.peers must not be negative")

	case cfg.Sim.BlockInterval <= 0:
		return nil, errors.New("sim.blockinterval must be positive")

	case cfg.Prometheus.Enabled() && cfg.Prometheus.Listen == "":
		return nil, errors.New("prometheus.listen must be set when " +
			"the exporter is enabled")
	}

	cfg.PeerManager.DebugChecks = build.DebugChecks(
		cfg.PeerManager.DebugChecks,
	)

	return &cfg, nil
}

// PeerManagerConfig converts the options into a peer manager config over the
// given coin view.
func (c *Config) PeerManagerConfig(view avaproof.CoinView) peermanager.Config {
	return peermanager.Config{
		CoinView:               view,
		MaxOrphanStakes:        c.PeerManager.MaxOrphanStakes,
		MaxProofStakes:         c.PeerManager.MaxProofStakes,
		StakeUTXOConfirmations: c.PeerManager.StakeUTXOConfirmations,
		DebugChecks:            c.PeerManager.DebugChecks,
	}
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
