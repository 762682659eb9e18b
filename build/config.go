package build

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btclog/v2"
)

const (
	callSiteOff   = "off"
	callSiteShort = "short"
	callSiteLong  = "long"

	// DefaultMaxLogFiles is the number of rolled log files kept next to
	// avapeerd.log.
	DefaultMaxLogFiles = 10

	// DefaultMaxLogFileSize is the size in MB at which the log file is
	// rolled.
	DefaultMaxLogFileSize = 20

	// callSiteSkipDepth is the btclog default of 6 plus the handler set
	// every record goes through.
	callSiteSkipDepth = 7
)

// LogConfig holds the options of the console and file loggers.
//
//nolint:lll
type LogConfig struct {
	Console *ConsoleLoggerConfig `group:"console" namespace:"console" description:"The logger writing to stdout."`
	File    *FileLoggerConfig    `group:"file" namespace:"file" description:"The logger writing to the daemon's log file."`
}

// DefaultLogConfig returns the default logging options: short call sites on
// the console, none in the file, and gzip compressed rolled files.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Console: &ConsoleLoggerConfig{
			LoggerConfig: LoggerConfig{
				CallSite: callSiteShort,
			},
		},
		File: &FileLoggerConfig{
			LoggerConfig: LoggerConfig{
				CallSite: callSiteOff,
			},
			Compressor:     Gzip,
			MaxLogFiles:    DefaultMaxLogFiles,
			MaxLogFileSize: DefaultMaxLogFileSize,
		},
	}
}

// Validate checks the options of both loggers.
func (c *LogConfig) Validate() error {
	if err := c.Console.validate(); err != nil {
		return fmt.Errorf("console logger: %w", err)
	}
	if err := c.File.validate(); err != nil {
		return fmt.Errorf("file logger: %w", err)
	}

	return nil
}

// LoggerConfig holds the options shared by every logger.
//
//nolint:lll
type LoggerConfig struct {
	Disable      bool   `long:"disable" description:"Disable this logger."`
	NoTimestamps bool   `long:"no-timestamps" description:"Omit timestamps from log lines."`
	CallSite     string `long:"call-site" description:"Include the call-site of each log line." choice:"off" choice:"short" choice:"long"`
}

func (c *LoggerConfig) validate() error {
	switch c.CallSite {
	case "", callSiteOff, callSiteShort, callSiteLong:
		return nil
	}

	return fmt.Errorf("unknown call-site option %q", c.CallSite)
}

// HandlerOptions translates the options into btclog handler options.
func (c *LoggerConfig) HandlerOptions() []btclog.HandlerOption {
	opts := []btclog.HandlerOption{
		btclog.WithCallSiteSkipDepth(callSiteSkipDepth),
	}

	if c.NoTimestamps {
		opts = append(opts, btclog.WithNoTimestamp())
	}

	switch c.CallSite {
	case callSiteShort:
		opts = append(opts, btclog.WithCallerFlags(btclog.Lshortfile))
	case callSiteLong:
		opts = append(opts, btclog.WithCallerFlags(btclog.Llongfile))
	}

	return opts
}

// ConsoleLoggerConfig adds the styling option of the console logger.
//
//nolint:lll
type ConsoleLoggerConfig struct {
	LoggerConfig
	Style bool `long:"style" description:"Color the log level and subsystem of each line."`
}

// HandlerOptions translates the options into btclog handler options.
func (c *ConsoleLoggerConfig) HandlerOptions() []btclog.HandlerOption {
	opts := c.LoggerConfig.HandlerOptions()
	if c.Style {
		opts = append(opts, btclog.WithStyledOutput())
	}

	return opts
}

// FileLoggerConfig adds the rotation options of the file logger.
//
//nolint:lll
type FileLoggerConfig struct {
	LoggerConfig
	Compressor     string `long:"compressor" description:"Compression algorithm of rolled log files." choice:"gzip" choice:"zstd"`
	MaxLogFiles    int    `long:"max-files" description:"Maximum rolled log files to keep"`
	MaxLogFileSize int    `long:"max-file-size" description:"Size in MB at which the log file is rolled"`
}

func (c *FileLoggerConfig) validate() error {
	if err := c.LoggerConfig.validate(); err != nil {
		return err
	}

	switch {
	case !SupportedLogCompressor(c.Compressor):
		return fmt.Errorf("invalid log compressor: %v", c.Compressor)

	case c.MaxLogFiles < 0:
		return errors.New("max-files must not be negative")

	case c.MaxLogFileSize <= 0:
		return errors.New("max-file-size must be positive")
	}

	return nil
}
