package build

import (
	"errors"
	"fmt"
	"os"
	"strings"

	btclogv1 "github.com/btcsuite/btclog"
	"github.com/btcsuite/btclog/v2"
)

// LogType is the logging output selected by the stdlog and nolog build tags.
type LogType byte

const (
	// LogTypeNone discards all output.
	LogTypeNone LogType = iota

	// LogTypeStdOut writes package loggers straight to stdout. Unit tests
	// use it to see the logs of the package under test.
	LogTypeStdOut

	// LogTypeDefault writes to the console and the rotating log file set
	// up by the daemon.
	LogTypeDefault
)

// String returns a human readable identifier for the logging type.
func (t LogType) String() string {
	switch t {
	case LogTypeNone:
		return "none"
	case LogTypeStdOut:
		return "stdout"
	case LogTypeDefault:
		return "default"
	default:
		return "unknown"
	}
}

// ShowSubsystems is the debug level that lists the logging subsystems of
// the daemon instead of changing any level.
const ShowSubsystems = "show"

// ErrInvalidLogLevel is returned for a level btclog does not know.
var ErrInvalidLogLevel = errors.New("invalid log level")

// NewSubLogger returns the logger of a subsystem. Packages call it from their
// log.go with a nil constructor, which keeps them silent until the daemon
// hands them a logger, unless the binary is built to log to stdout.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	switch {
	case LoggingType == LogTypeNone:
		return btclog.Disabled

	case genSubLogger != nil:
		return genSubLogger(subsystem)

	case LoggingType == LogTypeStdOut:
		return newStdOutLogger(subsystem)
	}

	return btclog.Disabled
}

// newStdOutLogger creates a subsystem logger writing to stdout at the level
// chosen by the build tags.
func newStdOutLogger(subsystem string) btclog.Logger {
	handler := btclog.NewDefaultHandler(os.Stdout)
	logger := btclog.NewSLogger(handler).SubSystem(subsystem)

	level, _ := btclogv1.LevelFromString(LogLevel)
	logger.SetLevel(level)

	return logger
}

// SubLoggers is a type that holds a map of subsystem loggers keyed by their
// subsystem name.
type SubLoggers map[string]btclog.Logger

// LeveledSubLogger provides the ability to retrieve the subsystem loggers of
// a logger and set their log levels individually or all at once.
type LeveledSubLogger interface {
	// SubLoggers returns the map of all registered subsystem loggers.
	SubLoggers() SubLoggers

	// SupportedSubsystems returns the sorted names of the registered
	// subsystems.
	SupportedSubsystems() []string

	// SetLogLevel assigns an individual subsystem logger a new log level.
	SetLogLevel(subsystemID string, logLevel string)

	// SetLogLevels assigns all subsystem loggers the same new log level.
	SetLogLevels(logLevel string)
}

// SubsystemLevel is the level requested for a single subsystem.
type SubsystemLevel struct {
	Subsystem string
	Level     string
}

// DebugLevels is a parsed debug level of the form
// <global-level>,<subsystem>=<level>,<subsystem2>=<level>,...
type DebugLevels struct {
	// Global is set on every subsystem before the overrides. Empty keeps
	// the current levels.
	Global string

	// Subsystems are applied in order after the global level.
	Subsystems []SubsystemLevel
}

// ParseDebugLevels parses the debug level. The global level, if any, must
// come first.
func ParseDebugLevels(level string) (*DebugLevels, error) {
	var levels DebugLevels
	for i, field := range strings.Split(level, ",") {
		subsystem, subLevel, isPair := strings.Cut(field, "=")
		if !isPair {
			if i != 0 {
				return nil, fmt.Errorf("invalid subsystem/level "+
					"pair %q", field)
			}
			if !validLogLevel(field) {
				return nil, fmt.Errorf("%w: %q",
					ErrInvalidLogLevel, field)
			}

			levels.Global = field

			continue
		}

		if strings.Contains(subLevel, "=") {
			return nil, fmt.Errorf("invalid subsystem/level pair "+
				"%q, use subsystem1=level1,subsystem2=level2",
				field)
		}
		if !validLogLevel(subLevel) {
			return nil, fmt.Errorf("%w for %v: %q",
				ErrInvalidLogLevel, subsystem, subLevel)
		}

		levels.Subsystems = append(levels.Subsystems, SubsystemLevel{
			Subsystem: subsystem,
			Level:     subLevel,
		})
	}

	return &levels, nil
}

// Apply sets the levels on the logger. Nothing is changed if a subsystem is
// unknown to the logger.
func (d *DebugLevels) Apply(logger LeveledSubLogger) error {
	known := logger.SubLoggers()
	for _, s := range d.Subsystems {
		if _, ok := known[s.Subsystem]; !ok {
			return fmt.Errorf("unknown subsystem %q, supported "+
				"subsystems are %v", s.Subsystem,
				logger.SupportedSubsystems())
		}
	}

	if d.Global != "" {
		logger.SetLogLevels(d.Global)
	}
	for _, s := range d.Subsystems {
		logger.SetLogLevel(s.Subsystem, s.Level)
	}

	return nil
}

// ParseAndSetDebugLevels parses the debug level and applies it to the
// logger.
func ParseAndSetDebugLevels(level string, logger LeveledSubLogger) error {
	levels, err := ParseDebugLevels(level)
	if err != nil {
		return err
	}

	return levels.Apply(logger)
}

// validLogLevel returns whether btclog knows the level.
func validLogLevel(level string) bool {
	_, ok := btclogv1.LevelFromString(level)
	return ok
}
