package build

import (
	"bytes"
	"path/filepath"
	"sort"
	"testing"

	btclogv1 "github.com/btcsuite/btclog"
	"github.com/btcsuite/btclog/v2"
	"github.com/stretchr/testify/require"
)

// mockSubLogger records the levels assigned to a fixed set of subsystems.
type mockSubLogger struct {
	levels map[string]string
}

func newMockSubLogger(subsystems ...string) *mockSubLogger {
	m := &mockSubLogger{levels: make(map[string]string)}
	for _, s := range subsystems {
		m.levels[s] = "info"
	}

	return m
}

func (m *mockSubLogger) SubLoggers() SubLoggers {
	loggers := make(SubLoggers)
	for s := range m.levels {
		loggers[s] = btclog.Disabled
	}

	return loggers
}

func (m *mockSubLogger) SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(m.levels))
	for s := range m.levels {
		subsystems = append(subsystems, s)
	}
	sort.Strings(subsystems)

	return subsystems
}

func (m *mockSubLogger) SetLogLevel(subsystemID string, logLevel string) {
	m.levels[subsystemID] = logLevel
}

func (m *mockSubLogger) SetLogLevels(logLevel string) {
	for s := range m.levels {
		m.levels[s] = logLevel
	}
}

// TestParseAndSetDebugLevels checks the parsing of the debug level string.
func TestParseAndSetDebugLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		level    string
		expected map[string]string
		err      bool
	}{
		{
			name:  "global level",
			level: "debug",
			expected: map[string]string{
				"AVAP": "debug",
				"TIPW": "debug",
			},
		},
		{
			name:  "global and subsystem",
			level: "warn,AVAP=trace",
			expected: map[string]string{
				"AVAP": "trace",
				"TIPW": "warn",
			},
		},
		{
			name:  "subsystem only",
			level: "TIPW=error",
			expected: map[string]string{
				"AVAP": "info",
				"TIPW": "error",
			},
		},
		{
			name:  "invalid global level",
			level: "verbose",
			err:   true,
		},
		{
			name:  "unknown subsystem",
			level: "info,NOPE=debug",
			err:   true,
		},
		{
			name:  "invalid subsystem level",
			level: "AVAP=loud",
			err:   true,
		},
		{
			name:  "malformed pair",
			level: "info,AVAP=debug=trace",
			err:   true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			logger := newMockSubLogger("AVAP", "TIPW")
			err := ParseAndSetDebugLevels(test.level, logger)
			if test.err {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, test.expected, logger.levels)
		})
	}
}

// TestParseDebugLevels checks the parsed form of a debug level and that an
// unknown subsystem leaves every level untouched.
func TestParseDebugLevels(t *testing.T) {
	t.Parallel()

	levels, err := ParseDebugLevels("warn,AVAP=trace,TIPW=off")
	require.NoError(t, err)
	require.Equal(t, &DebugLevels{
		Global: "warn",
		Subsystems: []SubsystemLevel{
			{Subsystem: "AVAP", Level: "trace"},
			{Subsystem: "TIPW", Level: "off"},
		},
	}, levels)

	_, err = ParseDebugLevels("AVAP=debug,info")
	require.Error(t, err)

	_, err = ParseDebugLevels(ShowSubsystems)
	require.ErrorIs(t, err, ErrInvalidLogLevel)

	logger := newMockSubLogger("AVAP", "TIPW")
	err = ParseAndSetDebugLevels("error,TIPW=debug,NOPE=trace", logger)
	require.Error(t, err)
	require.Equal(t, map[string]string{
		"AVAP": "info",
		"TIPW": "info",
	}, logger.levels)
}

// TestDebugChecks checks that development builds always verify the peer
// manager state.
func TestDebugChecks(t *testing.T) {
	t.Parallel()

	require.True(t, Development.ForcesDebugChecks())
	require.False(t, Production.ForcesDebugChecks())

	require.True(t, DebugChecks(true))
	require.Equal(t, Deployment.ForcesDebugChecks(), DebugChecks(false))
}

// TestLogConfigValidate checks the validation of the logger options.
func TestLogConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*LogConfig)
		valid  bool
	}{
		{
			name:   "defaults",
			mutate: func(*LogConfig) {},
			valid:  true,
		},
		{
			name: "zstd",
			mutate: func(c *LogConfig) {
				c.File.Compressor = Zstd
			},
			valid: true,
		},
		{
			name: "unknown compressor",
			mutate: func(c *LogConfig) {
				c.File.Compressor = "lz4"
			},
		},
		{
			name: "negative max files",
			mutate: func(c *LogConfig) {
				c.File.MaxLogFiles = -1
			},
		},
		{
			name: "zero file size",
			mutate: func(c *LogConfig) {
				c.File.MaxLogFileSize = 0
			},
		},
		{
			name: "unknown console call site",
			mutate: func(c *LogConfig) {
				c.Console.CallSite = "middle"
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultLogConfig()
			test.mutate(cfg)

			err := cfg.Validate()
			if test.valid {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
		})
	}
}

// TestHandlerOptions checks that the console style adds an option.
func TestHandlerOptions(t *testing.T) {
	t.Parallel()

	cfg := DefaultLogConfig()
	plain := len(cfg.Console.HandlerOptions())

	cfg.Console.Style = true
	require.Len(t, cfg.Console.HandlerOptions(), plain+1)

	cfg.File.NoTimestamps = true
	require.Len(t, cfg.File.HandlerOptions(), 2)
}

// TestHandlerSet checks that records reach every handler of the set and that
// levels apply to all of them.
func TestHandlerSet(t *testing.T) {
	t.Parallel()

	var first, second bytes.Buffer
	set := NewHandlerSet(
		btclogv1.LevelInfo,
		btclog.NewDefaultHandler(&first, btclog.WithNoTimestamp()),
		btclog.NewDefaultHandler(&second, btclog.WithNoTimestamp()),
	)
	logger := btclog.NewSLogger(set.SubSystem("TEST"))

	logger.Debugf("hidden")
	logger.Infof("shown %d", 1)

	require.NotContains(t, first.String(), "hidden")
	require.Contains(t, first.String(), "shown 1")
	require.Contains(t, first.String(), "TEST")
	require.Equal(t, first.String(), second.String())

	logger.SetLevel(btclog.LevelDebug)
	logger.Debugf("now visible")
	require.Contains(t, second.String(), "now visible")

	require.Equal(t, btclogv1.LevelInfo, set.Level())
	set.SetLevel(btclogv1.LevelWarn)
	require.Equal(t, btclogv1.LevelWarn, set.Level())
}

// TestShutdownLogger checks that critical lines request a single shutdown.
func TestShutdownLogger(t *testing.T) {
	t.Parallel()

	var (
		out       bytes.Buffer
		shutdowns int
	)
	handler := btclog.NewDefaultHandler(&out, btclog.WithNoTimestamp())
	logger := NewShutdownLogger(btclog.NewSLogger(handler), func() {
		shutdowns++
	})

	logger.Errorf("not critical")
	require.Zero(t, shutdowns)

	logger.Criticalf("state lost: %d", 1)
	logger.Critical("still broken")
	require.Equal(t, 1, shutdowns)
	require.Contains(t, out.String(), "state lost: 1")
	require.Contains(t, out.String(), "requesting shutdown")
}

// TestRotatingLogWriter checks that the rotator writes to the log file.
func TestRotatingLogWriter(t *testing.T) {
	t.Parallel()

	// Writes before initialisation are discarded.
	writer := NewRotatingLogWriter()
	n, err := writer.Write([]byte("dropped"))
	require.NoError(t, err)
	require.Equal(t, 7, n)

	logFile := filepath.Join(t.TempDir(), "logs", "avapeerd.log")

	cfg := DefaultLogConfig().File
	cfg.Compressor = "lz4"
	require.Error(t, writer.InitLogRotator(cfg, logFile))

	cfg.Compressor = Zstd
	writer = NewRotatingLogWriter()
	require.NoError(t, writer.InitLogRotator(cfg, logFile))

	_, err = writer.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	require.FileExists(t, logFile)
}
