package main

import (
	"sort"
	"sync"

	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/avapeer/build"
	"github.com/lightningnetwork/avapeer/monitoring"
	"github.com/lightningnetwork/avapeer/peermanager"
	"github.com/lightningnetwork/avapeer/peernotifier"
	"github.com/lightningnetwork/avapeer/proofrelay"
	"github.com/lightningnetwork/avapeer/signal"
	"github.com/lightningnetwork/avapeer/tipwatch"
)

// Subsystem is the logging code of the daemon itself.
const Subsystem = "AVPD"

// avpdLog is the daemon's main logger.
var avpdLog = build.NewSubLogger(Subsystem, nil)

// subLoggerManager hands out the subsystem loggers of the daemon over a
// single root handler and tracks them so their levels can be changed.
type subLoggerManager struct {
	handler btclog.Handler

	mu      sync.Mutex
	loggers build.SubLoggers
}

// A compile-time check to ensure that subLoggerManager implements
// build.LeveledSubLogger.
var _ build.LeveledSubLogger = (*subLoggerManager)(nil)

// newSubLoggerManager creates a manager whose loggers write to the handler.
func newSubLoggerManager(handler btclog.Handler) *subLoggerManager {
	return &subLoggerManager{
		handler: handler,
		loggers: make(build.SubLoggers),
	}
}

// genSubLogger creates a logger for the subsystem and registers it.
func (m *subLoggerManager) genSubLogger(subsystem string) btclog.Logger {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger := btclog.NewSLogger(m.handler.SubSystem(subsystem))
	m.loggers[subsystem] = logger

	return logger
}

// SubLoggers returns the map of all registered subsystem loggers.
//
// NOTE: Part of the build.LeveledSubLogger interface.
func (m *subLoggerManager) SubLoggers() build.SubLoggers {
	m.mu.Lock()
	defer m.mu.Unlock()

	loggers := make(build.SubLoggers, len(m.loggers))
	for subsystem, logger := range m.loggers {
		loggers[subsystem] = logger
	}

	return loggers
}

// SupportedSubsystems returns a sorted slice of the registered subsystems.
//
// NOTE: Part of the build.LeveledSubLogger interface.
func (m *subLoggerManager) SupportedSubsystems() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	subsystems := make([]string, 0, len(m.loggers))
	for subsystem := range m.loggers {
		subsystems = append(subsystems, subsystem)
	}
	sort.Strings(subsystems)

	return subsystems
}

// SetLogLevel assigns an individual subsystem logger a new log level.
//
// NOTE: Part of the build.LeveledSubLogger interface.
func (m *subLoggerManager) SetLogLevel(subsystemID string, logLevel string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger, ok := m.loggers[subsystemID]
	if !ok {
		return
	}

	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels assigns all subsystem loggers the same new log level.
//
// NOTE: Part of the build.LeveledSubLogger interface.
func (m *subLoggerManager) SetLogLevels(logLevel string) {
	level, _ := btclog.LevelFromString(logLevel)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, logger := range m.loggers {
		logger.SetLevel(level)
	}
}

// addSubLogger creates the logger of a subsystem and hands it to the package.
// Critical log lines request a shutdown of the daemon.
func addSubLogger(root *subLoggerManager, subsystem string,
	interceptor signal.Interceptor, useLoggers ...func(btclog.Logger)) {

	logger := build.NewSubLogger(subsystem, root.genSubLogger)
	shutdownLogger := build.NewShutdownLogger(
		logger, interceptor.RequestShutdown,
	)

	for _, useLogger := range useLoggers {
		useLogger(shutdownLogger)
	}
}

// setupLoggers wires the loggers of every package the daemon runs.
func setupLoggers(root *subLoggerManager, interceptor signal.Interceptor) {
	addSubLogger(root, Subsystem, interceptor, func(l btclog.Logger) {
		avpdLog = l
	})
	addSubLogger(root, signal.Subsystem, interceptor, signal.UseLogger)
	addSubLogger(root, peermanager.Subsystem, interceptor,
		peermanager.UseLogger)
	addSubLogger(root, tipwatch.Subsystem, interceptor, tipwatch.UseLogger)
	addSubLogger(root, proofrelay.Subsystem, interceptor,
		proofrelay.UseLogger)
	addSubLogger(root, monitoring.Subsystem, interceptor,
		monitoring.UseLogger)
	addSubLogger(root, peernotifier.Subsystem, interceptor,
		peernotifier.UseLogger)
}
