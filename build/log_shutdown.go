package build

import (
	"context"
	"sync"

	"github.com/btcsuite/btclog/v2"
)

// ShutdownLogger is a logger that asks the daemon to shut down the first time
// something is logged at the critical level.
type ShutdownLogger struct {
	btclog.Logger

	shutdown     func()
	shutdownOnce sync.Once
}

// A compile-time check to ensure that ShutdownLogger implements
// btclog.Logger.
var _ btclog.Logger = (*ShutdownLogger)(nil)

// NewShutdownLogger wraps the logger so that critical lines call shutdown.
func NewShutdownLogger(logger btclog.Logger, shutdown func()) *ShutdownLogger {
	return &ShutdownLogger{
		Logger:   logger,
		shutdown: shutdown,
	}
}

// requestShutdown calls the shutdown function once.
func (s *ShutdownLogger) requestShutdown() {
	s.shutdownOnce.Do(func() {
		s.Logger.Info("Critical error logged, requesting shutdown")
		s.shutdown()
	})
}

// Criticalf logs at the critical level and requests a shutdown.
//
// NOTE: Part of the btclog.Logger interface.
func (s *ShutdownLogger) Criticalf(format string, params ...any) {
	s.Logger.Criticalf(format, params...)
	s.requestShutdown()
}

// Critical logs at the critical level and requests a shutdown.
//
// NOTE: Part of the btclog.Logger interface.
func (s *ShutdownLogger) Critical(v ...any) {
	s.Logger.Critical(v...)
	s.requestShutdown()
}

// CriticalS writes a structured log at the critical level and requests a
// shutdown.
//
// NOTE: Part of the btclog.Logger interface.
func (s *ShutdownLogger) CriticalS(ctx context.Context, msg string, err error,
	attr ...any) {

	s.Logger.CriticalS(ctx, msg, err, attr...)
	s.requestShutdown()
}
