package build

import (
	"os"

	btclogv1 "github.com/btcsuite/btclog"
	"github.com/btcsuite/btclog/v2"
)

// NewDefaultLoggers returns the console handler writing to stdout and the
// file handler writing to the rotator, configured from the options.
func NewDefaultLoggers(cfg *LogConfig, rotator *RotatingLogWriter) (
	btclog.Handler, btclog.Handler) {

	consoleLogHandler := btclog.NewDefaultHandler(
		os.Stdout, cfg.Console.HandlerOptions()...,
	)
	logFileHandler := btclog.NewDefaultHandler(
		rotator, cfg.File.HandlerOptions()...,
	)

	return consoleLogHandler, logFileHandler
}

// NewRootHandler combines the console and file handlers into the handler that
// backs every subsystem logger. Loggers that are disabled in the config are
// left out of the set.
func NewRootHandler(cfg *LogConfig, rotator *RotatingLogWriter) btclog.Handler {
	consoleHandler, fileHandler := NewDefaultLoggers(cfg, rotator)

	var handlers []btclog.Handler
	if !cfg.Console.Disable {
		handlers = append(handlers, consoleHandler)
	}
	if !cfg.File.Disable {
		handlers = append(handlers, fileHandler)
	}

	level, _ := btclogv1.LevelFromString(LogLevel)

	return NewHandlerSet(level, handlers...)
}
