package build

import (
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
	"github.com/klauspost/compress/zstd"
)

const (
	// Gzip is the default compressor of rolled log files.
	Gzip = "gzip"

	// Zstd compresses rolled log files better and faster than Gzip.
	Zstd = "zstd"
)

// logCompressor describes how rolled log files are compressed.
type logCompressor struct {
	// suffix is appended to the name of the rolled files.
	suffix string

	// newWriter creates the compressor handed to the rotator.
	newWriter func() (rotator.Compressor, error)
}

var logCompressors = map[string]logCompressor{
	Gzip: {
		suffix: "gz",
		newWriter: func() (rotator.Compressor, error) {
			return gzip.NewWriter(nil), nil
		},
	},
	Zstd: {
		suffix: "zst",
		newWriter: func() (rotator.Compressor, error) {
			return zstd.NewWriter(nil)
		},
	},
}

// SupportedLogCompressor returns whether rolled log files can be compressed
// with the named algorithm.
func SupportedLogCompressor(name string) bool {
	_, ok := logCompressors[name]
	return ok
}

// RotatingLogWriter is a writer that rolls the daemon's log file over once it
// grows past the configured size. Writes are dropped until InitLogRotator
// is called.
type RotatingLogWriter struct {
	rotator *rotator.Rotator
}

// NewRotatingLogWriter creates a writer without a log file.
func NewRotatingLogWriter() *RotatingLogWriter {
	return &RotatingLogWriter{}
}

// InitLogRotator opens logFile, creating its directory if needed, and rolls
// it over in the same directory. Close must be called on shutdown.
func (r *RotatingLogWriter) InitLogRotator(cfg *FileLoggerConfig,
	logFile string) error {

	compressor, ok := logCompressors[cfg.Compressor]
	if !ok {
		return fmt.Errorf("unknown log compressor: %v", cfg.Compressor)
	}

	writer, err := compressor.newWriter()
	if err != nil {
		return fmt.Errorf("unable to create %v compressor: %w",
			cfg.Compressor, err)
	}

	err = os.MkdirAll(filepath.Dir(logFile), 0700)
	if err != nil {
		return fmt.Errorf("unable to create log directory: %w", err)
	}

	// The rotator threshold is in KB.
	r.rotator, err = rotator.New(
		logFile, int64(cfg.MaxLogFileSize*1024), false, cfg.MaxLogFiles,
	)
	if err != nil {
		return fmt.Errorf("unable to create file rotator: %w", err)
	}
	r.rotator.SetCompressor(writer, compressor.suffix)

	return nil
}

// Write writes to the log file, or drops the bytes if there is none yet.
func (r *RotatingLogWriter) Write(b []byte) (int, error) {
	if r.rotator == nil {
		return len(b), nil
	}

	return r.rotator.Write(b)
}

// Close closes the log file, if any.
func (r *RotatingLogWriter) Close() error {
	if r.rotator == nil {
		return nil
	}

	return r.rotator.Close()
}
