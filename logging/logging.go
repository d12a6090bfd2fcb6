// Package logging - Run loggers writing to stderr and a per-run log file.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nvr-ai/go-tagger/config"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Logger couples a logrus logger with the file it writes to.
type Logger struct {
	*logrus.Logger
	// Path is the log file of this run.
	Path string
	file *os.File
}

// New creates the logger of a run.
//
// Records go to stderr and to cfg.LogPath(prefix, now), creating parent directories as needed.
//
// Arguments:
//   - cfg: The run configuration.
//   - prefix: The kind of run, used in the log file name.
//
// Returns:
//   - *Logger: The logger; Close releases the file.
//   - error: An error if the log file cannot be created.
func New(cfg *config.Config, prefix string) (*Logger, error) {
	path := cfg.LogPath(prefix, time.Now())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating log directory for %s", path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening log file %s", path)
	}

	l := logrus.New()
	l.SetOutput(io.MultiWriter(os.Stderr, f))
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	l.SetLevel(logrus.InfoLevel)

	return &Logger{Logger: l, Path: path, file: f}, nil
}

// Close flushes and closes the log file. Calling it twice is a no-op.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	l.SetOutput(os.Stderr)
	err := l.file.Close()
	l.file = nil
	return err
}

// Discard returns a logger that drops every record.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
