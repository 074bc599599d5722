// Package logging builds the diagnostic logger shared by the CLI and the
// terminal UI. Entries are appended to a log file; the log file is never
// read back by the application.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/nhle/emailflesh/internal/model"
)

// Options controls where log entries go.
type Options struct {
	// File is the append-only log file. Empty disables file logging.
	File string

	// Level is a logrus level name ("debug", "info", ...).
	Level string

	// Console also writes entries to this writer (stderr in CLI mode).
	// Nil keeps the terminal clean, which the TUI needs.
	Console io.Writer
}

// OptionsFromConfig maps the log section of the app config.
func OptionsFromConfig(cfg model.LogConfig, console io.Writer) Options {
	return Options{File: cfg.File, Level: cfg.Level, Console: console}
}

// New returns a logger and a close func for the underlying file. A log file
// that cannot be opened degrades to console-only output and is reported
// through the returned logger itself.
func New(opts Options) (*logrus.Logger, func() error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	closer := func() error { return nil }

	var writers []io.Writer
	if opts.Console != nil {
		writers = append(writers, opts.Console)
	}

	var fileErr error
	if opts.File != "" {
		f, err := openLogFile(opts.File)
		if err != nil {
			fileErr = err
		} else {
			writers = append(writers, f)
			closer = f.Close
		}
	}

	switch len(writers) {
	case 0:
		log.SetOutput(io.Discard)
	case 1:
		log.SetOutput(writers[0])
	default:
		log.SetOutput(io.MultiWriter(writers...))
	}

	if fileErr != nil {
		if opts.Console == nil {
			log.SetOutput(os.Stderr)
		}
		log.WithError(fileErr).Warn("failed to open log file, logging to console only")
	}

	return log, closer
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	return f, nil
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
