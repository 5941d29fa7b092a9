// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Log is the package-global logger configured by Init.
var Log zerolog.Logger

// Options controls how the global logger is built.
type Options struct {
	// Level is one of "debug", "info", "warn", "error". Unknown values fall
	// back to info.
	Level string
	// File, when non-empty, tees log output to the given path in addition to
	// stdout. Parent directories are created as needed.
	File string
	// Console enables the human-readable console writer instead of raw JSON.
	Console bool
}

// Init builds the global logger and returns a cleanup func that closes the
// log file, if one was opened.
func Init(opts Options) (func(), error) {
	zerolog.SetGlobalLevel(parseLevel(opts.Level))

	var out io.Writer = os.Stdout
	if opts.Console {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	writers := []io.Writer{out}
	var f *os.File
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		var err error
		// 0640 keeps deploy logs out of world-readable reach.
		f, err = os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
	}

	Log = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()
	return func() {
		if f != nil {
			_ = f.Close()
		}
	}, nil
}

// Get returns a pointer to the package-global logger.
func Get() *zerolog.Logger {
	return &Log
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
