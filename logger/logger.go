// Package logger holds the process-wide logrus logger used by every package of the engine.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Log is the shared logger. It writes warnings and above to stderr until Init is called.
var Log = newLogger(logrus.WarnLevel, os.Stderr)

func newLogger(level logrus.Level, out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetLevel(level)
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return l
}

// ParseLevel converts a level name from the configuration file. Unknown names fall back to info.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Init reconfigures Log. When path is non-empty, entries go to both stderr and the file.
func Init(level, path string) error {
	Log.SetLevel(ParseLevel(level))
	if path == "" {
		Log.SetOutput(os.Stderr)
		return nil
	}
	f, err := openLogFile(path)
	if err != nil {
		Log.SetOutput(os.Stderr)
		return errors.Wrapf(err, "cannot open log file %s", path)
	}
	Log.SetOutput(io.MultiWriter(os.Stderr, f))
	return nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
}

// WithComponent returns an entry tagged with the emitting component.
func WithComponent(name string) *logrus.Entry {
	return Log.WithField("component", name)
}
