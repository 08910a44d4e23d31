// Package logger configures the process-wide logrus logger used across
// the mastering pipeline. Components receive it through the small Logger
// interface declared in pkg/masterline so tests can substitute their own.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	defaultLogger *logrus.Logger
	once          sync.Once
)

// GetLogger returns the shared logger, creating it on first use.
// The MASTERLINE_LOG_LEVEL environment variable selects the level
// (debug, info, warn, error); the default is info.
func GetLogger() *logrus.Logger {
	once.Do(func() {
		defaultLogger = logrus.New()
		defaultLogger.SetOutput(os.Stdout)
		defaultLogger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
		defaultLogger.SetLevel(levelFromEnv())
	})
	return defaultLogger
}

func levelFromEnv() logrus.Level {
	switch strings.ToLower(os.Getenv("MASTERLINE_LOG_LEVEL")) {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// SetOutput redirects the shared logger, used by tests to silence it.
func SetOutput(w io.Writer) {
	GetLogger().SetOutput(w)
}

// SetLevel changes the shared logger's level.
func SetLevel(level logrus.Level) {
	GetLogger().SetLevel(level)
}

// WithComponent returns an entry tagged with the component name.
func WithComponent(name string) *logrus.Entry {
	return GetLogger().WithField("component", name)
}
