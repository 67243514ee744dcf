// Package logging wraps zerolog with the call surface the rest of this
// codebase expects: Info/Infof/Warnf/Errorf for plain and formatted
// lines, and With for a child logger carrying one structured field. The
// orchestrator's audit trail is its own EventBus, not this package.
package logging

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once sync.Once
	log  zerolog.Logger
)

func logger() zerolog.Logger {
	once.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339
		level := zerolog.InfoLevel
		if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
			level = lvl
		}
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			Level(level).
			With().
			Timestamp().
			Logger()
	})
	return log
}

func Info(msg string) {
	logger().Info().Msg(msg)
}

func Infof(format string, args ...interface{}) {
	logger().Info().Msgf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	logger().Warn().Msgf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	logger().Error().Msgf(format, args...)
}

// With returns a child logger pre-populated with a field, used by callers
// that want structured context (ticker, mode, gate) rather than a formatted
// string.
func With(key, value string) zerolog.Logger {
	return logger().With().Str(key, value).Logger()
}
