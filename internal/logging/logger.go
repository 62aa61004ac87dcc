package logging

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Interface describes the minimal logging interface the pipeline relies on.
type Interface interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

var (
	globalLogger *zerologAdapter
	once         sync.Once
)

func initLogger() {
	once.Do(func() {
		base := zerolog.New(os.Stdout).With().Timestamp().Logger()
		globalLogger = &zerologAdapter{log: base}
	})
}

// Logger returns a lazily initialized zerolog-backed logger implementing Interface.
func Logger() Interface {
	initLogger()
	return globalLogger
}

// Base returns the underlying zerolog logger, for code that wants structured fields.
func Base() zerolog.Logger {
	initLogger()
	return globalLogger.log
}

// SetLevel applies a textual level ("debug", "info", ...) process-wide.
// Unknown or empty levels fall back to info.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

type zerologAdapter struct {
	log zerolog.Logger
}

func (l *zerologAdapter) Infof(format string, args ...interface{}) {
	l.log.Info().Msgf(format, args...)
}

func (l *zerologAdapter) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l *zerologAdapter) Debugf(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l *zerologAdapter) Warnf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}
