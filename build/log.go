package build

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/btclog"
)

// LogType is an indicating the type of logging specified by the build flag.
type LogType byte

const (
	// LogTypeNone indicates no logging.
	LogTypeNone LogType = iota

	// LogTypeStdOut all logging is written directly to stdout.
	LogTypeStdOut

	// LogTypeDefault logs to both stdout and a given io.PipeWriter.
	LogTypeDefault
)

// LogWriter is the shared writer behind every subsystem logger. The "stdlog"
// build tag makes it write to stdout only, "nolog" discards everything.
type LogWriter struct {
	// RotatorPipe, if set, receives a copy of every line in the default
	// build.
	RotatorPipe io.Writer
}

// NewSubLogger returns the logger of a subsystem. genSubLogger, usually a
// SubLoggerManager's GenSubLogger, is used when the daemon or a tool has set
// up logging. Unit tests only get output in the stdlog build.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	switch Deployment {
	case Production:
		if genSubLogger != nil {
			return genSubLogger(subsystem)
		}

	case Development:
		switch LoggingType {
		case LogTypeDefault:
			if genSubLogger != nil {
				return genSubLogger(subsystem)
			}

		case LogTypeStdOut:
			backend := btclog.NewBackend(&LogWriter{})
			logger := backend.Logger(subsystem)

			level, _ := btclog.LevelFromString(LogLevel)
			logger.SetLevel(level)

			return logger
		}
	}

	return btclog.Disabled
}

// SubLoggers is a type that holds a map of subsystem loggers keyed by their
// subsystem name.
type SubLoggers map[string]btclog.Logger

// LeveledSubLogger provides the ability to retrieve the subsystem loggers of
// a logger and set their log levels individually or all at once.
type LeveledSubLogger interface {
	// SubLoggers returns the map of all registered subsystem loggers.
	SubLoggers() SubLoggers

	// SupportedSubsystems returns a slice of strings containing the names
	// of the supported subsystems. Should ideally correspond to the keys
	// of the subsystem logger map and be sorted.
	SupportedSubsystems() []string

	// SetLogLevel assigns an individual subsystem logger a new log level.
	SetLogLevel(subsystemID string, logLevel string)

	// SetLogLevels assigns all subsystem loggers the same new log level.
	SetLogLevels(logLevel string)
}

var (
	// ErrInvalidLogLevel is returned for a level btclog doesn't know.
	ErrInvalidLogLevel = errors.New("invalid log level")

	// ErrUnknownSubsystem is returned for a subsystem that has no
	// registered logger.
	ErrUnknownSubsystem = errors.New("unknown subsystem")
)

// ParseAndSetDebugLevels applies a debug level of the form
// [<global-level>,]<subsystem>=<level>,... to logger. The whole string is
// checked before any level is changed.
func ParseAndSetDebugLevels(level string, logger LeveledSubLogger) error {
	entries := strings.Split(level, ",")

	global := ""
	if !strings.Contains(entries[0], "=") {
		global, entries = entries[0], entries[1:]
		if !validLogLevel(global) {
			return fmt.Errorf("%w: %q", ErrInvalidLogLevel, global)
		}
	}

	subLoggers := logger.SubLoggers()
	perSubsystem := make(map[string]string, len(entries))
	for _, entry := range entries {
		subsystem, subLevel, ok := strings.Cut(entry, "=")
		if !ok || strings.Contains(subLevel, "=") {
			return fmt.Errorf("malformed subsystem level %q, use "+
				"<subsystem>=<level>", entry)
		}
		if _, ok := subLoggers[subsystem]; !ok {
			return fmt.Errorf("%w: %q, supported subsystems are %v",
				ErrUnknownSubsystem, subsystem,
				logger.SupportedSubsystems())
		}
		if !validLogLevel(subLevel) {
			return fmt.Errorf("%w: %q for %v", ErrInvalidLogLevel,
				subLevel, subsystem)
		}
		perSubsystem[subsystem] = subLevel
	}

	if global != "" {
		logger.SetLogLevels(global)
	}
	for subsystem, subLevel := range perSubsystem {
		logger.SetLogLevel(subsystem, subLevel)
	}

	return nil
}

func validLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)
	return ok
}
