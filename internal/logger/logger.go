package logger

import (
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"codeberg.org/mutker/beamlog/internal/errors"
	"github.com/rs/zerolog"
)

var log = zerolog.Nop()

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// ParseLevel maps a configured level name onto a LogLevel.
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(name) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, errors.New().WithData(errors.ErrInvalidLogLevel, name)
	}
}

// Init initializes the logger writing to stdout
func Init(level LogLevel, isService bool) {
	InitWithWriter(os.Stdout, level, isService)
}

// InitWithWriter initializes the logger on an arbitrary writer
func InitWithWriter(w io.Writer, level LogLevel, isService bool) {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}

	if isService {
		output.NoColor = true
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	log = zerolog.New(output).With().Timestamp().Logger()
	SetLogLevel(level)
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// ErrorWithCode logs an error message with a specific error code
func ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{log.Error().
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}

// componentLogger tags every event with the owning component
type componentLogger struct {
	component string
}

// Default returns a Logger backed by the global logger
func Default() Logger {
	return componentLogger{}
}

func (c componentLogger) tag(e *zerolog.Event) *LogEvent {
	if c.component != "" {
		e = e.Str("component", c.component)
	}
	return &LogEvent{e}
}

func (c componentLogger) Debug() *LogEvent { return c.tag(log.Debug()) }
func (c componentLogger) Info() *LogEvent  { return c.tag(log.Info()) }
func (c componentLogger) Warn() *LogEvent  { return c.tag(log.Warn()) }
func (c componentLogger) Error() *LogEvent { return c.tag(log.Error()) }

func (c componentLogger) With(component string) Logger {
	return componentLogger{component: component}
}
