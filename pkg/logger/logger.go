package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)
)

// Init replaces the package logger. format is "console" or "json".
func Init(level, format string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}

	var out io.Writer
	switch strings.ToLower(format) {
	case "json":
		out = os.Stdout
	case "console", "":
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	default:
		return fmt.Errorf("unsupported log format %q", format)
	}

	SetOutput(out, lvl)
	return nil
}

// SetOutput is used by Init and by tests that want to capture log lines.
func SetOutput(w io.Writer, lvl zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	base = zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}

func Get() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func Info(format string, v ...interface{}) {
	l := Get()
	l.Info().Msgf(format, v...)
}

func Error(format string, v ...interface{}) {
	l := Get()
	l.Error().Msgf(format, v...)
}

func Debug(format string, v ...interface{}) {
	l := Get()
	l.Debug().Msgf(format, v...)
}

func Warn(format string, v ...interface{}) {
	l := Get()
	l.Warn().Msgf(format, v...)
}

// LogStaleSummary records a chat whose last-message projection failed after
// the message itself was stored.
func LogStaleSummary(chatID, messageID string, err error) {
	l := Get()
	l.Warn().
		Str("chat_id", chatID).
		Str("message_id", messageID).
		Err(err).
		Msg("chat summary not updated; preview and recency are stale until the next send")
}

// Fatal logs and exits the process.
func Fatal(format string, v ...interface{}) {
	l := Get()
	l.Fatal().Msgf(format, v...)
}
