// Package logging builds the zerolog.Logger handed to the job manager and the
// CLI commands.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TimeFormat is the layout of the time field on every log line.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Format selects how log lines are written to the output stream.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Config configures a logger.
type Config struct {
	// Level is one of trace, debug, info, warn or error. Unknown values fall
	// back to info.
	Level string `yaml:"level"`

	// Format is console (default) or json.
	Format Format `yaml:"format"`

	// File, when set, additionally appends JSON log lines to this path.
	File string `yaml:"file"`
}

// New creates a logger writing to out according to cfg. The returned Closer
// releases the log file, if any, and must be called once logging is done.
// zerolog's package-level settings are left untouched.
func New(cfg Config, out io.Writer) (zerolog.Logger, io.Closer, error) {
	var w io.Writer
	switch strings.ToLower(strings.TrimSpace(string(cfg.Format))) {
	case "", string(FormatConsole):
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: TimeFormat}
	case string(FormatJSON):
		w = out
	default:
		return zerolog.Nop(), nopCloser{}, fmt.Errorf(
			"unsupported log format: '%s'",
			cfg.Format,
		)
	}

	var closer io.Closer = nopCloser{}

	if path := strings.TrimSpace(cfg.File); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf(
				"open log file '%s': %w",
				path,
				err,
			)
		}

		closer = f
		w = zerolog.MultiLevelWriter(w, zerolog.SyncWriter(f))
	}

	log := zerolog.New(w).
		Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).
		Hook(timestampHook{})

	return log, closer, nil
}

// ParseLevel returns the zerolog level named by s or def if s names none.
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return def
	}
}

// timestampHook stamps each event in TimeFormat, which Timestamp() can only do
// through the global zerolog.TimeFieldFormat.
type timestampHook struct{}

func (timestampHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	e.Str(zerolog.TimestampFieldName, time.Now().Format(TimeFormat))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
