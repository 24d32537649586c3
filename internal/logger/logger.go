// Package logger builds the process zerolog logger from configuration.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Output formats
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config holds logger configuration
type Config struct {
	Level  string    // debug, info, warn, error
	Format string    // console or json
	File   string    // optional log file, always JSON
	Out    io.Writer // console destination, os.Stderr when nil
}

// Logger owns the configured zerolog.Logger and its log file
type Logger struct {
	zerolog.Logger
	file *os.File
}

// New creates a logger. Output goes to stderr so stdout stays free for
// command output and the MCP stdio transport.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	var console io.Writer = out
	switch cfg.Format {
	case FormatJSON:
	case FormatConsole, "":
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	writers := []io.Writer{console}
	var file *os.File
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, &redactWriter{w: file})
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	log.Logger = zl

	return &Logger{Logger: zl, file: file}, nil
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

var secretPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`), "[REDACTED]"},
	{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`), "[REDACTED]"},
	{regexp.MustCompile(`("api_key"\s*:\s*")[^"]+`), "${1}[REDACTED]"},
}

// Redact masks API keys and bearer tokens in s
func Redact(s string) string {
	for _, p := range secretPatterns {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return s
}

// redactWriter masks secrets before lines reach the log file
type redactWriter struct {
	w io.Writer
}

func (r *redactWriter) Write(p []byte) (int, error) {
	if _, err := r.w.Write([]byte(Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
