package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("json to writer", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(Config{Level: "debug", Format: FormatJSON, Out: &buf})
		require.NoError(t, err)
		defer func() { _ = l.Close() }()

		l.Debug().Str("collection", "obsidian").Msg("hello")
		assert.Contains(t, buf.String(), `"collection":"obsidian"`)
		assert.Contains(t, buf.String(), `"message":"hello"`)
	})

	t.Run("level filters", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(Config{Level: "warn", Format: FormatJSON, Out: &buf})
		require.NoError(t, err)

		l.Info().Msg("quiet")
		assert.Empty(t, buf.String())
		assert.Equal(t, zerolog.WarnLevel, l.GetLevel())
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		l, err := New(Config{Level: "loud", Out: &bytes.Buffer{}})
		require.NoError(t, err)
		assert.Equal(t, zerolog.InfoLevel, l.GetLevel())
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := New(Config{Format: "xml"})
		assert.Error(t, err)
	})

	t.Run("file output is redacted", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "localrag.log")
		l, err := New(Config{Level: "info", Format: FormatJSON, File: logFile, Out: &bytes.Buffer{}})
		require.NoError(t, err)

		l.Info().Str("auth", "Bearer abc.def").Msg("calling sk-abcdefghijklmnopqrstuvwxyz")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "[REDACTED]")
		assert.NotContains(t, string(data), "sk-abcdefghijklmnopqrstuvwxyz")
		assert.NotContains(t, string(data), "abc.def")
	})
}

func TestRedact(t *testing.T) {
	assert.Equal(t, `{"api_key":"[REDACTED]"}`, Redact(`{"api_key":"secret-value"}`))
	assert.Equal(t, "nothing here", Redact("nothing here"))
}
