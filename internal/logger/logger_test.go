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
	t.Run("console output", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(Config{Level: "info", Console: true, Output: &buf})
		require.NoError(t, err)
		defer l.Close()

		l.Zerolog().Info().Str("session_id", "abc").Msg("hello")

		assert.Contains(t, buf.String(), `"message":"hello"`)
		assert.Contains(t, buf.String(), `"session_id":"abc"`)
		assert.Contains(t, buf.String(), `"service":"deepchat"`)
	})

	t.Run("level filtering", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(Config{Level: "warn", Console: true, Output: &buf})
		require.NoError(t, err)

		l.Zerolog().Info().Msg("hidden")
		l.Zerolog().Warn().Msg("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		l, err := New(Config{Level: "loud", Output: &bytes.Buffer{}})
		require.NoError(t, err)
		assert.Equal(t, zerolog.InfoLevel, l.Zerolog().GetLevel())
	})

	t.Run("file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "deepchat.log")

		l, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		l.Component("gateway").Debug().Msg("written to file")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "written to file")
		assert.Contains(t, string(data), `"component":"gateway"`)
	})

	t.Run("redaction", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(Config{Level: "info", Console: true, Redaction: true, Output: &buf})
		require.NoError(t, err)
		require.NotNil(t, l.redactor)

		l.Zerolog().Info().Str("key", "tvly-abcdefgh12345").Msg("calling search")

		assert.NotContains(t, buf.String(), "tvly-abcdefgh12345")
		assert.Contains(t, buf.String(), "[REDACTED]")
	})
}
