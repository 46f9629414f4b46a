package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("console output", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(Config{Level: "debug", Console: true, Output: &buf})
		require.NoError(t, err)
		defer l.Close()

		l.Debug().Str("k", "v").Msg("hello")
		assert.Contains(t, buf.String(), `"message":"hello"`)
		assert.Equal(t, zerolog.DebugLevel, l.GetLevel())
	})

	t.Run("file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "nested", "test.log")

		l, err := New(Config{Level: "info", File: logFile})
		require.NoError(t, err)

		l.Info().Msg("test message")
		l.Debug().Msg("filtered")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "test message")
		assert.NotContains(t, string(data), "filtered")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		l, err := New(Config{Level: "loud"})
		require.NoError(t, err)
		assert.Equal(t, zerolog.InfoLevel, l.GetLevel())
		assert.Nil(t, l.Redactor())
	})

	t.Run("installs global logger", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := New(Config{Console: true, Output: &buf})
		require.NoError(t, err)

		log.Info().Msg("via global")
		assert.Contains(t, buf.String(), "via global")
	})
}

func TestNew_Redaction(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{
		Console:        true,
		Output:         &buf,
		Redaction:      true,
		RedactPatterns: []string{`acct-[0-9]{6}`},
	})
	require.NoError(t, err)
	require.NotNil(t, l.Redactor())

	l.Info().Str("auth", "Bearer abc.def.ghi").Str("account", "acct-123456").Msg("request")

	out := buf.String()
	assert.NotContains(t, out, "abc.def.ghi")
	assert.NotContains(t, out, "acct-123456")
	assert.Contains(t, out, "[REDACTED]")

	_, err = New(Config{Redaction: true, RedactPatterns: []string{"[bad"}})
	assert.Error(t, err)
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Console: true, Output: &buf})
	require.NoError(t, err)

	c := l.Component("pipeline")
	c.Info().Msg("ready")
	assert.Contains(t, buf.String(), `"component":"pipeline"`)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Pretty)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 100, cfg.MaxSizeMB)
	assert.Equal(t, 7, cfg.MaxAgeDays)
	assert.True(t, cfg.Compress)
}
