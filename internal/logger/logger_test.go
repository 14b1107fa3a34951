package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should write to the log file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "lainbot.log")

		logger, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		componentLogger := logger.Component("supervisor")
		componentLogger.Info().Str("provider", "fs").Msg("Provider ready")
		require.NoError(t, logger.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), `"component":"supervisor"`)
		assert.Contains(t, string(content), `"message":"Provider ready"`)
	})

	t.Run("should use the rotating writer when a size is set", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "lainbot.log")

		logger, err := New(Config{Level: "info", File: logFile, MaxSize: 1})
		require.NoError(t, err)
		defer logger.Close()

		_, ok := logger.closer.(*RotatingWriter)
		assert.True(t, ok)
	})

	t.Run("should redact secrets", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "lainbot.log")

		logger, err := New(Config{Level: "info", File: logFile, Redaction: true})
		require.NoError(t, err)
		assert.NotNil(t, logger.redactor)

		zl := logger.GetZerolog()
		zl.Info().Str("key", "sk-ant-REDACTED").Msg("Loaded")
		require.NoError(t, logger.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.False(t, strings.Contains(string(content), "abcdefghijklmnopqrstuvwxyz"))
		assert.Contains(t, string(content), "[REDACTED]")
	})

	t.Run("should fall back to info for unknown levels", func(t *testing.T) {
		logger, err := New(Config{Level: "chatty"})
		require.NoError(t, err)
		defer logger.Close()

		assert.Equal(t, zerolog.InfoLevel, logger.GetZerolog().GetLevel())
	})

	t.Run("should install the global logger", func(t *testing.T) {
		logger, err := New(Config{Level: "warn"})
		require.NoError(t, err)
		defer logger.Close()

		assert.Equal(t, zerolog.WarnLevel, log.Logger.GetLevel())
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.False(t, cfg.Console)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 10, cfg.MaxSize)
	assert.Equal(t, 7, cfg.MaxAge)
	assert.True(t, cfg.Compress)
}
