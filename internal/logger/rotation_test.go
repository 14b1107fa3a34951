package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("should create the file and its directory", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "lainbot.log")

		rw, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer rw.Close()

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})

	t.Run("should remove expired rotated files", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "lainbot.log")
		oldFile := logFile + ".20200101-120000.000"
		freshFile := logFile + ".20990101-120000.000"
		require.NoError(t, os.WriteFile(oldFile, []byte("old log"), 0644))
		require.NoError(t, os.WriteFile(freshFile, []byte("new log"), 0644))
		oldTime := time.Now().AddDate(0, 0, -10)
		require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

		rw, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer rw.Close()

		_, err = os.Stat(oldFile)
		assert.True(t, os.IsNotExist(err))
		_, err = os.Stat(freshFile)
		assert.NoError(t, err)
	})
}

func TestRotatingWriterWrite(t *testing.T) {
	t.Run("should append to the current file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "lainbot.log")
		rw, err := NewRotatingWriter(logFile, 1, 7, false)
		require.NoError(t, err)
		defer rw.Close()

		data := []byte("test log message\n")
		n, err := rw.Write(data)
		require.NoError(t, err)
		assert.Equal(t, len(data), n)

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Equal(t, "test log message\n", string(content))
	})

	t.Run("should rotate when the size limit is exceeded", func(t *testing.T) {
		dir := t.TempDir()
		logFile := filepath.Join(dir, "lainbot.log")
		rw, err := NewRotatingWriter(logFile, 1, 7, false)
		require.NoError(t, err)
		rw.maxSize = 100

		first := bytes.Repeat([]byte("a"), 80)
		second := bytes.Repeat([]byte("b"), 80)
		_, err = rw.Write(first)
		require.NoError(t, err)
		_, err = rw.Write(second)
		require.NoError(t, err)
		require.NoError(t, rw.Close())

		rotated, err := filepath.Glob(logFile + ".*")
		require.NoError(t, err)
		require.Len(t, rotated, 1)

		old, err := os.ReadFile(rotated[0])
		require.NoError(t, err)
		assert.Equal(t, string(first), string(old))

		current, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Equal(t, string(second), string(current))
	})

	t.Run("should compress rotated files", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "lainbot.log")
		rw, err := NewRotatingWriter(logFile, 1, 7, true)
		require.NoError(t, err)
		rw.maxSize = 10

		_, err = rw.Write([]byte("0123456789"))
		require.NoError(t, err)
		_, err = rw.Write([]byte("next"))
		require.NoError(t, err)
		require.NoError(t, rw.Close())

		rotated, err := filepath.Glob(logFile + ".*")
		require.NoError(t, err)
		require.Len(t, rotated, 1)
		assert.True(t, strings.HasSuffix(rotated[0], ".gz"))
	})

	t.Run("should fail after close", func(t *testing.T) {
		rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "lainbot.log"), 1, 7, false)
		require.NoError(t, err)
		require.NoError(t, rw.Close())

		_, err = rw.Write([]byte("late"))
		assert.ErrorIs(t, err, os.ErrClosed)
	})
}

func TestCompressFile(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "lainbot.log.1")
	require.NoError(t, os.WriteFile(testFile, []byte("test content"), 0644))

	require.NoError(t, compressFile(testFile))

	_, err := os.Stat(testFile + ".gz")
	assert.NoError(t, err)
	_, err = os.Stat(testFile)
	assert.True(t, os.IsNotExist(err))
}
