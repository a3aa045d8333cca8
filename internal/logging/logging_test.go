package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLogPath_UnderWikisearchDir(t *testing.T) {
	path := DefaultLogPath()

	assert.Equal(t, "wikisearch.log", filepath.Base(path))
	assert.Contains(t, path, ".wikisearch")
}

func TestLevelFromString(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, LevelFromString(in), in)
	}
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	// Given: a file-only debug config
	logPath := filepath.Join(t.TempDir(), "nested", "test.log")
	logger, cleanup, err := Setup(Config{Level: "debug", FilePath: logPath, MaxSizeMB: 1, MaxFiles: 2})
	require.NoError(t, err)

	// When: a record is logged
	logger.Debug("commit_done", slog.Int("docs", 3))
	cleanup()

	// Then: the file holds one JSON line with the attributes
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "commit_done", rec["msg"])
	assert.Equal(t, float64(3), rec["docs"])
}

func TestSetup_NoSinksDiscards(t *testing.T) {
	logger, cleanup, err := Setup(Config{Level: "info"})
	require.NoError(t, err)
	defer cleanup()

	assert.NotPanics(t, func() { logger.Info("dropped") })
}

func TestRotatingWriter_RotatesAndKeepsMaxFiles(t *testing.T) {
	// Given: a writer with a tiny limit
	logPath := filepath.Join(t.TempDir(), "rot.log")
	w, err := NewRotatingWriter(logPath, 1, 2)
	require.NoError(t, err)
	w.maxSize = 64
	defer w.Close()

	// When: enough lines are written to rotate several times
	line := []byte(strings.Repeat("x", 40) + "\n")
	for i := 0; i < 8; i++ {
		_, err := w.Write(line)
		require.NoError(t, err)
	}

	// Then: only path, path.1 and path.2 exist
	assert.FileExists(t, logPath)
	assert.FileExists(t, logPath+".1")
	assert.FileExists(t, logPath+".2")
	assert.NoFileExists(t, logPath+".3")
}

func TestOrDefault(t *testing.T) {
	assert.Same(t, slog.Default(), OrDefault(nil))
	l := Discard()
	assert.Same(t, l, OrDefault(l))
}
