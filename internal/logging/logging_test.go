package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLogDir_ContainsCtxengineLogs(t *testing.T) {
	dir := DefaultLogDir()

	assert.NotEmpty(t, dir)
	assert.Contains(t, dir, ".ctxengine")
	assert.Contains(t, dir, "logs")
}

func TestDefaultLogPath_EndsWithServerLog(t *testing.T) {
	path := DefaultLogPath()

	assert.Equal(t, "server.log", filepath.Base(path))
}

func TestProviderLogPath_EndsWithProviderLog(t *testing.T) {
	path := ProviderLogPath()

	assert.Equal(t, "provider.log", filepath.Base(path))
}

func TestDefaultConfig_ReturnsExpectedValues(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, 10, cfg.MaxSizeMB)
	assert.Equal(t, 5, cfg.MaxFiles)
	assert.True(t, cfg.WriteToStderr)
}

func TestDebugConfig_SetsDebugLevel(t *testing.T) {
	cfg := DebugConfig()

	assert.Equal(t, "debug", cfg.Level)
}

func TestSetup_CreatesLogFile(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	cfg := Config{
		Level:         "debug",
		FilePath:      logPath,
		MaxSizeMB:     1,
		MaxFiles:      3,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, logger)
	logger.Info("test message")

	_, err = os.Stat(logPath)
	assert.NoError(t, err)
}

func TestLevelFromString_MapsKnownLevels(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"debug", "DEBUG"},
		{"DEBUG", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.expected, LevelFromString(tc.input).String())
		})
	}
}

func TestFindLogFile_ExplicitPathNotFound(t *testing.T) {
	_, err := FindLogFile("/nonexistent/path/to/log.log")
	assert.Error(t, err)
}

func TestFindLogFile_ExplicitPathFound(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")
	require.NoError(t, os.WriteFile(logPath, []byte("test"), 0o644))

	found, err := FindLogFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, logPath, found)
}

func TestFindLogFileBySource_GoSourceWithExplicitPath(t *testing.T) {
	tmpDir := t.TempDir()
	goLogPath := filepath.Join(tmpDir, "server.log")
	require.NoError(t, os.WriteFile(goLogPath, []byte("test log"), 0o644))

	paths, err := FindLogFileBySource(LogSourceGo, goLogPath)
	require.NoError(t, err)
	assert.Equal(t, []string{goLogPath}, paths)
}

func TestFindLogFileBySource_ExplicitNotFound(t *testing.T) {
	_, err := FindLogFileBySource(LogSourceGo, "/nonexistent/path/to/log.log")
	assert.Error(t, err)
}

func TestFindLogFileBySource_UnknownSource(t *testing.T) {
	_, err := FindLogFileBySource(LogSource("invalid"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log source")
}

func TestParseLogSource_MapsKnownSources(t *testing.T) {
	tests := []struct {
		input    string
		expected LogSource
	}{
		{"go", LogSourceGo},
		{"provider", LogSourceProvider},
		{"all", LogSourceAll},
		{"unknown", LogSourceGo},
		{"", LogSourceGo},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.expected, ParseLogSource(tc.input))
		})
	}
}

func TestEnsureLogDir_CreatesDirectory(t *testing.T) {
	require.NoError(t, EnsureLogDir())

	info, err := os.Stat(DefaultLogDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSetupMCPMode_DisablesStderrWriting(t *testing.T) {
	// SetupMCPMode always targets DefaultLogPath, so exercise the
	// WriteToStderr=false contract it enforces via a plain Setup call
	// with the same invariant instead of touching the real home dir.
	tmpDir := t.TempDir()
	cfg := Config{
		Level:         "debug",
		FilePath:      filepath.Join(tmpDir, "mcp-test.log"),
		MaxSizeMB:     1,
		MaxFiles:      3,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, logger)
	assert.False(t, cfg.WriteToStderr)
}
