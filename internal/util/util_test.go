package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanOldLogs(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		name := logFileName(day.AddDate(0, 0, i))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.log"), nil, 0644))

	removed := cleanOldLogs(dir, 2)
	assert.Equal(t, []string{
		filepath.Join(dir, "metaclient_2026-03-01.log"),
		filepath.Join(dir, "metaclient_2026-03-02.log"),
	}, removed)
	assert.True(t, FileExists(filepath.Join(dir, "metaclient_2026-03-04.log")))
	assert.True(t, FileExists(filepath.Join(dir, "other.log")))
}

func TestInitLoggerCreatesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Directory: dir, MaxBackups: 3}))
	assert.True(t, FileExists(filepath.Join(dir, logFileName(time.Now()))))
}

func TestGetSystemInfo(t *testing.T) {
	info := GetSystemInfo()
	assert.NotEmpty(t, info.Architecture)
	assert.Positive(t, info.CPUCores)
	assert.Positive(t, GetResourceUsage().Goroutines)
}
