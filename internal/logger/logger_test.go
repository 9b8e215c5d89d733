package logger

import (
	"os"
	"path/filepath"
	"testing"

	"perp-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSWithoutInit(t *testing.T) {
	baseLogger = nil
	assert.NotNil(t, S())
	assert.NotNil(t, L())
}

func TestInitLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	InitLogger(models.LogConfig{Level: "debug", Output: "file", File: path, MaxSize: 1})
	t.Cleanup(func() { baseLogger = nil })

	Named("engine").Info("tick processed")
	_ = L().Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tick processed")
	assert.Contains(t, string(data), "engine")
	assert.Contains(t, string(data), "INFO")
}

func TestInitLoggerBadLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	InitLogger(models.LogConfig{Level: "loud", Output: "file", File: path})
	t.Cleanup(func() { baseLogger = nil })

	S().Debug("hidden")
	S().Info("shown")
	_ = L().Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}
